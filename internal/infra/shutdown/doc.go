// Package shutdown coordinates graceful termination of the OTAMesh server
// and agent.
//
// Components register named hooks; on SIGINT, SIGTERM or cancellation of
// the run context the hooks run in reverse registration order under a
// shared deadline.
//
//	h := shutdown.NewHandler(10*time.Second, logger)
//	h.OnShutdown("http", srv.Shutdown)
//	h.OnShutdown("storage", func(context.Context) error { return kv.Close() })
//	err := h.Wait(ctx)
package shutdown
