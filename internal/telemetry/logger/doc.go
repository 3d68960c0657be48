// Package logger configures structured logging for OTAMesh.
//
// Loggers are plain *slog.Logger values with a shared level that can be
// changed at runtime (see SetLevel). Handlers redact credentials and the
// signature part of presigned download URLs before a record is written.
//
// Request scoped loggers travel in the context:
//
//	ctx = logger.WithRequestID(ctx, id)
//	logger.L(ctx).Info("release config served", "release", id)
package logger
