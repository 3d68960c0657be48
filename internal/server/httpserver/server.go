package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/yndnr/otamesh-go/internal/infra/tlsroots"
)

// Options configure the HTTP server.
type Options struct {
	Addr         string
	TLSCertFile  string
	TLSKeyFile   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Logger receives certificate reload messages.
	Logger *slog.Logger
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	opts       Options
}

// New creates a new HTTP server.
func New(opts Options, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       opts.IdleTimeout,
		},
		opts: opts,
	}
}

// TLS reports whether the server terminates TLS.
func (s *Server) TLS() bool {
	return s.opts.TLSCertFile != "" && s.opts.TLSKeyFile != ""
}

// ListenAndServe listens on the configured address and serves until
// Shutdown. It returns nil after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. With TLS enabled the certificate files
// are watched and replaced certificates are served to new connections.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	if s.TLS() {
		err = s.serveTLS(ln)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) serveTLS(ln net.Listener) error {
	var opts []tlsroots.KeyPairOption
	if s.opts.Logger != nil {
		opts = append(opts, tlsroots.WithLogger(s.opts.Logger))
	}
	kp, err := tlsroots.LoadKeyPair(s.opts.TLSCertFile, s.opts.TLSKeyFile, opts...)
	if err != nil {
		_ = ln.Close()
		return err
	}
	if err := kp.Watch(); err != nil {
		_ = ln.Close()
		return err
	}
	defer kp.Stop()

	s.httpServer.TLSConfig = kp.ServerConfig()
	return s.httpServer.ServeTLS(ln, "", "")
}
