// Package server exposes the Voxdesk HTTP surface: the browser chat and
// synthesis APIs, the telephony webhooks, usage and billing reads, and the
// operational endpoints (health, readiness, metrics).
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Server wraps an http.Server with a context-driven lifecycle.
type Server struct {
	srv      *http.Server
	certFile string
	keyFile  string
	log      *slog.Logger
}

// New creates a Server listening on addr and serving handler. Pass non-empty
// certFile and keyFile to serve TLS.
func New(addr string, handler http.Handler, certFile, keyFile string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		certFile: certFile,
		keyFile:  keyFile,
		log:      log,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// shutdownTimeout. Run returns nil on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("http server listening", "addr", s.srv.Addr, "tls", s.certFile != "")
		var err error
		if s.certFile != "" {
			err = s.srv.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = s.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("http server shutting down")
		return s.srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
