package rpc

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"nbexec/internal/logging"
)

// Server runs the HTTP listener around a Service with graceful
// shutdown.
type Server struct {
	svc             *Service
	listen          string
	shutdownTimeout time.Duration
}

// NewServer creates a server for the service.
func NewServer(svc *Service, listen string, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{
		svc:             svc,
		listen:          listen,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve runs until ctx is cancelled, then shuts down the listener and
// the service.
func (s *Server) Serve(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.listen,
		Handler:           s.svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Boot("listening on %s", s.listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		s.svc.Shutdown()
		return err
	})

	return g.Wait()
}
