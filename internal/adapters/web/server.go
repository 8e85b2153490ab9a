package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

const shutdownTimeout = 5 * time.Second

// Server hosts the HTTP API.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a server over the routed handler set.
func NewServer(addr string, h Handlers) *Server {
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: SetupRoutes(h),
		},
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP API listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		log.Println("HTTP shutdown error:", err)
	}
	return <-errCh
}
