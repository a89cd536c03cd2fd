package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// Server provides the admin HTTP server of a mount.
//
// The server supports graceful shutdown: cancelling the context given to
// Start stops it.
type Server struct {
	server       *http.Server
	listen       string
	ready        chan struct{}
	addr         net.Addr
	shutdownOnce sync.Once
}

// NewServer creates a server for handler on the listen address. It does not
// listen until Start is called.
func NewServer(listen string, handler http.Handler) *Server {
	return &Server{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		listen: listen,
		ready:  make(chan struct{}),
	}
}

// Start listens and serves until the context is cancelled or serving
// fails. It returns nil after a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("admin server listen on %s: %w", s.listen, err)
	}
	s.addr = ln.Addr()
	close(s.ready)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Admin server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Admin server shutdown signal received")
		// The cancelled ctx would abort the shutdown at once.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin server failed: %w", err)
	}
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address; valid after Ready is closed.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.addr
}

// Stop gracefully shuts the server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("Admin server shutdown initiated")
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin server shutdown: %w", err)
			logger.Error("Admin server shutdown error: %v", err)
		} else {
			logger.Info("Admin server stopped")
		}
	})
	return shutdownErr
}
