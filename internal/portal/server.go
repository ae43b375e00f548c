//go:build !tinygo

package portal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

const (
	maxHeaderBytes    = 1 << 16
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// Server runs the portal until its context ends.
type Server struct {
	httpServer *http.Server
}

// Serve listens on addr and blocks until ctx is done or the listener fails.
// Uploads can take long, so there is no write timeout.
func (s *Server) Serve(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln, handler)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener, handler http.Handler) error {
	s.httpServer = &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    maxHeaderBytes,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	errc := make(chan error, 1)
	go func() { errc <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
