// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.astrophena.name/newsdigest/internal/logger"
)

// ListenAndServeConfig is used to configure the HTTP server started by
// [ListenAndServe].
type ListenAndServeConfig struct {
	// Addr is a network address to listen on (in the form of "host:port").
	Addr string
	// Mux is a http.ServeMux to serve. A /health handler is added to it.
	Mux *http.ServeMux
	// Ready is called once the server is listening. Optional.
	Ready func(addr net.Addr)
}

var (
	errNoAddr = errors.New("c.Addr is empty")
	errNilMux = errors.New("c.Mux is nil")
)

// ListenAndServe serves c.Mux until ctx is done and then shuts the server down
// gracefully. Requests carry the logger of ctx.
func ListenAndServe(ctx context.Context, c *ListenAndServeConfig) error {
	if c.Addr == "" {
		return errNoAddr
	}
	if c.Mux == nil {
		return errNilMux
	}
	log := logger.Get(ctx)

	l, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer l.Close()
	log.Info("listening", "addr", l.Addr().String())

	Health(c.Mux)
	s := &http.Server{
		ErrorLog:    slog.NewLogLogger(log.Handler(), slog.LevelError),
		Handler:     c.Mux,
		BaseContext: func(net.Listener) context.Context { return logger.Put(context.Background(), log) },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if c.Ready != nil {
		c.Ready(l.Addr())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return s.Shutdown(shutdownCtx)
	}
}
