// © 2025 Ilya Mateyko. All rights reserved.
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
	"strings"
	"time"
)

// ListenAndServeConfig is used to configure the HTTP server started by
// [ListenAndServe].
//
// All fields of ListenAndServeConfig can't be modified after [ListenAndServe]
// is called.
type ListenAndServeConfig struct {
	// Addr is a network address to listen on (in the form of "host:port").
	Addr string
	// Mux is a http.ServeMux to serve.
	Mux *http.ServeMux
	// Logger specifies a logger to use. If nil, slog.Default is used.
	Logger *slog.Logger
	// Ready is called, if set, when the server has started listening.
	Ready func()
	// ShutdownTimeout limits graceful shutdown. Zero means 30 seconds.
	ShutdownTimeout time.Duration
	// Debuggable specifies whether to register debug handlers at /debug/.
	Debuggable bool
	// DebugAuth is an optional function that allows or denies access to the
	// handlers at /debug/. If not provided, all access is allowed.
	DebugAuth func(r *http.Request) bool
}

var (
	errNoAddr = errors.New("c.Addr is empty")
	errNilMux = errors.New("c.Mux is nil")
)

// ListenAndServe starts the HTTP server based on the provided
// [ListenAndServeConfig] and shuts it down gracefully when ctx is canceled.
// The /health endpoint is always registered.
func ListenAndServe(ctx context.Context, c *ListenAndServeConfig) error {
	if c.Addr == "" {
		return errNoAddr
	}
	if c.Mux == nil {
		return errNilMux
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer l.Close()
	logger.Info("listening", "addr", l.Addr().String())

	Health(c.Mux)

	s := &http.Server{
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
		Handler:           protectDebug(c.Mux, c.DebugAuth),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if c.Debuggable {
		Debugger(c.Mux).Handle("conns", "Active connections", Conns(s))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if c.Ready != nil {
		c.Ready()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("gracefully shutting down")

		timeout := c.ShutdownTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		return s.Shutdown(shutdownCtx)
	}
}

// protectDebug pretends that debug handlers don't exist if auth denies access.
func protectDebug(next http.Handler, auth func(*http.Request) bool) http.Handler {
	if auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/debug/") && !auth(r) {
			RespondJSONError(nil, w, ErrNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
