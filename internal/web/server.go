package web

import (
	"context"
	"embed"
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"
	"time"

	gorilla "github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cjeanneret/SunGo/internal/debug"
)

// staticFiles is the dashboard served at / and /static/.
//
//go:embed static/*
var staticFiles embed.FS

// Server wraps the HTTP server and handlers.
type Server struct {
	addr      string
	handlers  *Handlers
	accessLog io.Writer
}

// NewServer creates a server for addr. Dependencies are set on h; its static
// files default to the embedded dashboard.
func NewServer(addr string, h *Handlers) *Server {
	if h.staticFS == nil {
		subFS, err := fs.Sub(staticFiles, "static")
		if err != nil {
			log.Fatalf("web: failed to sub static fs: %v", err)
		}
		h.staticFS = subFS
	}
	return &Server{
		addr:      addr,
		handlers:  h,
		accessLog: debug.Writer(),
	}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handlers.HandleStatus)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.HandleFunc("GET /experience", s.handlers.HandleExperience)
	mux.HandleFunc("GET /config", s.handlers.HandleConfig)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Handler wraps the routes with panic recovery and Apache-style access logging.
func (s *Server) Handler() http.Handler {
	logged := gorilla.CombinedLoggingHandler(s.accessLog, s.Mux())
	return gorilla.RecoveryHandler(gorilla.PrintRecoveryStack(debug.IsEnabled(debug.LevelVerbose)))(logged)
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
