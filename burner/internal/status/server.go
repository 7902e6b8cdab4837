package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Server is the live status HTTP server.
type Server struct {
	cfg     config.StatusConfig
	store   *Store
	hub     *Hub
	handler http.Handler
}

// NewServer builds the status server. metrics may be nil, in which case
// /metrics is not served.
func NewServer(cfg config.StatusConfig, st *Store, src AlertSource, metrics http.Handler) *Server {
	interval := cfg.Interval
	if interval <= 0 {
		interval = config.DefaultStatusInterval
	}
	hub := NewHub(st, interval)

	mux := http.NewServeMux()
	mux.Handle("/api/", NewHandler(st, src))
	mux.Handle("/ws/stream", hub)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	return &Server{
		cfg:     cfg,
		store:   st,
		hub:     hub,
		handler: APIKey(cfg.Auth.Mode, cfg.Auth.EffectiveHeader(), cfg.Auth.Key(), mux),
	}
}

// Handler returns the root handler, authentication included.
func (s *Server) Handler() http.Handler { return s.handler }

// Listen binds the configured address. The returned listener is passed to
// Serve.
func (s *Server) Listen() (net.Listener, error) {
	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("status: listen %s: %w", s.cfg.Listen, err)
	}
	return lis, nil
}

// Serve serves on lis until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.hub.Run(hubCtx)

	errc := make(chan error, 1)
	go func() {
		slog.Info("status server listening", "addr", lis.Addr().String())
		errc <- srv.Serve(lis)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	// Hijacked WebSocket connections are closed by the hub, not Shutdown.
	cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status: shutdown: %w", err)
	}
	return nil
}
