package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dittomq/internal/logger"
)

// Config configures the metrics HTTP endpoint.
type Config struct {
	// Enabled turns on metrics collection and the HTTP endpoint.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Port is the TCP port to listen on. 0 picks a free port.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port" json:"port"`

	// Path is where metrics are served.
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// DefaultConfig returns metrics disabled on port 9090.
func DefaultConfig() Config {
	return Config{Port: 9090, Path: "/metrics"}
}

// Server exposes a registry over HTTP.
//
// Endpoints:
//   - GET /metrics (or Config.Path): Prometheus exposition
//   - GET /health: liveness
type Server struct {
	cfg      Config
	server   *http.Server
	listener net.Listener

	stopOnce sync.Once
}

// NewServer creates a stopped server for reg.
func NewServer(cfg Config, reg *prometheus.Registry) *Server {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Handler:           NewRouter(cfg.Path, reg),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// NewRouter builds the chi router serving reg at path.
func NewRouter(path string, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		EnableOpenMetrics: true,
	}))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return r
}

// Listen binds the port. Start calls it when needed; call it first to learn
// the bound address before serving.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", s.listener.Addr().String(), logger.KeyPath, s.cfg.Path)
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if err = s.server.Shutdown(ctx); err != nil {
			logger.Error("metrics server shutdown error", logger.KeyError, err)
			return
		}
		logger.Debug("metrics server stopped")
	})
	return err
}
