package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig holds configuration for the metrics server.
type ServerConfig struct {
	Port        int
	MetricsPath string
	HealthPath  string
	StatusPath  string
	Version     string
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:        9102,
		MetricsPath: "/metrics",
		HealthPath:  "/health",
		StatusPath:  "/status",
	}
}

// HealthStatus represents the health check response. Failing lists the
// names of unhealthy checks in sorted order.
type HealthStatus struct {
	Status    string           `json:"status"`
	Version   string           `json:"version,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
	Failing   []string         `json:"failing,omitempty"`
}

// Check represents a single health check.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Healthy builds a passing check.
func Healthy(msg string) Check {
	return Check{Status: "healthy", Message: msg}
}

// Unhealthy builds a failing check.
func Unhealthy(msg string) Check {
	return Check{Status: "unhealthy", Message: msg}
}

// HealthChecker is a function that performs a health check.
type HealthChecker func() Check

// StatusFunc returns a JSON-encodable snapshot served on the status path.
type StatusFunc func() any

// Server handles metrics, health and status endpoints.
type Server struct {
	cfg        ServerConfig
	httpServer *http.Server
	startTime  time.Time
	logger     *slog.Logger

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	status   StatusFunc
}

// NewServer creates a new metrics server.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    logger,
		checkers:  make(map[string]HealthChecker),
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(cfg.HealthPath, s.healthHandler)
	if cfg.StatusPath != "" {
		mux.HandleFunc(cfg.StatusPath, s.statusHandler)
	}
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/live", s.liveHandler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// RegisterHealthCheck registers a health checker.
func (s *Server) RegisterHealthCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// SetStatus sets the snapshot served on the status path.
func (s *Server) SetStatus(fn StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = fn
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting metrics server",
		"port", s.cfg.Port,
		"metrics_path", s.cfg.MetricsPath,
		"health_path", s.cfg.HealthPath,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) snapshotCheckers() map[string]HealthChecker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	checkers := make(map[string]HealthChecker, len(s.checkers))
	for k, v := range s.checkers {
		checkers[k] = v
	}
	return checkers
}

// evaluate runs every registered check once.
func (s *Server) evaluate() HealthStatus {
	h := HealthStatus{
		Status:    "healthy",
		Version:   s.cfg.Version,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
		Checks:    make(map[string]Check),
	}

	for name, checker := range s.snapshotCheckers() {
		check := checker()
		h.Checks[name] = check
		if check.Status != "healthy" {
			h.Failing = append(h.Failing, name)
			ErrorsTotal.WithLabelValues("health_" + name).Inc()
		}
	}
	if len(h.Failing) > 0 {
		h.Status = "unhealthy"
		sort.Strings(h.Failing)
	}
	return h
}

// healthHandler handles the /health endpoint.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	h := s.evaluate()

	w.Header().Set("Content-Type", "application/json")
	if h.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}

// statusHandler serves the broker snapshot.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	fn := s.status
	s.mu.RUnlock()

	if fn == nil {
		http.Error(w, "status not available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fn())
}

// readyHandler handles the /ready endpoint. The body names the first
// failing check.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if h := s.evaluate(); len(h.Failing) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready: " + h.Failing[0]))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// liveHandler handles the /live endpoint.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
