package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthCheck reports the state of one dependency.
type HealthCheck func(ctx context.Context) CheckResult

// HealthStatus is the /healthz response body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type ServerConfig struct {
	Addr      string
	Version   string
	Collector *Collector
	Logger    *slog.Logger
}

// Server serves /healthz and /metrics.
type Server struct {
	addr      string
	version   string
	collector *Collector
	logger    *slog.Logger

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		addr:      cfg.Addr,
		version:   cfg.Version,
		collector: cfg.Collector,
		logger:    cfg.Logger,
		checks:    make(map[string]HealthCheck),
	}
}

// AddCheck registers a named health check.
func (s *Server) AddCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// CheckHealth runs every check. Any unhealthy check makes the whole status
// unhealthy; otherwise any degraded check makes it degraded.
func (s *Server) CheckHealth(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Service:   "pressbot",
		Version:   s.version,
		Uptime:    s.collector.Uptime().Round(time.Second).String(),
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	anyUnhealthy, anyDegraded := false, false
	for name, check := range s.checks {
		result := check(ctx)
		status.Checks[name] = result
		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			anyDegraded = true
		default:
			anyUnhealthy = true
		}
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}
	return status
}

// Router builds the gin engine for the ops endpoints.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		health := s.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	})

	metricsHandler := promhttp.HandlerFor(s.collector.Registry(), promhttp.HandlerOpts{})
	r.GET("/metrics", gin.WrapH(metricsHandler))

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	s.logger.Info("ops server stopped")
	return nil
}
