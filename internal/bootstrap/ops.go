package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"okx_connector/internal/core"
)

// HealthManager aggregates liveness checks from the running components
type HealthManager struct {
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthManager creates an empty health manager
func NewHealthManager() *HealthManager {
	return &HealthManager{checks: make(map[string]func() error)}
}

// Register adds a named health check
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// Status runs every check and reports per-component results
func (hm *HealthManager) Status() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string, len(hm.checks))
	for component, check := range hm.checks {
		if err := check(); err != nil {
			status[component] = "unhealthy: " + err.Error()
		} else {
			status[component] = "healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered check passes
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	for _, check := range hm.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}

// OpsServer serves the Prometheus scrape endpoint and the health probe
type OpsServer struct {
	port   int
	health *HealthManager
	logger core.ILogger
}

// NewOpsServer creates an OpsServer
func NewOpsServer(port int, health *HealthManager, logger core.ILogger) *OpsServer {
	return &OpsServer{
		port:   port,
		health: health,
		logger: logger.WithField("component", "ops_server"),
	}
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *OpsServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ops server listening", "port", s.port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Ops server shutdown failed", "error", err)
	}
	return ctx.Err()
}

func (s *OpsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Status()
	w.Header().Set("Content-Type", "application/json")
	if !s.health.IsHealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
