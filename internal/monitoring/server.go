// internal/monitoring/server.go
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/valpere/craigslist-data/internal/utils"
)

// Server exposes metrics, health and run progress over HTTP while a crawl
// runs.
type Server struct {
	metrics  *MetricsManager
	health   *HealthManager
	tracker  *RunTracker
	server   *http.Server
	listener net.Listener
	logger   utils.Logger
}

// NewServer creates a monitoring server. Start must be called to listen.
func NewServer(addr string, metrics *MetricsManager, health *HealthManager, tracker *RunTracker) *Server {
	s := &Server{
		metrics: metrics,
		health:  health,
		tracker: tracker,
		logger:  utils.NewComponentLogger("monitoring"),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", s.metrics.MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.health.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/live", s.health.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/api/run", s.runHandler).Methods(http.MethodGet)
	return r
}

func (s *Server) runHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run":          snap,
		"progress":     snap.Progress(),
		"failure_rate": snap.FailureRate(),
	})
}

// Start binds the listen address and serves in the background. Bind errors
// are returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("monitoring server: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("monitoring server stopped: %v", err)
		}
	}()

	s.logger.WithField("addr", ln.Addr().String()).Info("serving /metrics, /health and /api/run")
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
