// Package health serves liveness, readiness and bot status endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/tinyland-inc/craig/pkg/logger"
	"github.com/tinyland-inc/craig/pkg/matchmaking"
	"github.com/tinyland-inc/craig/pkg/metering"
)

// SessionSource reports matchmaking stats keyed by channel name.
type SessionSource interface {
	SessionStats() map[string]matchmaking.Stats
}

type Option func(*Server)

// WithReadiness sets the check behind /ready. Without one the server is
// always ready.
func WithReadiness(ready func() bool) Option {
	return func(s *Server) { s.ready = ready }
}

func WithSessions(src SessionSource) Option {
	return func(s *Server) { s.sessions = src }
}

func WithUsage(meter *metering.MeterStore) Option {
	return func(s *Server) { s.usage = meter }
}

// WithCORSOrigins allows browser dashboards on origins to read the status
// endpoints.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

type Server struct {
	server      *http.Server
	startTime   time.Time
	ready       func() bool
	sessions    SessionSource
	usage       *metering.MeterStore
	corsOrigins []string
}

func NewServer(host string, port int, opts ...Option) *Server {
	s := &Server{startTime: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed endpoints wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{channel}", s.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/usage", s.handleUsage).Methods(http.MethodGet)
	r.HandleFunc("/usage/{channel}", s.handleUsage).Methods(http.MethodGet)

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

// Start serves until Stop is called. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	logger.InfoCF("health", "Health server listening", map[string]any{"addr": s.server.Addr})
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	stats := map[string]matchmaking.Stats{}
	if s.sessions != nil {
		stats = s.sessions.SessionStats()
	}

	if channel, ok := mux.Vars(r)["channel"]; ok {
		st, found := stats[channel]
		if !found {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown channel"})
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	meters := map[string]metering.ChannelMeter{}
	if s.usage != nil {
		meters = s.usage.GetAllMeters()
	}

	if channel, ok := mux.Vars(r)["channel"]; ok {
		m, found := meters[channel]
		if !found {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no usage recorded"})
			return
		}
		writeJSON(w, http.StatusOK, m)
		return
	}
	writeJSON(w, http.StatusOK, meters)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("health", "Failed to encode response", map[string]any{"error": err.Error()})
	}
}
