// Package health provides health check and metrics HTTP endpoints for
// snmpbridge.
package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsProvider provides collector statistics.
type StatsProvider interface {
	// IsRunning returns true if the reactor loop is running.
	IsRunning() bool

	// Stats returns collector statistics.
	Stats() Stats
}

// Stats contains collector health statistics.
type Stats struct {
	Targets      int
	Readers      int
	Cycles       int
	LastPoll     time.Time
	LastFailures int
}

// ServerConfig contains health server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., ":9161")
	Address string

	// ReadTimeout for HTTP reads
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes
	WriteTimeout time.Duration

	// Gatherer serves /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":9161",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is an HTTP server for health check endpoints.
type Server struct {
	cfg      ServerConfig
	provider StatsProvider
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new health check server.
func NewServer(cfg ServerConfig, provider StatsProvider) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(s.handleHealth))
	mux.HandleFunc("/healthz", getOnly(s.handleHealthz))
	mux.HandleFunc("/ready", getOnly(s.handleReady))

	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	// pprof debug endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the health check server.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Stop stops the health check server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// getOnly rejects every method but GET.
func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) providerRunning() bool {
	return s.provider != nil && s.provider.IsRunning()
}

// handleHealth answers as long as the process serves HTTP.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "OK\n")
}

// handleHealthz reports collector statistics, or 503 once the reactor
// loop has stopped.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if !s.providerRunning() {
		writeJSON(w, http.StatusServiceUnavailable, healthzResponse{Status: "unavailable"})
		return
	}

	st := s.provider.Stats()
	resp := healthzResponse{
		Status:       "healthy",
		Running:      true,
		Targets:      st.Targets,
		Readers:      st.Readers,
		Cycles:       st.Cycles,
		LastFailures: st.LastFailures,
	}
	if !st.LastPoll.IsZero() {
		resp.LastPoll = st.LastPoll.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthzResponse struct {
	Status       string `json:"status"`
	Running      bool   `json:"running"`
	Targets      int    `json:"targets,omitempty"`
	Readers      int    `json:"readers,omitempty"`
	Cycles       int    `json:"cycles,omitempty"`
	LastPoll     string `json:"last_poll,omitempty"`
	LastFailures int    `json:"last_failures"`
}

// handleReady turns ready after the first finished poll cycle.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.providerRunning() || s.provider.Stats().Cycles == 0 {
		writeText(w, http.StatusServiceUnavailable, "NOT READY\n")
		return
	}
	writeText(w, http.StatusOK, "READY\n")
}
