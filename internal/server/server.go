// Package server exposes the daemon's HTTP surface: usage reporting,
// pre-growth quota checks, health, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/quotad/config"
	"github.com/xtxerr/quotad/internal/enforce"
	"github.com/xtxerr/quotad/internal/errors"
	"github.com/xtxerr/quotad/internal/logging"
	"github.com/xtxerr/quotad/internal/model"
	"github.com/xtxerr/quotad/internal/registry"
	"github.com/xtxerr/quotad/internal/stats"
)

var log = logging.Component("server")

// =============================================================================
// Configuration
// =============================================================================

// Config configures the HTTP server.
type Config struct {
	// Listen is the address to bind.
	Listen string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Listen:          config.DefaultListenAddress,
		ShutdownTimeout: config.DefaultShutdownTimeout,
	}
}

// =============================================================================
// Server
// =============================================================================

// Server serves usage reports and quota checks over HTTP.
type Server struct {
	cfg       Config
	reg       *registry.Registry
	checker   *enforce.Checker
	recorders map[string]*stats.Recorder
	health    func(ctx context.Context) error
	httpSrv   *http.Server
}

// New creates a Server. The health function may be nil; recorders maps
// partition names to their worker's statistics.
func New(cfg Config, reg *registry.Registry, checker *enforce.Checker,
	recorders map[string]*stats.Recorder, health func(ctx context.Context) error) *Server {

	s := &Server{
		cfg:       cfg,
		reg:       reg,
		checker:   checker,
		recorders: recorders,
		health:    health,
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(NewCollector(reg, recorders))

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/status", s.handleStatusAll)
	mux.HandleFunc("GET /v1/partitions/{partition}/status", s.handleStatus)
	mux.HandleFunc("GET /v1/partitions/{partition}/units/{unit}/check", s.handleCheck)

	s.httpSrv = &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
	}()

	log.Info("http server listening", "address", s.cfg.Listen)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// =============================================================================
// Handlers
// =============================================================================

// ownerStatus is one owner aggregate in a status response. Quota is null
// when the owner is unlimited.
type ownerStatus struct {
	Owner     string `json:"owner"`
	TotalSize int64  `json:"total_size"`
	Quota     *int64 `json:"quota"`
	Exceeded  bool   `json:"exceeded"`
}

// partitionStatus is the status of one partition.
type partitionStatus struct {
	Partition string            `json:"partition"`
	Owners    []ownerStatus     `json:"owners"`
	LastCycle *stats.CycleStats `json:"last_cycle,omitempty"`
}

// checkResponse is the result of a pre-growth quota check.
type checkResponse struct {
	Partition string `json:"partition"`
	Unit      uint64 `json:"unit"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	parts := make(map[string]*partitionStatus)
	for _, e := range s.reg.SnapshotAll() {
		ps, ok := parts[e.Partition]
		if !ok {
			ps = &partitionStatus{Partition: e.Partition, Owners: []ownerStatus{}}
			parts[e.Partition] = ps
		}
		ps.Owners = append(ps.Owners, toOwnerStatus(e))
	}

	// Partitions with a worker but no aggregates yet still appear.
	for partition := range s.recorders {
		if _, ok := parts[partition]; !ok {
			parts[partition] = &partitionStatus{Partition: partition, Owners: []ownerStatus{}}
		}
	}

	out := make([]*partitionStatus, 0, len(parts))
	for partition, ps := range parts {
		s.attachCycle(partition, ps)
		out = append(out, ps)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	partition := r.PathValue("partition")
	if partition == "" {
		writeError(w, errors.ErrInvalidPartition)
		return
	}

	ps := &partitionStatus{Partition: partition, Owners: []ownerStatus{}}
	for _, e := range s.reg.Snapshot(partition) {
		ps.Owners = append(ps.Owners, toOwnerStatus(e))
	}
	s.attachCycle(partition, ps)
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	partition := r.PathValue("partition")
	if partition == "" {
		writeError(w, errors.ErrInvalidPartition)
		return
	}

	unit, err := strconv.ParseUint(r.PathValue("unit"), 10, 64)
	if err != nil {
		writeError(w, errors.ErrInvalidUnitID)
		return
	}

	resp := checkResponse{Partition: partition, Unit: unit, Allowed: true}
	if err := s.checker.CheckGrowth(r.Context(), partition, model.UnitID(unit)); err != nil {
		resp.Allowed = false
		resp.Reason = err.Error()
		writeJSON(w, errors.HTTPStatus(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Server) attachCycle(partition string, ps *partitionStatus) {
	rec, ok := s.recorders[partition]
	if !ok {
		return
	}
	if cs, ok := rec.Last(); ok {
		ps.LastCycle = &cs
	}
}

func toOwnerStatus(e registry.Entry) ownerStatus {
	os := ownerStatus{
		Owner:     e.Owner,
		TotalSize: e.TotalSize,
		Exceeded:  e.Exceeded(),
	}
	if !e.Unlimited() {
		quota := e.Quota
		os.Quota = &quota
	}
	return os
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.HTTPStatus(err), map[string]string{"error": err.Error()})
}
