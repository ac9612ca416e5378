package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rmfaria/rssigrid/internal/buildinfo"
	"github.com/rmfaria/rssigrid/internal/grid"
	"github.com/rmfaria/rssigrid/internal/health"
	"github.com/rmfaria/rssigrid/internal/navigate"
	"github.com/rmfaria/rssigrid/internal/notify"
	"github.com/rmfaria/rssigrid/internal/omada"
	"github.com/rmfaria/rssigrid/internal/reconnect"
)

// NameSyncer pulls controller names and applies them. Implemented by
// omada.Syncer; nil when no controller is configured.
type NameSyncer interface {
	Sync(ctx context.Context, devices []grid.Device) (omada.SyncResult, error)
}

// Config wires the server to its collaborators.
type Config struct {
	Addr string

	View       *GridView
	Reconciler *grid.Reconciler
	Hub        *Hub

	// Bulk reconnect queue plus the pieces needed for single-device
	// reconnects, which bypass the queue.
	Queue           *reconnect.Queue
	Caller          reconnect.ServiceCaller
	ReconnectDomain string
	ReconnectAction string
	MACParam        string
	FormatMAC       bool
	WeakThreshold   int

	// Syncer is nil when no controller connection is configured;
	// FallbackReload (integration reload) then serves POST /api/sync.
	Syncer         NameSyncer
	FallbackReload func(ctx context.Context) error

	Navigator *navigate.Navigator
	Notifier  *notify.Notifier

	// Health is optional; when set the health endpoint reports
	// per-dependency status and degrades when a dependency is down.
	Health *health.Monitor

	Logger *slog.Logger
}

// Server is the HTTP API server for the device grid.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	server  *http.Server
	baseCtx context.Context
}

// NewServer creates the server. Start must be called to serve.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

// writeJSON encodes v to w. Encoding errors usually mean the client
// went away mid-response.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start runs the server until ctx is cancelled or ListenAndServe
// fails. ctx also bounds background work started by handlers (the
// reconnect queue outlives its triggering request).
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx

	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("web server listening", "addr", s.cfg.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler returns the route handler without starting a listener.
// Used by tests.
func (s *Server) Handler() http.Handler {
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/grid", s.handleGrid)
	mux.HandleFunc("POST /api/filter", s.handleFilter)
	mux.HandleFunc("POST /api/sort", s.handleSort)
	mux.HandleFunc("POST /api/reconnect", s.handleReconnect)
	mux.HandleFunc("POST /api/reconnect_all", s.handleReconnectAll)
	mux.HandleFunc("GET /api/reconnect/status", s.handleReconnectStatus)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("POST /api/navigate", s.handleNavigate)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.cfg.View.Snapshot())
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.cfg.Reconciler.SetFilter(req.Query)
	s.writeJSON(w, map[string]any{"ok": true, "filter": req.Query})
}

func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Column string `json:"column"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Column == "" {
		s.writeError(w, http.StatusBadRequest, "column required")
		return
	}
	s.cfg.Reconciler.SetSort(req.Column)
	s.writeJSON(w, map[string]any{"ok": true, "sort": s.cfg.Reconciler.SortState()})
}

// handleReconnect reconnects a single device immediately, bypassing
// the queue.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MAC string `json:"mac"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MAC == "" {
		s.writeError(w, http.StatusBadRequest, "mac required")
		return
	}

	mac := reconnect.FormatMAC(req.MAC, s.cfg.FormatMAC)
	err := s.cfg.Caller.CallService(r.Context(), s.cfg.ReconnectDomain, s.cfg.ReconnectAction, map[string]any{
		s.cfg.MACParam: mac,
	})
	if err != nil {
		s.logger.Warn("single reconnect failed", "mac", mac, "error", err)
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("reconnect failed: %v", err))
		return
	}
	s.writeJSON(w, map[string]any{"ok": true, "mac": mac})
}

// handleReconnectAll queues every weak-signal device for a paced
// reconnect.
func (s *Server) handleReconnectAll(w http.ResponseWriter, r *http.Request) {
	weak := grid.WeakDevices(s.cfg.Reconciler.Devices(), s.cfg.WeakThreshold)
	if len(weak) == 0 {
		s.writeJSON(w, map[string]any{"started": false, "queued": 0})
		return
	}

	started := s.cfg.Queue.Start(s.baseCtx, weak)
	if !started {
		s.writeError(w, http.StatusConflict, "reconnect already running")
		return
	}
	s.writeJSON(w, map[string]any{"started": true, "queued": len(weak)})
}

func (s *Server) handleReconnectStatus(w http.ResponseWriter, r *http.Request) {
	processed, total := s.cfg.Queue.Progress()
	s.writeJSON(w, map[string]any{
		"state":     s.cfg.Queue.State(),
		"processed": processed,
		"total":     total,
	})
}

// handleSync runs a controller name sync, or falls back to reloading
// the integration when no controller connection is configured.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Syncer == nil {
		if s.cfg.FallbackReload == nil {
			s.writeError(w, http.StatusServiceUnavailable, "no controller configured")
			return
		}
		if err := s.cfg.FallbackReload(r.Context()); err != nil {
			s.writeError(w, http.StatusBadGateway, fmt.Sprintf("integration reload failed: %v", err))
			return
		}
		s.writeJSON(w, map[string]any{"ok": true, "fallback": "integration_reload"})
		return
	}

	result, err := s.cfg.Syncer.Sync(r.Context(), s.cfg.Reconciler.Devices())
	if err != nil {
		// Controller unreachable. Reloading the integration at least
		// refreshes the names HA already knows about.
		if s.cfg.FallbackReload != nil {
			if rerr := s.cfg.FallbackReload(r.Context()); rerr == nil {
				if s.cfg.Notifier != nil {
					s.cfg.Notifier.Notify(s.baseCtx, "Device name sync",
						fmt.Sprintf("Controller unreachable (%v); reloaded integration instead", err))
				}
				s.writeJSON(w, map[string]any{"ok": true, "fallback": "integration_reload"})
				return
			}
		}
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("sync failed: %v", err))
		return
	}

	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Notify(s.baseCtx, "Device name sync",
			fmt.Sprintf("%d controller clients, %d renamed, %d errors",
				result.TotalRemote, result.Applied, len(result.Errors)))
	}
	s.writeJSON(w, result)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID string `json:"entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EntityID == "" {
		s.writeError(w, http.StatusBadRequest, "entity_id required")
		return
	}
	if s.cfg.Navigator == nil {
		s.writeJSON(w, map[string]any{"ok": false, "fallback_path": navigate.TrackerFallback(req.EntityID)})
		return
	}
	if err := s.cfg.Navigator.Open(r.Context(), req.EntityID); err != nil {
		s.writeJSON(w, map[string]any{"ok": false, "fallback_path": navigate.TrackerFallback(req.EntityID)})
		return
	}
	s.writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	initial := renderMessage{Type: "render", Grid: s.cfg.View.Snapshot()}
	s.cfg.Hub.serve(w, r, initial)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
		"clients": s.cfg.Hub.ClientCount(),
	}
	if s.cfg.Health != nil {
		resp["dependencies"] = s.cfg.Health.Statuses()
		if !s.cfg.Health.Healthy() {
			resp["status"] = "degraded"
		}
	}
	s.writeJSON(w, resp)
}
