// Package httpapi is the jarvisd HTTP surface: session minting and
// settlement for kiosks, the tool execution bridge, tenant admin
// routes, and the live monitor feed.
package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/BricePourLe13/jarvis-voice/internal/config"
	"github.com/BricePourLe13/jarvis-voice/internal/gym"
	"github.com/BricePourLe13/jarvis-voice/internal/observability"
	"github.com/BricePourLe13/jarvis-voice/internal/session"
	"github.com/BricePourLe13/jarvis-voice/internal/tools"
	"github.com/BricePourLe13/jarvis-voice/internal/upstream"
)

type Server struct {
	cfg      config.Config
	store    gym.Store
	registry *session.Registry
	minter   upstream.Minter
	executor *tools.Executor
	tools    tools.Store
	metrics  *observability.Metrics
	monitor  *monitorHub
}

func New(cfg config.Config, store gym.Store, registry *session.Registry, minter upstream.Minter, executor *tools.Executor, toolStore tools.Store, metrics *observability.Metrics) *Server {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Default: only allow browser websocket connections from the same
			// origin. This keeps other sites from tapping the admin feed if
			// jarvisd is ever exposed beyond the private network.
			if cfg.AllowAnyOrigin {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				// Non-browser clients often omit Origin. Allow them.
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		registry: registry,
		minter:   minter,
		executor: executor,
		tools:    toolStore,
		metrics:  metrics,
		monitor:  newMonitorHub(upgrader, metrics),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/realtime/sessions", s.handleMintSession)
	r.Post("/v1/realtime/sessions/{id}/end", s.handleEndSession)
	r.Post("/v1/realtime/sessions/{id}/events", s.handleIngestEvents)
	r.Post("/v1/tools/execute", s.handleExecuteTool)
	r.Get("/v1/gyms/{gymID}/members/by-badge/{badge}", s.handleMemberByBadge)

	r.Get("/v1/admin/tools", s.handleListTools)
	r.Put("/v1/admin/tools", s.handleUpsertTool)
	r.Delete("/v1/admin/tools/{gymID}/{name}", s.handleDeleteTool)
	r.Get("/v1/admin/monitor", s.monitor.handle)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"directory_store": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.registry.ActiveCount(),
	})
}

func (s *Server) storeMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) == "" {
		return "in-memory"
	}
	return "postgres"
}

func (s *Server) handleMemberByBadge(w http.ResponseWriter, r *http.Request) {
	gymID := strings.TrimSpace(chi.URLParam(r, "gymID"))
	badge := strings.TrimSpace(chi.URLParam(r, "badge"))
	if gymID == "" || badge == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "gym id and badge are required")
		return
	}

	m, err := s.store.MemberByBadge(r.Context(), gymID, badge)
	if err != nil {
		if errors.Is(err, gym.ErrNotFound) {
			respondError(w, http.StatusNotFound, "member_not_found", "no member with this badge")
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", "member lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, m)
}
