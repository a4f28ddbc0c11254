package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sentrycam/sentrycam/internal/alerts"
	"github.com/sentrycam/sentrycam/internal/behavior"
	"github.com/sentrycam/sentrycam/internal/core"
	"github.com/sentrycam/sentrycam/internal/database"
	"github.com/sentrycam/sentrycam/internal/logging"
	"github.com/sentrycam/sentrycam/internal/pipeline"
	"github.com/sentrycam/sentrycam/internal/recording"
	"github.com/sentrycam/sentrycam/internal/store"
	"github.com/sentrycam/sentrycam/internal/tamper"
	"github.com/sentrycam/sentrycam/internal/zones"
)

// Config holds HTTP server settings.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// Deps are the components the API reads from. Tamper and Behavior may be
// nil when those stages are disabled.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Zones    *zones.Index
	Alerts   *alerts.Coordinator
	Recorder *recording.Recorder
	Governor *recording.StorageGovernor
	Tamper   *tamper.Monitor
	Behavior *behavior.Model
	Store    *store.SQLiteStore
	DB       *database.DB
	Bus      *core.EventBus
	Logs     *logging.RingBuffer
}

// Server is the HTTP API over the running pipeline.
type Server struct {
	cfg    Config
	deps   Deps
	hub    *Hub
	bridge *BusBridge
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates the API server and wires the WebSocket event feed.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		hub:    NewHub(),
		logger: slog.Default().With("component", "api"),
	}
	s.bridge = NewBusBridge(deps.Bus, s.hub)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/zones", func(r chi.Router) {
			r.Get("/", s.handleListZones)
			r.Post("/{name}/enable", s.handleSetZoneEnabled(true))
			r.Post("/{name}/disable", s.handleSetZoneEnabled(false))
		})

		r.Get("/alerts", s.handleListAlerts)

		r.Route("/recording", func(r chi.Router) {
			r.Get("/", s.handleRecordingStatus)
			r.Post("/stop", s.handleRecordingStop)
		})

		r.Route("/storage", func(r chi.Router) {
			r.Get("/", s.handleStorageUsage)
			r.Post("/cleanup", s.handleStorageCleanup)
		})

		r.Route("/tamper", func(r chi.Router) {
			r.Get("/", s.handleTamperStatus)
			r.Get("/events", s.handleTamperEvents)
			r.Post("/reset", s.handleTamperReset)
		})

		r.Route("/behavior", func(r chi.Router) {
			r.Get("/anomalies", s.handleAnomalies)
			r.Get("/profiles", s.handleProfiles)
			r.Get("/profiles/{zone}", s.handleZoneProfile)
		})

		r.Get("/logs", s.handleLogs)

		r.Route("/stats", func(r chi.Router) {
			r.Get("/daily", s.handleDailyStats)
			r.Get("/totals", s.handleTotals)
		})
	})

	r.Get("/ws", s.hub.HandleWebSocket)

	return r
}

// Start runs the hub, the bus bridge and the HTTP listener.
func (s *Server) Start() error {
	go s.hub.Run()
	if err := s.bridge.Start(); err != nil {
		return err
	}

	go func() {
		s.logger.Info("API server starting", "address", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the listener and the bus bridge.
func (s *Server) Shutdown(ctx context.Context) error {
	s.bridge.Stop()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{"database": "ok", "event_bus": "ok"}

	if err := s.deps.DB.Health(r.Context()); err != nil {
		status = "degraded"
		checks["database"] = err.Error()
	}
	if err := s.deps.Bus.HealthCheck(r.Context()); err != nil {
		status = "degraded"
		checks["event_bus"] = err.Error()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	JSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	OK(w, s.deps.Pipeline.GetStatus())
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	OK(w, s.deps.Zones.GetStats())
}

func (s *Server) handleSetZoneEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := s.deps.Zones.SetEnabled(name, enabled); err != nil {
			NotFound(w, err.Error())
			return
		}
		OK(w, map[string]any{"zone": name, "enabled": enabled})
	}
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]any{
		"history": s.deps.Alerts.History(),
		"stats":   s.deps.Alerts.GetStats(),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	OK(w, s.deps.Recorder.GetStatus())
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Recorder.GetStatus()
	if !st.Recording {
		BadRequest(w, "no recording in progress")
		return
	}
	s.deps.Recorder.StopRecording()
	OK(w, s.deps.Recorder.GetStatus())
}

func (s *Server) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.deps.Governor.Usage()
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	OK(w, usage)
}

func (s *Server) handleStorageCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.deps.Governor.Cleanup(true)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	OK(w, map[string]any{"deleted": deleted})
}

func (s *Server) handleTamperStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tamper == nil {
		NotFound(w, "tamper monitoring is disabled")
		return
	}
	OK(w, s.deps.Tamper.GetStatus())
}

func (s *Server) handleTamperEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tamper == nil {
		NotFound(w, "tamper monitoring is disabled")
		return
	}
	OK(w, s.deps.Tamper.RecentEvents())
}

func (s *Server) handleTamperReset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tamper == nil {
		NotFound(w, "tamper monitoring is disabled")
		return
	}
	s.deps.Tamper.Reset()
	OK(w, s.deps.Tamper.GetStatus())
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if s.deps.Behavior == nil {
		NotFound(w, "behavior analysis is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	OK(w, s.deps.Behavior.RecentAnomalies(limit))
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Behavior == nil {
		NotFound(w, "behavior analysis is disabled")
		return
	}
	OK(w, s.deps.Behavior.AllProfiles())
}

func (s *Server) handleZoneProfile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Behavior == nil {
		NotFound(w, "behavior analysis is disabled")
		return
	}
	zone := chi.URLParam(r, "zone")
	profile, ok := s.deps.Behavior.ZoneProfile(zone)
	if !ok {
		NotFound(w, fmt.Sprintf("no profile for zone %q", zone))
		return
	}
	OK(w, profile)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		NotFound(w, "log capture is disabled")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	OK(w, s.deps.Logs.Recent(limit))
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if v := r.URL.Query().Get("day"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			BadRequest(w, "day must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	stats, err := s.deps.Store.GetDailyStats(r.Context(), day)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	OK(w, stats)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.deps.Store.Totals(r.Context())
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	OK(w, totals)
}
