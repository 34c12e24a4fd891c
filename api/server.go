// Package api exposes the read-mostly REST façade over the catalog plus the
// manual sync trigger and the Prometheus endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"citypulse/config"
	"citypulse/models"
	"citypulse/services"
	"citypulse/storage"
	"citypulse/utils"
)

const defaultListLimit = 100

// Server serves the HTTP façade. All catalog access goes through the
// storage.Catalog interface; the only mutating route is the sync trigger.
type Server struct {
	router   chi.Router
	store    storage.Catalog
	catalog  *config.Catalog
	orch     *services.Orchestrator
	logger   *utils.Logger
	gatherer prometheus.Gatherer
}

// NewServer wires the façade routes. The gatherer may be nil to disable the
// /metrics endpoint.
func NewServer(store storage.Catalog, catalog *config.Catalog, orch *services.Orchestrator, logger *utils.Logger, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		store:    store,
		catalog:  catalog,
		orch:     orch,
		logger:   logger,
		gatherer: gatherer,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Get("/api/places", s.handlePlaces)
	s.router.Get("/api/places/{placeID}", s.handlePlace)
	s.router.Get("/api/categories", s.handleCategories)
	s.router.Get("/api/events", s.handleEvents)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Post("/api/sync", s.handleSync)

	if s.gatherer != nil {
		s.router.Get("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	}
}

// logRequests logs method, path, status and duration for every request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("[api] %s %s -> %d (%v)", r.Method, r.URL.Path, sw.status, time.Since(start).Round(time.Millisecond))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	category := q.Get("categoria")
	if category != "" && !s.catalog.HasCategory(category) {
		writeError(w, http.StatusBadRequest, "invalid_category", "unknown category: "+category)
		return
	}

	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	places, err := s.store.ListPlaces(r.Context(), storage.ListFilter{
		Category: category,
		Limit:    limit,
		Order:    q.Get("orden"),
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidOrder) {
			writeError(w, http.StatusBadRequest, "invalid_order", "unknown sort column: "+q.Get("orden"))
			return
		}
		s.logger.Error("[api] list places: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(places),
		"places": placesPayload(places),
	})
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	placeID := chi.URLParam(r, "placeID")

	place, err := s.store.GetPlace(r.Context(), placeID)
	if err != nil {
		s.logger.Error("[api] get place %s: %v", placeID, err)
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}
	if place == nil {
		writeError(w, http.StatusNotFound, "not_found", "no place with id "+placeID)
		return
	}

	writeJSON(w, http.StatusOK, placePayload(place))
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByCategory(r.Context())
	if err != nil {
		s.logger.Error("[api] count by category: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}

	out := make([]map[string]any, 0, len(s.catalog.Categories))
	for _, name := range s.catalog.CategoryNames() {
		out = append(out, map[string]any{
			"name":        name,
			"place_types": s.catalog.Categories[name],
			"count":       counts[name],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context(), 500)
	if err != nil {
		s.logger.Error("[api] list events: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}

	payload := make([]map[string]any, 0, len(events))
	for _, e := range events {
		payload = append(payload, map[string]any{
			"title":       e.Title,
			"venue":       e.Venue,
			"date":        e.DateText,
			"description": e.Description,
			"url":         e.URL,
			"last_seen":   e.LastSeenAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(events),
		"events": payload,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	places, err := s.store.CountPlaces(ctx)
	if err != nil {
		s.logger.Error("[api] count places: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}
	events, err := s.store.CountEvents(ctx)
	if err != nil {
		s.logger.Error("[api] count events: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}
	byCategory, err := s.store.CountByCategory(ctx)
	if err != nil {
		s.logger.Error("[api] count by category: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}

	stats := map[string]any{
		"total_places": places,
		"total_events": events,
		"by_category":  byCategory,
		"sync_running": s.orch.Running(),
	}

	if audit, err := s.store.LastAudit(ctx); err != nil {
		s.logger.Warn("[api] last audit: %v", err)
	} else if audit != nil {
		stats["last_run"] = map[string]any{
			"run_at":        audit.RunAt,
			"total_records": audit.TotalRecords,
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleSync triggers one synchronous pass. While a run is active the trigger
// answers 409 instead of queueing.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, ok := s.orch.TryRunOnce(r.Context())
	if !ok {
		writeError(w, http.StatusConflict, "sync_in_progress", "a sync run is already active")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"duration_ms":   report.Duration.Milliseconds(),
		"total_found":   report.TotalFound,
		"total_new":     report.TotalNew,
		"total_updated": report.TotalUpdated,
		"skipped":       report.Skipped,
		"events_found":  report.EventsFound,
		"by_category":   report.ByCategory,
	})
}

func placePayload(p *models.Place) map[string]any {
	return map[string]any{
		"place_id":     p.PlaceID,
		"name":         p.Name,
		"address":      p.Address,
		"lat":          p.Lat,
		"lng":          p.Lng,
		"category":     p.Category,
		"types":        p.Types,
		"rating":       p.Rating,
		"rating_count": p.RatingCount,
		"price_level":  p.PriceLevel,
		"phone":        p.Phone,
		"website":      p.Website,
		"hours":        p.Hours,
		"updated_at":   p.UpdatedAt,
	}
}

func placesPayload(places []*models.Place) []map[string]any {
	out := make([]map[string]any, 0, len(places))
	for _, p := range places {
		out = append(out, placePayload(p))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"kind":    kind,
			"message": message,
		},
	})
}
