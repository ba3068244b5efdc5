package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notesync/cmd/internal/notes"
)

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

// roomSummary is the public listing shape of a room. It never carries secrets.
type roomSummary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	HasPassword     bool      `json:"hasPassword"`
	AutoDeleteHours int       `json:"autoDeleteHours"`
	CreatedBy       string    `json:"createdBy,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	LastAccessed    time.Time `json:"lastAccessed"`
	ActiveUsers     int       `json:"activeUsers"`
}

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(a.httpMetrics.middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", a.handleReady)
	r.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{Registry: a.promReg}))
	r.Get("/ws", a.ws.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return WithCORS(next, a.cfg, a.log) })
		r.Use(WithSecurityHeaders)
		r.Get("/health", a.handleHealth)
		r.Get("/rooms", a.handleListRooms)
	})

	return WithRequestLogging(r, a.log)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && a.pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}

	for _, c := range a.readiness {
		if err := c.check(r.Context()); err != nil {
			http.Error(w, c.name+" not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.not_ready", "dependency", c.name, "err", err)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	reg := a.engine.Registry()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC(),
		"rooms":       reg.Rooms(),
		"connections": reg.Total(),
	})
}

func (a *App) handleListRooms(w http.ResponseWriter, r *http.Request) {
	limit := a.cfg.RoomsListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, a.cfg.RoomsListLimit)
	}

	rooms, err := a.store.ListRooms(r.Context(), limit)
	if err != nil {
		a.log.Error("api.rooms.list.fail", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
		return
	}

	reg := a.engine.Registry()
	out := make([]roomSummary, 0, len(rooms))
	for _, info := range rooms {
		out = append(out, summarizeRoom(info, reg.Count(info.ID)))
	}
	writeJSON(w, http.StatusOK, out)
}

func summarizeRoom(info notes.RoomInfo, active int) roomSummary {
	return roomSummary{
		ID:              info.ID,
		Name:            info.Name,
		HasPassword:     info.HasPassword,
		AutoDeleteHours: info.AutoDeleteHours,
		CreatedBy:       info.CreatedBy,
		CreatedAt:       info.CreatedAt,
		LastAccessed:    info.LastAccessed,
		ActiveUsers:     active,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
