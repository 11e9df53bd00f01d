package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/veyra/solace/internal/agency"
	"github.com/veyra/solace/internal/channel"
	"github.com/veyra/solace/internal/schedule"
	"github.com/veyra/solace/internal/trigger"
	"go.uber.org/zap"
)

// Handler is the thin HTTP surface over the agency engine. The engine does
// not depend on it; any other RPC layer could wrap the same calls.
type Handler struct {
	engine *agency.Engine
	outbox *channel.Outbox
	logger *zap.Logger
}

// NewHandler creates an API handler.
func NewHandler(engine *agency.Engine, outbox *channel.Outbox, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, outbox: outbox, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/agency/start", h.startAgency)
			r.Post("/agency/stop", h.stopAgency)
			r.Get("/agency/status", h.agencyStatus)
			r.Post("/events", h.pushEvent)
			r.Get("/outbox", h.drainOutbox)
			r.Get("/interactions", h.listInteractions)
			r.Post("/interactions", h.createInteraction)
			r.Delete("/interactions/{id}", h.deleteInteraction)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) startAgency(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.engine.StartAgency(r.Context(), userID); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "agency": "started"})
}

func (h *Handler) stopAgency(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.engine.StopAgency(r.Context(), userID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "agency": "stopped"})
}

func (h *Handler) agencyStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusOK, h.engine.Status(userID))
}

type pushEventRequest struct {
	Priority string            `json:"priority"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

func (h *Handler) pushEvent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req pushEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.PushExternalEvent(r.Context(), userID, req.Priority, req.Content, req.Metadata); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) drainOutbox(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	msgs := h.outbox.Drain(userID)
	if msgs == nil {
		msgs = []*channel.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *Handler) listInteractions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ins := h.engine.Interactions(userID)
	if ins == nil {
		ins = []*schedule.Interaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": ins})
}

type createInteractionRequest struct {
	Kind       string `json:"kind"`
	Pattern    string `json:"pattern"`
	TimeOfDay  string `json:"time_of_day"`
	Weekdays   []int  `json:"weekdays"`
	DayOfMonth *int   `json:"day_of_month"`
	Priority   string `json:"priority"`
}

func (h *Handler) createInteraction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req createInteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	in := &schedule.Interaction{
		UserID:     userID,
		Kind:       req.Kind,
		Pattern:    schedule.Pattern(req.Pattern),
		TimeOfDay:  req.TimeOfDay,
		DayOfMonth: req.DayOfMonth,
		Priority:   trigger.ParsePriority(req.Priority),
	}
	for _, d := range req.Weekdays {
		in.Weekdays = append(in.Weekdays, time.Weekday(d))
	}

	stored, err := h.engine.AddInteraction(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) deleteInteraction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	id := chi.URLParam(r, "id")
	if err := h.engine.RemoveInteraction(r.Context(), userID, id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
