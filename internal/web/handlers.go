package web

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fablecast/server/internal/analytics"
	"fablecast/server/internal/engine"
	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
	"fablecast/server/internal/persona"
	"fablecast/server/internal/registry"
	"fablecast/server/internal/session"
	"fablecast/server/internal/story"
)

// Handlers exposes the narrative engine over HTTP.
type Handlers struct {
	engine    *engine.Engine
	stories   *story.Catalog
	models    *registry.Registry
	personas  *persona.Manager
	analytics *analytics.Collector
	hub       *Hub
}

// NewHandlers wires the HTTP layer.
func NewHandlers(eng *engine.Engine, stories *story.Catalog, reg *registry.Registry, personas *persona.Manager, collector *analytics.Collector, hub *Hub) *Handlers {
	return &Handlers{
		engine:    eng,
		stories:   stories,
		models:    reg,
		personas:  personas,
		analytics: collector,
		hub:       hub,
	}
}

// NewRouter builds the chi router over the handlers.
func NewRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ws", h.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.StartSession)
			r.Get("/", h.ListSessions)
			r.Post("/import", h.ImportSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Delete("/", h.EndSession)
				r.Post("/input", h.ProcessInput)
				r.Post("/events", h.TriggerEvent)
				r.Post("/channel", h.SwitchChannel)
				r.Get("/export", h.ExportSession)
				r.Post("/saves", h.CreateSave)
				r.Post("/saves/{saveID}/load", h.LoadSave)
			})
		})

		r.Route("/stories", func(r chi.Router) {
			r.Get("/", h.ListStories)
			r.Get("/{id}", h.GetStory)
		})

		r.Get("/models", h.ListModels)
		r.Get("/personas", h.ListPersonas)
		r.Get("/stats", h.Stats)
	})

	return r
}

// HealthCheck reports the service is up.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "fablecast",
	})
}

type startSessionRequest struct {
	StoryID   string                  `json:"story_id"`
	PlayerID  string                  `json:"player_id"`
	Channel   string                  `json:"channel,omitempty"`
	Pacing    string                  `json:"pacing,omitempty"`
	Variables map[string]models.Value `json:"variables,omitempty"`
}

// StartSession opens a new session and returns its rendered opening.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StoryID == "" || req.PlayerID == "" {
		respondError(w, http.StatusBadRequest, "story_id and player_id are required")
		return
	}

	result, err := h.engine.StartSession(r.Context(), engine.StartRequest{
		StoryID:   req.StoryID,
		PlayerID:  req.PlayerID,
		Channel:   req.Channel,
		Pacing:    req.Pacing,
		Variables: req.Variables,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// ListSessions returns live session ids, optionally ?player_id=.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.engine.ListSessions(r.Context(), r.URL.Query().Get("player_id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": ids})
}

// GetSession returns the live session.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type inputRequest struct {
	Kind     string `json:"kind"`
	ChoiceID string `json:"choice_id,omitempty"`
	Text     string `json:"text,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
}

// ProcessInput advances the session on a player action.
func (h *Handlers) ProcessInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.engine.ProcessInput(r.Context(), interfaces.PlayerInput{
		SessionID: chi.URLParam(r, "id"),
		PlayerID:  req.PlayerID,
		Kind:      req.Kind,
		ChoiceID:  req.ChoiceID,
		Text:      req.Text,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type eventRequest struct {
	Type   string                  `json:"type"`
	Params map[string]models.Value `json:"params,omitempty"`
}

// TriggerEvent applies a world event to the session.
func (h *Handlers) TriggerEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.engine.TriggerEvent(r.Context(), chi.URLParam(r, "id"), req.Type, req.Params)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type switchChannelRequest struct {
	Channel string `json:"channel"`
}

// SwitchChannel rebinds the session's delivery channel.
func (h *Handlers) SwitchChannel(w http.ResponseWriter, r *http.Request) {
	var req switchChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Channel == "" {
		respondError(w, http.StatusBadRequest, "channel is required")
		return
	}

	if err := h.engine.SwitchChannel(r.Context(), chi.URLParam(r, "id"), req.Channel); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"channel": req.Channel})
}

type saveRequest struct {
	Description string `json:"description"`
}

// CreateSave snapshots the session.
func (h *Handlers) CreateSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sp, err := h.engine.SaveGame(r.Context(), chi.URLParam(r, "id"), req.Description)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sp)
}

// LoadSave restores a save point and returns the session with its
// re-rendered node.
func (h *Handlers) LoadSave(w http.ResponseWriter, r *http.Request) {
	sess, content, err := h.engine.LoadGame(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "saveID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"content": content,
	})
}

// ExportSession streams the session's JSON snapshot.
func (h *Handlers) ExportSession(w http.ResponseWriter, r *http.Request) {
	data, err := h.engine.ExportSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportSession restores a previously exported session.
func (h *Handlers) ImportSession(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	sess, err := h.engine.ImportSession(r.Context(), data)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// EndSession tears the session down.
func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.EndSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// ListStories returns the catalog listing.
func (h *Handlers) ListStories(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"stories": h.stories.List()})
}

// GetStory returns one full story definition.
func (h *Handlers) GetStory(w http.ResponseWriter, r *http.Request) {
	st, err := h.stories.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// ListModels reports every registered model with health and usage.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"models": h.models.Status()})
}

// ListPersonas returns the global persona definitions.
func (h *Handlers) ListPersonas(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"personas": h.personas.ListPersonas()})
}

// Stats reports orchestration counters and cache performance.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"analytics":    h.analytics.Snapshot(),
		"render_cache": h.engine.CacheStats(),
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[Web] %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[Web] Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondEngineError maps routine absence to 404 and everything else
// to 500.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSavePointNotFound),
		errors.Is(err, story.ErrStoryNotFound),
		errors.Is(err, story.ErrNodeNotFound),
		errors.Is(err, persona.ErrPersonaNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
