package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// UserIDHeader names the acting user of an admin request. Without it the
// system user acts.
const UserIDHeader = "X-User-ID"

// AdminHandler exposes entity mutations, event dispatch and broker settings
type AdminHandler struct {
	service derivative.Service
	logger  *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service derivative.Service, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{service: service, logger: logger}
}

// Routes returns the admin routes
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Put("/entities/{kind}/{id}", h.SaveEntity)
	r.Delete("/entities/{kind}/{id}", h.DeleteEntity)
	r.Post("/entities/{kind}/{id}/events", h.EmitEvent)

	r.Post("/media/{id}/derivatives/{action}", h.GenerateDerivative)

	r.Get("/actions", h.ListActions)
	r.Get("/actions/{action}", h.GetAction)

	r.Post("/settings/broker/validate", h.ValidateBroker)
	r.Put("/settings/broker", h.ConfigureBroker)

	return r
}

// SaveEntityResponse reports what a save emitted
type SaveEntityResponse struct {
	Created bool                        `json:"created"`
	Event   *derivative.EventDescriptor `json:"event,omitempty"`
	Jobs    []*derivative.JobDescriptor `json:"jobs"`
}

// EmitEventRequest is the request body for emitting an event
type EmitEventRequest struct {
	Event string         `json:"event"`
	Queue string         `json:"queue"`
	Data  map[string]any `json:"data,omitempty"`
}

// BrokerValidationResponse reports a broker check
type BrokerValidationResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// SaveEntity creates or replaces an entity. The body is the entity in its
// JSON form; the id comes from the path.
func (h *AdminHandler) SaveEntity(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := entityRef(w, r)
	if !ok {
		return
	}
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}

	var entity derivative.Entity
	switch kind {
	case derivative.KindNode:
		n := &derivative.Node{}
		entity = n
		if !decode(w, r, n) {
			return
		}
		n.ID = id
	case derivative.KindMedia:
		m := &derivative.Media{}
		entity = m
		if !decode(w, r, m) {
			return
		}
		m.ID = id
	case derivative.KindFile:
		f := &derivative.File{}
		entity = f
		if !decode(w, r, f) {
			return
		}
		f.ID = id
	case derivative.KindUser:
		u := &derivative.User{}
		entity = u
		if !decode(w, r, u) {
			return
		}
		u.ID = id
	}

	result, err := h.service.SaveEntity(r.Context(), derivative.SaveEntityRequest{Entity: entity, UserID: userID})
	if err != nil {
		h.logger.Error("unable to save entity", "kind", kind, "id", id, "err", err)
		writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	jobs := result.Jobs
	if jobs == nil {
		jobs = []*derivative.JobDescriptor{}
	}
	render.Status(r, status)
	render.JSON(w, r, SaveEntityResponse{Created: result.Created, Event: result.Event, Jobs: jobs})
}

// DeleteEntity deletes an entity and emits its Delete event
func (h *AdminHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := entityRef(w, r)
	if !ok {
		return
	}
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}

	err := h.service.DeleteEntity(r.Context(), derivative.DeleteEntityRequest{Kind: kind, EntityID: id, UserID: userID})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EmitEvent publishes a plain event about an entity
func (h *AdminHandler) EmitEvent(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := entityRef(w, r)
	if !ok {
		return
	}
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}

	var req EmitEventRequest
	if !decode(w, r, &req) {
		return
	}
	event, err := derivative.ParseEventType(req.Event)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.Queue == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "queue is required")
		return
	}

	ev, err := h.service.EmitEvent(r.Context(), derivative.EmitEventRequest{
		Kind:     kind,
		EntityID: id,
		UserID:   userID,
		Event:    event,
		Queue:    req.Queue,
		Data:     req.Data,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ev)
}

// GenerateDerivative dispatches one derivative action for a media
func (h *AdminHandler) GenerateDerivative(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Invalid media ID")
		return
	}
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}

	job, err := h.service.GenerateDerivative(r.Context(), derivative.GenerateDerivativeRequest{
		MediaID:  id,
		UserID:   userID,
		ActionID: chi.URLParam(r, "action"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, job)
}

// ListActions lists the configured derivative actions
func (h *AdminHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Actions())
}

// GetAction returns one derivative action
func (h *AdminHandler) GetAction(w http.ResponseWriter, r *http.Request) {
	action, err := h.service.Action(chi.URLParam(r, "action"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, action)
}

// ValidateBroker checks broker settings without applying them
func (h *AdminHandler) ValidateBroker(w http.ResponseWriter, r *http.Request) {
	var settings derivative.BrokerSettings
	if !decode(w, r, &settings) {
		return
	}
	if err := h.service.ValidateBroker(r.Context(), settings); err != nil {
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, BrokerValidationResponse{Valid: false, Error: err.Error()})
		return
	}
	render.JSON(w, r, BrokerValidationResponse{Valid: true})
}

// ConfigureBroker validates and applies broker settings
func (h *AdminHandler) ConfigureBroker(w http.ResponseWriter, r *http.Request) {
	var settings derivative.BrokerSettings
	if !decode(w, r, &settings) {
		return
	}
	if err := h.service.ConfigureBroker(r.Context(), settings); err != nil {
		h.logger.Warn("broker settings rejected", "url", settings.URL, "err", err)
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, BrokerValidationResponse{Valid: false, Error: err.Error()})
		return
	}
	render.JSON(w, r, BrokerValidationResponse{Valid: true})
}

func entityRef(w http.ResponseWriter, r *http.Request) (derivative.EntityKind, uuid.UUID, bool) {
	kind, ok := derivative.ParseEntityKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Unknown entity kind")
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Invalid entity ID")
		return "", uuid.Nil, false
	}
	return kind, id, true
}

func actingUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(UserIDHeader)
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Invalid user ID")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}
