// Package httpapi is the thin HTTP surface through which the surrounding
// CRUD layer drives the queue engine. Encoding is JSON; the response envelope
// follows the shape the mobile clients already consume.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/queuepro/queuepro/internal/models"
	"github.com/queuepro/queuepro/internal/queue"
	"github.com/rs/zerolog/log"
)

// QueueService defines what the handlers need from the state machine.
type QueueService interface {
	CreateQueue(ctx context.Context, ownerID, title string) (*models.Queue, error)
	CreateSession(ctx context.Context, hostName, title string) (*models.Queue, error)
	CloseQueue(ctx context.Context, queueID uuid.UUID) (*models.Queue, error)
	Join(ctx context.Context, queueID uuid.UUID, name, phone string) (*models.Participant, error)
	JoinByCode(ctx context.Context, code, name, phone string) (*models.Participant, *models.Queue, error)
	CallNext(ctx context.Context, queueID uuid.UUID) (*models.Participant, error)
	Complete(ctx context.Context, participantID uuid.UUID) (*models.Participant, error)
	Cancel(ctx context.Context, participantID uuid.UUID) (*models.Participant, error)
	MarkMissed(ctx context.Context, participantID uuid.UUID) (*models.Participant, error)
	GetState(ctx context.Context, queueID uuid.UUID) (*queue.State, error)
}

// Handler serves the boundary API.
type Handler struct {
	service QueueService
}

// NewHandler creates a boundary API handler.
func NewHandler(service QueueService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the boundary routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/queues", h.CreateQueue)
	mux.HandleFunc("GET /api/queues/{id}", h.GetQueueState)
	mux.HandleFunc("POST /api/queues/{id}/add", h.JoinQueue)
	mux.HandleFunc("POST /api/queues/{id}/next", h.CallNext)
	mux.HandleFunc("POST /api/queues/{id}/close", h.CloseQueue)
	mux.HandleFunc("POST /api/sessions", h.CreateSession)
	mux.HandleFunc("POST /api/sessions/join", h.JoinSession)
	mux.HandleFunc("POST /api/participants/{id}/complete", h.CompleteParticipant)
	mux.HandleFunc("POST /api/participants/{id}/cancel", h.CancelParticipant)
	mux.HandleFunc("POST /api/participants/{id}/missed", h.MarkMissed)
}

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Current any    `json:"current,omitempty"`
	Session any    `json:"session,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateQueue opens a clinic queue.
func (h *Handler) CreateQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string `json:"owner_id"`
		Title   string `json:"title"`
	}
	if !decode(w, r, &req) {
		return
	}

	q, err := h.service.CreateQueue(r.Context(), req.OwnerID, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Success: true, Data: q})
}

// CreateSession opens an ad-hoc session and returns its join code.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostName string `json:"host_name"`
		Title    string `json:"title"`
	}
	if !decode(w, r, &req) {
		return
	}

	q, err := h.service.CreateSession(r.Context(), req.HostName, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Success: true, Data: q})
}

// GetQueueState returns the authoritative snapshot: ordered WAITING list plus
// the current SERVING participant, if any.
func (h *Handler) GetQueueState(w http.ResponseWriter, r *http.Request) {
	queueID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	state, err := h.service.GetState(r.Context(), queueID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: state.Waiting, Current: state.Serving})
}

// JoinQueue adds a participant and returns it with its token.
func (h *Handler) JoinQueue(w http.ResponseWriter, r *http.Request) {
	queueID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, response{Success: false, Error: "name is required"})
		return
	}

	p, err := h.service.Join(r.Context(), queueID, req.Name, req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Success: true, Data: p})
}

// JoinSession joins an ad-hoc session by its share code.
func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JoinCode string `json:"join_code"`
		Name     string `json:"name"`
		Phone    string `json:"phone"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, response{Success: false, Error: "name is required"})
		return
	}

	p, q, err := h.service.JoinByCode(r.Context(), req.JoinCode, req.Name, req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: p, Session: q})
}

// CallNext claims the smallest-token WAITING participant.
func (h *Handler) CallNext(w http.ResponseWriter, r *http.Request) {
	queueID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	p, err := h.service.CallNext(r.Context(), queueID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: p})
}

// CloseQueue stops a queue from accepting joins.
func (h *Handler) CloseQueue(w http.ResponseWriter, r *http.Request) {
	queueID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	q, err := h.service.CloseQueue(r.Context(), queueID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: q})
}

// CompleteParticipant finishes a SERVING participant.
func (h *Handler) CompleteParticipant(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Complete)
}

// CancelParticipant lets a WAITING participant leave the line.
func (h *Handler) CancelParticipant(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

// MarkMissed flags a WAITING session participant as a no-show.
func (h *Handler) MarkMissed(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkMissed)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*models.Participant, error)) {
	participantID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	p, err := op(r.Context(), participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: p})
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Success: false, Error: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Success: false, Error: "invalid request body"})
		return false
	}
	return true
}

// writeError maps engine errors onto HTTP statuses. Empty queue is an
// expected steady state surfaced as a plain client response, never logged as
// a server fault; storage failures are the only hard errors.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueEmpty):
		writeJSON(w, http.StatusBadRequest, response{Success: false, Error: "queue is empty"})
	case errors.Is(err, queue.ErrQueueNotFound), errors.Is(err, queue.ErrParticipantNotFound):
		writeJSON(w, http.StatusNotFound, response{Success: false, Error: err.Error()})
	case errors.Is(err, queue.ErrQueueClosed), errors.Is(err, queue.ErrNotServing), errors.Is(err, queue.ErrNotWaiting):
		writeJSON(w, http.StatusConflict, response{Success: false, Error: err.Error()})
	case errors.Is(err, queue.ErrStorageUnavailable):
		log.Error().Err(err).Msg("storage unavailable")
		writeJSON(w, http.StatusServiceUnavailable, response{Success: false, Error: "storage unavailable"})
	default:
		log.Error().Err(err).Msg("boundary request failed")
		writeJSON(w, http.StatusInternalServerError, response{Success: false, Error: "server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
