package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for queue rooms.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleQueueConnection subscribes the caller to one queue's room. A device
// joins when it starts watching a queue and leaves by closing the socket.
func (h *WebSocketHandler) HandleQueueConnection(w http.ResponseWriter, r *http.Request) {
	queueIDStr := r.URL.Query().Get("queue_id")
	if queueIDStr == "" {
		http.Error(w, "queue_id is required", http.StatusBadRequest)
		return
	}

	queueID, err := uuid.Parse(queueIDStr)
	if err != nil {
		http.Error(w, "invalid queue_id format", http.StatusBadRequest)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, queueID); err != nil {
		log.Error().
			Err(err).
			Str("queue_id", queueID.String()).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active rooms.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.connectionManager.GetStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/queue", h.HandleQueueConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
