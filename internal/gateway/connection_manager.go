package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/queuepro/queuepro/internal/queue/events"
	"github.com/rs/zerolog/log"
)

// ConnectionManager groups WebSocket connections into rooms, one room per
// queue. An event published for queue X is fanned out only to queue X's room.
type ConnectionManager struct {
	rooms map[uuid.UUID]map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan events.QueueEvent
}

// Connection represents one subscribed device.
type Connection struct {
	ID      string
	QueueID uuid.UUID
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		rooms: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan events.QueueEvent, 1000),
	}
}

// Start begins processing broadcast messages until the context is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case event := <-cm.broadcastCh:
			cm.handleBroadcast(event)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket subscription on
// the queue's room.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, queueID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		QueueID:     queueID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("queue_id", queueID.String()).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.rooms[conn.QueueID] == nil {
		cm.rooms[conn.QueueID] = make(map[*Connection]bool)
	}
	cm.rooms[conn.QueueID][conn] = true
	subscribersGauge.WithLabelValues(conn.QueueID.String()).Inc()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("queue_id", conn.QueueID.String()).
		Int("room_size", len(cm.rooms[conn.QueueID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if room, exists := cm.rooms[conn.QueueID]; exists {
		if _, exists := room[conn]; exists {
			delete(room, conn)
			close(conn.Send)
			subscribersGauge.WithLabelValues(conn.QueueID.String()).Dec()

			if len(room) == 0 {
				delete(cm.rooms, conn.QueueID)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("queue_id", conn.QueueID.String()).
				Msg("connection unregistered")
		}
	}
}

// Broadcast queues an event for fan-out to its queue's room. It never blocks
// the caller; when the buffer is full the event is dropped, which clients
// tolerate by re-fetching state.
func (cm *ConnectionManager) Broadcast(event events.QueueEvent) {
	select {
	case cm.broadcastCh <- event:
	default:
		droppedCounter.WithLabelValues(string(event.Type)).Inc()
		log.Warn().Str("queue_id", event.QueueID).Msg("broadcast channel full, dropping event")
	}
}

func (cm *ConnectionManager) handleBroadcast(event events.QueueEvent) {
	queueID, err := uuid.Parse(event.QueueID)
	if err != nil {
		log.Error().Err(err).Str("queue_id", event.QueueID).Msg("event with invalid queue id")
		return
	}

	cm.mu.RLock()
	room, exists := cm.rooms[queueID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the room so the lock is not held while writing.
	targets := make([]*Connection, 0, len(room))
	for conn := range room {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Connection is slow or dead, drop it.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("queue_id", event.QueueID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	fanoutCounter.WithLabelValues(string(event.Type)).Add(float64(len(targets)))

	log.Debug().
		Str("event_type", string(event.Type)).
		Str("queue_id", event.QueueID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats summarizes the manager's current rooms.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveQueues     int            `json:"active_queues"`
	RoomSizes        map[string]int `json:"room_sizes"`
}

// GetStats returns statistics about active connections.
func (cm *ConnectionManager) GetStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{RoomSizes: make(map[string]int)}
	for queueID, room := range cm.rooms {
		stats.TotalConnections += len(room)
		stats.RoomSizes[queueID.String()] = len(room)
	}
	stats.ActiveQueues = len(cm.rooms)
	return stats
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection and watches for disconnects. Subscribers do
// not send commands; the read side only services ping/pong.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
