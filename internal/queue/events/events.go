// Package events defines the typed messages pushed to every device watching
// a queue. Events are ephemeral: delivery is at-most-once, best-effort, and
// unordered across types, so clients treat them as hints to resynchronize
// rather than as the source of truth.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/queuepro/queuepro/internal/models"
)

// EventType identifies the kind of state change being announced.
type EventType string

const (
	// EventTypeListChanged carries the full current WAITING list.
	EventTypeListChanged EventType = "list_changed"
	// EventTypeServingChanged carries the newly SERVING participant.
	EventTypeServingChanged EventType = "serving_changed"
)

// QueueEvent is the envelope published to a queue's room.
type QueueEvent struct {
	ID        string          `json:"id"`
	QueueID   string          `json:"queue_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// ListChangedPayload is the payload of EventTypeListChanged. The list is the
// complete WAITING set ordered by token, never a diff.
type ListChangedPayload struct {
	Waiting []models.Participant `json:"waiting"`
}

// ServingChangedPayload is the payload of EventTypeServingChanged.
type ServingChangedPayload struct {
	Serving models.Participant `json:"serving"`
}

// Subject returns the room-scoped NATS subject for a queue. Events for queue
// X are never published outside queue X's subject.
func Subject(queueID uuid.UUID) string {
	return "queue.events." + queueID.String()
}

// SubjectWildcard matches every queue's event subject.
const SubjectWildcard = "queue.events.>"

// NewListChanged builds a list_changed event for a queue.
func NewListChanged(queueID uuid.UUID, waiting []models.Participant, at time.Time) (QueueEvent, error) {
	payload, err := json.Marshal(ListChangedPayload{Waiting: waiting})
	if err != nil {
		return QueueEvent{}, fmt.Errorf("marshal list_changed payload: %w", err)
	}
	return QueueEvent{
		ID:        uuid.New().String(),
		QueueID:   queueID.String(),
		Type:      EventTypeListChanged,
		Timestamp: at,
		Payload:   payload,
	}, nil
}

// NewServingChanged builds a serving_changed event for a queue.
func NewServingChanged(queueID uuid.UUID, serving models.Participant, at time.Time) (QueueEvent, error) {
	payload, err := json.Marshal(ServingChangedPayload{Serving: serving})
	if err != nil {
		return QueueEvent{}, fmt.Errorf("marshal serving_changed payload: %w", err)
	}
	return QueueEvent{
		ID:        uuid.New().String(),
		QueueID:   queueID.String(),
		Type:      EventTypeServingChanged,
		Timestamp: at,
		Payload:   payload,
	}, nil
}

// ParseEventPayload parses an event's payload into its typed struct.
func ParseEventPayload(event QueueEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeListChanged:
		var payload ListChangedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeServingChanged:
		var payload ServingChangedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // unknown event type, callers skip it
	}
}
