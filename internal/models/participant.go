package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantStatus defines where a participant is in its lifecycle.
type ParticipantStatus string

const (
	ParticipantStatusWaiting   ParticipantStatus = "WAITING"
	ParticipantStatusServing   ParticipantStatus = "SERVING"
	ParticipantStatusCompleted ParticipantStatus = "COMPLETED"
	ParticipantStatusCancelled ParticipantStatus = "CANCELLED"
	ParticipantStatusMissed    ParticipantStatus = "MISSED" // session flavor only
)

// Terminal reports whether no further transition is permitted.
func (s ParticipantStatus) Terminal() bool {
	switch s {
	case ParticipantStatusCompleted, ParticipantStatusCancelled, ParticipantStatusMissed:
		return true
	}
	return false
}

// Participant represents one person waiting in a queue. Token is unique
// within the queue and strictly increasing in join order; it is never
// reused or reassigned.
type Participant struct {
	ID       uuid.UUID         `json:"id"`
	QueueID  uuid.UUID         `json:"queue_id"`
	Name     string            `json:"name"`
	Phone    string            `json:"phone,omitempty"`
	Token    int               `json:"token"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt time.Time         `json:"joined_at"`
	ServedAt *time.Time        `json:"served_at,omitempty"`
}
