package models

import (
	"time"

	"github.com/google/uuid"
)

// QueueFlavor defines the kind of line a queue represents.
type QueueFlavor string

const (
	// QueueFlavorClinic is a walk-in line owned by a clinic or desk.
	QueueFlavorClinic QueueFlavor = "CLINIC"
	// QueueFlavorSession is an ad-hoc line joined by a share code.
	QueueFlavorSession QueueFlavor = "SESSION"
)

// QueueStatus defines whether a queue accepts new participants.
type QueueStatus string

const (
	QueueStatusOpen   QueueStatus = "OPEN"
	QueueStatusClosed QueueStatus = "CLOSED"
)

// Queue represents one line: a clinic-day or an ad-hoc session.
type Queue struct {
	ID        uuid.UUID   `json:"id"`
	OwnerID   string      `json:"owner_id"`
	Flavor    QueueFlavor `json:"flavor"`
	Title     string      `json:"title"`
	JoinCode  string      `json:"join_code,omitempty"` // session flavor only
	Status    QueueStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Open reports whether the queue still accepts joins.
func (q *Queue) Open() bool {
	return q.Status == QueueStatusOpen
}
