package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/queuepro/queuepro/internal/models"
)

// MemoryLedger is an in-process Ledger with the same per-queue atomicity the
// Postgres repository gets from row locks: one mutex guards every mutation.
// It backs tests and single-process demos; it is not durable.
type MemoryLedger struct {
	mu           sync.Mutex
	queues       map[uuid.UUID]*models.Queue
	participants map[uuid.UUID]*models.Participant
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		queues:       make(map[uuid.UUID]*models.Queue),
		participants: make(map[uuid.UUID]*models.Participant),
	}
}

func (m *MemoryLedger) CreateQueue(ctx context.Context, req CreateQueueRequest) (*models.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := &models.Queue{
		ID:        uuid.New(),
		OwnerID:   req.OwnerID,
		Flavor:    req.Flavor,
		Title:     req.Title,
		JoinCode:  req.JoinCode,
		Status:    models.QueueStatusOpen,
		CreatedAt: time.Now(),
	}
	m.queues[q.ID] = q
	copied := *q
	return &copied, nil
}

func (m *MemoryLedger) GetQueue(ctx context.Context, id uuid.UUID) (*models.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[id]
	if !ok {
		return nil, ErrQueueNotFound
	}
	copied := *q
	return &copied, nil
}

func (m *MemoryLedger) GetQueueByJoinCode(ctx context.Context, code string) (*models.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queues {
		if code != "" && q.JoinCode == code {
			copied := *q
			return &copied, nil
		}
	}
	return nil, ErrQueueNotFound
}

func (m *MemoryLedger) CloseQueue(ctx context.Context, id uuid.UUID) (*models.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[id]
	if !ok {
		return nil, ErrQueueNotFound
	}
	q.Status = models.QueueStatusClosed
	copied := *q
	return &copied, nil
}

func (m *MemoryLedger) InsertParticipant(ctx context.Context, queueID uuid.UUID, name, phone string) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queueID]
	if !ok {
		return nil, ErrQueueNotFound
	}
	if q.Status != models.QueueStatusOpen {
		return nil, ErrQueueClosed
	}

	maxToken := 0
	for _, p := range m.participants {
		if p.QueueID == queueID && p.Token > maxToken {
			maxToken = p.Token
		}
	}
	p := &models.Participant{
		ID:       uuid.New(),
		QueueID:  queueID,
		Name:     name,
		Phone:    phone,
		Token:    maxToken + 1,
		Status:   models.ParticipantStatusWaiting,
		JoinedAt: time.Now(),
	}
	m.participants[p.ID] = p
	copied := *p
	return &copied, nil
}

func (m *MemoryLedger) ClaimNext(ctx context.Context, queueID uuid.UUID) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[queueID]; !ok {
		return nil, ErrQueueNotFound
	}

	// A new call implicitly finishes the previous consultation.
	for _, p := range m.participants {
		if p.QueueID == queueID && p.Status == models.ParticipantStatusServing {
			p.Status = models.ParticipantStatusCompleted
		}
	}

	var next *models.Participant
	for _, p := range m.participants {
		if p.QueueID == queueID && p.Status == models.ParticipantStatusWaiting {
			if next == nil || p.Token < next.Token {
				next = p
			}
		}
	}
	if next == nil {
		return nil, ErrQueueEmpty
	}

	now := time.Now()
	next.Status = models.ParticipantStatusServing
	next.ServedAt = &now
	copied := *next
	return &copied, nil
}

func (m *MemoryLedger) CompleteParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	return m.transition(id, models.ParticipantStatusServing, models.ParticipantStatusCompleted, ErrNotServing)
}

func (m *MemoryLedger) CancelParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	return m.transition(id, models.ParticipantStatusWaiting, models.ParticipantStatusCancelled, ErrNotWaiting)
}

func (m *MemoryLedger) MarkMissed(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	return m.transition(id, models.ParticipantStatusWaiting, models.ParticipantStatusMissed, ErrNotWaiting)
}

func (m *MemoryLedger) transition(id uuid.UUID, from, to models.ParticipantStatus, preconditionErr error) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	if p.Status != from {
		return nil, preconditionErr
	}
	p.Status = to
	copied := *p
	return &copied, nil
}

func (m *MemoryLedger) ListWaiting(ctx context.Context, queueID uuid.UUID) ([]models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiting := []models.Participant{}
	for _, p := range m.participants {
		if p.QueueID == queueID && p.Status == models.ParticipantStatusWaiting {
			waiting = append(waiting, *p)
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].Token < waiting[j].Token })
	return waiting, nil
}

func (m *MemoryLedger) CurrentServing(ctx context.Context, queueID uuid.UUID) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.QueueID == queueID && p.Status == models.ParticipantStatusServing {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}
