package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/queuepro/queuepro/internal/broadcast"
	"github.com/queuepro/queuepro/internal/models"
	"github.com/queuepro/queuepro/internal/queue/events"
	"github.com/rs/zerolog/log"
)

// Ledger defines what the service needs from the durable store. Every method
// that mutates tokens or statuses is atomic with respect to other calls on
// the same queue.
type Ledger interface {
	CreateQueue(ctx context.Context, req CreateQueueRequest) (*models.Queue, error)
	GetQueue(ctx context.Context, id uuid.UUID) (*models.Queue, error)
	GetQueueByJoinCode(ctx context.Context, code string) (*models.Queue, error)
	CloseQueue(ctx context.Context, id uuid.UUID) (*models.Queue, error)
	InsertParticipant(ctx context.Context, queueID uuid.UUID, name, phone string) (*models.Participant, error)
	ClaimNext(ctx context.Context, queueID uuid.UUID) (*models.Participant, error)
	CompleteParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	CancelParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	MarkMissed(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	ListWaiting(ctx context.Context, queueID uuid.UUID) ([]models.Participant, error)
	CurrentServing(ctx context.Context, queueID uuid.UUID) (*models.Participant, error)
}

// Service applies the queue state machine against the ledger and announces
// every successful mutation on the broadcast channel. Publishing is
// fire-and-forget: a publish failure is logged and never rolls back or fails
// the mutation that triggered it.
type Service struct {
	ledger    Ledger
	publisher broadcast.Publisher
	clock     clockwork.Clock
}

// NewService creates a queue service.
func NewService(ledger Ledger, publisher broadcast.Publisher, clock clockwork.Clock) *Service {
	return &Service{
		ledger:    ledger,
		publisher: publisher,
		clock:     clock,
	}
}

// State is the authoritative snapshot handed to clients: the ordered WAITING
// list plus whoever is currently SERVING (nil when nobody is).
type State struct {
	Queue   *models.Queue        `json:"queue"`
	Waiting []models.Participant `json:"waiting"`
	Serving *models.Participant  `json:"serving,omitempty"`
}

// CreateQueue opens a new clinic queue for an operator.
func (s *Service) CreateQueue(ctx context.Context, ownerID, title string) (*models.Queue, error) {
	return s.ledger.CreateQueue(ctx, CreateQueueRequest{
		OwnerID: ownerID,
		Flavor:  models.QueueFlavorClinic,
		Title:   title,
	})
}

// CreateSession opens an ad-hoc session queue with a six-digit join code.
func (s *Service) CreateSession(ctx context.Context, hostName, title string) (*models.Queue, error) {
	const attempts = 5
	for i := 0; i < attempts; i++ {
		code := joinCode()
		_, err := s.ledger.GetQueueByJoinCode(ctx, code)
		if errors.Is(err, ErrQueueNotFound) {
			return s.ledger.CreateQueue(ctx, CreateQueueRequest{
				OwnerID:  hostName,
				Flavor:   models.QueueFlavorSession,
				Title:    title,
				JoinCode: code,
			})
		}
		if err != nil {
			return nil, err
		}
		// Code already taken, roll again.
	}
	return nil, fmt.Errorf("could not allocate a unique join code after %d attempts", attempts)
}

// CloseQueue stops a queue from accepting new participants.
func (s *Service) CloseQueue(ctx context.Context, queueID uuid.UUID) (*models.Queue, error) {
	return s.ledger.CloseQueue(ctx, queueID)
}

// Join allocates the next token and inserts a WAITING participant. The only
// operation that increases queue length.
func (s *Service) Join(ctx context.Context, queueID uuid.UUID, name, phone string) (*models.Participant, error) {
	if name == "" {
		return nil, errors.New("name is required")
	}

	p, err := s.ledger.InsertParticipant(ctx, queueID, name, phone)
	if err != nil {
		return nil, err
	}

	s.publishListChanged(ctx, queueID)
	return p, nil
}

// JoinByCode resolves a session by its share code and joins it.
func (s *Service) JoinByCode(ctx context.Context, code, name, phone string) (*models.Participant, *models.Queue, error) {
	q, err := s.ledger.GetQueueByJoinCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if !q.Open() {
		return nil, nil, ErrQueueClosed
	}

	p, err := s.Join(ctx, q.ID, name, phone)
	if err != nil {
		return nil, nil, err
	}
	return p, q, nil
}

// CallNext claims the WAITING participant with the smallest token and makes
// it SERVING. The claim is a single atomic step in the ledger, so racing
// operators cannot claim the same participant or claim out of token order.
func (s *Service) CallNext(ctx context.Context, queueID uuid.UUID) (*models.Participant, error) {
	p, err := s.ledger.ClaimNext(ctx, queueID)
	if err != nil {
		return nil, err
	}

	s.publishServingChanged(ctx, queueID, *p)
	s.publishListChanged(ctx, queueID)
	return p, nil
}

// Complete finishes a SERVING participant.
func (s *Service) Complete(ctx context.Context, participantID uuid.UUID) (*models.Participant, error) {
	p, err := s.ledger.CompleteParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}

	s.publishListChanged(ctx, p.QueueID)
	return p, nil
}

// Cancel lets a WAITING participant leave the line. Tokens behind it are not
// renumbered; positions shrink on the next recompute.
func (s *Service) Cancel(ctx context.Context, participantID uuid.UUID) (*models.Participant, error) {
	p, err := s.ledger.CancelParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}

	s.publishListChanged(ctx, p.QueueID)
	return p, nil
}

// MarkMissed flags a WAITING session participant as a no-show.
func (s *Service) MarkMissed(ctx context.Context, participantID uuid.UUID) (*models.Participant, error) {
	p, err := s.ledger.MarkMissed(ctx, participantID)
	if err != nil {
		return nil, err
	}

	s.publishListChanged(ctx, p.QueueID)
	return p, nil
}

// GetState returns the authoritative snapshot used for initial load and for
// client reconciliation fallback.
func (s *Service) GetState(ctx context.Context, queueID uuid.UUID) (*State, error) {
	q, err := s.ledger.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}

	waiting, err := s.ledger.ListWaiting(ctx, queueID)
	if err != nil {
		return nil, err
	}

	serving, err := s.ledger.CurrentServing(ctx, queueID)
	if err != nil {
		return nil, err
	}

	return &State{Queue: q, Waiting: waiting, Serving: serving}, nil
}

func (s *Service) publishListChanged(ctx context.Context, queueID uuid.UUID) {
	waiting, err := s.ledger.ListWaiting(ctx, queueID)
	if err != nil {
		log.Error().Err(err).Str("queue_id", queueID.String()).Msg("failed to read waiting list for broadcast")
		return
	}

	event, err := events.NewListChanged(queueID, waiting, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("queue_id", queueID.String()).Msg("failed to build list_changed event")
		return
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("queue_id", queueID.String()).Msg("failed to publish list_changed event")
	}
}

func (s *Service) publishServingChanged(ctx context.Context, queueID uuid.UUID, serving models.Participant) {
	event, err := events.NewServingChanged(queueID, serving, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("queue_id", queueID.String()).Msg("failed to build serving_changed event")
		return
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("queue_id", queueID.String()).Msg("failed to publish serving_changed event")
	}
}

// joinCode returns a six-digit share code.
func joinCode() string {
	return fmt.Sprintf("%06d", 100000+rand.N(900000))
}
