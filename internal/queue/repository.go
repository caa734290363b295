package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/queuepro/queuepro/internal/models"
	"github.com/queuepro/queuepro/internal/sqlutil"
)

// Repository is the durable ledger of queues and participants. Every
// token-affecting mutation runs inside a transaction that first locks the
// owning queue row, so two server processes sharing one database cannot
// interleave Join or CallNext on the same queue.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new queue repository on a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const participantColumns = `id, queue_id, name, phone, token, status, joined_at, served_at`

type CreateQueueRequest struct {
	OwnerID  string             `json:"owner_id"`
	Flavor   models.QueueFlavor `json:"flavor"`
	Title    string             `json:"title"`
	JoinCode string             `json:"join_code,omitempty"`
}

// CreateQueue inserts a new open queue.
func (r *Repository) CreateQueue(ctx context.Context, req CreateQueueRequest) (*models.Queue, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO queues (id, owner_id, flavor, title, join_code, status, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, now())
		RETURNING id, owner_id, flavor, title, COALESCE(join_code, ''), status, created_at`,
		uuid.New(), req.OwnerID, req.Flavor, req.Title, req.JoinCode, models.QueueStatusOpen,
	)
	q, err := scanQueue(row)
	if err != nil {
		return nil, storageErr("create queue", err)
	}
	return q, nil
}

// GetQueue fetches a queue by id.
func (r *Repository) GetQueue(ctx context.Context, id uuid.UUID) (*models.Queue, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, flavor, title, COALESCE(join_code, ''), status, created_at
		FROM queues WHERE id = $1`, id)
	q, err := scanQueue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQueueNotFound
	}
	if err != nil {
		return nil, storageErr("get queue", err)
	}
	return q, nil
}

// GetQueueByJoinCode fetches an open session queue by its share code.
func (r *Repository) GetQueueByJoinCode(ctx context.Context, code string) (*models.Queue, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, flavor, title, COALESCE(join_code, ''), status, created_at
		FROM queues WHERE join_code = $1`, code)
	q, err := scanQueue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQueueNotFound
	}
	if err != nil {
		return nil, storageErr("get queue by join code", err)
	}
	return q, nil
}

// CloseQueue marks a queue CLOSED. Closing an already closed queue is a no-op.
func (r *Repository) CloseQueue(ctx context.Context, id uuid.UUID) (*models.Queue, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE queues SET status = $2 WHERE id = $1
		RETURNING id, owner_id, flavor, title, COALESCE(join_code, ''), status, created_at`,
		id, models.QueueStatusClosed)
	q, err := scanQueue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQueueNotFound
	}
	if err != nil {
		return nil, storageErr("close queue", err)
	}
	return q, nil
}

// InsertParticipant allocates the next token for the queue and inserts the
// WAITING row in one transaction. The queue row is locked first, which
// serializes allocation: tokens come out dense, starting at 1, strictly
// increasing in join order, and are never reused even under concurrent joins.
func (r *Repository) InsertParticipant(ctx context.Context, queueID uuid.UUID, name, phone string) (*models.Participant, error) {
	var p *models.Participant
	err := sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockOpenQueue(ctx, tx, queueID); err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO participants (id, queue_id, name, phone, token, status, joined_at)
			SELECT $1, $2, $3, $4, COALESCE(MAX(token), 0) + 1, $5, now()
			FROM participants WHERE queue_id = $2
			RETURNING `+participantColumns,
			uuid.New(), queueID, name, phone, models.ParticipantStatusWaiting,
		)
		var err error
		p, err = scanParticipant(row)
		if err != nil {
			return storageErr("insert participant", err)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("join", err)
	}
	return p, nil
}

// ClaimNext atomically transitions the smallest-token WAITING participant to
// SERVING, stamping served_at. Any participant still SERVING from the previous
// call is completed inside the same transaction, so at most one participant is
// ever SERVING per queue. Returns ErrQueueEmpty when nobody is waiting.
func (r *Repository) ClaimNext(ctx context.Context, queueID uuid.UUID) (*models.Participant, error) {
	var p *models.Participant
	err := sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockQueue(ctx, tx, queueID); err != nil {
			return err
		}

		// A new call implicitly finishes the previous consultation.
		_, err := tx.Exec(ctx, `
			UPDATE participants SET status = $2
			WHERE queue_id = $1 AND status = $3`,
			queueID, models.ParticipantStatusCompleted, models.ParticipantStatusServing)
		if err != nil {
			return storageErr("complete previous serving", err)
		}

		row := tx.QueryRow(ctx, `
			UPDATE participants SET status = $2, served_at = now()
			WHERE id = (
				SELECT id FROM participants
				WHERE queue_id = $1 AND status = $3
				ORDER BY token ASC LIMIT 1
			)
			RETURNING `+participantColumns,
			queueID, models.ParticipantStatusServing, models.ParticipantStatusWaiting,
		)
		p, err = scanParticipant(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrQueueEmpty
		}
		if err != nil {
			return storageErr("claim next", err)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("call next", err)
	}
	return p, nil
}

// CompleteParticipant transitions SERVING -> COMPLETED.
func (r *Repository) CompleteParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	return r.transition(ctx, id, models.ParticipantStatusServing, models.ParticipantStatusCompleted, ErrNotServing)
}

// CancelParticipant transitions WAITING -> CANCELLED. Remaining tokens are
// not renumbered; everyone behind simply moves up on the next recompute.
func (r *Repository) CancelParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	return r.transition(ctx, id, models.ParticipantStatusWaiting, models.ParticipantStatusCancelled, ErrNotWaiting)
}

// MarkMissed transitions WAITING -> MISSED (session flavor no-shows).
func (r *Repository) MarkMissed(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	return r.transition(ctx, id, models.ParticipantStatusWaiting, models.ParticipantStatusMissed, ErrNotWaiting)
}

// transition performs a conditional status update. The WHERE clause carries
// the precondition, so a participant in any other state is left untouched and
// the caller gets the specific precondition error back.
func (r *Repository) transition(ctx context.Context, id uuid.UUID, from, to models.ParticipantStatus, preconditionErr error) (*models.Participant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE participants SET status = $3
		WHERE id = $1 AND status = $2
		RETURNING `+participantColumns,
		id, from, to,
	)
	p, err := scanParticipant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var current models.ParticipantStatus
		err := r.pool.QueryRow(ctx, `SELECT status FROM participants WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		if err != nil {
			return nil, storageErr("get participant status", err)
		}
		return nil, fmt.Errorf("%w (currently %s)", preconditionErr, current)
	}
	if err != nil {
		return nil, storageErr("transition participant", err)
	}
	return p, nil
}

// ListWaiting returns the queue's WAITING participants ordered by token.
func (r *Repository) ListWaiting(ctx context.Context, queueID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE queue_id = $1 AND status = $2
		ORDER BY token ASC`,
		queueID, models.ParticipantStatusWaiting)
	if err != nil {
		return nil, storageErr("list waiting", err)
	}
	defer rows.Close()

	waiting := []models.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, storageErr("scan waiting participant", err)
		}
		waiting = append(waiting, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list waiting", err)
	}
	return waiting, nil
}

// CurrentServing returns the queue's SERVING participant, or nil when nobody
// is being served.
func (r *Repository) CurrentServing(ctx context.Context, queueID uuid.UUID) (*models.Participant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE queue_id = $1 AND status = $2
		ORDER BY served_at DESC LIMIT 1`,
		queueID, models.ParticipantStatusServing)
	p, err := scanParticipant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("current serving", err)
	}
	return p, nil
}

// lockQueue takes the queue's row lock, serializing every token-affecting
// mutation on that queue across server processes.
func lockQueue(ctx context.Context, tx pgx.Tx, queueID uuid.UUID) (models.QueueStatus, error) {
	var status models.QueueStatus
	err := tx.QueryRow(ctx, `SELECT status FROM queues WHERE id = $1 FOR UPDATE`, queueID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrQueueNotFound
	}
	if err != nil {
		return "", storageErr("lock queue", err)
	}
	return status, nil
}

// lockOpenQueue is lockQueue plus the OPEN precondition that guards joins.
func lockOpenQueue(ctx context.Context, tx pgx.Tx, queueID uuid.UUID) error {
	status, err := lockQueue(ctx, tx, queueID)
	if err != nil {
		return err
	}
	if status != models.QueueStatusOpen {
		return ErrQueueClosed
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*models.Participant, error) {
	var p models.Participant
	if err := row.Scan(&p.ID, &p.QueueID, &p.Name, &p.Phone, &p.Token, &p.Status, &p.JoinedAt, &p.ServedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanQueue(row rowScanner) (*models.Queue, error) {
	var q models.Queue
	if err := row.Scan(&q.ID, &q.OwnerID, &q.Flavor, &q.Title, &q.JoinCode, &q.Status, &q.CreatedAt); err != nil {
		return nil, err
	}
	return &q, nil
}

// storageErr wraps infrastructure failures as ErrStorageUnavailable so the
// boundary can retry them, and keeps them distinct from ErrQueueEmpty and the
// precondition errors. Domain errors and already-wrapped failures pass
// through untouched, so wrapping a transaction's result is safe.
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows),
		errors.Is(err, ErrQueueNotFound),
		errors.Is(err, ErrQueueClosed),
		errors.Is(err, ErrQueueEmpty),
		errors.Is(err, ErrStorageUnavailable):
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
