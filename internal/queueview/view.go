// Package queueview is the device-side reconciliation engine. A View is a
// session-scoped container for one queue's state as the device believes it to
// be: created when the user starts watching a queue, torn down on leave. It
// applies optimistic local mutations immediately, merges inbound broadcast
// events, and always lets authoritative server state win over its own
// guesses. Derived values (position, estimated wait) are pure functions of
// the current list and are never stored.
package queueview

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/queuepro/queuepro/internal/models"
	"github.com/queuepro/queuepro/internal/queue"
	"github.com/queuepro/queuepro/internal/queue/events"
	"github.com/rs/zerolog/log"
)

// Fetcher is the boundary GET: it returns the authoritative snapshot the view
// reconciles against.
type Fetcher interface {
	FetchState(ctx context.Context, queueID uuid.UUID) (*queue.State, error)
}

// WaitEstimator converts a position in line into an estimated wait. It is a
// swappable policy; the default is a fixed per-head service time.
type WaitEstimator func(peopleAhead int) time.Duration

// FixedServiceTime estimates the wait as peopleAhead * perHead.
func FixedServiceTime(perHead time.Duration) WaitEstimator {
	return func(peopleAhead int) time.Duration {
		return time.Duration(peopleAhead) * perHead
	}
}

// Config holds the view's collaborators and tunables.
type Config struct {
	Fetcher           Fetcher
	Clock             clockwork.Clock
	Estimator         WaitEstimator
	OptimisticTimeout time.Duration
}

// View is a device's current belief about one queue. Not durable: discard it
// when the device leaves the queue or the app restarts.
type View struct {
	mu sync.Mutex

	queueID   uuid.UUID
	fetcher   Fetcher
	clock     clockwork.Clock
	estimator WaitEstimator
	timeout   time.Duration

	waiting      []models.Participant
	servingToken int // 0 means nobody serving
	myToken      int // 0 for operator views

	optimisticPending bool
	prevWaiting       []models.Participant
	prevServing       int
	rollbackTimer     clockwork.Timer
}

// NewView creates a view for one queue.
func NewView(queueID uuid.UUID, cfg Config) *View {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Estimator == nil {
		cfg.Estimator = FixedServiceTime(10 * time.Minute)
	}
	if cfg.OptimisticTimeout == 0 {
		cfg.OptimisticTimeout = 10 * time.Second
	}
	return &View{
		queueID:   queueID,
		fetcher:   cfg.Fetcher,
		clock:     cfg.Clock,
		estimator: cfg.Estimator,
		timeout:   cfg.OptimisticTimeout,
	}
}

// SetMyToken marks which participant this device belongs to, enabling
// PeopleAhead and EstimatedWait.
func (v *View) SetMyToken(token int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.myToken = token
}

// Refresh fetches the authoritative snapshot and replaces the local view with
// it. On failure the existing, possibly stale view is retained: stale data on
// screen beats a blank screen.
func (v *View) Refresh(ctx context.Context) error {
	state, err := v.fetcher.FetchState(ctx, v.queueID)
	if err != nil {
		log.Warn().Err(err).Str("queue_id", v.queueID.String()).Msg("refresh failed, keeping stale view")
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.adoptLocked(state)
	return nil
}

// Restore re-establishes a correct baseline for a device that reconnects
// while still holding a ticket: the snapshot fetch must succeed before
// incremental events can be trusted, so subscribe runs only after it.
func (v *View) Restore(ctx context.Context, subscribe func() error) error {
	if err := v.Refresh(ctx); err != nil {
		return fmt.Errorf("restore baseline: %w", err)
	}
	if err := subscribe(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}
	return nil
}

// ApplyEvent merges an inbound broadcast event. list_changed payloads carry
// the full WAITING list and replace the local list wholesale, which sidesteps
// the missing ordering guarantee across event types. serving_changed replaces
// the serving token and triggers a defensive full refresh, compensating for
// events that were lost or reordered.
func (v *View) ApplyEvent(ctx context.Context, event events.QueueEvent) {
	switch event.Type {
	case events.EventTypeListChanged:
		var payload events.ListChangedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			log.Error().Err(err).Msg("bad list_changed payload")
			return
		}
		v.mu.Lock()
		v.waiting = payload.Waiting
		if v.optimisticPending {
			// Rollback should land on the newest authoritative list, not on
			// whatever was on screen when the guess was made.
			v.prevWaiting = payload.Waiting
		}
		v.mu.Unlock()

	case events.EventTypeServingChanged:
		var payload events.ServingChangedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			log.Error().Err(err).Msg("bad serving_changed payload")
			return
		}
		v.mu.Lock()
		v.servingToken = payload.Serving.Token
		v.mu.Unlock()

		if err := v.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("post-event refresh failed")
		}
	}
}

// BeginCallNext applies the optimistic local transition for an operator
// pressing "call next": head of the list becomes serving immediately, before
// the server confirms. The previous state is kept for rollback, and a timer
// forces a refresh if no confirmation ever arrives.
func (v *View) BeginCallNext() {
	v.mu.Lock()
	defer v.mu.Unlock()

	// A second tap while the first guess is unresolved must not snapshot the
	// already-optimistic state: rollback has to land on authoritative data.
	if v.optimisticPending {
		return
	}

	v.prevWaiting = v.waiting
	v.prevServing = v.servingToken
	v.optimisticPending = true

	if len(v.waiting) > 0 {
		v.servingToken = v.waiting[0].Token
		v.waiting = v.waiting[1:]
	}

	v.stopRollbackTimerLocked()
	v.rollbackTimer = v.clock.AfterFunc(v.timeout, v.rollbackOnTimeout)
}

// ResolveCallNext adopts the server's answer to a BeginCallNext. The
// authoritative result replaces the optimistic guess unconditionally: an
// error (QueueEmpty included) rolls the view back, and a different
// participant than guessed forces a refresh.
func (v *View) ResolveCallNext(ctx context.Context, served *models.Participant, callErr error) {
	v.mu.Lock()

	if !v.optimisticPending {
		v.mu.Unlock()
		return
	}
	v.optimisticPending = false
	v.stopRollbackTimerLocked()

	if callErr != nil {
		v.waiting = v.prevWaiting
		v.servingToken = v.prevServing
		v.mu.Unlock()
		return
	}

	guessed := v.servingToken
	v.servingToken = served.Token
	v.mu.Unlock()

	if served.Token != guessed {
		// A racing operator claimed our guess first.
		if err := v.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("refresh after contested call next failed")
		}
	}
}

// rollbackOnTimeout fires when an optimistic action never got a server
// response. The guess is discarded by re-fetching authoritative state.
func (v *View) rollbackOnTimeout() {
	v.mu.Lock()
	if !v.optimisticPending {
		v.mu.Unlock()
		return
	}
	v.optimisticPending = false
	v.waiting = v.prevWaiting
	v.servingToken = v.prevServing
	v.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("refresh after optimistic timeout failed")
	}
}

// PeopleAhead counts still-waiting participants with a smaller token than
// this device's own. When the token is absent from the list the list's length
// is reported, meaning already served or not yet reflected.
func (v *View) PeopleAhead() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.peopleAheadLocked()
}

// EstimatedWait applies the wait policy to the current position.
func (v *View) EstimatedWait() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.estimator(v.peopleAheadLocked())
}

// Waiting returns a copy of the local WAITING list.
func (v *View) Waiting() []models.Participant {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Participant, len(v.waiting))
	copy(out, v.waiting)
	return out
}

// ServingToken returns the last known serving token, 0 when none.
func (v *View) ServingToken() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.servingToken
}

// OptimisticPending reports whether a local guess is awaiting confirmation.
func (v *View) OptimisticPending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.optimisticPending
}

func (v *View) adoptLocked(state *queue.State) {
	v.waiting = state.Waiting
	if state.Serving != nil {
		v.servingToken = state.Serving.Token
	} else {
		v.servingToken = 0
	}
	v.optimisticPending = false
	v.stopRollbackTimerLocked()
}

func (v *View) peopleAheadLocked() int {
	if v.myToken == 0 {
		return 0
	}
	for i, p := range v.waiting {
		if p.Token == v.myToken {
			return i
		}
	}
	return len(v.waiting)
}

func (v *View) stopRollbackTimerLocked() {
	if v.rollbackTimer != nil {
		v.rollbackTimer.Stop()
		v.rollbackTimer = nil
	}
}
