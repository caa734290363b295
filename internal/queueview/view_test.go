package queueview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/queuepro/queuepro/internal/models"
	"github.com/queuepro/queuepro/internal/queue"
	"github.com/queuepro/queuepro/internal/queue/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves a canned snapshot and counts fetches.
type fakeFetcher struct {
	mu    sync.Mutex
	state *queue.State
	err   error
	calls int
}

func (f *fakeFetcher) FetchState(ctx context.Context, queueID uuid.UUID) (*queue.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) set(state *queue.State, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.err = err
}

func waiting(tokens ...int) []models.Participant {
	out := make([]models.Participant, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, models.Participant{
			ID:      uuid.New(),
			Token:   tok,
			Status:  models.ParticipantStatusWaiting,
			Name:    "P",
			Phone:   "",
			QueueID: uuid.Nil,
		})
	}
	return out
}

func snapshot(servingToken int, waitingTokens ...int) *queue.State {
	state := &queue.State{
		Queue:   &models.Queue{ID: uuid.New(), Status: models.QueueStatusOpen},
		Waiting: waiting(waitingTokens...),
	}
	if servingToken > 0 {
		state.Serving = &models.Participant{Token: servingToken, Status: models.ParticipantStatusServing}
	}
	return state
}

func listChangedEvent(t *testing.T, tokens ...int) events.QueueEvent {
	t.Helper()
	event, err := events.NewListChanged(uuid.New(), waiting(tokens...), time.Now())
	require.NoError(t, err)
	return event
}

func servingChangedEvent(t *testing.T, token int) events.QueueEvent {
	t.Helper()
	event, err := events.NewServingChanged(uuid.New(), models.Participant{Token: token}, time.Now())
	require.NoError(t, err)
	return event
}

func TestPeopleAheadIsListIndex(t *testing.T) {
	fetcher := &fakeFetcher{state: snapshot(1, 2, 3)}
	v := NewView(uuid.New(), Config{Fetcher: fetcher})
	require.NoError(t, v.Refresh(context.Background()))

	// Token 1 is serving; the list is [2, 3]. Token 3 has exactly one person
	// ahead regardless of the token gap.
	v.SetMyToken(3)
	assert.Equal(t, 1, v.PeopleAhead())

	v.SetMyToken(2)
	assert.Equal(t, 0, v.PeopleAhead())
}

func TestPeopleAheadWhenTokenAbsent(t *testing.T) {
	fetcher := &fakeFetcher{state: snapshot(0, 5, 9)}
	v := NewView(uuid.New(), Config{Fetcher: fetcher})
	require.NoError(t, v.Refresh(context.Background()))

	v.SetMyToken(7)
	assert.Equal(t, 2, v.PeopleAhead(), "absent token reports the full list length")
}

func TestEstimatedWaitUsesPolicy(t *testing.T) {
	fetcher := &fakeFetcher{state: snapshot(0, 1, 2, 3)}
	v := NewView(uuid.New(), Config{
		Fetcher:   fetcher,
		Estimator: FixedServiceTime(10 * time.Minute),
	})
	require.NoError(t, v.Refresh(context.Background()))

	v.SetMyToken(3)
	assert.Equal(t, 20*time.Minute, v.EstimatedWait())
}

func TestListChangedReplacesWholesale(t *testing.T) {
	fetcher := &fakeFetcher{state: snapshot(0, 1, 2, 3)}
	v := NewView(uuid.New(), Config{Fetcher: fetcher})
	require.NoError(t, v.Refresh(context.Background()))

	v.ApplyEvent(context.Background(), listChangedEvent(t, 2, 3))

	got := v.Waiting()
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Token)
	assert.Equal(t, 3, got[1].Token)
}

func TestServingChangedTriggersRefresh(t *testing.T) {
	fetcher := &fakeFetcher{state: snapshot(0, 1, 2)}
	v := NewView(uuid.New(), Config{Fetcher: fetcher})
	require.NoError(t, v.Refresh(context.Background()))
	before := fetcher.callCount()

	fetcher.set(snapshot(1, 2), nil)
	v.ApplyEvent(context.Background(), servingChangedEvent(t, 1))

	assert.Equal(t, before+1, fetcher.callCount(), "serving_changed forces a snapshot fetch")
	assert.Equal(t, 1, v.ServingToken())
	require.Len(t, v.Waiting(), 1)
	assert.Equal(t, 2, v.Waiting()[0].Token)
}

func TestRefreshFailureKeepsStaleView(t *testing.T) {
	fetcher := &fakeFetcher{state: snapshot(0, 1, 2)}
	v := NewView(uuid.New(), Config{Fetcher: fetcher})
	require.NoError(t, v.Refresh(context.Background()))

	fetcher.set(nil, errors.New("network down"))
	err := v.Refresh(context.Background())
	require.Error(t, err)

	assert.Len(t, v.Waiting(), 2, "stale list survives the failed refresh")
}

func TestOptimisticCallNextConfirmed(t *testing.T) {
	fetcher := &fakeFetcher{state: snapshot(0, 1, 2)}
	v := NewView(uuid.New(), Config{Fetcher: fetcher, Clock: clockwork.NewFakeClock()})
	require.NoError(t, v.Refresh(context.Background()))

	v.BeginCallNext()
	assert.True(t, v.OptimisticPending())
	assert.Equal(t, 1, v.ServingToken(), "head serves immediately")
	require.Len(t, v.Waiting(), 1)

	before := fetcher.callCount()
	v.ResolveCallNext(context.Background(), &models.Participant{Token: 1}, nil)
	assert.False(t, v.OptimisticPending())
	assert.Equal(t, 1, v.ServingToken())
	assert.Equal(t, before, fetcher.callCount(), "matching confirmation needs no refresh")
}

func TestOptimisticCallNextRollsBackOnError(t *testing.T) {
	fetcher := &fakeFetcher{state: snapshot(0, 4)}
	v := NewView(uuid.New(), Config{Fetcher: fetcher, Clock: clockwork.NewFakeClock()})
	require.NoError(t, v.Refresh(context.Background()))

	v.BeginCallNext()
	v.ResolveCallNext(context.Background(), nil, queue.ErrQueueEmpty)

	assert.False(t, v.OptimisticPending())
	assert.Equal(t, 0, v.ServingToken())
	require.Len(t, v.Waiting(), 1)
	assert.Equal(t, 4, v.Waiting()[0].Token)
}

func TestContestedCallNextAdoptsAuthoritative(t *testing.T) {
	fetcher := &fakeFetcher{state: snapshot(0, 1, 2)}
	v := NewView(uuid.New(), Config{Fetcher: fetcher, Clock: clockwork.NewFakeClock()})
	require.NoError(t, v.Refresh(context.Background()))

	v.BeginCallNext() // guesses token 1
	before := fetcher.callCount()

	// Another operator got token 1 first; the server served us token 2.
	fetcher.set(snapshot(2), nil)
	v.ResolveCallNext(context.Background(), &models.Participant{Token: 2}, nil)

	assert.Equal(t, 2, v.ServingToken(), "server answer beats the local guess")
	assert.Equal(t, before+1, fetcher.callCount(), "contested claim forces a refresh")
	assert.Empty(t, v.Waiting())
}

func TestDoubleCallNextKeepsOriginalSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{state: snapshot(0, 1, 2, 3)}
	v := NewView(uuid.New(), Config{Fetcher: fetcher, Clock: clockwork.NewFakeClock()})
	require.NoError(t, v.Refresh(context.Background()))

	v.BeginCallNext()
	// Operator double-taps before the first call resolves.
	v.BeginCallNext()

	assert.Equal(t, 1, v.ServingToken(), "second tap must not pop another head")
	require.Len(t, v.Waiting(), 2)

	v.ResolveCallNext(context.Background(), nil, errors.New("timeout"))

	got := v.Waiting()
	require.Len(t, got, 3, "rollback restores the pre-guess list, not an optimistic one")
	assert.Equal(t, 1, got[0].Token)
	assert.Equal(t, 0, v.ServingToken())
}

func TestRollbackLandsOnNewestList(t *testing.T) {
	fetcher := &fakeFetcher{state: snapshot(0, 1, 2)}
	v := NewView(uuid.New(), Config{Fetcher: fetcher, Clock: clockwork.NewFakeClock()})
	require.NoError(t, v.Refresh(context.Background()))

	v.BeginCallNext()
	// An authoritative list arrives while the guess is pending.
	v.ApplyEvent(context.Background(), listChangedEvent(t, 2, 3))
	v.ResolveCallNext(context.Background(), nil, errors.New("timeout"))

	got := v.Waiting()
	require.Len(t, got, 2, "rollback restores the event's list, not the pre-guess one")
	assert.Equal(t, 2, got[0].Token)
	assert.Equal(t, 3, got[1].Token)
}

func TestOptimisticTimeoutForcesRefresh(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fetcher := &fakeFetcher{state: snapshot(0, 1, 2)}
	v := NewView(uuid.New(), Config{
		Fetcher:           fetcher,
		Clock:             clock,
		OptimisticTimeout: 10 * time.Second,
	})
	require.NoError(t, v.Refresh(context.Background()))

	v.BeginCallNext()
	before := fetcher.callCount()

	clock.Advance(11 * time.Second)

	require.Eventually(t, func() bool {
		return !v.OptimisticPending() && fetcher.callCount() > before
	}, time.Second, 5*time.Millisecond, "timed-out guess is discarded via refresh")
}

func TestRestoreSubscribesOnlyAfterBaseline(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("server unreachable")}
	v := NewView(uuid.New(), Config{Fetcher: fetcher})

	subscribed := false
	err := v.Restore(context.Background(), func() error {
		subscribed = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, subscribed, "no subscription without a fresh baseline")

	fetcher.set(snapshot(1, 2, 3), nil)
	require.NoError(t, v.Restore(context.Background(), func() error {
		subscribed = true
		return nil
	}))
	assert.True(t, subscribed)
	assert.Equal(t, 1, v.ServingToken())
}
