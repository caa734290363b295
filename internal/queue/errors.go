package queue

import "errors"

// ErrQueueEmpty is returned by CallNext when no participant is WAITING.
// Expected steady state, not a fault.
var ErrQueueEmpty = errors.New("queue is empty")

// ErrQueueNotFound is returned when the queue id or join code matches nothing.
var ErrQueueNotFound = errors.New("queue not found")

// ErrQueueClosed is returned when joining a queue that no longer accepts participants.
var ErrQueueClosed = errors.New("queue is closed")

// ErrParticipantNotFound is returned when the participant id matches nothing.
var ErrParticipantNotFound = errors.New("participant not found")

// ErrNotServing rejects Complete on a participant that is not currently SERVING.
var ErrNotServing = errors.New("participant is not serving")

// ErrNotWaiting rejects Cancel or MarkMissed on a participant that is not WAITING.
var ErrNotWaiting = errors.New("participant is not waiting")

// ErrStorageUnavailable wraps connection-level store failures so callers can
// tell them apart from empty-queue and precondition errors.
var ErrStorageUnavailable = errors.New("storage unavailable")
