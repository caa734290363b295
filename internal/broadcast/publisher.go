// Package broadcast publishes queue events onto the shared pub/sub backbone.
// Delivery is at-most-once and best-effort: core NATS subjects, no stream, no
// replay for late or reconnecting subscribers. A subscriber that missed
// events re-fetches authoritative state instead.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/queuepro/queuepro/internal/queue/events"
	"github.com/rs/zerolog/log"
)

// Publisher is what the state machine needs to announce a mutation.
type Publisher interface {
	Publish(ctx context.Context, event events.QueueEvent) error
}

// NATSPublisher publishes events to per-queue subjects on core NATS.
type NATSPublisher struct {
	nc *nats.Conn
}

// Connect dials NATS with reconnect handling and returns a publisher on the
// connection.
func Connect(natsURL string) (*NATSPublisher, error) {
	nc, err := Dial(natsURL, -1, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return NewNATSPublisher(nc), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Publish sends the event to its queue's room subject. It never blocks on
// subscribers; a failure here must not roll back the mutation that triggered
// it, so callers log and move on.
func (p *NATSPublisher) Publish(ctx context.Context, event events.QueueEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	queueID, err := uuid.Parse(event.QueueID)
	if err != nil {
		return fmt.Errorf("parse queue id: %w", err)
	}

	if err := p.nc.Publish(events.Subject(queueID), data); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (p *NATSPublisher) Close() {
	p.nc.Close()
}

// Dial connects to NATS with the standard reconnect and error handlers.
func Dial(natsURL string, maxReconnects int, reconnectWait time.Duration) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NoopPublisher discards events. Used in tests and when running without a
// broadcast backbone.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event events.QueueEvent) error {
	return nil
}
