package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/queuepro/queuepro/internal/broadcast"
	"github.com/queuepro/queuepro/internal/queue/events"
	"github.com/rs/zerolog/log"
)

// ConsumerConfig holds configuration for the NATS event consumer.
type ConsumerConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConsumerConfig returns default consumer configuration.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// EventConsumer subscribes to every queue's event subject on core NATS and
// forwards each event to its room. Core subscriptions keep no history, so a
// device that was disconnected gets nothing replayed; it must re-fetch state
// on reconnect.
type EventConsumer struct {
	connectionManager *ConnectionManager
	nc                *nats.Conn
	sub               *nats.Subscription
	config            ConsumerConfig
}

// NewEventConsumer connects to NATS and prepares a consumer feeding the
// connection manager.
func NewEventConsumer(cm *ConnectionManager, config ConsumerConfig) (*EventConsumer, error) {
	nc, err := broadcast.Dial(config.URL, config.MaxReconnects, config.ReconnectWait)
	if err != nil {
		return nil, err
	}

	return &EventConsumer{
		connectionManager: cm,
		nc:                nc,
		config:            config,
	}, nil
}

// Start subscribes to the event subjects. Fan-out happens on the connection
// manager's broadcast loop, not on the NATS callback goroutine.
func (ec *EventConsumer) Start() error {
	sub, err := ec.nc.Subscribe(events.SubjectWildcard, func(msg *nats.Msg) {
		var event events.QueueEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal queue event")
			return
		}

		consumedCounter.WithLabelValues(string(event.Type)).Inc()

		log.Debug().
			Str("subject", msg.Subject).
			Str("queue_id", event.QueueID).
			Str("event_type", string(event.Type)).
			Msg("consuming queue event")

		ec.connectionManager.Broadcast(event)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", events.SubjectWildcard, err)
	}

	ec.sub = sub
	log.Info().Str("subject", events.SubjectWildcard).Msg("event consumer subscribed")
	return nil
}

// Stop unsubscribes and closes the connection.
func (ec *EventConsumer) Stop() error {
	if ec.sub != nil {
		if err := ec.sub.Unsubscribe(); err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
	}
	ec.nc.Close()
	return nil
}
