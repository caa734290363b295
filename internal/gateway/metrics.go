package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscribersGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_room_subscribers",
			Help: "Connected WebSocket subscribers per queue room",
		},
		[]string{"queue_id"},
	)

	fanoutCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_events_fanned_out_total",
			Help: "Events delivered to room subscribers, by event type",
		},
		[]string{"event_type"},
	)

	droppedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_events_dropped_total",
			Help: "Events dropped because the broadcast buffer was full",
		},
		[]string{"event_type"},
	)

	consumedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_events_consumed_total",
			Help: "Events received from the pub/sub backbone, by event type",
		},
		[]string{"event_type"},
	)
)
