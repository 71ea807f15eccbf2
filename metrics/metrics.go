// Package metrics exposes Prometheus collectors for the WebSocket and
// streaming HTTP transports. A nil *Collector is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "graphqlkit"

// Transport labels for SubscriptionStarted.
const (
	TransportWS  = "ws"
	TransportSSE = "sse"
)

// Direction labels for message counters.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Collector groups the gauges and counters shared by every connection of a
// process.
type Collector struct {
	sessions      prometheus.Gauge
	subscriptions prometheus.Gauge
	streams       prometheus.Gauge
	messages      *prometheus.CounterVec
	started       *prometheus.CounterVec
}

// New creates a Collector and registers it with reg. A nil reg leaves the
// collectors unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_sessions",
			Help:      "Number of open graphql-ws sessions.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_subscriptions",
			Help:      "Number of running subscriptions across all graphql-ws sessions.",
		}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streaming_responses",
			Help:      "Number of in-flight streaming HTTP responses.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "graphql-ws messages by direction.",
		}, []string{"direction"}),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_started_total",
			Help:      "Subscriptions started by transport.",
		}, []string{"transport"}),
	}
	if reg != nil {
		reg.MustRegister(c.sessions, c.subscriptions, c.streams, c.messages, c.started)
	}
	return c
}

func (c *Collector) SessionOpened() {
	if c != nil {
		c.sessions.Inc()
	}
}

func (c *Collector) SessionClosed() {
	if c != nil {
		c.sessions.Dec()
	}
}

// SubscriptionStarted counts a new subscription. WebSocket subscriptions are
// also tracked by the running gauge until SubscriptionEnded.
func (c *Collector) SubscriptionStarted(transport string) {
	if c == nil {
		return
	}
	c.started.WithLabelValues(transport).Inc()
	if transport == TransportWS {
		c.subscriptions.Inc()
	}
}

func (c *Collector) SubscriptionEnded() {
	if c != nil {
		c.subscriptions.Dec()
	}
}

func (c *Collector) StreamOpened() {
	if c != nil {
		c.streams.Inc()
	}
}

func (c *Collector) StreamClosed() {
	if c != nil {
		c.streams.Dec()
	}
}

func (c *Collector) MessageReceived() {
	if c != nil {
		c.messages.WithLabelValues(DirectionIn).Inc()
	}
}

func (c *Collector) MessageSent() {
	if c != nil {
		c.messages.WithLabelValues(DirectionOut).Inc()
	}
}
