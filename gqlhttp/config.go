package gqlhttp

import (
	"log/slog"
	"time"

	"github.com/panyam/graphqlkit/gqlws"
	"github.com/prometheus/client_golang/prometheus"
)

// Config controls a Controller.
type Config struct {
	// PathPrefix is prepended to every route, e.g. "/api".
	PathPrefix string

	// PingInterval is the idle period after which a streaming response
	// sends a ping. Zero disables pings.
	PingInterval time.Duration

	// DrainOnShutdown makes streaming responses deliver the result they are
	// waiting for when Shutdown is called, instead of dropping it.
	DrainOnShutdown bool

	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64

	// WS configures the graphql-ws endpoint. Nil uses gqlws.DefaultConfig().
	WS *gqlws.Config

	// Registerer receives the transport metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with a 10 second ping interval and a 1 MiB
// body limit.
func DefaultConfig() *Config {
	return &Config{
		PingInterval: 10 * time.Second,
		MaxBodyBytes: 1 << 20,
		WS:           gqlws.DefaultConfig(),
	}
}
