package gqlws

import (
	"time"

	gohttp "github.com/panyam/graphqlkit/http"
)

// Config controls graphql-ws sessions.
type Config struct {
	// WS configures the upgrade and the connection loop. The required
	// sub-protocol is always forced to Subprotocol. PingPeriod sets how
	// often "ka" is sent; PongPeriod is normally zero since graphql-ws
	// clients are not required to send anything while idle.
	WS *gohttp.WSConnConfig

	// CloseTimeout bounds how long teardown waits for the close frame to be
	// written.
	CloseTimeout time.Duration
}

// DefaultConfig returns a Config sending "ka" every 10 seconds and never
// timing out idle clients.
func DefaultConfig() *Config {
	ws := gohttp.DefaultWSConnConfig()
	ws.RequiredSubprotocol = Subprotocol
	ws.BiDirStreamConfig = &gohttp.BiDirStreamConfig{
		PingPeriod: 10 * time.Second,
	}
	return &Config{
		WS:           ws,
		CloseTimeout: time.Second,
	}
}

// wsConfig returns a copy of c.WS with the graphql-ws requirements applied.
func (c *Config) wsConfig() *gohttp.WSConnConfig {
	ws := DefaultConfig().WS
	if c != nil && c.WS != nil {
		copied := *c.WS
		ws = &copied
		if ws.BiDirStreamConfig == nil {
			ws.BiDirStreamConfig = DefaultConfig().WS.BiDirStreamConfig
		}
	}
	ws.RequiredSubprotocol = Subprotocol
	return ws
}

func (c *Config) closeTimeout() time.Duration {
	if c == nil || c.CloseTimeout <= 0 {
		return time.Second
	}
	return c.CloseTimeout
}
