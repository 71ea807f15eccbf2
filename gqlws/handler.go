package gqlws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/panyam/graphqlkit/gql"
	gohttp "github.com/panyam/graphqlkit/http"
	"github.com/panyam/graphqlkit/metrics"
	"github.com/panyam/graphqlkit/stream"
)

var errNoExecutor = errors.New("gqlws: handler has no executor")

// Handler accepts graphql-ws connections and runs their operations with
// Executor.
//
// Usage:
//
//	h := &gqlws.Handler{Executor: exec, Context: shutdownCtx}
//	router.HandleFunc("/subscriptions", h.Serve())
type Handler struct {
	Executor gql.Executor

	// Config defaults to DefaultConfig().
	Config *Config

	// Context is the shutdown token. Cancelling it ends every session
	// served by this handler. Defaults to context.Background().
	Context context.Context

	// Gate, if set, counts open sessions so shutdown can wait for them.
	Gate *stream.Gate

	Metrics *metrics.Collector

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Serve returns the upgrade handler.
func (h *Handler) Serve() http.HandlerFunc {
	return gohttp.WSServe[ClientMessage, *Conn](h, h.Config.wsConfig())
}

// Validate implements http.WSHandler. The sub-protocol has already been
// negotiated by the time it is called.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) (*Conn, bool) {
	if h.Executor == nil {
		gohttp.SendErrorResponse(w, errNoExecutor)
		return nil, false
	}
	parent := h.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(gql.WithHTTPRequest(parent, r))

	c := &Conn{
		BaseConn: gohttp.BaseConn[ClientMessage, Message]{
			Codec:   Codec{},
			NameStr: "graphql-ws",
			Counter: h.Metrics,
		},
		handler:  h,
		executor: h.Executor,
		metrics:  h.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		registry: NewRegistry(),
		events:   make(chan func() error),
		closing:  make(chan struct{}),
		state:    Connecting,
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c.Log = logger.With("conn", c.Name(), "conn_id", c.ConnId())
	c.registry.OnRemove = func(sub *Subscription) {
		if !sub.query {
			h.Metrics.SubscriptionEnded()
		}
	}
	return c, true
}
