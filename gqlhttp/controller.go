// Package gqlhttp serves a GraphQL executor over HTTP: queries and mutations
// on /graphql, subscriptions as server-sent events or JSON lines on
// /subscriptions, graphql-ws on the same path for WebSocket upgrades, and a
// GraphiQL page.
package gqlhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/panyam/graphqlkit/gql"
	"github.com/panyam/graphqlkit/gqlws"
	gohttp "github.com/panyam/graphqlkit/http"
	"github.com/panyam/graphqlkit/metrics"
	"github.com/panyam/graphqlkit/stream"
)

// Controller owns the routes, the shutdown token shared by every streaming
// response and WebSocket session, and the gate that Shutdown waits on.
type Controller struct {
	executor gql.Executor
	config   *Config
	logger   *slog.Logger
	metrics  *metrics.Collector
	gate     *stream.Gate

	ctx    context.Context
	cancel context.CancelFunc
	ws     *gqlws.Handler
}

// NewController returns a controller for executor. A nil config uses
// DefaultConfig().
func NewController(executor gql.Executor, config *Config) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var collector *metrics.Collector
	if config.Registerer != nil {
		collector = metrics.New(config.Registerer)
	}
	ctx, cancel := context.WithCancel(context.Background())
	gate := stream.NewGate()

	return &Controller{
		executor: executor,
		config:   config,
		logger:   logger,
		metrics:  collector,
		gate:     gate,
		ctx:      ctx,
		cancel:   cancel,
		ws: &gqlws.Handler{
			Executor: executor,
			Config:   config.WS,
			Context:  ctx,
			Gate:     gate,
			Metrics:  collector,
			Logger:   logger,
		},
	}
}

// Routes registers the endpoints on r under the configured path prefix.
func (c *Controller) Routes(r *mux.Router) {
	if c.config.PathPrefix != "" {
		r = r.PathPrefix(c.config.PathPrefix).Subrouter()
	}
	r.HandleFunc("/graphql", c.serveGraphQL).Methods(http.MethodGet, http.MethodPost)
	// WebSocket upgrades must be matched before the server-sent events route.
	r.HandleFunc("/subscriptions", c.ws.Serve()).
		Methods(http.MethodGet).
		HeadersRegexp("Upgrade", "(?i)^websocket$")
	r.HandleFunc("/subscriptions", c.serveSubscriptionGet).Methods(http.MethodGet)
	r.HandleFunc("/subscriptions", c.serveSubscriptionPost).Methods(http.MethodPost)
	r.HandleFunc("/graphiql", c.serveGraphiQL).Methods(http.MethodGet)
}

// Handler returns a router serving only this controller's routes.
func (c *Controller) Handler() http.Handler {
	r := mux.NewRouter()
	c.Routes(r)
	return r
}

// Shutdown cancels every streaming response and WebSocket session, then
// waits until they have all finished or ctx is done.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cancel()
	return c.gate.Wait(ctx)
}

// Active returns the number of streaming responses and sessions in flight.
func (c *Controller) Active() int {
	return c.gate.Count()
}

func (c *Controller) path(p string) string {
	return strings.TrimSuffix(c.config.PathPrefix, "/") + p
}

func (c *Controller) limitBody(w http.ResponseWriter, r *http.Request) {
	if c.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, c.config.MaxBodyBytes)
	}
}

func (c *Controller) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	c.limitBody(w, r)
	params, err := decodeParams(r)
	if err != nil {
		c.logger.Warn("cannot decode graphql request", "error", err)
		gohttp.SendErrorResponse(w, err)
		return
	}
	c.handle(w, r, params, true)
}

func (c *Controller) serveSubscriptionGet(w http.ResponseWriter, r *http.Request) {
	c.handle(w, r, gohttp.QueryStringToJson(r.URL.Query()), false)
}

func (c *Controller) serveSubscriptionPost(w http.ResponseWriter, r *http.Request) {
	c.limitBody(w, r)
	params, err := decodeJSONBody(r.Body)
	if err != nil {
		c.logger.Warn("cannot decode subscription request", "error", err)
		gohttp.SendErrorResponse(w, err)
		return
	}
	c.handle(w, r, params, false)
}

// handle routes a decoded request: subscriptions are redirected or streamed,
// everything else is executed once and returned as JSON.
func (c *Controller) handle(w http.ResponseWriter, r *http.Request, params map[string]any, mayRedirect bool) {
	req, err := gql.RequestFromParams(params)
	if err != nil {
		c.logger.Warn("invalid graphql request", "error", err)
		gohttp.SendErrorResponse(w, err)
		return
	}

	doc, err := gql.ParseQuery(req.Query)
	if err != nil {
		gohttp.SendJsonResponse(w, gql.ErrorResult(err), nil)
		return
	}

	if !gql.HasSubscriptionOperation(doc) {
		res, err := c.executor.Execute(gql.WithHTTPRequest(r.Context(), r), req)
		if err != nil {
			if gohttp.ErrorToHttpCode(err) != http.StatusInternalServerError {
				gohttp.SendJsonResponse(w, nil, err)
				return
			}
			c.logger.Error("execution failed", "error", err)
			gohttp.SendErrorResponse(w, err)
			return
		}
		gohttp.SendJsonResponse(w, res, nil)
		return
	}

	if mayRedirect && allowsGet(r) {
		c.redirect(w, r, req)
		return
	}
	c.stream(w, r, req)
}

// allowsGet reports whether the client asked for subscriptions to be handed
// back as a GET location. A missing Allow header counts as GET.
func allowsGet(r *http.Request) bool {
	allow := r.Header.Get("Allow")
	return allow == "" || strings.EqualFold(strings.TrimSpace(allow), http.MethodGet)
}

// redirect answers 201 with the /subscriptions URL carrying the request.
func (c *Controller) redirect(w http.ResponseWriter, r *http.Request, req gql.Request) {
	location := url.URL{
		Scheme:   gohttp.RequestScheme(r),
		Host:     gohttp.RequestHost(r),
		Path:     c.path("/subscriptions"),
		RawQuery: gohttp.JsonToQueryString(req.Params()),
	}
	w.Header().Set("Access-Control-Expose-Headers", "location")
	w.Header().Set("Location", location.String())
	w.WriteHeader(http.StatusCreated)
}

// stream subscribes and writes the results until the client goes away, the
// stream ends or the controller shuts down.
func (c *Controller) stream(w http.ResponseWriter, r *http.Request, req gql.Request) {
	ctx, cancel := context.WithCancel(gql.WithHTTPRequest(c.ctx, r))
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	src, err := c.executor.Subscribe(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Error("subscribe failed", "error", err)
		gohttp.SendErrorResponse(w, err)
		return
	}
	c.metrics.SubscriptionStarted(metrics.TransportSSE)

	responder := &Responder{
		Format:       NegotiateFormat(r.Header.Get("Accept")),
		PingInterval: c.config.PingInterval,
		Drain:        c.config.DrainOnShutdown,
		Gate:         c.gate,
		Metrics:      c.metrics,
		Logger:       c.logger,
	}
	responder.Serve(ctx, w, r, src)
}
