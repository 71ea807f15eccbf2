package gqlws

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/panyam/graphqlkit/gql"
	gohttp "github.com/panyam/graphqlkit/http"
	"github.com/panyam/graphqlkit/metrics"
	"github.com/panyam/graphqlkit/stream"
)

// State is the lifecycle state of a session.
type State int

const (
	Connecting State = iota
	Open
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var errTerminated = errors.New("gqlws: client terminated the connection")

// Conn is one graphql-ws session. Every method except the subscription
// producers runs on the connection loop, which owns the registry and state.
type Conn struct {
	gohttp.BaseConn[ClientMessage, Message]

	handler  *Handler
	executor gql.Executor
	metrics  *metrics.Collector

	// ctx is cancelled when the server shuts down or the session ends.
	ctx    context.Context
	cancel context.CancelFunc

	registry   *Registry
	events     chan func() error
	closing    chan struct{}
	state      State
	started    bool
	peerClosed bool
}

// State returns the session state. It is only meaningful on the
// connection loop.
func (c *Conn) State() State {
	return c.state
}

// LoopEvents implements http.WSLoopConn. Producers use it to hand finished
// subscriptions back to the loop.
func (c *Conn) LoopEvents() <-chan func() error {
	return c.events
}

// Done implements http.WSLoopConn.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) OnStart(conn *websocket.Conn) error {
	if err := c.BaseConn.OnStart(conn); err != nil {
		return err
	}
	c.started = true
	c.state = Open
	if c.handler.Gate != nil {
		c.handler.Gate.Increment()
	}
	c.metrics.SessionOpened()
	return nil
}

// HandleMessage dispatches one decoded client message. Messages arriving
// after the session started draining are dropped.
func (c *Conn) HandleMessage(msg ClientMessage) error {
	if c.state != Open {
		return nil
	}
	switch m := msg.(type) {
	case ConnectionInit:
		c.SendOutput(ackMessage(m.ID))
	case ConnectionTerminate:
		c.state = Draining
		return errTerminated
	case Start:
		c.onStart(m)
	case InvalidStart:
		c.Logger().Info("rejected start", "sub_id", idString(m.ID), "error", m.Err)
		c.SendOutput(errorMessage(m.ID, m.Err))
	case Stop:
		if c.registry.Stop(m.ID) {
			c.Logger().Debug("subscription stopped", "sub_id", m.ID.String())
		}
	case KeepAlive:
	}
	return nil
}

// OnError decides how the loop reacts to read, decode and handling errors.
// Protocol errors are reported with "connection_error" and end the session,
// as does anything else; the peer going away is the quiet path.
func (c *Conn) OnError(err error) error {
	c.state = Draining
	if errors.Is(err, errTerminated) {
		c.Logger().Debug("client terminated session")
		return err
	}
	if gohttp.IsClosedError(err) {
		c.peerClosed = true
		return err
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		c.Logger().Warn("protocol error", "error", err)
		c.SendError(perr)
		return err
	}
	c.Logger().Error("session failed", "error", err)
	return err
}

// OnClose stops every running subscription, sends a close frame unless the
// peer already closed, and releases the session.
func (c *Conn) OnClose() {
	c.state = Draining
	close(c.closing)
	if n := c.registry.StopAll(); n > 0 {
		c.Logger().Debug("stopped subscriptions on close", "count", n)
	}
	if c.started && !c.peerClosed {
		c.CloseWith(websocket.CloseNormalClosure, "", c.handler.Config.closeTimeout())
	}
	c.BaseConn.OnClose()
	c.cancel()
	c.state = Closed
	if c.started {
		if c.handler.Gate != nil {
			c.handler.Gate.Decrement()
		}
		c.metrics.SessionClosed()
	}
}

// OnTimeout keeps sessions alive; graphql-ws clients may stay silent.
func (c *Conn) OnTimeout() bool {
	return false
}

func (c *Conn) onStart(m Start) {
	logger := c.Logger().With("sub_id", m.ID.String())
	defer func() {
		if r := recover(); r != nil {
			logger.Error("start panicked", "panic", r)
			c.SendOutput(errorMessage(&m.ID, fmt.Errorf("%v", r)))
		}
	}()

	if c.registry.Stop(m.ID) {
		logger.Debug("restarting subscription")
	}

	doc, err := gql.ParseQuery(m.Request.Query)
	if err != nil {
		c.SendOutput(errorMessage(&m.ID, err))
		return
	}

	if !gql.HasSubscriptionOperation(doc) {
		ctx, cancel := context.WithCancel(c.ctx)
		op := newSubscription(m.ID, nil, cancel)
		op.query = true
		c.registry.Add(op)
		go c.execute(ctx, op, m.Request)
		return
	}

	subCtx, cancel := context.WithCancel(c.ctx)
	src, err := c.executor.Subscribe(subCtx, m.Request)
	if err != nil {
		cancel()
		c.SendOutput(errorMessage(&m.ID, err))
		return
	}
	sub := newSubscription(m.ID, stream.New(subCtx, src, stream.Options{}), cancel)
	c.registry.Add(sub)
	c.metrics.SubscriptionStarted(metrics.TransportWS)
	logger.Debug("subscription started")
	go c.run(subCtx, sub)
}

// run forwards one subscription's results until the stream ends or ctx is
// cancelled. Results are queued in order, so delivery per id is FIFO.
func (c *Conn) run(ctx context.Context, sub *Subscription) {
	defer c.finish(sub)
	defer func() {
		if r := recover(); r != nil {
			c.fail(ctx, sub, fmt.Errorf("subscription panicked: %v", r))
		}
	}()

	for {
		ev, err := sub.stream.Next()
		if errors.Is(err, io.EOF) {
			if ctx.Err() == nil {
				c.SendOutputContext(ctx, completeMessage(sub.ID))
			}
			return
		}
		if err != nil {
			c.fail(ctx, sub, err)
			return
		}
		if ev.Idle() {
			continue
		}
		if !c.SendOutputContext(ctx, dataMessage(sub.ID, ev.Result)) {
			return
		}
	}
}

// execute runs a query or mutation sent with "start". Its single result is
// not followed by "complete". A stop for its id cancels ctx.
func (c *Conn) execute(ctx context.Context, op *Subscription, req gql.Request) {
	defer c.finish(op)
	defer func() {
		if r := recover(); r != nil {
			c.Logger().Error("query panicked", "sub_id", op.ID.String(), "panic", r)
			c.SendOutputContext(ctx, errorMessage(&op.ID, fmt.Errorf("%v", r)))
		}
	}()

	res, err := c.executor.Execute(ctx, req)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.SendOutputContext(ctx, errorMessage(&op.ID, err))
		return
	}
	c.SendOutputContext(ctx, dataMessage(op.ID, res))
}

// fail ends a subscription whose source broke: the client gets the error as
// a final result followed by "complete".
func (c *Conn) fail(ctx context.Context, sub *Subscription, err error) {
	c.Logger().Warn("subscription failed", "sub_id", sub.ID.String(), "error", err)
	if c.SendOutputContext(ctx, dataMessage(sub.ID, gql.ErrorResult(err))) {
		c.SendOutputContext(ctx, completeMessage(sub.ID))
	}
}

// finish releases the stream, if any, and asks the loop to reap the handle. The loop
// may already have stopped the subscription itself, or be shutting down.
func (c *Conn) finish(sub *Subscription) {
	sub.release()
	close(sub.done)
	reap := func() error {
		if c.registry.Contains(sub) {
			c.registry.RemoveByHandle(sub)
			c.Logger().Debug("operation completed", "sub_id", sub.ID.String(), "query", sub.query)
		}
		return nil
	}
	select {
	case c.events <- reap:
	case <-c.closing:
	}
}

func idString(id *ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
