// Package stream provides the primitives shared by the streaming transports:
// a cancellable, keep-alive aware view over a gql.ResultStream and a gate that
// lets shutdown wait for in-flight streams.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/panyam/graphqlkit/gql"
)

// Options configures a Cancellable.
type Options struct {
	// Timeout is the idle period after which an idle Event is produced. The
	// timer restarts after every event, so an idle event never directly
	// follows a result. Zero disables idle events.
	Timeout time.Duration

	// Drain controls what happens to an in-flight pull when the shutdown
	// signal fires. By default the pull is cancelled and its result is
	// discarded. With Drain set, the pull is awaited and its result is
	// delivered as the final event.
	Drain bool
}

// Event is one element of a Cancellable sequence.
type Event struct {
	// Result is nil for an idle event.
	Result *gql.Result
}

// Idle reports whether the event is a keep-alive marker rather than a result.
func (e Event) Idle() bool {
	return e.Result == nil
}

type pulled struct {
	res *gql.Result
	err error
}

// Cancellable wraps a result stream with cooperative cancellation and optional
// idle events. It is consumed by a single goroutine and cannot be restarted.
type Cancellable struct {
	src      gql.ResultStream
	shutdown context.Context
	opts     Options

	pullCtx    context.Context
	cancelPull context.CancelFunc
	pending    chan pulled
	timer      *time.Timer
	ended      bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New returns a Cancellable reading from src until src is exhausted or
// shutdown is done.
func New(shutdown context.Context, src gql.ResultStream, opts Options) *Cancellable {
	// Pulls must outlive shutdown when draining, so they only inherit values.
	pullCtx, cancelPull := context.WithCancel(context.WithoutCancel(shutdown))
	return &Cancellable{
		src:        src,
		shutdown:   shutdown,
		opts:       opts,
		pullCtx:    pullCtx,
		cancelPull: cancelPull,
	}
}

// Next blocks until the next event. It returns io.EOF once the sequence has
// ended, either because the source is exhausted or because shutdown fired.
// A source failure observed before shutdown is returned as is; one observed
// after shutdown is swallowed.
func (c *Cancellable) Next() (Event, error) {
	if c.ended {
		return Event{}, io.EOF
	}
	if c.shutdown.Err() != nil {
		return c.stop()
	}
	if c.pending == nil {
		c.startPull()
	}
	var tick <-chan time.Time
	if c.opts.Timeout > 0 {
		if c.timer == nil {
			c.timer = time.NewTimer(c.opts.Timeout)
		}
		tick = c.timer.C
	}

	select {
	case <-c.shutdown.Done():
		return c.stop()
	case p := <-c.pending:
		c.pending = nil
		c.restartTimer()
		if p.err != nil {
			c.end()
			if errors.Is(p.err, io.EOF) || c.shutdown.Err() != nil {
				return Event{}, io.EOF
			}
			return Event{}, p.err
		}
		return Event{Result: p.res}, nil
	case <-tick:
		c.restartTimer()
		return Event{}, nil
	}
}

// Close ends the sequence, releases the source and waits for any in-flight
// pull to return. The source is closed exactly once.
func (c *Cancellable) Close() error {
	c.end()
	c.closeOnce.Do(func() {
		c.closeErr = c.src.Close()
		c.wg.Wait()
	})
	return c.closeErr
}

func (c *Cancellable) stop() (Event, error) {
	if c.opts.Drain && c.pending != nil {
		p := <-c.pending
		c.pending = nil
		c.end()
		if p.err == nil && p.res != nil {
			return Event{Result: p.res}, nil
		}
		return Event{}, io.EOF
	}
	c.end()
	return Event{}, io.EOF
}

func (c *Cancellable) startPull() {
	ch := make(chan pulled, 1)
	c.pending = ch
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, err := c.src.Next(c.pullCtx)
		ch <- pulled{res: res, err: err}
	}()
}

func (c *Cancellable) restartTimer() {
	if c.timer != nil {
		c.timer.Reset(c.opts.Timeout)
	}
}

func (c *Cancellable) end() {
	if c.ended {
		return
	}
	c.ended = true
	c.cancelPull()
	if c.timer != nil {
		c.timer.Stop()
	}
}
