package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrGateUnderflow is the panic value raised when a Gate is decremented below
// zero. It always indicates a bookkeeping bug in the caller.
var ErrGateUnderflow = errors.New("stream: gate count cannot go below zero")

// Gate counts in-flight streaming responses so that a shutdown routine can
// wait for them to finish. The zero value is ready to use.
type Gate struct {
	mu    sync.Mutex
	count int
	zero  chan struct{}
}

// NewGate returns an open gate with a count of zero.
func NewGate() *Gate {
	return &Gate{}
}

// Increment adds one to the count and returns the new value.
func (g *Gate) Increment() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count == 0 {
		g.zero = make(chan struct{})
	}
	g.count++
	return g.count
}

// Decrement subtracts one from the count and returns the new value. It panics
// with ErrGateUnderflow if the count is already zero.
func (g *Gate) Decrement() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count == 0 {
		slog.Error("gate decremented below zero")
		panic(ErrGateUnderflow)
	}
	g.count--
	if g.count == 0 {
		close(g.zero)
	}
	return g.count
}

// Count returns the current count.
func (g *Gate) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Wait blocks until the count is zero or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if g.count == 0 {
		g.mu.Unlock()
		return nil
	}
	zero := g.zero
	g.mu.Unlock()

	select {
	case <-zero:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
