package gqlws

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/panyam/graphqlkit/stream"
)

// ErrUnknownSubscription is the panic value raised when a handle that is not
// registered is removed. It always indicates a bookkeeping bug.
var ErrUnknownSubscription = errors.New("gqlws: subscription handle is not registered")

// Subscription is the handle of one running subscription, or of a query
// started over the socket. Its producer goroutine closes done once it has
// stopped touching the stream.
type Subscription struct {
	ID        ID
	StartedAt time.Time

	// query marks a single-result operation, which has no stream.
	query  bool
	stream *stream.Cancellable
	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscription(id ID, s *stream.Cancellable, cancel context.CancelFunc) *Subscription {
	return &Subscription{
		ID:        id,
		StartedAt: time.Now(),
		stream:    s,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Done is closed when the subscription's producer has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// stop cancels the producer, waits for it to exit and releases the stream.
func (s *Subscription) stop() {
	s.cancel()
	<-s.done
	s.release()
}

func (s *Subscription) release() {
	if s.stream != nil {
		s.stream.Close()
	}
}

// Registry maps subscription ids to running subscriptions and back. It is
// not safe for concurrent use: a session's registry is only touched by its
// connection loop.
type Registry struct {
	// OnRemove, if set, is called for every subscription leaving the
	// registry, whichever way it leaves.
	OnRemove func(*Subscription)

	byID     map[ID]*Subscription
	byHandle map[*Subscription]ID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     map[ID]*Subscription{},
		byHandle: map[*Subscription]ID{},
	}
}

// Add registers sub under its id, first stopping any subscription already
// running under that id.
func (r *Registry) Add(sub *Subscription) {
	r.Stop(sub.ID)
	r.byID[sub.ID] = sub
	r.byHandle[sub] = sub.ID
}

// Get returns the subscription running under id.
func (r *Registry) Get(id ID) (*Subscription, bool) {
	sub, ok := r.byID[id]
	return sub, ok
}

// Contains reports whether sub is registered.
func (r *Registry) Contains(sub *Subscription) bool {
	_, ok := r.byHandle[sub]
	return ok
}

// Len returns the number of registered subscriptions.
func (r *Registry) Len() int {
	return len(r.byID)
}

// RemoveByHandle unregisters sub without stopping it and returns its id. It
// panics with ErrUnknownSubscription if sub is not registered.
func (r *Registry) RemoveByHandle(sub *Subscription) ID {
	id, ok := r.byHandle[sub]
	if !ok {
		slog.Error("removing unregistered subscription", "sub_id", sub.ID.String())
		panic(ErrUnknownSubscription)
	}
	r.remove(id, sub)
	return id
}

// Stop stops the subscription running under id, waits for it to exit and
// releases its stream. It reports whether there was one; an unknown id is
// not an error.
func (r *Registry) Stop(id ID) bool {
	sub, ok := r.byID[id]
	if !ok {
		return false
	}
	sub.stop()
	r.remove(id, sub)
	return true
}

// StopAll stops every registered subscription and returns how many there
// were.
func (r *Registry) StopAll() int {
	n := 0
	for id := range r.byID {
		if r.Stop(id) {
			n++
		}
	}
	return n
}

func (r *Registry) remove(id ID, sub *Subscription) {
	delete(r.byID, id)
	delete(r.byHandle, sub)
	if r.OnRemove != nil {
		r.OnRemove(sub)
	}
}
