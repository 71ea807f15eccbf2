package gqlws

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/panyam/graphqlkit/gql"
	"github.com/panyam/graphqlkit/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleSource struct {
	closes atomic.Int32
}

func (s *idleSource) Next(ctx context.Context) (*gql.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *idleSource) Close() error {
	s.closes.Add(1)
	return nil
}

// fakeSubscription returns a subscription whose producer exits as soon as it
// is cancelled.
func fakeSubscription(id ID) (*Subscription, *idleSource, context.Context) {
	src := &idleSource{}
	ctx, cancel := context.WithCancel(context.Background())
	sub := newSubscription(id, stream.New(ctx, src, stream.Options{}), cancel)
	go func() {
		<-ctx.Done()
		close(sub.done)
	}()
	return sub, src, ctx
}

func TestRegistry_AddGet(t *testing.T) {
	r := NewRegistry()
	sub, _, _ := fakeSubscription(StringID("a"))
	r.Add(sub)

	got, ok := r.Get(StringID("a"))
	require.True(t, ok)
	assert.Same(t, sub, got)
	assert.True(t, r.Contains(sub))
	assert.Equal(t, 1, r.Len())

	_, ok = r.Get(IntID(1))
	assert.False(t, ok)
	r.StopAll()
}

func TestRegistry_AddReplacesAfterStopping(t *testing.T) {
	r := NewRegistry()
	var removed []*Subscription
	r.OnRemove = func(s *Subscription) { removed = append(removed, s) }

	first, firstSrc, firstCtx := fakeSubscription(StringID("1"))
	second, secondSrc, _ := fakeSubscription(StringID("1"))
	r.Add(first)
	r.Add(second)

	assert.Error(t, firstCtx.Err(), "first subscription is cancelled")
	assert.EqualValues(t, 1, firstSrc.closes.Load())
	assert.EqualValues(t, 0, secondSrc.closes.Load())
	assert.False(t, r.Contains(first))
	assert.True(t, r.Contains(second))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []*Subscription{first}, removed)
	r.StopAll()
}

func TestRegistry_StopReleasesOnce(t *testing.T) {
	r := NewRegistry()
	sub, src, ctx := fakeSubscription(IntID(7))
	r.Add(sub)

	assert.True(t, r.Stop(IntID(7)))
	assert.Error(t, ctx.Err())
	assert.EqualValues(t, 1, src.closes.Load())
	assert.Equal(t, 0, r.Len())

	assert.False(t, r.Stop(IntID(7)), "second stop is a no-op")
	assert.False(t, r.Stop(StringID("unknown")))
	assert.EqualValues(t, 1, src.closes.Load())
}

func TestRegistry_RemoveByHandle(t *testing.T) {
	r := NewRegistry()
	sub, src, ctx := fakeSubscription(StringID("x"))
	r.Add(sub)

	assert.Equal(t, StringID("x"), r.RemoveByHandle(sub))
	assert.NoError(t, ctx.Err(), "removal does not stop the subscription")
	assert.EqualValues(t, 0, src.closes.Load())
	assert.False(t, r.Contains(sub))

	assert.PanicsWithValue(t, ErrUnknownSubscription, func() { r.RemoveByHandle(sub) })
	sub.stop()
}

func TestRegistry_StopAll(t *testing.T) {
	r := NewRegistry()
	var srcs []*idleSource
	for _, id := range []ID{StringID("a"), StringID("b"), IntID(1)} {
		sub, src, _ := fakeSubscription(id)
		r.Add(sub)
		srcs = append(srcs, src)
	}
	assert.Equal(t, 3, r.StopAll())
	assert.Equal(t, 0, r.Len())
	for _, src := range srcs {
		assert.EqualValues(t, 1, src.closes.Load())
	}
	assert.Equal(t, 0, r.StopAll())
}
