package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_ZeroValueIsOpen(t *testing.T) {
	var g Gate
	assert.Equal(t, 0, g.Count())
	require.NoError(t, g.Wait(context.Background()))
}

func TestGate_WaitBlocksUntilDrained(t *testing.T) {
	const n = 5
	g := NewGate()
	for i := 1; i <= n; i++ {
		assert.Equal(t, i, g.Increment())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)

	waited := make(chan error, 1)
	go func() { waited <- g.Wait(context.Background()) }()

	for i := n - 1; i >= 1; i-- {
		assert.Equal(t, i, g.Decrement())
		select {
		case <-waited:
			t.Fatalf("Wait returned with count %d", i)
		default:
		}
	}
	assert.Equal(t, 0, g.Decrement())

	select {
	case err := <-waited:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the count reached zero")
	}
	require.NoError(t, g.Wait(context.Background()))
}

func TestGate_ReopensAfterDrain(t *testing.T) {
	g := NewGate()
	g.Increment()
	g.Decrement()
	g.Increment()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, g.Wait(ctx))
	g.Decrement()
	assert.NoError(t, g.Wait(context.Background()))
}

func TestGate_UnderflowPanics(t *testing.T) {
	g := NewGate()
	assert.PanicsWithValue(t, ErrGateUnderflow, func() { g.Decrement() })
	assert.Equal(t, 0, g.Count())
}

func TestGate_Concurrent(t *testing.T) {
	g := NewGate()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Increment()
			time.Sleep(time.Millisecond)
			g.Decrement()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, g.Count())
	assert.NoError(t, g.Wait(context.Background()))
}
