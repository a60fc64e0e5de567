package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberReceivesCurrentValue(t *testing.T) {
	b := New[int]()
	b.Publish(7)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)
	select {
	case v := <-ch:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("expected current value")
	}
}

func TestSlowSubscriberSeesLatestValue(t *testing.T) {
	b := New[int]()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)
	for i := 1; i <= 10; i++ {
		b.Publish(i)
	}

	assert.Equal(t, 10, <-ch)
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	b := New[string]()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	require.Equal(t, 1, b.Len())

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, b.Len())
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New[int]()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)
	b.Close()
	b.Publish(1)

	_, ok := <-ch
	assert.False(t, ok)

	late := b.Subscribe(ctx)
	_, ok = <-late
	assert.False(t, ok)
}

func TestCloseReleasesSubscribersWithoutDeadline(t *testing.T) {
	b := New[int]()

	first := b.Subscribe(context.Background())
	second := b.Subscribe(context.Background())
	b.Close()

	_, ok := <-first
	assert.False(t, ok)
	_, ok = <-second
	assert.False(t, ok)

	released := make(chan struct{})
	go func() {
		b.waiters.Wait()
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("subscriber goroutines still running after Close")
	}
}
