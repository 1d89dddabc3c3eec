package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/scanforge/internal/domain/events"
)

const (
	typeA events.EventType = "TypeA"
	typeB events.EventType = "TypeB"
)

type captor struct {
	mu   sync.Mutex
	seen []events.EventEnvelope
}

func (c *captor) handle(_ context.Context, evt events.EventEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, evt)
	return nil
}

func (c *captor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func TestEventBus_DispatchesByType(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctx := context.Background()

	var a, b captor
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{typeA}, a.handle))
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{typeB}, b.handle))

	require.NoError(t, bus.Publish(ctx, events.EventEnvelope{Type: typeA, Key: "k1"}))
	require.NoError(t, bus.Publish(ctx, events.EventEnvelope{Type: typeA, Key: "k2"}))
	require.NoError(t, bus.Publish(ctx, events.EventEnvelope{Type: typeB, Key: "k3"}))

	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, "k3", b.seen[0].Key)
}

func TestEventBus_MultipleHandlersPerType(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctx := context.Background()

	var first, second captor
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{typeA}, first.handle))
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{typeA}, second.handle))

	require.NoError(t, bus.Publish(ctx, events.EventEnvelope{Type: typeA}))
	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
}

func TestEventBus_HandlerErrorStopsDispatch(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctx := context.Background()
	handlerErr := errors.New("handler exploded")

	var after captor
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{typeA},
		func(context.Context, events.EventEnvelope) error { return handlerErr }))
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{typeA}, after.handle))

	err := bus.Publish(ctx, events.EventEnvelope{Type: typeA})
	assert.ErrorIs(t, err, handlerErr)
	assert.Equal(t, 0, after.count())
}

func TestEventBus_SubscribeNilHandler(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	assert.Error(t, bus.Subscribe(context.Background(), []events.EventType{typeA}, nil))
}

func TestEventBus_ContextCancelUnsubscribes(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	subCtx, cancel := context.WithCancel(context.Background())

	var c captor
	require.NoError(t, bus.Subscribe(subCtx, []events.EventType{typeA}, c.handle))
	require.NoError(t, bus.Publish(context.Background(), events.EventEnvelope{Type: typeA}))
	assert.Equal(t, 1, c.count())

	cancel()
	assert.Eventually(t, func() bool {
		before := c.count()
		_ = bus.Publish(context.Background(), events.EventEnvelope{Type: typeA})
		return c.count() == before
	}, 2*time.Second, 10*time.Millisecond, "handler should stop receiving after its context ends")
}

func TestEventBus_StaggeredUnsubscribesLeaveOthersIntact(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()

	var a, b, c captor
	require.NoError(t, bus.Subscribe(ctxA, []events.EventType{typeA}, a.handle))
	require.NoError(t, bus.Subscribe(ctxB, []events.EventType{typeA}, b.handle))
	require.NoError(t, bus.Subscribe(context.Background(), []events.EventType{typeA}, c.handle))

	// Unsubscribe the earliest handler first, then the second: each removal
	// must take out exactly its own handler even though the slice positions
	// shifted after the first one left.
	cancelA()
	assert.Eventually(t, func() bool {
		before := a.count()
		_ = bus.Publish(context.Background(), events.EventEnvelope{Type: typeA})
		return a.count() == before
	}, 2*time.Second, 10*time.Millisecond)

	cancelB()
	assert.Eventually(t, func() bool {
		before := b.count()
		_ = bus.Publish(context.Background(), events.EventEnvelope{Type: typeA})
		return b.count() == before
	}, 2*time.Second, 10*time.Millisecond)

	before := c.count()
	require.NoError(t, bus.Publish(context.Background(), events.EventEnvelope{Type: typeA}))
	assert.Equal(t, before+1, c.count(), "the remaining handler still receives every publish")
}

func TestEventBus_PublishWithCancelledContext(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, bus.Publish(ctx, events.EventEnvelope{Type: typeA}))
}

func TestEventBus_Closed(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	require.NoError(t, bus.Close())

	assert.Error(t, bus.Publish(context.Background(), events.EventEnvelope{Type: typeA}))
	assert.Error(t, bus.Subscribe(context.Background(), []events.EventType{typeA},
		func(context.Context, events.EventEnvelope) error { return nil }))
}
