package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/notekit/kernelq/pkg/channels/gochannel"
	"github.com/notekit/kernelq/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	return NewWatermillEventBus(pub, sub)
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	defer cancel()

	received := make(chan *events.ExecutionEnqueued, 1)

	err := bus.Handle(events.ExecutionEnqueuedEvent, func(_ context.Context, event interface{}) error {
		received <- event.(*events.ExecutionEnqueued)

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	sent := events.ExecutionEnqueued{
		BaseEvent: events.NewBase(events.ExecutionEnqueuedEvent, "doc-1"),
		RequestID: "exec-12345678",
		OriginID:  "cell-1",
		CodeSize:  42,
	}

	require.NoError(t, bus.Publish(ctx, "doc-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "doc-1", got.DocumentID)
		assert.Equal(t, "exec-12345678", got.RequestID)
		assert.Equal(t, 42, got.CodeSize)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_UnhandledEventTypeIsAcked(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	defer cancel()

	received := make(chan *events.QueueFailed, 1)

	err := bus.Handle(events.QueueFailedEvent, func(_ context.Context, event interface{}) error {
		received <- event.(*events.QueueFailed)

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for this one; it must not block the stream.
	require.NoError(t, bus.Publish(ctx, "doc-1", events.ExecutionStarted{
		BaseEvent: events.NewBase(events.ExecutionStartedEvent, "doc-1"),
		RequestID: "exec-1",
		SessionID: "sess-1",
	}))

	require.NoError(t, bus.Publish(ctx, "doc-1", events.QueueFailed{
		BaseEvent: events.NewBase(events.QueueFailedEvent, "doc-1"),
		Error:     "kernel process exited",
	}))

	select {
	case got := <-received:
		assert.Equal(t, "kernel process exited", got.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}
