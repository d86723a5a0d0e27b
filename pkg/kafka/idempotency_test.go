package kafka

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(time.Minute)

	exists, err := store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Add(ctx, "evt-1"))

	exists, err = store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryIdempotencyStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(time.Nanosecond)

	require.NoError(t, store.Add(ctx, "evt-1"))
	time.Sleep(time.Millisecond)

	exists, err := store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIdempotentHandlerSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(time.Minute)

	calls := 0
	handler := IdempotentHandler(store, func(_ context.Context, _ *Event) error {
		calls++
		return nil
	}, "fulfillment.order.payment_verified", "test-group", discardLogger())

	event, err := NewEvent("order.payment_verified", "order-1", "order", "test", map[string]string{"k": "v"})
	require.NoError(t, err)

	require.NoError(t, handler(ctx, event))
	require.NoError(t, handler(ctx, event))
	assert.Equal(t, 1, calls)
}

func TestIdempotentHandlerDoesNotRecordFailures(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(time.Minute)

	calls := 0
	handler := IdempotentHandler(store, func(_ context.Context, _ *Event) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}, "fulfillment.order.payment_verified", "test-group", discardLogger())

	event, err := NewEvent("order.payment_verified", "order-1", "order", "test", nil)
	require.NoError(t, err)

	require.Error(t, handler(ctx, event))
	// A failed delivery must remain retryable.
	require.NoError(t, handler(ctx, event))
	assert.Equal(t, 2, calls)
}

func TestIdempotentHandlerPassesThroughWithoutEventID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(time.Minute)

	calls := 0
	handler := IdempotentHandler(store, func(_ context.Context, _ *Event) error {
		calls++
		return nil
	}, "topic", "group", discardLogger())

	event := &Event{EventType: "order.created"}
	require.NoError(t, handler(ctx, event))
	require.NoError(t, handler(ctx, event))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, store.Len())
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "fulfillment.order.created", Topic("order", "created"))
	assert.Equal(t, "fulfillment.dlq.fulfillment.order.created", DLQTopic("fulfillment.order.created"))
}
