package domain

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
)

func TestNewOrderDerivesTotal(t *testing.T) {
	o := NewOrder("ORD-20260831-000001", "sup-1", "recv-1", "prod-1", "Pallet of widgets", 4, 2500)

	assert.Equal(t, int64(10000), o.TotalAmount)
	assert.Equal(t, o.DerivedTotal(), o.TotalAmount)
	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Equal(t, 1, o.Version)
	assert.NotEmpty(t, o.ID)
}

func TestOrderTransitions(t *testing.T) {
	o := NewOrder("ORD-20260831-000002", "sup-1", "recv-1", "prod-1", "Widgets", 1, 100)

	forward := []string{
		OrderStatusReserved,
		OrderStatusPaid,
		OrderStatusRouted,
		OrderStatusHubDeliveryCreated,
		OrderStatusLastMileCreated,
		OrderStatusConfirmed,
	}
	for _, next := range forward {
		require.NoError(t, o.TransitionTo(next), "transition to %s", next)
	}

	assert.True(t, o.IsTerminal())
	assert.Error(t, o.TransitionTo(OrderStatusPending))
	assert.Error(t, o.TransitionTo(OrderStatusCancelled))
}

func TestOrderSingleHubSkipsHubDelivery(t *testing.T) {
	o := NewOrder("ORD-20260831-000003", "sup-1", "recv-1", "prod-1", "Widgets", 1, 100)
	require.NoError(t, o.TransitionTo(OrderStatusReserved))
	require.NoError(t, o.TransitionTo(OrderStatusPaid))
	require.NoError(t, o.TransitionTo(OrderStatusRouted))

	// Product hub equals destination hub: routed jumps straight to last mile.
	require.NoError(t, o.TransitionTo(OrderStatusLastMileCreated))
}

func TestOrderCancellable(t *testing.T) {
	o := NewOrder("ORD-20260831-000004", "sup-1", "recv-1", "prod-1", "Widgets", 1, 100)

	cancellable := map[string]bool{
		OrderStatusPending:            true,
		OrderStatusReserved:           true,
		OrderStatusPaid:               true,
		OrderStatusRouted:             true,
		OrderStatusHubDeliveryCreated: true,
		OrderStatusLastMileCreated:    false,
		OrderStatusConfirmed:          false,
		OrderStatusCancelled:          false,
		OrderStatusFailed:             false,
	}
	for status, want := range cancellable {
		o.Status = status
		assert.Equal(t, want, o.Cancellable(), "status %s", status)
	}
}

func TestOrderCancelAfterLastMileRejected(t *testing.T) {
	o := NewOrder("ORD-20260831-000005", "sup-1", "recv-1", "prod-1", "Widgets", 1, 100)
	o.Status = OrderStatusLastMileCreated

	err := o.Cancel("customer request")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, apperrors.ErrCannotCancel))

	// Refusal leaves the order untouched.
	assert.Equal(t, OrderStatusLastMileCreated, o.Status)
	assert.Empty(t, o.CancelReason)
	assert.Nil(t, o.CancelledAt)
}

func TestOrderCancelRecordsReason(t *testing.T) {
	o := NewOrder("ORD-20260831-000006", "sup-1", "recv-1", "prod-1", "Widgets", 1, 100)
	o.Status = OrderStatusPaid

	require.NoError(t, o.Cancel("duplicate order"))
	assert.Equal(t, OrderStatusCancelled, o.Status)
	assert.Equal(t, "duplicate order", o.CancelReason)
	require.NotNil(t, o.CancelledAt)
}
