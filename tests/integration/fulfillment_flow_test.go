package integration

import (
	"testing"
	"time"
)

// TestCreateOrderRunsSyncPhase verifies that creating an order reserves stock
// and verifies payment before the response returns. The response carries the
// order after the synchronous phase, so its status is already paid.
func TestCreateOrderRunsSyncPhase(t *testing.T) {
	skipIfNotRunning(t, fulfillmentPort)

	status, data := httpPost(t, baseURL(fulfillmentPort)+"/api/v1/orders", createOrderBody())
	requireStatus(t, status, 201)

	orderID := extractString(t, data, "data.id")
	orderNumber := extractString(t, data, "data.order_number")
	if orderNumber == "" {
		t.Fatal("expected a generated order_number")
	}

	got := extractString(t, data, "data.status")
	if got != "paid" {
		t.Fatalf("expected order status paid after the synchronous phase, got %s", got)
	}

	// The payment key must never be echoed back.
	if leaked := extractField(data, "data.payment_key"); leaked != nil {
		t.Fatalf("payment_key leaked in response: %v", leaked)
	}

	t.Logf("created order id=%s number=%s", orderID, orderNumber)
}

// TestOrderReachesConfirmed drives an order through the full saga. The
// delivery steps run off the payment-verified event, so the test polls until
// the order confirms.
func TestOrderReachesConfirmed(t *testing.T) {
	skipIfNotRunning(t, fulfillmentPort)

	status, data := httpPost(t, baseURL(fulfillmentPort)+"/api/v1/orders", createOrderBody())
	requireStatus(t, status, 201)
	orderID := extractString(t, data, "data.id")

	last := waitForOrderStatus(t, orderID, 30*time.Second, "confirmed", "failed")
	if last != "confirmed" {
		t.Fatalf("expected order to confirm, last observed status %q", last)
	}

	sagaStatus, sagaData := httpGet(t, baseURL(fulfillmentPort)+"/api/v1/orders/"+orderID+"/saga")
	requireStatus(t, sagaStatus, 200)
	if got := extractString(t, sagaData, "data.status"); got != "completed" {
		t.Fatalf("expected saga status completed, got %s", got)
	}
}

// TestGetSagaExposesProgress verifies the saga endpoint returns the step
// history for a fresh order.
func TestGetSagaExposesProgress(t *testing.T) {
	skipIfNotRunning(t, fulfillmentPort)

	status, data := httpPost(t, baseURL(fulfillmentPort)+"/api/v1/orders", createOrderBody())
	requireStatus(t, status, 201)
	orderID := extractString(t, data, "data.id")

	sagaStatus, sagaData := httpGet(t, baseURL(fulfillmentPort)+"/api/v1/orders/"+orderID+"/saga")
	requireStatus(t, sagaStatus, 200)

	if extractField(sagaData, "data.status") == nil {
		t.Fatal("expected data.status in saga response")
	}
	if extractField(sagaData, "data.current_step") == nil {
		t.Fatal("expected data.current_step in saga response")
	}
}

// TestCancelOrder cancels an order and verifies the compensation leaves it
// cancelled. Cancellation races the asynchronous delivery steps; once the
// last-mile delivery exists the service rejects the cancel with 409, which is
// also a valid outcome here.
func TestCancelOrder(t *testing.T) {
	skipIfNotRunning(t, fulfillmentPort)

	status, data := httpPost(t, baseURL(fulfillmentPort)+"/api/v1/orders", createOrderBody())
	requireStatus(t, status, 201)
	orderID := extractString(t, data, "data.id")

	cancelStatus, cancelData := httpPost(t,
		baseURL(fulfillmentPort)+"/api/v1/orders/"+orderID+"/cancel",
		map[string]interface{}{"reason": "integration test cancel"},
	)

	switch cancelStatus {
	case 200:
		if got := extractString(t, cancelData, "data.status"); got != "cancelled" {
			t.Fatalf("expected order status cancelled, got %s", got)
		}
	case 409:
		t.Logf("cancel lost the race with the delivery steps: %v", extractField(cancelData, "error.code"))
	default:
		t.Fatalf("expected 200 or 409 from cancel, got %d", cancelStatus)
	}
}

// TestCreateOrderValidation verifies that missing fields are rejected with a
// field-level validation error.
func TestCreateOrderValidation(t *testing.T) {
	skipIfNotRunning(t, fulfillmentPort)

	body := createOrderBody()
	delete(body, "product_id")
	body["quantity"] = 0

	status, data := httpPost(t, baseURL(fulfillmentPort)+"/api/v1/orders", body)
	requireStatus(t, status, 400)

	if got := extractString(t, data, "error.code"); got != "VALIDATION_ERROR" {
		t.Fatalf("expected error code VALIDATION_ERROR, got %s", got)
	}
	if extractField(data, "error.fields.quantity") == nil {
		t.Fatal("expected a field error for quantity")
	}
}

// TestGetUnknownOrder verifies unknown IDs return 404 with the standard error
// envelope.
func TestGetUnknownOrder(t *testing.T) {
	skipIfNotRunning(t, fulfillmentPort)

	status, data := httpGet(t, baseURL(fulfillmentPort)+"/api/v1/orders/"+uniqueUUID())
	requireStatus(t, status, 404)

	if got := extractString(t, data, "error.code"); got != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", got)
	}
}
