package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/internal/service"
	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
	"github.com/earlyexpress/order-fulfillment/pkg/health"
)

// In-memory repositories and saga stubs backing a real OrderService, so the
// handler tests exercise the full request path below the transport.

type memOrderRepo struct {
	orders map[string]*domain.Order
}

func (r *memOrderRepo) Create(_ context.Context, o *domain.Order) error {
	r.orders[o.ID] = o
	return nil
}

func (r *memOrderRepo) GetByID(_ context.Context, id string) (*domain.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	return o, nil
}

func (r *memOrderRepo) Update(_ context.Context, o *domain.Order) error {
	r.orders[o.ID] = o
	return nil
}

type memSagaRepo struct {
	orders *memOrderRepo
	sagas  map[string]*domain.OrderSaga
}

func (r *memSagaRepo) Create(_ context.Context, s *domain.OrderSaga) error {
	r.sagas[s.OrderID] = s
	return nil
}

func (r *memSagaRepo) CreateOrderAndSaga(_ context.Context, o *domain.Order, s *domain.OrderSaga) error {
	r.orders.orders[o.ID] = o
	r.sagas[s.OrderID] = s
	return nil
}

func (r *memSagaRepo) GetByID(_ context.Context, id string) (*domain.OrderSaga, error) {
	for _, s := range r.sagas {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, apperrors.NotFound("saga", id)
}

func (r *memSagaRepo) GetByOrderID(_ context.Context, orderID string) (*domain.OrderSaga, error) {
	s, ok := r.sagas[orderID]
	if !ok {
		return nil, apperrors.NotFound("saga for order", orderID)
	}
	return s, nil
}

func (r *memSagaRepo) Update(_ context.Context, s *domain.OrderSaga) error {
	r.sagas[s.OrderID] = s
	return nil
}

func (r *memSagaRepo) UpdateOrderAndSaga(_ context.Context, _ *domain.Order, s *domain.OrderSaga) error {
	r.sagas[s.OrderID] = s
	return nil
}

func (r *memSagaRepo) ListByStatusOlderThan(context.Context, string, time.Time, int) ([]domain.OrderSaga, error) {
	return nil, nil
}

func (r *memSagaRepo) CountTerminalOlderThan(context.Context, time.Time) (int, error) {
	return 0, nil
}

// stubRunner simulates the synchronous saga phase.
type stubRunner struct {
	err error
}

func (s *stubRunner) RunInitial(_ context.Context, o *domain.Order, sg *domain.OrderSaga) error {
	if s.err != nil {
		return s.err
	}
	_ = o.TransitionTo(domain.OrderStatusReserved)
	_ = o.TransitionTo(domain.OrderStatusPaid)
	sg.CurrentStep = domain.StepRouteCalculation
	return nil
}

type stubCompensator struct{}

func (stubCompensator) Compensate(_ context.Context, o *domain.Order, sg *domain.OrderSaga, reason string) error {
	sg.FinishCompensation(true)
	return o.Cancel(reason)
}

type noopPublisher struct{}

func (noopPublisher) OrderCreated(context.Context, *domain.Order) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestServer(runner *stubRunner) (*httptest.Server, *memOrderRepo, *memSagaRepo) {
	orders := &memOrderRepo{orders: make(map[string]*domain.Order)}
	sagas := &memSagaRepo{orders: orders, sagas: make(map[string]*domain.OrderSaga)}
	svc := service.NewOrderService(
		orders,
		sagas,
		domain.NewOrderNumberGenerator(),
		runner,
		stubCompensator{},
		noopPublisher{},
		testLogger(),
	)
	router := NewRouter(svc, health.NewHandler(), testLogger())
	return httptest.NewServer(router), orders, sagas
}

func createOrderBody() map[string]any {
	return map[string]any{
		"supplier_company_id": "c2f8a9b0-5c1d-4e6f-8a7b-9c0d1e2f3a4b",
		"receiver_company_id": "d3e9b0c1-6d2e-5f70-9b8c-0d1e2f3a4b5c",
		"product_id":          "e4f0c1d2-7e3f-6071-0c9d-1e2f3a4b5c6d",
		"product_name":        "Pallet jack",
		"quantity":            3,
		"unit_price":          120000,
		"receiver_name":       "Kim Dispatch",
		"receiver_phone":      "+821012345678",
		"address": map[string]any{
			"line":        "12 Harbor Rd",
			"city":        "Busan",
			"postal_code": "48058",
			"country":     "KR",
		},
		"pg_provider": "toss",
		"payment_id":  "pay-1",
		"payment_key": "pk-1",
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateOrderReturnsCreated(t *testing.T) {
	srv, _, _ := newTestServer(&stubRunner{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/orders", createOrderBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Regexp(t, `^ORD-\d{8}-\d{6}$`, data["order_number"])
	assert.Equal(t, domain.OrderStatusPaid, data["status"])
	assert.EqualValues(t, 360000, data["total_amount"])
	// The payment key never leaves the service.
	_, leaked := data["payment_key"]
	assert.False(t, leaked)
}

func TestCreateOrderValidation(t *testing.T) {
	srv, _, _ := newTestServer(&stubRunner{})
	defer srv.Close()

	body := createOrderBody()
	body["quantity"] = 0
	body["receiver_phone"] = "not-a-phone"

	resp := postJSON(t, srv.URL+"/api/v1/orders", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := decodeBody(t, resp)
	errObj, ok := out["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", errObj["code"])
	fields, ok := errObj["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "quantity")
	assert.Contains(t, fields, "receiver_phone")
}

func TestCreateOrderSurfacesStepRejection(t *testing.T) {
	srv, _, _ := newTestServer(&stubRunner{err: apperrors.InsufficientStock("inventory-service: only 1 unit left")})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/orders", createOrderBody())
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	out := decodeBody(t, resp)
	errObj, ok := out["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "INSUFFICIENT_STOCK", errObj["code"])
}

func TestGetOrderNotFound(t *testing.T) {
	srv, _, _ := newTestServer(&stubRunner{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/orders/does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetSagaReturnsStepHistory(t *testing.T) {
	srv, orders, _ := newTestServer(&stubRunner{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/orders", createOrderBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	var orderID string
	for id := range orders.orders {
		orderID = id
	}

	resp, err := http.Get(srv.URL + "/api/v1/orders/" + orderID + "/saga")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	data, ok := out["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, domain.SagaStatusInProgress, data["status"])
	assert.Equal(t, domain.StepRouteCalculation, data["current_step"])
}

func TestCancelOrderReturnsCancelled(t *testing.T) {
	srv, orders, _ := newTestServer(&stubRunner{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/orders", createOrderBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	var orderID string
	for id := range orders.orders {
		orderID = id
	}

	resp = postJSON(t, srv.URL+"/api/v1/orders/"+orderID+"/cancel", map[string]any{"reason": "ordered by mistake"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	data, ok := out["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusCancelled, data["status"])
	assert.Equal(t, "ordered by mistake", data["cancel_reason"])
}

func TestCancelOrderRejectedAfterLastMile(t *testing.T) {
	srv, orders, _ := newTestServer(&stubRunner{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/orders", createOrderBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	var order *domain.Order
	for _, o := range orders.orders {
		order = o
	}
	order.Status = domain.OrderStatusLastMileCreated

	resp = postJSON(t, srv.URL+"/api/v1/orders/"+order.ID+"/cancel", map[string]any{})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	out := decodeBody(t, resp)
	errObj, ok := out["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ORDER_CANNOT_BE_CANCELLED", errObj["code"])
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(&stubRunner{})
	defer srv.Close()

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		resp.Body.Close()
	}
}
