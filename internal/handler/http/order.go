// Package http exposes the order fulfillment REST API.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/internal/service"
	"github.com/earlyexpress/order-fulfillment/pkg/httputil"
	"github.com/earlyexpress/order-fulfillment/pkg/validator"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	service *service.OrderService
	logger  *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(svc *service.OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateOrderRequest is the JSON request body for creating an order.
type CreateOrderRequest struct {
	SupplierCompanyID   string         `json:"supplier_company_id" validate:"required"`
	ReceiverCompanyID   string         `json:"receiver_company_id" validate:"required"`
	ProductID           string         `json:"product_id" validate:"required"`
	ProductName         string         `json:"product_name" validate:"required"`
	Quantity            int            `json:"quantity" validate:"required,gt=0"`
	UnitPrice           int64          `json:"unit_price" validate:"required,gt=0"`
	ReceiverName        string         `json:"receiver_name" validate:"required"`
	ReceiverPhone       string         `json:"receiver_phone" validate:"required,e164"`
	Address             AddressRequest `json:"address" validate:"required"`
	RequestedDeliveryAt *time.Time     `json:"requested_delivery_at,omitempty"`
	PGProvider          string         `json:"pg_provider" validate:"required"`
	PaymentID           string         `json:"payment_id" validate:"required"`
	PaymentKey          string         `json:"payment_key" validate:"required"`
	CreatedBy           string         `json:"created_by,omitempty"`
}

// AddressRequest is the delivery destination in the create request.
type AddressRequest struct {
	Line       string `json:"line" validate:"required"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
}

// CancelOrderRequest is the JSON request body for cancelling an order.
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// --- Handlers ---

// CreateOrder handles POST /api/v1/orders
// @Summary Create an order
// @Description Creates an order and runs stock reservation and payment verification synchronously. The delivery steps continue asynchronously; poll the saga endpoint for progress.
// @Tags orders
// @Accept json
// @Produce json
// @Param request body CreateOrderRequest true "Order data"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/v1/orders [post]
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	input := service.CreateOrderInput{
		SupplierCompanyID: req.SupplierCompanyID,
		ReceiverCompanyID: req.ReceiverCompanyID,
		ProductID:         req.ProductID,
		ProductName:       req.ProductName,
		Quantity:          req.Quantity,
		UnitPrice:         req.UnitPrice,
		ReceiverName:      req.ReceiverName,
		ReceiverPhone:     req.ReceiverPhone,
		Address: domain.Address{
			Line:       req.Address.Line,
			City:       req.Address.City,
			PostalCode: req.Address.PostalCode,
			Country:    req.Address.Country,
		},
		RequestedDelivery: req.RequestedDeliveryAt,
		PGProvider:        req.PGProvider,
		PaymentID:         req.PaymentID,
		PaymentKey:        req.PaymentKey,
		CreatedBy:         req.CreatedBy,
	}

	order, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// GetOrder handles GET /api/v1/orders/{id}
// @Summary Get an order
// @Tags orders
// @Produce json
// @Param id path string true "Order UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/v1/orders/{id} [get]
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "order id is required"},
		})
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// GetSaga handles GET /api/v1/orders/{id}/saga
// @Summary Get order saga progress
// @Description Returns the saga for an order: status, current step, and full step history including retries, skips, and compensation.
// @Tags orders
// @Produce json
// @Param id path string true "Order UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/v1/orders/{id}/saga [get]
func (h *OrderHandler) GetSaga(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "order id is required"},
		})
		return
	}

	saga, err := h.service.GetSaga(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: saga})
}

// CancelOrder handles POST /api/v1/orders/{id}/cancel
// @Summary Cancel an order
// @Description Cancels an order that has not reached last-mile delivery, unwinding the completed saga steps.
// @Tags orders
// @Accept json
// @Produce json
// @Param id path string true "Order UUID"
// @Param request body CancelOrderRequest false "Cancellation reason"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/v1/orders/{id}/cancel [post]
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "order id is required"},
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	// An empty body is a valid cancel with the default reason.
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by customer"
	}

	order, err := h.service.CancelOrder(r.Context(), id, req.Reason)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}
