// Package service implements the order use cases behind the HTTP API:
// creating an order and driving its saga's synchronous phase, reading order
// and saga state, and cancelling an order through compensation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/internal/repository"
	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
)

// SagaRunner drives the synchronous saga phase, satisfied by the saga
// orchestrator.
type SagaRunner interface {
	RunInitial(ctx context.Context, order *domain.Order, s *domain.OrderSaga) error
}

// Compensator unwinds a compensating saga, satisfied by the saga
// coordinator.
type Compensator interface {
	Compensate(ctx context.Context, order *domain.Order, s *domain.OrderSaga, reason string) error
}

// CreatedPublisher announces new orders, satisfied by the event producer.
type CreatedPublisher interface {
	OrderCreated(ctx context.Context, o *domain.Order) error
}

// CreateOrderInput carries the validated fields for a new order.
type CreateOrderInput struct {
	SupplierCompanyID string
	ReceiverCompanyID string
	ProductID         string
	ProductName       string
	Quantity          int
	UnitPrice         int64
	ReceiverName      string
	ReceiverPhone     string
	Address           domain.Address
	RequestedDelivery *time.Time
	PGProvider        string
	PaymentID         string
	PaymentKey        string
	CreatedBy         string
}

// OrderService owns the order lifecycle.
type OrderService struct {
	orders  repository.OrderRepository
	sagas   repository.SagaRepository
	numbers *domain.OrderNumberGenerator
	runner  SagaRunner
	comp    Compensator
	pub     CreatedPublisher
	logger  *slog.Logger
}

// NewOrderService wires the order service.
func NewOrderService(
	orders repository.OrderRepository,
	sagas repository.SagaRepository,
	numbers *domain.OrderNumberGenerator,
	runner SagaRunner,
	comp Compensator,
	pub CreatedPublisher,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:  orders,
		sagas:   sagas,
		numbers: numbers,
		runner:  runner,
		comp:    comp,
		pub:     pub,
		logger:  logger,
	}
}

// CreateOrder persists a new order with its saga and runs the synchronous
// phase, stock reservation and payment verification. The returned order
// reflects the state after that phase; when a step was rejected the order is
// returned alongside the step error so callers can render both.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	order := domain.NewOrder(
		s.numbers.Next(),
		in.SupplierCompanyID,
		in.ReceiverCompanyID,
		in.ProductID,
		in.ProductName,
		in.Quantity,
		in.UnitPrice,
	)
	order.ReceiverName = in.ReceiverName
	order.ReceiverPhone = in.ReceiverPhone
	order.Address = in.Address
	order.RequestedDelivery = in.RequestedDelivery
	order.PGProvider = in.PGProvider
	order.PaymentID = in.PaymentID
	order.PaymentKey = in.PaymentKey
	order.CreatedBy = in.CreatedBy

	// The order and its saga land in one transaction: an accepted order
	// without a saga would be invisible to the orchestrator and the
	// recovery scanner alike.
	sg := domain.NewOrderSaga(order.ID)
	if err := s.sagas.CreateOrderAndSaga(ctx, order, sg); err != nil {
		return nil, fmt.Errorf("create order with saga: %w", err)
	}

	s.logger.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"saga_id", sg.ID,
	)

	if err := s.pub.OrderCreated(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order created event",
			"order_id", order.ID,
			"error", err.Error(),
		)
	}

	if err := s.runner.RunInitial(ctx, order, sg); err != nil {
		return order, err
	}
	return order, nil
}

// GetOrder returns one order.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// GetSaga returns the saga progress for one order.
func (s *OrderService) GetSaga(ctx context.Context, orderID string) (*domain.OrderSaga, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.sagas.GetByOrderID(ctx, orderID)
}

// CancelOrder cancels an order that has not yet reached last-mile delivery,
// unwinding every completed saga step. A saga that is mid-step loses the
// version race and comes back as a conflict for the caller to retry.
func (s *OrderService) CancelOrder(ctx context.Context, id, reason string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Cancellable() {
		return nil, apperrors.CannotCancel(order.ID, order.Status)
	}

	sg, err := s.sagas.GetByOrderID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sg.Status != domain.SagaStatusInProgress {
		return nil, apperrors.Conflict(fmt.Sprintf("saga for order %s is %s, cannot cancel", id, sg.Status))
	}

	// Claim the saga before unwinding so a concurrent step advance cannot
	// interleave; losing the version race means the saga moved first.
	sg.StartCompensation(reason)
	if err := s.sagas.Update(ctx, sg); err != nil {
		if errors.Is(err, apperrors.ErrVersionConflict) {
			return nil, apperrors.Conflict(fmt.Sprintf("order %s is being processed, retry the cancellation", id))
		}
		return nil, fmt.Errorf("claim saga for cancellation: %w", err)
	}

	if err := s.comp.Compensate(ctx, order, sg, reason); err != nil {
		return nil, err
	}
	return order, nil
}
