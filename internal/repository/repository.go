package repository

import (
	"context"
	"time"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
)

// OrderRepository defines persistence operations for orders.
type OrderRepository interface {
	// Create inserts a new order.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by its unique identifier. Soft-deleted
	// orders are not returned.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// Update writes the order conditioned on its stored version and bumps
	// the version on success. A version mismatch returns
	// apperrors.ErrVersionConflict.
	Update(ctx context.Context, order *domain.Order) error
}

// SagaRepository defines persistence operations for order sagas.
type SagaRepository interface {
	// Create inserts a new saga.
	Create(ctx context.Context, saga *domain.OrderSaga) error

	// CreateOrderAndSaga inserts the order and its saga in one transaction.
	// An order is never accepted without its saga, so a failure on either
	// insert rolls back both.
	CreateOrderAndSaga(ctx context.Context, order *domain.Order, saga *domain.OrderSaga) error

	// GetByID retrieves a saga by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.OrderSaga, error)

	// GetByOrderID retrieves the saga belonging to an order.
	GetByOrderID(ctx context.Context, orderID string) (*domain.OrderSaga, error)

	// Update writes the saga conditioned on its stored version and bumps
	// the version on success.
	Update(ctx context.Context, saga *domain.OrderSaga) error

	// UpdateOrderAndSaga writes both aggregates in one transaction, each
	// conditioned on its stored version. Either both versions match and
	// both rows advance, or nothing is written and
	// apperrors.ErrVersionConflict is returned.
	UpdateOrderAndSaga(ctx context.Context, order *domain.Order, saga *domain.OrderSaga) error

	// ListByStatusOlderThan returns sagas in the given status whose last
	// update is older than the cutoff. Used by the recovery scanner.
	ListByStatusOlderThan(ctx context.Context, status string, cutoff time.Time, limit int) ([]domain.OrderSaga, error)

	// CountTerminalOlderThan counts terminal sagas completed before the
	// cutoff, the archivable backlog.
	CountTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
