package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/pkg/database"
	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
)

const orderColumns = `id, order_number, supplier_company_id, receiver_company_id,
	product_id, product_name, quantity, unit_price, total_amount,
	receiver_name, receiver_phone,
	address_line, address_city, address_postal_code, address_country,
	requested_delivery_at, pg_provider, payment_id, payment_key,
	departure_deadline, estimated_delivery_at,
	reservation_id, reservation_items, product_hub_id, destination_hub_id,
	hub_delivery_id, last_mile_delivery_id, assigned_driver_id,
	status, version, deleted, cancel_reason, cancelled_at,
	created_by, created_at, updated_at`

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	db database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(db database.DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderInsertQuery = `
	INSERT INTO orders (` + orderColumns + `)
	VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8, $9,
		$10, $11,
		$12, $13, $14, $15,
		$16, $17, $18, $19,
		$20, $21,
		$22, $23, $24, $25,
		$26, $27, $28,
		$29, $30, $31, $32, $33,
		$34, $35, $36
	)`

// Create inserts a new order.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, orderInsertQuery, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("order", "order_number", order.OrderNumber)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByID retrieves an order by its ID, excluding soft-deleted rows.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND NOT deleted`
	return r.scanOrder(ctx, query, id)
}

// Update writes the order conditioned on its stored version. On success the
// in-memory version is bumped to match the row.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	order.UpdatedAt = time.Now().UTC()

	args, err := orderUpdateArgs(order)
	if err != nil {
		return err
	}
	ct, err := r.db.Exec(ctx, orderUpdateQuery, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.VersionConflict("order", order.ID)
	}
	order.Version++
	return nil
}

const orderUpdateQuery = `
	UPDATE orders
	SET pg_provider = $1, payment_id = $2, payment_key = $3,
		departure_deadline = $4, estimated_delivery_at = $5,
		reservation_id = $6, reservation_items = $7, product_hub_id = $8, destination_hub_id = $9,
		hub_delivery_id = $10, last_mile_delivery_id = $11, assigned_driver_id = $12,
		status = $13, cancel_reason = $14, cancelled_at = $15,
		deleted = $16, updated_at = $17, version = version + 1
	WHERE id = $18 AND version = $19`

func orderUpdateArgs(o *domain.Order) ([]any, error) {
	itemsJSON, err := reservationItemsJSON(o)
	if err != nil {
		return nil, err
	}
	return []any{
		o.PGProvider, o.PaymentID, o.PaymentKey,
		o.DepartureDeadline, o.EstimatedDeliveryAt,
		o.ReservationID, itemsJSON, o.ProductHubID, o.DestinationHubID,
		o.HubDeliveryID, o.LastMileDeliveryID, o.AssignedDriverID,
		o.Status, o.CancelReason, o.CancelledAt,
		o.Deleted, o.UpdatedAt,
		o.ID, o.Version,
	}, nil
}

func orderArgs(o *domain.Order) ([]any, error) {
	itemsJSON, err := reservationItemsJSON(o)
	if err != nil {
		return nil, err
	}
	return []any{
		o.ID, o.OrderNumber, o.SupplierCompanyID, o.ReceiverCompanyID,
		o.ProductID, o.ProductName, o.Quantity, o.UnitPrice, o.TotalAmount,
		o.ReceiverName, o.ReceiverPhone,
		o.Address.Line, o.Address.City, o.Address.PostalCode, o.Address.Country,
		o.RequestedDelivery, o.PGProvider, o.PaymentID, o.PaymentKey,
		o.DepartureDeadline, o.EstimatedDeliveryAt,
		o.ReservationID, itemsJSON, o.ProductHubID, o.DestinationHubID,
		o.HubDeliveryID, o.LastMileDeliveryID, o.AssignedDriverID,
		o.Status, o.Version, o.Deleted, o.CancelReason, o.CancelledAt,
		o.CreatedBy, o.CreatedAt, o.UpdatedAt,
	}, nil
}

// reservationItemsJSON renders the reservation breakdown for its JSONB
// column. An order without a reservation stores an empty array.
func reservationItemsJSON(o *domain.Order) ([]byte, error) {
	items := o.ReservationItems
	if items == nil {
		items = []domain.ReservationItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal reservation items: %w", err)
	}
	return b, nil
}

func (r *OrderRepository) scanOrder(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	var (
		o         domain.Order
		itemsJSON []byte
	)

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&o.ID, &o.OrderNumber, &o.SupplierCompanyID, &o.ReceiverCompanyID,
		&o.ProductID, &o.ProductName, &o.Quantity, &o.UnitPrice, &o.TotalAmount,
		&o.ReceiverName, &o.ReceiverPhone,
		&o.Address.Line, &o.Address.City, &o.Address.PostalCode, &o.Address.Country,
		&o.RequestedDelivery, &o.PGProvider, &o.PaymentID, &o.PaymentKey,
		&o.DepartureDeadline, &o.EstimatedDeliveryAt,
		&o.ReservationID, &itemsJSON, &o.ProductHubID, &o.DestinationHubID,
		&o.HubDeliveryID, &o.LastMileDeliveryID, &o.AssignedDriverID,
		&o.Status, &o.Version, &o.Deleted, &o.CancelReason, &o.CancelledAt,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &o.ReservationItems); err != nil {
			return nil, fmt.Errorf("unmarshal reservation items: %w", err)
		}
	}
	if len(o.ReservationItems) == 0 {
		o.ReservationItems = nil
	}
	return &o, nil
}
