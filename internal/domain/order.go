package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
)

// Order status constants. The forward statuses mirror the fulfillment steps;
// cancelled and failed are terminal.
const (
	OrderStatusPending            = "pending"
	OrderStatusReserved           = "reserved"
	OrderStatusPaid               = "paid"
	OrderStatusRouted             = "routed"
	OrderStatusHubDeliveryCreated = "hub_delivery_created"
	OrderStatusLastMileCreated    = "last_mile_created"
	OrderStatusConfirmed          = "confirmed"
	OrderStatusCancelled          = "cancelled"
	OrderStatusFailed             = "failed"
)

// Order represents a B2B fulfillment order moving through the delivery saga.
type Order struct {
	ID                string     `json:"id"`
	OrderNumber       string     `json:"order_number"`
	SupplierCompanyID string     `json:"supplier_company_id"`
	ReceiverCompanyID string     `json:"receiver_company_id"`
	ProductID         string     `json:"product_id"`
	ProductName       string     `json:"product_name"`
	Quantity          int        `json:"quantity"`
	UnitPrice         int64      `json:"unit_price"`
	TotalAmount       int64      `json:"total_amount"`
	ReceiverName      string     `json:"receiver_name"`
	ReceiverPhone     string     `json:"receiver_phone"`
	Address           Address    `json:"address"`
	RequestedDelivery *time.Time `json:"requested_delivery_at,omitempty"`

	// Payment gateway reference recorded at creation, verified in step 2.
	PGProvider string `json:"pg_provider,omitempty"`
	PaymentID  string `json:"payment_id,omitempty"`
	PaymentKey string `json:"-"`

	// Schedule computed alongside route calculation.
	DepartureDeadline   *time.Time `json:"departure_deadline,omitempty"`
	EstimatedDeliveryAt *time.Time `json:"estimated_delivery_at,omitempty"`

	// Delivery progress filled in by the saga steps.
	ReservationID      string            `json:"reservation_id,omitempty"`
	ReservationItems   []ReservationItem `json:"reservation_items,omitempty"`
	ProductHubID       string            `json:"product_hub_id,omitempty"`
	DestinationHubID   string            `json:"destination_hub_id,omitempty"`
	HubDeliveryID      string            `json:"hub_delivery_id,omitempty"`
	LastMileDeliveryID string            `json:"last_mile_delivery_id,omitempty"`
	AssignedDriverID   string            `json:"assigned_driver_id,omitempty"`

	Status       string     `json:"status"`
	Version      int        `json:"version"`
	Deleted      bool       `json:"-"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CreatedBy    string     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ReservationItem is one line of the inventory service's reservation
// breakdown. A single product can be held across multiple hubs, and the
// breakdown is kept on the order exactly as the inventory service returned
// it so that a restore releases precisely what was reserved.
type ReservationItem struct {
	ProductID string `json:"product_id"`
	HubID     string `json:"hub_id"`
	Quantity  int    `json:"quantity"`
	Success   bool   `json:"success"`
}

// Address is the delivery destination.
type Address struct {
	Line       string `json:"line"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// NewOrder creates a pending order with a derived total amount.
func NewOrder(number, supplierID, receiverID, productID, productName string, quantity int, unitPrice int64) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:                uuid.New().String(),
		OrderNumber:       number,
		SupplierCompanyID: supplierID,
		ReceiverCompanyID: receiverID,
		ProductID:         productID,
		ProductName:       productName,
		Quantity:          quantity,
		UnitPrice:         unitPrice,
		TotalAmount:       int64(quantity) * unitPrice,
		Status:            OrderStatusPending,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// DerivedTotal recomputes the total from quantity and unit price. The stored
// TotalAmount must always equal this value.
func (o *Order) DerivedTotal() int64 {
	return int64(o.Quantity) * o.UnitPrice
}

// ValidStatuses returns all valid order statuses.
func ValidStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusReserved,
		OrderStatusPaid,
		OrderStatusRouted,
		OrderStatusHubDeliveryCreated,
		OrderStatusLastMileCreated,
		OrderStatusConfirmed,
		OrderStatusCancelled,
		OrderStatusFailed,
	}
}

// AllowedTransitions defines which status transitions are valid. Cancellation
// is impossible once last-mile delivery exists: the package is physically on
// its way to the customer.
func AllowedTransitions() map[string][]string {
	return map[string][]string{
		OrderStatusPending:            {OrderStatusReserved, OrderStatusCancelled, OrderStatusFailed},
		OrderStatusReserved:           {OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed},
		OrderStatusPaid:               {OrderStatusRouted, OrderStatusCancelled, OrderStatusFailed},
		OrderStatusRouted:             {OrderStatusHubDeliveryCreated, OrderStatusLastMileCreated, OrderStatusCancelled, OrderStatusFailed},
		OrderStatusHubDeliveryCreated: {OrderStatusLastMileCreated, OrderStatusCancelled, OrderStatusFailed},
		OrderStatusLastMileCreated:    {OrderStatusConfirmed, OrderStatusFailed},
		OrderStatusConfirmed:          {},
		OrderStatusCancelled:          {},
		OrderStatusFailed:             {},
	}
}

// CanTransitionTo checks if the order can move to the target status.
func (o *Order) CanTransitionTo(target string) bool {
	allowed, ok := AllowedTransitions()[o.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// TransitionTo moves the order to the target status, or returns an error when
// the transition is not allowed.
func (o *Order) TransitionTo(target string) error {
	if !o.CanTransitionTo(target) {
		return apperrors.Conflict("order " + o.ID + " cannot move from " + o.Status + " to " + target)
	}
	o.Status = target
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal reports whether the order reached a final status.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusConfirmed, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// Cancellable reports whether a cancel request can still be honored. Once the
// last-mile delivery is created the answer is no.
func (o *Order) Cancellable() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusReserved, OrderStatusPaid,
		OrderStatusRouted, OrderStatusHubDeliveryCreated:
		return true
	}
	return false
}

// Cancel marks the order cancelled with the given reason.
func (o *Order) Cancel(reason string) error {
	if !o.Cancellable() {
		return apperrors.CannotCancel(o.ID, o.Status)
	}
	now := time.Now().UTC()
	o.Status = OrderStatusCancelled
	o.CancelReason = reason
	o.CancelledAt = &now
	o.UpdatedAt = now
	return nil
}
