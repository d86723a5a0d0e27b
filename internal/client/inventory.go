package client

import (
	"context"

	"github.com/earlyexpress/order-fulfillment/pkg/httpclient"
)

// InventoryClient talks to the inventory service for stock reservation and
// restoration.
type InventoryClient struct {
	doer    httpclient.Doer
	baseURL string
}

// NewInventoryClient creates an inventory client.
func NewInventoryClient(doer httpclient.Doer, baseURL string) *InventoryClient {
	return &InventoryClient{doer: doer, baseURL: baseURL}
}

// ReserveItem is one product line in a reservation request.
type ReserveItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ReserveStockRequest asks the inventory service to hold stock for an order.
type ReserveStockRequest struct {
	OrderID    string        `json:"order_id"`
	Items      []ReserveItem `json:"items"`
	SupplierID string        `json:"supplier_company_id"`
}

// ReservedItem is one line of the reservation outcome. A product can be
// satisfied from several hubs, each hold reported as its own line.
type ReservedItem struct {
	ProductID string `json:"product_id"`
	HubID     string `json:"hub_id"`
	Quantity  int    `json:"quantity"`
	Success   bool   `json:"success"`
}

// ReserveStockResponse carries the reservation handle and the per-hub
// breakdown of the holds. AllSuccess is false when any line could not be
// fully satisfied.
type ReserveStockResponse struct {
	ReservationID string         `json:"reservation_id"`
	AllSuccess    bool           `json:"all_success"`
	Reservations  []ReservedItem `json:"reservations"`
}

// Reserve places a stock hold. Insufficient stock surfaces as
// apperrors.ErrInsufficientStock via the response mapping.
func (c *InventoryClient) Reserve(ctx context.Context, req ReserveStockRequest) (*ReserveStockResponse, error) {
	var resp ReserveStockResponse
	if err := postJSON(ctx, c.doer, c.baseURL+"/api/v1/stocks/reserve", "inventory-service", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RestoreItem names one hold to release: the product, the hub it was held
// at, and how many units.
type RestoreItem struct {
	ProductID string `json:"product_id"`
	HubID     string `json:"hub_id"`
	Quantity  int    `json:"quantity"`
}

// RestoreStockRequest releases a previous reservation, echoing back the
// breakdown the reserve call returned. The inventory service treats restore
// as idempotent by reservation ID, so replays are safe.
type RestoreStockRequest struct {
	OrderID       string        `json:"order_id"`
	ReservationID string        `json:"reservation_id"`
	Items         []RestoreItem `json:"items"`
	Reason        string        `json:"reason,omitempty"`
}

// Restore releases reserved stock back to the hub.
func (c *InventoryClient) Restore(ctx context.Context, req RestoreStockRequest) error {
	return postJSON(ctx, c.doer, c.baseURL+"/api/v1/stocks/restore", "inventory-service", req, nil)
}
