package client

import (
	"context"
	"time"

	"github.com/earlyexpress/order-fulfillment/pkg/httpclient"
)

// HubDeliveryClient talks to the hub delivery service managing inter-hub
// transfer legs.
type HubDeliveryClient struct {
	doer    httpclient.Doer
	baseURL string
}

// NewHubDeliveryClient creates a hub delivery client.
func NewHubDeliveryClient(doer httpclient.Doer, baseURL string) *HubDeliveryClient {
	return &HubDeliveryClient{doer: doer, baseURL: baseURL}
}

// CreateHubDeliveryRequest schedules the transfer along the hub path.
type CreateHubDeliveryRequest struct {
	OrderID           string     `json:"order_id"`
	HubPath           []string   `json:"hub_path"`
	DepartureDeadline *time.Time `json:"departure_deadline,omitempty"`
}

// CreateHubDeliveryResponse identifies the scheduled transfer.
type CreateHubDeliveryResponse struct {
	HubDeliveryID string `json:"hub_delivery_id"`
}

// Create schedules an inter-hub transfer.
func (c *HubDeliveryClient) Create(ctx context.Context, req CreateHubDeliveryRequest) (*CreateHubDeliveryResponse, error) {
	var resp CreateHubDeliveryResponse
	if err := postJSON(ctx, c.doer, c.baseURL+"/api/v1/hub-deliveries", "hub-delivery-service", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelHubDeliveryRequest cancels a scheduled transfer. The service rejects
// the cancel once the transfer physically departed; that rejection must be
// treated as a compensation failure, never swallowed.
type CancelHubDeliveryRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Cancel cancels an inter-hub transfer.
func (c *HubDeliveryClient) Cancel(ctx context.Context, hubDeliveryID, reason string) error {
	url := c.baseURL + "/api/v1/hub-deliveries/" + hubDeliveryID + "/cancel"
	return postJSON(ctx, c.doer, url, "hub-delivery-service", CancelHubDeliveryRequest{Reason: reason}, nil)
}
