package client

import (
	"context"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/pkg/httpclient"
)

// LastMileClient talks to the last-mile delivery service that assigns a
// driver for the final leg from the destination hub to the receiver.
type LastMileClient struct {
	doer    httpclient.Doer
	baseURL string
}

// NewLastMileClient creates a last-mile delivery client.
func NewLastMileClient(doer httpclient.Doer, baseURL string) *LastMileClient {
	return &LastMileClient{doer: doer, baseURL: baseURL}
}

// CreateLastMileRequest requests a final-leg delivery with a driver.
type CreateLastMileRequest struct {
	OrderID          string         `json:"order_id"`
	DestinationHubID string         `json:"destination_hub_id"`
	ReceiverName     string         `json:"receiver_name"`
	ReceiverPhone    string         `json:"receiver_phone"`
	Address          domain.Address `json:"address"`
}

// CreateLastMileResponse identifies the delivery and the assigned driver.
type CreateLastMileResponse struct {
	LastMileDeliveryID string `json:"last_mile_delivery_id"`
	AssignedDriverID   string `json:"assigned_driver_id"`
}

// Create requests the final-leg delivery. No available driver surfaces as
// apperrors.ErrDriverNotAvailable.
func (c *LastMileClient) Create(ctx context.Context, req CreateLastMileRequest) (*CreateLastMileResponse, error) {
	var resp CreateLastMileResponse
	if err := postJSON(ctx, c.doer, c.baseURL+"/api/v1/last-mile-deliveries", "last-mile-service", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelLastMileRequest cancels a last-mile delivery.
type CancelLastMileRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Cancel cancels a last-mile delivery before pickup.
func (c *LastMileClient) Cancel(ctx context.Context, lastMileDeliveryID, reason string) error {
	url := c.baseURL + "/api/v1/last-mile-deliveries/" + lastMileDeliveryID + "/cancel"
	return postJSON(ctx, c.doer, url, "last-mile-service", CancelLastMileRequest{Reason: reason}, nil)
}
