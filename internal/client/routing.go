package client

import (
	"context"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/pkg/httpclient"
)

// RoutingClient talks to the routing service to compute the hub path from the
// product hub to the delivery destination.
type RoutingClient struct {
	doer    httpclient.Doer
	baseURL string
}

// NewRoutingClient creates a routing client.
func NewRoutingClient(doer httpclient.Doer, baseURL string) *RoutingClient {
	return &RoutingClient{doer: doer, baseURL: baseURL}
}

// CalculateRouteRequest asks for the hub path serving the destination.
type CalculateRouteRequest struct {
	OrderID      string         `json:"order_id"`
	ProductHubID string         `json:"product_hub_id"`
	Address      domain.Address `json:"address"`
}

// CalculateRouteResponse describes the computed path. A single-element
// HubPath means the product hub already serves the destination and no
// inter-hub transfer is needed.
type CalculateRouteResponse struct {
	HubPath          []string `json:"hub_path"`
	DestinationHubID string   `json:"destination_hub_id"`
}

// RequiresHubDelivery reports whether an inter-hub transfer leg is needed.
func (r *CalculateRouteResponse) RequiresHubDelivery() bool {
	return len(r.HubPath) > 1
}

// Calculate computes the delivery route. An unservable destination surfaces
// as apperrors.ErrRouteNotFound.
func (c *RoutingClient) Calculate(ctx context.Context, req CalculateRouteRequest) (*CalculateRouteResponse, error) {
	var resp CalculateRouteResponse
	if err := postJSON(ctx, c.doer, c.baseURL+"/api/v1/routes/calculate", "routing-service", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
