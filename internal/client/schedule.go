package client

import (
	"context"
	"time"

	"github.com/earlyexpress/order-fulfillment/pkg/httpclient"
)

// ScheduleClient talks to the AI schedule service that derives the departure
// deadline and delivery ETA for a computed route.
type ScheduleClient struct {
	doer    httpclient.Doer
	baseURL string
}

// NewScheduleClient creates a schedule client.
func NewScheduleClient(doer httpclient.Doer, baseURL string) *ScheduleClient {
	return &ScheduleClient{doer: doer, baseURL: baseURL}
}

// CalculateScheduleRequest asks for deadline and ETA against the hub path.
type CalculateScheduleRequest struct {
	OrderID           string     `json:"order_id"`
	HubPath           []string   `json:"hub_path"`
	RequestedDelivery *time.Time `json:"requested_delivery_at,omitempty"`
}

// CalculateScheduleResponse carries the computed schedule.
type CalculateScheduleResponse struct {
	DepartureDeadline   time.Time `json:"departure_deadline"`
	EstimatedDeliveryAt time.Time `json:"estimated_delivery_at"`
}

// Calculate computes the delivery schedule for a route.
func (c *ScheduleClient) Calculate(ctx context.Context, req CalculateScheduleRequest) (*CalculateScheduleResponse, error) {
	var resp CalculateScheduleResponse
	if err := postJSON(ctx, c.doer, c.baseURL+"/api/v1/schedules/calculate", "schedule-service", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
