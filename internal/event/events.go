// Package event defines the fulfillment platform's Kafka event surface: the
// topics and payloads the saga produces, and the consumers that feed
// asynchronous step execution back into the orchestrator.
package event

import (
	"time"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/pkg/kafka"
)

// Source identifies this service in every published event envelope.
const Source = "fulfillment-service"

// Topics published and consumed by this service.
var (
	TopicOrderCreated         = kafka.Topic("order", "created")
	TopicOrderPaymentVerified = kafka.Topic("order", "payment_verified")
	TopicOrderCompleted       = kafka.Topic("order", "completed")
	TopicOrderFailed          = kafka.Topic("order", "failed")

	TopicRefundRequested = kafka.Topic("payment", "refund_requested")
	TopicPaymentRefunded = kafka.Topic("payment", "refunded")
	TopicRefundFailed    = kafka.Topic("payment", "refund_failed")

	TopicNotificationRequested = kafka.Topic("notification", "requested")
	TopicTrackingRequested     = kafka.Topic("tracking", "requested")
)

// OrderCreatedPayload announces a new order before its saga starts.
type OrderCreatedPayload struct {
	OrderID           string    `json:"order_id"`
	OrderNumber       string    `json:"order_number"`
	SupplierCompanyID string    `json:"supplier_company_id"`
	ReceiverCompanyID string    `json:"receiver_company_id"`
	ProductID         string    `json:"product_id"`
	Quantity          int       `json:"quantity"`
	TotalAmount       int64     `json:"total_amount"`
	CreatedAt         time.Time `json:"created_at"`
}

// PaymentVerifiedPayload is the saga continuation trigger: the synchronous
// phase is done and the delivery steps can run asynchronously.
type PaymentVerifiedPayload struct {
	OrderID      string         `json:"order_id"`
	SagaID       string         `json:"saga_id"`
	ProductHubID string         `json:"product_hub_id"`
	Address      domain.Address `json:"address"`
}

// OrderCompletedPayload announces a fully fulfilled order.
type OrderCompletedPayload struct {
	OrderID             string     `json:"order_id"`
	OrderNumber         string     `json:"order_number"`
	SagaID              string     `json:"saga_id"`
	LastMileDeliveryID  string     `json:"last_mile_delivery_id,omitempty"`
	EstimatedDeliveryAt *time.Time `json:"estimated_delivery_at,omitempty"`
}

// OrderFailedPayload announces an order that failed or was unwound.
type OrderFailedPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	SagaID      string `json:"saga_id"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

// RefundRequestedPayload asks the payment service to refund a verified
// payment during compensation. Delivery is at-least-once; the payment
// service deduplicates by order ID.
type RefundRequestedPayload struct {
	OrderID    string `json:"order_id"`
	SagaID     string `json:"saga_id"`
	PaymentID  string `json:"payment_id"`
	PGProvider string `json:"pg_provider,omitempty"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason"`
}

// RefundResultPayload is the payment service's answer to a refund request,
// arriving on the refunded or refund_failed topic.
type RefundResultPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// NotificationRequestedPayload asks the notification service to inform the
// receiver about an order milestone, carrying the destination and ETA so the
// notification service needs no callback to compose the message.
type NotificationRequestedPayload struct {
	OrderID             string         `json:"order_id"`
	OrderNumber         string         `json:"order_number"`
	Kind                string         `json:"kind"`
	ReceiverName        string         `json:"receiver_name"`
	ReceiverPhone       string         `json:"receiver_phone"`
	Address             domain.Address `json:"address"`
	EstimatedDeliveryAt *time.Time     `json:"estimated_delivery_at,omitempty"`
}

// TrackingRequestedPayload asks the tracking service to start following the
// order: both delivery legs plus the hub path the shipment travels.
type TrackingRequestedPayload struct {
	OrderID             string     `json:"order_id"`
	OrderNumber         string     `json:"order_number"`
	HubDeliveryID       string     `json:"hub_delivery_id,omitempty"`
	LastMileDeliveryID  string     `json:"last_mile_delivery_id"`
	AssignedDriverID    string     `json:"assigned_driver_id,omitempty"`
	HubPath             []string   `json:"hub_path,omitempty"`
	EstimatedDeliveryAt *time.Time `json:"estimated_delivery_at,omitempty"`
}
