package event

import (
	"context"
	"fmt"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/pkg/kafka"
	"github.com/earlyexpress/order-fulfillment/pkg/logger"
)

// eventPublisher is the transport the typed producer sits on, satisfied by
// kafka.Producer.
type eventPublisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// Producer publishes the service's typed events. It satisfies the saga
// package's Publisher interface.
type Producer struct {
	publisher eventPublisher
}

// NewProducer wraps a Kafka producer with the typed event surface.
func NewProducer(publisher eventPublisher) *Producer {
	return &Producer{publisher: publisher}
}

// publish builds the standard envelope, keyed and aggregated by order ID,
// and stamps the correlation ID from the context.
func (p *Producer) publish(ctx context.Context, topic, eventType, orderID string, payload any) error {
	ev, err := kafka.NewEvent(eventType, orderID, "order", Source, payload)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		ev.WithCorrelationID(cid)
	}
	if err := p.publisher.Publish(ctx, topic, ev); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// OrderCreated announces a freshly created order.
func (p *Producer) OrderCreated(ctx context.Context, o *domain.Order) error {
	return p.publish(ctx, TopicOrderCreated, "order.created", o.ID, OrderCreatedPayload{
		OrderID:           o.ID,
		OrderNumber:       o.OrderNumber,
		SupplierCompanyID: o.SupplierCompanyID,
		ReceiverCompanyID: o.ReceiverCompanyID,
		ProductID:         o.ProductID,
		Quantity:          o.Quantity,
		TotalAmount:       o.TotalAmount,
		CreatedAt:         o.CreatedAt,
	})
}

// OrderPaymentVerified publishes the continuation trigger for the
// asynchronous saga phase.
func (p *Producer) OrderPaymentVerified(ctx context.Context, o *domain.Order, sagaID string) error {
	return p.publish(ctx, TopicOrderPaymentVerified, "order.payment_verified", o.ID, PaymentVerifiedPayload{
		OrderID:      o.ID,
		SagaID:       sagaID,
		ProductHubID: o.ProductHubID,
		Address:      o.Address,
	})
}

// OrderCompleted announces a fully fulfilled order.
func (p *Producer) OrderCompleted(ctx context.Context, o *domain.Order, sagaID string) error {
	return p.publish(ctx, TopicOrderCompleted, "order.completed", o.ID, OrderCompletedPayload{
		OrderID:             o.ID,
		OrderNumber:         o.OrderNumber,
		SagaID:              sagaID,
		LastMileDeliveryID:  o.LastMileDeliveryID,
		EstimatedDeliveryAt: o.EstimatedDeliveryAt,
	})
}

// OrderFailed announces an order that failed or was unwound.
func (p *Producer) OrderFailed(ctx context.Context, o *domain.Order, sagaID, reason string) error {
	return p.publish(ctx, TopicOrderFailed, "order.failed", o.ID, OrderFailedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		SagaID:      sagaID,
		Status:      o.Status,
		Reason:      reason,
	})
}

// RefundRequested asks the payment service to refund a verified payment.
func (p *Producer) RefundRequested(ctx context.Context, o *domain.Order, sagaID, reason string) error {
	return p.publish(ctx, TopicRefundRequested, "payment.refund_requested", o.ID, RefundRequestedPayload{
		OrderID:    o.ID,
		SagaID:     sagaID,
		PaymentID:  o.PaymentID,
		PGProvider: o.PGProvider,
		Amount:     o.TotalAmount,
		Reason:     reason,
	})
}

// NotificationRequested asks the notification service to inform the receiver.
func (p *Producer) NotificationRequested(ctx context.Context, o *domain.Order, kind string) error {
	return p.publish(ctx, TopicNotificationRequested, "notification.requested", o.ID, NotificationRequestedPayload{
		OrderID:             o.ID,
		OrderNumber:         o.OrderNumber,
		Kind:                kind,
		ReceiverName:        o.ReceiverName,
		ReceiverPhone:       o.ReceiverPhone,
		Address:             o.Address,
		EstimatedDeliveryAt: o.EstimatedDeliveryAt,
	})
}

// TrackingRequested asks the tracking service to follow the delivery.
func (p *Producer) TrackingRequested(ctx context.Context, o *domain.Order, hubPath []string) error {
	return p.publish(ctx, TopicTrackingRequested, "tracking.requested", o.ID, TrackingRequestedPayload{
		OrderID:             o.ID,
		OrderNumber:         o.OrderNumber,
		HubDeliveryID:       o.HubDeliveryID,
		LastMileDeliveryID:  o.LastMileDeliveryID,
		AssignedDriverID:    o.AssignedDriverID,
		HubPath:             hubPath,
		EstimatedDeliveryAt: o.EstimatedDeliveryAt,
	})
}
