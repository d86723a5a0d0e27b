package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/earlyexpress/order-fulfillment/pkg/kafka"
)

// ContinuationRunner resumes a saga's asynchronous steps, satisfied by the
// saga orchestrator.
type ContinuationRunner interface {
	RunContinuation(ctx context.Context, orderID string) error
}

// ConsumerGroup is the consumer group shared by this service's instances.
// One group means each trigger is handled by exactly one instance.
const ConsumerGroup = "fulfillment-orchestrator"

// PaymentVerifiedHandler turns a payment_verified event into a saga
// continuation run. The orchestrator discards duplicates, so the handler
// stays safe under redelivery even before the idempotency guard kicks in.
func PaymentVerifiedHandler(runner ContinuationRunner) kafka.Handler {
	return func(ctx context.Context, ev *kafka.Event) error {
		var payload PaymentVerifiedPayload
		if err := ev.UnmarshalData(&payload); err != nil {
			return fmt.Errorf("decode payment_verified payload: %w", err)
		}
		if payload.OrderID == "" {
			return fmt.Errorf("payment_verified event %s has no order_id", ev.EventID)
		}
		return runner.RunContinuation(ctx, payload.OrderID)
	}
}

// RefundResultHandler records the payment service's answer to a refund
// request. Refunds are compensation side effects tracked by operations, so a
// failed refund is logged at error level for alerting rather than driving
// further state changes.
func RefundResultHandler(succeeded bool, logger *slog.Logger) kafka.Handler {
	return func(ctx context.Context, ev *kafka.Event) error {
		var payload RefundResultPayload
		if err := ev.UnmarshalData(&payload); err != nil {
			return fmt.Errorf("decode refund result payload: %w", err)
		}
		if succeeded {
			logger.InfoContext(ctx, "refund settled",
				"order_id", payload.OrderID,
				"payment_id", payload.PaymentID,
				"amount", payload.Amount,
			)
			return nil
		}
		logger.ErrorContext(ctx, "refund failed, manual settlement required",
			"order_id", payload.OrderID,
			"payment_id", payload.PaymentID,
			"reason", payload.Reason,
		)
		return nil
	}
}

// Consumers bundles the service's Kafka consumers.
type Consumers struct {
	continuation *kafka.Consumer
	refunded     *kafka.Consumer
	refundFailed *kafka.Consumer
}

// NewConsumers wires the continuation consumer, deduplicated through the
// idempotency store, and the refund result consumers. dlq may be nil.
func NewConsumers(
	brokers []string,
	runner ContinuationRunner,
	store kafka.IdempotencyStore,
	dlq *kafka.DLQProducer,
	logger *slog.Logger,
) *Consumers {
	continuation := kafka.NewConsumer(
		kafka.ConsumerConfig{
			Brokers: brokers,
			GroupID: ConsumerGroup,
			Topic:   TopicOrderPaymentVerified,
		},
		kafka.IdempotentHandler(store, PaymentVerifiedHandler(runner), TopicOrderPaymentVerified, ConsumerGroup, logger),
		dlq,
		logger,
	)

	refunded := kafka.NewConsumer(
		kafka.ConsumerConfig{
			Brokers: brokers,
			GroupID: ConsumerGroup,
			Topic:   TopicPaymentRefunded,
		},
		RefundResultHandler(true, logger),
		dlq,
		logger,
	)

	refundFailed := kafka.NewConsumer(
		kafka.ConsumerConfig{
			Brokers: brokers,
			GroupID: ConsumerGroup,
			Topic:   TopicRefundFailed,
		},
		RefundResultHandler(false, logger),
		dlq,
		logger,
	)

	return &Consumers{
		continuation: continuation,
		refunded:     refunded,
		refundFailed: refundFailed,
	}
}

// Start runs every consumer until the context is cancelled.
func (c *Consumers) Start(ctx context.Context) {
	go func() {
		if err := c.continuation.Start(ctx); err != nil {
			slog.Error("continuation consumer stopped", "error", err.Error())
		}
	}()
	go func() {
		if err := c.refunded.Start(ctx); err != nil {
			slog.Error("refunded consumer stopped", "error", err.Error())
		}
	}()
	go func() {
		if err := c.refundFailed.Start(ctx); err != nil {
			slog.Error("refund failed consumer stopped", "error", err.Error())
		}
	}()
}

// Close shuts the consumers down.
func (c *Consumers) Close() error {
	var firstErr error
	for _, consumer := range []*kafka.Consumer{c.continuation, c.refunded, c.refundFailed} {
		if err := consumer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
