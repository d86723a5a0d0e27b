package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/earlyexpress/order-fulfillment/internal/client"
	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/internal/repository"
	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
)

// Inverse collaborator surfaces, satisfied by the concrete clients.
type (
	// StockRestorer releases a stock reservation.
	StockRestorer interface {
		Restore(ctx context.Context, req client.RestoreStockRequest) error
	}

	// HubDeliveryCanceller cancels a scheduled inter-hub transfer.
	HubDeliveryCanceller interface {
		Cancel(ctx context.Context, hubDeliveryID, reason string) error
	}

	// LastMileCanceller cancels a last-mile delivery before pickup.
	LastMileCanceller interface {
		Cancel(ctx context.Context, lastMileDeliveryID, reason string) error
	}
)

// Coordinator unwinds a saga's completed steps in reverse execution order.
// Each inverse action gets the same bounded retry as a forward step. An
// inverse that fails for good marks its entry compensation_failed and the
// walk continues with the remaining entries, so everything that can be
// released is released; the saga then lands on compensation_failed for
// operator attention instead of compensated.
type Coordinator struct {
	sagas     repository.SagaRepository
	inventory StockRestorer
	hub       HubDeliveryCanceller
	lastMile  LastMileCanceller
	pub       Publisher
	cfg       Config
	logger    *slog.Logger
}

// NewCoordinator wires the compensation coordinator.
func NewCoordinator(
	sagas repository.SagaRepository,
	inventory StockRestorer,
	hub HubDeliveryCanceller,
	lastMile LastMileCanceller,
	pub Publisher,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		sagas:     sagas,
		inventory: inventory,
		hub:       hub,
		lastMile:  lastMile,
		pub:       pub,
		cfg:       cfg,
		logger:    logger,
	}
}

// Compensate walks the saga's successful steps in reverse and inverts each
// one. The saga must already be in the compensating status, persisted by the
// caller. A full unwind leaves the order cancelled with the triggering
// reason, whether that trigger was a step failure or a customer cancel; a
// partial unwind leaves it failed, so "cancelled" always means every
// provisioned resource was released.
func (c *Coordinator) Compensate(ctx context.Context, order *domain.Order, s *domain.OrderSaga, reason string) error {
	if s.Status != domain.SagaStatusCompensating {
		return apperrors.SagaStateMismatch(s.ID, domain.SagaStatusCompensating, s.Status)
	}

	c.logger.InfoContext(ctx, "starting compensation",
		"order_id", order.ID,
		"saga_id", s.ID,
		"reason", reason,
	)

	allInverted := true
	for _, idx := range s.SuccessEntriesReversed() {
		step := s.StepHistory[idx].Step
		if err := c.invertWithRetry(ctx, order, s.ID, step, reason); err != nil {
			if ctx.Err() != nil {
				// Shutdown or caller cancellation is not a compensation
				// outcome. Nothing has been persisted for this walk, so the
				// trigger redelivers and the walk restarts cleanly.
				return fmt.Errorf("compensation interrupted for order %s: %w", order.ID, ctx.Err())
			}
			allInverted = false
			s.MarkCompensationFailed(idx, err.Error())
			compensationActions.WithLabelValues(step, "failed").Inc()
			c.logger.ErrorContext(ctx, "compensation action failed",
				"order_id", order.ID,
				"saga_id", s.ID,
				"step", step,
				"error", err.Error(),
			)
			continue
		}
		s.MarkCompensated(idx)
		compensationActions.WithLabelValues(step, "compensated").Inc()
	}

	s.FinishCompensation(allInverted)
	if allInverted {
		if err := order.Cancel(reason); err != nil {
			return err
		}
	} else if order.Status != domain.OrderStatusFailed {
		if err := order.TransitionTo(domain.OrderStatusFailed); err != nil {
			return err
		}
	}

	if err := c.sagas.UpdateOrderAndSaga(ctx, order, s); err != nil {
		if errors.Is(err, apperrors.ErrVersionConflict) {
			c.logger.InfoContext(ctx, "lost version race finishing compensation, another worker owns the saga",
				"order_id", order.ID,
				"saga_id", s.ID,
			)
			return nil
		}
		return fmt.Errorf("persist compensation outcome for order %s: %w", order.ID, err)
	}
	sagasFinished.WithLabelValues(s.Status).Inc()

	if err := c.pub.OrderFailed(ctx, order, s.ID, reason); err != nil {
		c.logger.ErrorContext(ctx, "failed to publish order failed event",
			"order_id", order.ID,
			"error", err.Error(),
		)
	}
	return nil
}

// invert performs the inverse action for one forward step. Route calculation
// has no side effects to undo; the notification and tracking steps never
// participate since a saga that passed them has already completed.
func (c *Coordinator) invert(ctx context.Context, order *domain.Order, sagaID, step, reason string) error {
	switch step {
	case domain.StepLastMileDelivery:
		return c.lastMile.Cancel(ctx, order.LastMileDeliveryID, reason)
	case domain.StepHubDelivery:
		return c.hub.Cancel(ctx, order.HubDeliveryID, reason)
	case domain.StepRouteCalculation:
		return nil
	case domain.StepPaymentVerify:
		return c.pub.RefundRequested(ctx, order, sagaID, reason)
	case domain.StepStockReservation:
		// The restore echoes the reservation breakdown back verbatim so the
		// inventory service releases exactly the holds it granted, hub by hub.
		return c.inventory.Restore(ctx, client.RestoreStockRequest{
			OrderID:       order.ID,
			ReservationID: order.ReservationID,
			Items:         restoreItems(order.ReservationItems),
			Reason:        reason,
		})
	default:
		return nil
	}
}

func (c *Coordinator) invertWithRetry(ctx context.Context, order *domain.Order, sagaID, step, reason string) error {
	backoff := c.cfg.RetryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		actionCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
		err = c.invert(actionCtx, order, sagaID, step, reason)
		cancel()
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt >= c.cfg.MaxRetries {
			return err
		}
		c.logger.WarnContext(ctx, "compensation action failed, retrying",
			"order_id", order.ID,
			"step", step,
			"attempt", attempt+1,
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}
