package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/internal/repository"
	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
)

// StepFailedError reports a step failure the orchestrator already resolved:
// the saga moved to failed or through compensation, and that outcome is
// durably recorded. Callers must not re-trigger the step; HTTP handlers can
// unwrap the cause for status mapping.
type StepFailedError struct {
	Step  string
	Cause error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("saga step %s failed: %v", e.Step, e.Cause)
}

func (e *StepFailedError) Unwrap() error {
	return e.Cause
}

// errRunSuperseded aborts a run whose persist lost the version race to a
// concurrent worker. The trigger was a duplicate; the winner carries on.
var errRunSuperseded = errors.New("saga run superseded by concurrent update")

// Orchestrator drives an order's saga through its forward steps. Steps run
// with a per-attempt timeout and bounded retries for transient failures;
// every advance persists the order and saga together under optimistic
// concurrency, so a concurrent duplicate trigger loses the version race and
// is discarded.
type Orchestrator struct {
	orders repository.OrderRepository
	sagas  repository.SagaRepository
	comp   *Coordinator
	pub    Publisher
	steps  map[string]StepExecutor
	cfg    Config
	logger *slog.Logger
}

// NewOrchestrator wires the orchestrator with one executor per forward step.
func NewOrchestrator(
	orders repository.OrderRepository,
	sagas repository.SagaRepository,
	comp *Coordinator,
	pub Publisher,
	executors []StepExecutor,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	steps := make(map[string]StepExecutor, len(executors))
	for _, ex := range executors {
		steps[ex.Name()] = ex
	}
	return &Orchestrator{
		orders: orders,
		sagas:  sagas,
		comp:   comp,
		pub:    pub,
		steps:  steps,
		cfg:    cfg,
		logger: logger,
	}
}

// RunInitial executes the synchronous phase, stock reservation and payment
// verification, for a freshly created order. A step failure comes back as a
// *StepFailedError so the HTTP layer can surface the rejection to the caller.
func (o *Orchestrator) RunInitial(ctx context.Context, order *domain.Order, s *domain.OrderSaga) error {
	run := &Execution{Order: order, Saga: s}
	for _, step := range []string{domain.StepStockReservation, domain.StepPaymentVerify} {
		if s.Status != domain.SagaStatusInProgress || s.CurrentStep != step {
			return nil
		}
		if err := o.executeStep(ctx, run); err != nil {
			if errors.Is(err, errRunSuperseded) {
				return nil
			}
			return err
		}
	}
	return nil
}

// RunContinuation resumes the asynchronous phase for an order, executing
// steps from the saga's current position to the end. It is safe under
// redelivery: terminal sagas discard the trigger, and resolved step failures
// return nil so the message commits.
func (o *Orchestrator) RunContinuation(ctx context.Context, orderID string) error {
	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	s, err := o.sagas.GetByOrderID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load saga for order %s: %w", orderID, err)
	}

	if s.Status != domain.SagaStatusInProgress {
		o.logger.InfoContext(ctx, "saga not in progress, discarding continuation",
			"order_id", orderID,
			"saga_id", s.ID,
			"status", s.Status,
		)
		stepExecutions.WithLabelValues(s.CurrentStep, "duplicate").Inc()
		return nil
	}

	run := &Execution{Order: order, Saga: s}
	for s.Status == domain.SagaStatusInProgress {
		if err := o.executeStep(ctx, run); err != nil {
			var stepErr *StepFailedError
			if errors.As(err, &stepErr) || errors.Is(err, errRunSuperseded) {
				// Outcome recorded, or a concurrent worker owns the
				// saga now; nothing left to redeliver.
				return nil
			}
			return err
		}
	}
	return nil
}

// executeStep runs the saga's current step once through the retry loop and
// persists the outcome. It returns nil on success and on idempotent discard,
// a *StepFailedError when the failure was resolved (saga failed or
// compensated), and a plain error when persistence itself failed and the
// trigger should be redelivered.
func (o *Orchestrator) executeStep(ctx context.Context, run *Execution) error {
	s := run.Saga
	step := s.CurrentStep

	if err := s.GuardStep(step); err != nil {
		o.logger.InfoContext(ctx, "step trigger rejected by guard, discarding",
			"order_id", run.Order.ID,
			"saga_id", s.ID,
			"step", step,
			"reason", err.Error(),
		)
		stepExecutions.WithLabelValues(step, "duplicate").Inc()
		return nil
	}

	exec, ok := o.steps[step]
	if !ok {
		return fmt.Errorf("no executor registered for step %s", step)
	}

	idx := s.BeginStep(step)
	started := time.Now()
	out, err := o.attempt(ctx, exec, run, idx)
	stepDuration.WithLabelValues(step).Observe(time.Since(started).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// The caller's context died, not the step: shutdown or a dropped
			// request, never a business outcome. Nothing was persisted for
			// this attempt, so the trigger redelivers and the step re-runs.
			return fmt.Errorf("step %s interrupted for order %s: %w", step, run.Order.ID, ctx.Err())
		}
		stepExecutions.WithLabelValues(step, "failed").Inc()
		return o.handleStepFailure(ctx, run, idx, step, err)
	}

	if out.Apply != nil {
		out.Apply(run.Order)
	}
	if out.OrderStatus != "" {
		if terr := run.Order.TransitionTo(out.OrderStatus); terr != nil {
			return fmt.Errorf("advance order %s after step %s: %w", run.Order.ID, step, terr)
		}
	}

	next := domain.NextStep(step)
	if out.SkipNext && next != "" {
		skipped := next
		next = domain.NextStep(skipped)
		s.CompleteStep(idx, skipped)
		s.SkipStep(skipped)
		stepExecutions.WithLabelValues(skipped, "skipped").Inc()
		if next == "" {
			s.Complete()
		} else {
			s.CurrentStep = next
		}
	} else {
		s.CompleteStep(idx, next)
	}

	if err := o.persist(ctx, run, step); err != nil {
		return err
	}
	stepExecutions.WithLabelValues(step, "success").Inc()

	o.afterAdvance(ctx, run, step)
	return nil
}

// attempt runs the executor with a per-attempt timeout and retries transient
// failures with doubling backoff.
func (o *Orchestrator) attempt(ctx context.Context, exec StepExecutor, run *Execution, idx int) (*StepOutput, error) {
	backoff := o.cfg.RetryBackoff
	var out *StepOutput
	var err error
	for attempt := 0; ; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		out, err = exec.Execute(stepCtx, run)
		cancel()
		if err == nil {
			return out, nil
		}
		if !Retryable(err) || attempt >= o.cfg.MaxRetries {
			return nil, err
		}

		run.Saga.IncrementRetry(idx)
		stepRetries.WithLabelValues(exec.Name()).Inc()
		o.logger.WarnContext(ctx, "saga step failed, retrying",
			"order_id", run.Order.ID,
			"step", exec.Name(),
			"attempt", attempt+1,
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// handleStepFailure routes a definitive step failure. The first step fails
// the saga outright since nothing was provisioned yet; the notification and
// tracking steps are best-effort and never unwind the delivery; everything
// in between triggers compensation of the completed steps.
func (o *Orchestrator) handleStepFailure(ctx context.Context, run *Execution, idx int, step string, cause error) error {
	s := run.Saga
	reason := cause.Error()
	s.FailStep(idx, reason)

	o.logger.ErrorContext(ctx, "saga step failed",
		"order_id", run.Order.ID,
		"saga_id", s.ID,
		"step", step,
		"error", reason,
	)

	switch step {
	case domain.StepStockReservation:
		s.Fail(reason)
		if terr := run.Order.TransitionTo(domain.OrderStatusFailed); terr != nil {
			return terr
		}
		if err := o.persist(ctx, run, step); err != nil {
			return err
		}
		sagasFinished.WithLabelValues(s.Status).Inc()
		o.publishFailed(ctx, run, reason)
		return &StepFailedError{Step: step, Cause: cause}

	case domain.StepNotification, domain.StepTracking:
		if step == domain.StepTracking {
			if terr := run.Order.TransitionTo(domain.OrderStatusConfirmed); terr != nil {
				return terr
			}
		}
		next := domain.NextStep(step)
		if next == "" {
			s.Complete()
		} else {
			s.CurrentStep = next
		}
		if err := o.persist(ctx, run, step); err != nil {
			return err
		}
		if s.Status == domain.SagaStatusCompleted {
			sagasFinished.WithLabelValues(s.Status).Inc()
			o.publishCompleted(ctx, run)
		}
		return nil

	default:
		s.StartCompensation(reason)
		if err := o.persist(ctx, run, step); err != nil {
			return err
		}
		if err := o.comp.Compensate(ctx, run.Order, s, reason); err != nil {
			return err
		}
		return &StepFailedError{Step: step, Cause: cause}
	}
}

// afterAdvance fires the post-persist events for the step that just
// completed. Publish failures are logged, not returned: the state advance is
// already durable, and the recovery scanner flags sagas whose continuation
// never arrived.
func (o *Orchestrator) afterAdvance(ctx context.Context, run *Execution, step string) {
	if step == domain.StepPaymentVerify {
		if err := o.pub.OrderPaymentVerified(ctx, run.Order, run.Saga.ID); err != nil {
			o.logger.ErrorContext(ctx, "failed to publish saga continuation",
				"order_id", run.Order.ID,
				"saga_id", run.Saga.ID,
				"error", err.Error(),
			)
		}
	}
	if run.Saga.Status == domain.SagaStatusCompleted {
		sagasFinished.WithLabelValues(run.Saga.Status).Inc()
		o.publishCompleted(ctx, run)
	}
}

func (o *Orchestrator) publishCompleted(ctx context.Context, run *Execution) {
	if err := o.pub.OrderCompleted(ctx, run.Order, run.Saga.ID); err != nil {
		o.logger.ErrorContext(ctx, "failed to publish order completed event",
			"order_id", run.Order.ID,
			"error", err.Error(),
		)
	}
}

func (o *Orchestrator) publishFailed(ctx context.Context, run *Execution, reason string) {
	if err := o.pub.OrderFailed(ctx, run.Order, run.Saga.ID, reason); err != nil {
		o.logger.ErrorContext(ctx, "failed to publish order failed event",
			"order_id", run.Order.ID,
			"error", err.Error(),
		)
	}
}

// persist writes the order and saga in one transaction. A version conflict
// means another worker advanced the same saga first; the trigger is a
// duplicate and the run is aborted with errRunSuperseded.
func (o *Orchestrator) persist(ctx context.Context, run *Execution, step string) error {
	err := o.sagas.UpdateOrderAndSaga(ctx, run.Order, run.Saga)
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrVersionConflict) {
		o.logger.InfoContext(ctx, "lost version race on saga advance, discarding trigger as duplicate",
			"order_id", run.Order.ID,
			"saga_id", run.Saga.ID,
			"step", step,
		)
		stepExecutions.WithLabelValues(step, "duplicate").Inc()
		return errRunSuperseded
	}
	return fmt.Errorf("persist saga advance for order %s: %w", run.Order.ID, err)
}
