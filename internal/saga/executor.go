// Package saga implements the order fulfillment saga: the forward step
// executors, the orchestrator that drives them with retries and an
// idempotency guard, and the compensation coordinator that unwinds
// completed steps in reverse order when a step fails for good.
package saga

import (
	"context"
	"errors"
	"time"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
	"github.com/earlyexpress/order-fulfillment/pkg/httpclient"
)

// Execution carries the order and saga through one orchestration run. HubPath
// is run-scoped: route calculation fills it and hub delivery creation reads
// it within the same run.
type Execution struct {
	Order   *domain.Order
	Saga    *domain.OrderSaga
	HubPath []string
}

// StepOutput describes what a successful step did to the order. Apply records
// the progress fields the step produced; OrderStatus is the status the order
// advances to, empty when the step does not move the order. SkipNext reports
// that the following step is unnecessary (single-hub routes skip the
// inter-hub transfer).
type StepOutput struct {
	OrderStatus string
	Apply       func(o *domain.Order)
	SkipNext    bool
}

// StepExecutor performs one forward saga step against a collaborator.
type StepExecutor interface {
	Name() string
	Execute(ctx context.Context, run *Execution) (*StepOutput, error)
}

// Publisher is the event surface the saga needs. The concrete implementation
// lives in the event package; the orchestrator only cares about these sends.
type Publisher interface {
	OrderPaymentVerified(ctx context.Context, order *domain.Order, sagaID string) error
	OrderCompleted(ctx context.Context, order *domain.Order, sagaID string) error
	OrderFailed(ctx context.Context, order *domain.Order, sagaID, reason string) error
	RefundRequested(ctx context.Context, order *domain.Order, sagaID, reason string) error
	NotificationRequested(ctx context.Context, order *domain.Order, kind string) error
	TrackingRequested(ctx context.Context, order *domain.Order, hubPath []string) error
}

// Retryable classifies a step error. Business rejections from a collaborator
// (insufficient stock, amount mismatch, unreachable destination, no driver)
// and other 4xx responses are definitive: replaying the same request cannot
// succeed. Everything else, network failures, 5xx responses, timeouts, and
// an open circuit breaker, is transient and worth another attempt.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, apperrors.ErrInsufficientStock),
		errors.Is(err, apperrors.ErrAmountMismatch),
		errors.Is(err, apperrors.ErrRouteNotFound),
		errors.Is(err, apperrors.ErrDriverNotAvailable),
		errors.Is(err, apperrors.ErrInvalidInput),
		errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrConflict):
		return false
	case errors.Is(err, apperrors.ErrExternalTimeout),
		errors.Is(err, apperrors.ErrServiceUnavail),
		errors.Is(err, httpclient.ErrCircuitOpen):
		return true
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && httpclient.IsClientError(appErr.Status) {
		return false
	}
	return true
}

// Config tunes step execution.
type Config struct {
	// StepTimeout bounds a single attempt of one step.
	StepTimeout time.Duration
	// MaxRetries is how many extra attempts a transiently failing step gets.
	MaxRetries int
	// RetryBackoff is the base delay between attempts; it doubles each retry.
	RetryBackoff time.Duration
}

// DefaultConfig returns the standard step execution settings.
func DefaultConfig() Config {
	return Config{
		StepTimeout:  10 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
	}
}
