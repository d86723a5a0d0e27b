package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
)

// Saga status constants.
const (
	SagaStatusInProgress         = "in_progress"
	SagaStatusCompleted          = "completed"
	SagaStatusCompensating       = "compensating"
	SagaStatusCompensated        = "compensated"
	SagaStatusFailed             = "failed"
	SagaStatusCompensationFailed = "compensation_failed"
)

// Saga step name constants, in forward execution order.
const (
	StepStockReservation = "stock_reservation"
	StepPaymentVerify    = "payment_verification"
	StepRouteCalculation = "route_calculation"
	StepHubDelivery      = "hub_delivery_creation"
	StepLastMileDelivery = "last_mile_delivery_creation"
	StepNotification     = "notification_dispatch"
	StepTracking         = "tracking_start"
)

// StepOrder lists the saga steps in forward execution order.
func StepOrder() []string {
	return []string{
		StepStockReservation,
		StepPaymentVerify,
		StepRouteCalculation,
		StepHubDelivery,
		StepLastMileDelivery,
		StepNotification,
		StepTracking,
	}
}

// Step entry status constants.
const (
	StepStatusPending            = "pending"
	StepStatusSuccess            = "success"
	StepStatusFailed             = "failed"
	StepStatusSkipped            = "skipped"
	StepStatusCompensated        = "compensated"
	StepStatusCompensationFailed = "compensation_failed"
)

// StepEntry is one record in the saga's append-only step history.
type StepEntry struct {
	Step         string     `json:"step"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// OrderSaga tracks one order's trip through the fulfillment steps. There is
// exactly one saga per order.
type OrderSaga struct {
	ID            string      `json:"id"`
	OrderID       string      `json:"order_id"`
	Status        string      `json:"status"`
	CurrentStep   string      `json:"current_step"`
	FailureReason string      `json:"failure_reason,omitempty"`
	StepHistory   []StepEntry `json:"step_history"`
	Version       int         `json:"version"`
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewOrderSaga starts a saga for the given order at the first step.
func NewOrderSaga(orderID string) *OrderSaga {
	now := time.Now().UTC()
	return &OrderSaga{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		Status:      SagaStatusInProgress,
		CurrentStep: StepStockReservation,
		StepHistory: []StepEntry{},
		Version:     1,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal reports whether the saga reached a final status.
func (s *OrderSaga) IsTerminal() bool {
	switch s.Status {
	case SagaStatusCompleted, SagaStatusCompensated, SagaStatusFailed, SagaStatusCompensationFailed:
		return true
	}
	return false
}

// GuardStep validates that a trigger for the given step may execute now.
// Terminal sagas reject with a specific guard error; a step mismatch means
// the trigger is a duplicate or out-of-order delivery.
func (s *OrderSaga) GuardStep(step string) error {
	switch s.Status {
	case SagaStatusCompleted:
		return apperrors.SagaAlreadyCompleted(s.ID)
	case SagaStatusCompensated, SagaStatusCompensationFailed:
		return apperrors.SagaAlreadyCompensated(s.ID)
	case SagaStatusFailed:
		return apperrors.SagaStateMismatch(s.ID, "", step)
	}
	if s.Status != SagaStatusInProgress || s.CurrentStep != step {
		return apperrors.SagaStateMismatch(s.ID, s.CurrentStep, step)
	}
	return nil
}

// BeginStep appends a pending history entry for the given step and returns
// its index.
func (s *OrderSaga) BeginStep(step string) int {
	s.StepHistory = append(s.StepHistory, StepEntry{
		Step:      step,
		Status:    StepStatusPending,
		StartedAt: time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
	return len(s.StepHistory) - 1
}

// closeEntry stamps the entry at idx with the given status.
func (s *OrderSaga) closeEntry(idx int, status, errMsg string) {
	now := time.Now().UTC()
	s.StepHistory[idx].Status = status
	s.StepHistory[idx].ErrorMessage = errMsg
	s.StepHistory[idx].CompletedAt = &now
	s.UpdatedAt = now
}

// CompleteStep marks the entry successful and advances CurrentStep to next.
// An empty next means the saga is done.
func (s *OrderSaga) CompleteStep(idx int, next string) {
	s.closeEntry(idx, StepStatusSuccess, "")
	if next == "" {
		s.Complete()
		return
	}
	s.CurrentStep = next
}

// FailStep marks the entry failed with the given reason.
func (s *OrderSaga) FailStep(idx int, reason string) {
	s.closeEntry(idx, StepStatusFailed, reason)
}

// SkipStep records a skipped marker for a step the route made unnecessary.
func (s *OrderSaga) SkipStep(step string) {
	now := time.Now().UTC()
	s.StepHistory = append(s.StepHistory, StepEntry{
		Step:        step,
		Status:      StepStatusSkipped,
		StartedAt:   now,
		CompletedAt: &now,
	})
	s.UpdatedAt = now
}

// Complete marks the saga successfully finished.
func (s *OrderSaga) Complete() {
	now := time.Now().UTC()
	s.Status = SagaStatusCompleted
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// Fail terminates the saga without compensation. Only valid when nothing has
// been provisioned yet (a first-step failure).
func (s *OrderSaga) Fail(reason string) {
	now := time.Now().UTC()
	s.Status = SagaStatusFailed
	s.FailureReason = reason
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// StartCompensation switches the saga into the compensating phase.
func (s *OrderSaga) StartCompensation(reason string) {
	s.Status = SagaStatusCompensating
	s.FailureReason = reason
	s.UpdatedAt = time.Now().UTC()
}

// FinishCompensation closes out the compensating phase. allInverted reports
// whether every inverse action succeeded.
func (s *OrderSaga) FinishCompensation(allInverted bool) {
	now := time.Now().UTC()
	if allInverted {
		s.Status = SagaStatusCompensated
	} else {
		s.Status = SagaStatusCompensationFailed
	}
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// SuccessEntriesReversed returns the indexes of SUCCESS history entries in
// reverse execution order, the order compensation walks them.
func (s *OrderSaga) SuccessEntriesReversed() []int {
	var idxs []int
	for i := len(s.StepHistory) - 1; i >= 0; i-- {
		if s.StepHistory[i].Status == StepStatusSuccess {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// MarkCompensated stamps a compensated marker on the entry at idx.
func (s *OrderSaga) MarkCompensated(idx int) {
	s.closeEntry(idx, StepStatusCompensated, "")
}

// MarkCompensationFailed stamps a compensation failure on the entry at idx.
func (s *OrderSaga) MarkCompensationFailed(idx int, reason string) {
	s.closeEntry(idx, StepStatusCompensationFailed, reason)
}

// NextStep returns the step after the given one in forward order, or "" when
// the given step is the last.
func NextStep(step string) string {
	order := StepOrder()
	for i, st := range order {
		if st == step && i+1 < len(order) {
			return order[i+1]
		}
	}
	return ""
}

// IncrementRetry bumps the retry counter on the entry at idx.
func (s *OrderSaga) IncrementRetry(idx int) {
	s.StepHistory[idx].RetryCount++
	s.UpdatedAt = time.Now().UTC()
}
