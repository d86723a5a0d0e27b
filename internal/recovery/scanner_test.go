package recovery

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
)

// recordingSagaRepo implements only the two scanner queries; the rest panic
// so an unexpected call fails loudly.
type recordingSagaRepo struct {
	listCalls  []listCall
	byStatus   map[string][]domain.OrderSaga
	terminal   int
	countCalls int
}

type listCall struct {
	status string
	cutoff time.Time
	limit  int
}

func (r *recordingSagaRepo) Create(context.Context, *domain.OrderSaga) error { panic("unexpected") }
func (r *recordingSagaRepo) CreateOrderAndSaga(context.Context, *domain.Order, *domain.OrderSaga) error {
	panic("unexpected")
}
func (r *recordingSagaRepo) GetByID(context.Context, string) (*domain.OrderSaga, error) {
	panic("unexpected")
}
func (r *recordingSagaRepo) GetByOrderID(context.Context, string) (*domain.OrderSaga, error) {
	panic("unexpected")
}
func (r *recordingSagaRepo) Update(context.Context, *domain.OrderSaga) error { panic("unexpected") }
func (r *recordingSagaRepo) UpdateOrderAndSaga(context.Context, *domain.Order, *domain.OrderSaga) error {
	panic("unexpected")
}

func (r *recordingSagaRepo) ListByStatusOlderThan(_ context.Context, status string, cutoff time.Time, limit int) ([]domain.OrderSaga, error) {
	r.listCalls = append(r.listCalls, listCall{status: status, cutoff: cutoff, limit: limit})
	return r.byStatus[status], nil
}

func (r *recordingSagaRepo) CountTerminalOlderThan(_ context.Context, _ time.Time) (int, error) {
	r.countCalls++
	return r.terminal, nil
}

func TestSweepQueriesEveryWatchedStatus(t *testing.T) {
	stalled := domain.NewOrderSaga("order-1")
	stalled.CurrentStep = domain.StepHubDelivery

	broken := domain.NewOrderSaga("order-2")
	broken.Status = domain.SagaStatusCompensationFailed
	broken.FailureReason = "hub cancel rejected"

	repo := &recordingSagaRepo{
		byStatus: map[string][]domain.OrderSaga{
			domain.SagaStatusInProgress:         {*stalled},
			domain.SagaStatusCompensationFailed: {*broken},
		},
		terminal: 7,
	}

	cfg := DefaultConfig()
	cfg.StuckThreshold = 10 * time.Minute
	s := NewScanner(repo, cfg, nil, slog.New(slog.DiscardHandler))
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.Sweep(context.Background())

	require.Len(t, repo.listCalls, 3)
	assert.Equal(t, domain.SagaStatusInProgress, repo.listCalls[0].status)
	assert.Equal(t, domain.SagaStatusCompensating, repo.listCalls[1].status)
	assert.Equal(t, domain.SagaStatusCompensationFailed, repo.listCalls[2].status)

	// Stalled statuses use the stuck threshold; broken sagas are reported
	// regardless of age.
	assert.Equal(t, base.Add(-10*time.Minute), repo.listCalls[0].cutoff)
	assert.Equal(t, base, repo.listCalls[2].cutoff)
	assert.Equal(t, cfg.BatchLimit, repo.listCalls[0].limit)
	assert.Equal(t, 1, repo.countCalls)
}

type countingResetter struct{ resets int }

func (c *countingResetter) Reset() { c.resets++ }

func TestSweepTriggersDailyResetOnDateChange(t *testing.T) {
	repo := &recordingSagaRepo{byStatus: map[string][]domain.OrderSaga{}}
	daily := &countingResetter{}
	s := NewScanner(repo, DefaultConfig(), daily, slog.New(slog.DiscardHandler))

	base := time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	// Two sweeps on the same day establish the baseline without resetting.
	s.Sweep(context.Background())
	s.Sweep(context.Background())
	assert.Equal(t, 0, daily.resets)

	base = base.Add(2 * time.Minute)
	s.Sweep(context.Background())
	assert.Equal(t, 1, daily.resets)

	s.Sweep(context.Background())
	assert.Equal(t, 1, daily.resets)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	repo := &recordingSagaRepo{byStatus: map[string][]domain.OrderSaga{}}
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	s := NewScanner(repo, cfg, nil, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Let at least the initial sweep happen, then stop.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scanner did not stop after context cancel")
	}
	assert.GreaterOrEqual(t, len(repo.listCalls), 3)
}
