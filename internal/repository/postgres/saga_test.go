package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/pkg/database"
	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
)

func newSagaRepo(t *testing.T) (*SagaRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewSagaRepository(mock), mock
}

func sampleSaga(orderID string) *domain.OrderSaga {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.OrderSaga{
		ID:          "9c1d2e3f-aaaa-4bbb-8ccc-dddeeefff000",
		OrderID:     orderID,
		Status:      domain.SagaStatusInProgress,
		CurrentStep: domain.StepStockReservation,
		StepHistory: []domain.StepEntry{},
		Version:     1,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

func sagaRowColumns() []string {
	return []string{
		"id", "order_id", "status", "current_step", "failure_reason",
		"step_history", "version", "started_at", "completed_at", "updated_at",
	}
}

func sagaRow(t *testing.T, s *domain.OrderSaga) []any {
	t.Helper()
	historyJSON, err := json.Marshal(s.StepHistory)
	require.NoError(t, err)
	return []any{
		s.ID, s.OrderID, s.Status, s.CurrentStep, s.FailureReason,
		historyJSON, s.Version, s.StartedAt, s.CompletedAt, s.UpdatedAt,
	}
}

func TestSagaRepository_Create_Success(t *testing.T) {
	repo, mock := newSagaRepo(t)
	defer mock.Close()

	s := sampleSaga("order-001")
	historyJSON, err := json.Marshal(s.StepHistory)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO order_sagas").
		WithArgs(
			s.ID, s.OrderID, s.Status, s.CurrentStep, s.FailureReason,
			historyJSON, s.Version, s.StartedAt, s.CompletedAt, s.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepository_CreateOrderAndSaga_Success(t *testing.T) {
	repo, mock := newSagaRepo(t)
	defer mock.Close()

	o := sampleOrder()
	s := sampleSaga(o.ID)
	sArgs, err := sagaInsertArgs(s)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(mustOrderArgs(t, o)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO order_sagas").
		WithArgs(sArgs...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateOrderAndSaga(context.Background(), o, s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepository_CreateOrderAndSaga_DuplicateSagaRollsBack(t *testing.T) {
	repo, mock := newSagaRepo(t)
	defer mock.Close()

	o := sampleOrder()
	s := sampleSaga(o.ID)
	sArgs, err := sagaInsertArgs(s)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(mustOrderArgs(t, o)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO order_sagas").
		WithArgs(sArgs...).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err = repo.CreateOrderAndSaga(context.Background(), o, s)
	assert.True(t, stderrors.Is(err, apperrors.ErrAlreadyExists))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepository_GetByOrderID_Success(t *testing.T) {
	repo, mock := newSagaRepo(t)
	defer mock.Close()

	s := sampleSaga("order-001")
	idx := s.BeginStep(domain.StepStockReservation)
	s.CompleteStep(idx, domain.StepPaymentVerify)

	rows := pgxmock.NewRows(sagaRowColumns()).AddRow(sagaRow(t, s)...)
	mock.ExpectQuery("SELECT .+ FROM order_sagas WHERE order_id").
		WithArgs(s.OrderID).
		WillReturnRows(rows)

	got, err := repo.GetByOrderID(context.Background(), s.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepPaymentVerify, got.CurrentStep)
	require.Len(t, got.StepHistory, 1)
	assert.Equal(t, domain.StepStatusSuccess, got.StepHistory[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newSagaRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM order_sagas WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(sagaRowColumns()))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.True(t, stderrors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepository_Update_VersionConflict(t *testing.T) {
	repo, mock := newSagaRepo(t)
	defer mock.Close()

	s := sampleSaga("order-001")

	mock.ExpectExec("UPDATE order_sagas").
		WithArgs(
			s.Status, s.CurrentStep, s.FailureReason,
			pgxmock.AnyArg(), s.CompletedAt, pgxmock.AnyArg(),
			s.ID, 1,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), s)
	assert.True(t, stderrors.Is(err, apperrors.ErrVersionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepository_UpdateOrderAndSaga_Success(t *testing.T) {
	repo, mock := newSagaRepo(t)
	defer mock.Close()

	o := sampleOrder()
	s := sampleSaga(o.ID)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").
		WithArgs(
			o.PGProvider, o.PaymentID, o.PaymentKey,
			o.DepartureDeadline, o.EstimatedDeliveryAt,
			o.ReservationID, pgxmock.AnyArg(), o.ProductHubID, o.DestinationHubID,
			o.HubDeliveryID, o.LastMileDeliveryID, o.AssignedDriverID,
			o.Status, o.CancelReason, o.CancelledAt,
			o.Deleted, pgxmock.AnyArg(),
			o.ID, 1,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE order_sagas").
		WithArgs(
			s.Status, s.CurrentStep, s.FailureReason,
			pgxmock.AnyArg(), s.CompletedAt, pgxmock.AnyArg(),
			s.ID, 1,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateOrderAndSaga(context.Background(), o, s))
	assert.Equal(t, 2, o.Version)
	assert.Equal(t, 2, s.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepository_UpdateOrderAndSaga_OrderConflictRollsBack(t *testing.T) {
	repo, mock := newSagaRepo(t)
	defer mock.Close()

	o := sampleOrder()
	s := sampleSaga(o.ID)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").
		WithArgs(
			o.PGProvider, o.PaymentID, o.PaymentKey,
			o.DepartureDeadline, o.EstimatedDeliveryAt,
			o.ReservationID, pgxmock.AnyArg(), o.ProductHubID, o.DestinationHubID,
			o.HubDeliveryID, o.LastMileDeliveryID, o.AssignedDriverID,
			o.Status, o.CancelReason, o.CancelledAt,
			o.Deleted, pgxmock.AnyArg(),
			o.ID, 1,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.UpdateOrderAndSaga(context.Background(), o, s)
	assert.True(t, stderrors.Is(err, apperrors.ErrVersionConflict))
	assert.Equal(t, 1, o.Version)
	assert.Equal(t, 1, s.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepository_ListByStatusOlderThan(t *testing.T) {
	repo, mock := newSagaRepo(t)
	defer mock.Close()

	s := sampleSaga("order-001")
	s.Status = domain.SagaStatusCompensating
	cutoff := time.Now().UTC()

	rows := pgxmock.NewRows(sagaRowColumns()).AddRow(sagaRow(t, s)...)
	mock.ExpectQuery("SELECT .+ FROM order_sagas\\s+WHERE status").
		WithArgs(domain.SagaStatusCompensating, cutoff, 100).
		WillReturnRows(rows)

	sagas, err := repo.ListByStatusOlderThan(context.Background(), domain.SagaStatusCompensating, cutoff, 100)
	require.NoError(t, err)
	require.Len(t, sagas, 1)
	assert.Equal(t, s.ID, sagas[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepository_CountTerminalOlderThan(t *testing.T) {
	repo, mock := newSagaRepo(t)
	defer mock.Close()

	cutoff := time.Now().UTC()
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.CountTerminalOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
