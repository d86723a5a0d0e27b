package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/pkg/database"
	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
)

// isUniqueViolation reports whether the error is a PostgreSQL unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const sagaColumns = `id, order_id, status, current_step, failure_reason,
	step_history, version, started_at, completed_at, updated_at`

// SagaRepository implements repository.SagaRepository using PostgreSQL. The
// step history lives in a JSONB column; each write replaces the whole array,
// guarded by the optimistic version check.
type SagaRepository struct {
	db database.DBTX
}

// NewSagaRepository creates a new PostgreSQL-backed saga repository.
func NewSagaRepository(db database.DBTX) *SagaRepository {
	return &SagaRepository{db: db}
}

const sagaInsertQuery = `
	INSERT INTO order_sagas (` + sagaColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func sagaInsertArgs(saga *domain.OrderSaga) ([]any, error) {
	historyJSON, err := json.Marshal(saga.StepHistory)
	if err != nil {
		return nil, fmt.Errorf("marshal step history: %w", err)
	}
	return []any{
		saga.ID, saga.OrderID, saga.Status, saga.CurrentStep, saga.FailureReason,
		historyJSON, saga.Version, saga.StartedAt, saga.CompletedAt, saga.UpdatedAt,
	}, nil
}

// Create inserts a new saga.
func (r *SagaRepository) Create(ctx context.Context, saga *domain.OrderSaga) error {
	args, err := sagaInsertArgs(saga)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, sagaInsertQuery, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("saga", "order_id", saga.OrderID)
		}
		return fmt.Errorf("insert saga: %w", err)
	}
	return nil
}

// CreateOrderAndSaga inserts the order and its saga in one transaction so an
// accepted order can never exist without its saga. A duplicate on either
// insert rolls back both.
func (r *SagaRepository) CreateOrderAndSaga(ctx context.Context, order *domain.Order, saga *domain.OrderSaga) error {
	oArgs, err := orderArgs(order)
	if err != nil {
		return err
	}
	sArgs, err := sagaInsertArgs(saga)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, orderInsertQuery, oArgs...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("order", "order_number", order.OrderNumber)
		}
		return fmt.Errorf("insert order in tx: %w", err)
	}
	if _, err := tx.Exec(ctx, sagaInsertQuery, sArgs...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("saga", "order_id", saga.OrderID)
		}
		return fmt.Errorf("insert saga in tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit order+saga insert: %w", err)
	}
	return nil
}

// GetByID retrieves a saga by its ID.
func (r *SagaRepository) GetByID(ctx context.Context, id string) (*domain.OrderSaga, error) {
	query := `SELECT ` + sagaColumns + ` FROM order_sagas WHERE id = $1`
	return r.scanSaga(r.db.QueryRow(ctx, query, id))
}

// GetByOrderID retrieves the saga belonging to an order.
func (r *SagaRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.OrderSaga, error) {
	query := `SELECT ` + sagaColumns + ` FROM order_sagas WHERE order_id = $1`
	return r.scanSaga(r.db.QueryRow(ctx, query, orderID))
}

const sagaUpdateQuery = `
	UPDATE order_sagas
	SET status = $1, current_step = $2, failure_reason = $3,
		step_history = $4, completed_at = $5, updated_at = $6,
		version = version + 1
	WHERE id = $7 AND version = $8`

// Update writes the saga conditioned on its stored version.
func (r *SagaRepository) Update(ctx context.Context, saga *domain.OrderSaga) error {
	historyJSON, err := json.Marshal(saga.StepHistory)
	if err != nil {
		return fmt.Errorf("marshal step history: %w", err)
	}
	saga.UpdatedAt = time.Now().UTC()

	ct, err := r.db.Exec(ctx, sagaUpdateQuery,
		saga.Status, saga.CurrentStep, saga.FailureReason,
		historyJSON, saga.CompletedAt, saga.UpdatedAt,
		saga.ID, saga.Version,
	)
	if err != nil {
		return fmt.Errorf("update saga: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.VersionConflict("saga", saga.ID)
	}
	saga.Version++
	return nil
}

// UpdateOrderAndSaga writes both aggregates in one transaction, each
// conditioned on its stored version. A mismatch on either rolls back both
// writes and returns apperrors.ErrVersionConflict, which the orchestrator
// treats as a duplicate trigger already applied by a concurrent worker.
func (r *SagaRepository) UpdateOrderAndSaga(ctx context.Context, order *domain.Order, saga *domain.OrderSaga) error {
	historyJSON, err := json.Marshal(saga.StepHistory)
	if err != nil {
		return fmt.Errorf("marshal step history: %w", err)
	}

	now := time.Now().UTC()
	order.UpdatedAt = now
	saga.UpdatedAt = now

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	oArgs, err := orderUpdateArgs(order)
	if err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, orderUpdateQuery, oArgs...)
	if err != nil {
		return fmt.Errorf("update order in tx: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.VersionConflict("order", order.ID)
	}

	ct, err = tx.Exec(ctx, sagaUpdateQuery,
		saga.Status, saga.CurrentStep, saga.FailureReason,
		historyJSON, saga.CompletedAt, saga.UpdatedAt,
		saga.ID, saga.Version,
	)
	if err != nil {
		return fmt.Errorf("update saga in tx: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.VersionConflict("saga", saga.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit order+saga update: %w", err)
	}

	order.Version++
	saga.Version++
	return nil
}

// ListByStatusOlderThan returns sagas in the given status last updated before
// the cutoff, oldest first.
func (r *SagaRepository) ListByStatusOlderThan(ctx context.Context, status string, cutoff time.Time, limit int) ([]domain.OrderSaga, error) {
	query := `
		SELECT ` + sagaColumns + `
		FROM order_sagas
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list sagas by status: %w", err)
	}
	defer rows.Close()

	var sagas []domain.OrderSaga
	for rows.Next() {
		saga, err := r.scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saga row: %w", err)
		}
		sagas = append(sagas, *saga)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saga rows: %w", err)
	}
	if sagas == nil {
		sagas = []domain.OrderSaga{}
	}
	return sagas, nil
}

// CountTerminalOlderThan counts terminal sagas completed before the cutoff.
func (r *SagaRepository) CountTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM order_sagas
		WHERE status IN ('completed', 'compensated', 'failed', 'compensation_failed')
			AND completed_at < $1`

	var count int
	if err := r.db.QueryRow(ctx, query, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("count terminal sagas: %w", err)
	}
	return count, nil
}

// scanSaga reads one saga row. pgx.Row and pgx.Rows share the Scan signature.
func (r *SagaRepository) scanSaga(row pgx.Row) (*domain.OrderSaga, error) {
	var (
		saga        domain.OrderSaga
		historyJSON []byte
	)

	err := row.Scan(
		&saga.ID, &saga.OrderID, &saga.Status, &saga.CurrentStep, &saga.FailureReason,
		&historyJSON, &saga.Version, &saga.StartedAt, &saga.CompletedAt, &saga.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan saga: %w", err)
	}

	if err := json.Unmarshal(historyJSON, &saga.StepHistory); err != nil {
		return nil, fmt.Errorf("unmarshal step history: %w", err)
	}
	return &saga, nil
}
