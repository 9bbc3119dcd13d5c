package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hubx/pagamentos/internal/models"
)

// Postgres implements Store over a pgx connection pool
type Postgres struct {
	pool *pgxpool.Pool

	// rowLocks controls SELECT ... FOR UPDATE on the update path. Locking is
	// an optimization to reduce races, not a correctness requirement.
	rowLocks bool
}

// NewPostgres creates a Postgres-backed store
func NewPostgres(pool *pgxpool.Pool, rowLocks bool) *Postgres {
	return &Postgres{pool: pool, rowLocks: rowLocks}
}

func (s *Postgres) CreateCheckout(ctx context.Context, order *models.Order, tx *models.Transaction) error {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	insertOrder := `
		INSERT INTO orders (id, amount, status, external_id, email, name, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	now := touch()
	order.CreatedAt = now
	order.UpdatedAt = now
	_, err = dbTx.Exec(ctx, insertOrder,
		order.ID, order.Amount, order.Status, order.ExternalID,
		order.Email, order.Name, order.Document, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	insertTx := `
		INSERT INTO transactions (id, order_id, amount, method, status, external_id, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	tx.CreatedAt = now
	tx.UpdatedAt = now
	_, err = dbTx.Exec(ctx, insertTx,
		tx.ID, tx.OrderID, tx.Amount, tx.Method, tx.Status, tx.ExternalID, tx.Details, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit checkout: %w", err)
	}
	return nil
}

const transactionColumns = `id, order_id, amount, method, status, external_id, details, created_at, updated_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.ID, &tx.OrderID, &tx.Amount, &tx.Method, &tx.Status,
		&tx.ExternalID, &tx.Details, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Postgres) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err := scanTransaction(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	return tx, nil
}

func (s *Postgres) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	query := `
		SELECT id, amount, status, external_id, email, name, document, created_at, updated_at
		FROM orders WHERE id = $1
	`
	var order models.Order
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&order.ID, &order.Amount, &order.Status, &order.ExternalID,
		&order.Email, &order.Name, &order.Document, &order.CreatedAt, &order.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}
	return &order, nil
}

func (s *Postgres) FindTransactionByExternalID(ctx context.Context, externalID string) (*models.Transaction, bool, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_id = $1 ORDER BY created_at DESC LIMIT 1`
	tx, err := scanTransaction(s.pool.QueryRow(ctx, query, externalID))
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up transaction by external id: %w", err)
	}
	return tx, true, nil
}

func (s *Postgres) ApplyUpdate(ctx context.Context, txID uuid.UUID, update TransactionUpdate) (models.TransactionStatus, error) {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	selectTx := `SELECT status, external_id, order_id FROM transactions WHERE id = $1`
	if s.rowLocks {
		selectTx += ` FOR UPDATE`
	}

	var prev models.TransactionStatus
	var txExternalID *string
	var orderID uuid.UUID
	err = dbTx.QueryRow(ctx, selectTx, txID).Scan(&prev, &txExternalID, &orderID)
	if err == pgx.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock transaction: %w", err)
	}

	// Terminal states never move backwards; a failed charge is retried as a
	// new transaction, never mutated in place.
	if prev != update.Status && !models.IsValidTransition(prev, update.Status) {
		return prev, dbTx.Commit(ctx)
	}

	newExternalID := txExternalID
	if update.ExternalID != nil && *update.ExternalID != "" {
		newExternalID = update.ExternalID
	}

	now := touch()
	updateTx := `UPDATE transactions SET status = $1, details = $2, external_id = $3, updated_at = $4 WHERE id = $5`
	if _, err := dbTx.Exec(ctx, updateTx, update.Status, update.Details, newExternalID, now, txID); err != nil {
		return "", fmt.Errorf("failed to update transaction: %w", err)
	}

	if err := s.syncOrder(ctx, dbTx, orderID, update.Status, newExternalID, now); err != nil {
		return "", err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit update: %w", err)
	}
	return prev, nil
}

// syncOrder recomputes the parent order's status from the transaction status
// and records a newly known gateway id, writing only fields that changed.
func (s *Postgres) syncOrder(ctx context.Context, dbTx pgx.Tx, orderID uuid.UUID, txStatus models.TransactionStatus, externalID *string, now time.Time) error {
	var orderStatus models.OrderStatus
	var orderExternalID *string
	selectOrder := `SELECT status, external_id FROM orders WHERE id = $1`
	if s.rowLocks {
		selectOrder += ` FOR UPDATE`
	}
	if err := dbTx.QueryRow(ctx, selectOrder, orderID).Scan(&orderStatus, &orderExternalID); err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}

	wantStatus := models.OrderStatusFor(txStatus)
	statusChanged := orderStatus != wantStatus
	externalChanged := externalID != nil && *externalID != "" &&
		(orderExternalID == nil || *orderExternalID == "")

	switch {
	case statusChanged && externalChanged:
		_, err := dbTx.Exec(ctx,
			`UPDATE orders SET status = $1, external_id = $2, updated_at = $3 WHERE id = $4`,
			wantStatus, externalID, now, orderID)
		if err != nil {
			return fmt.Errorf("failed to sync order: %w", err)
		}
	case statusChanged:
		_, err := dbTx.Exec(ctx,
			`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
			wantStatus, now, orderID)
		if err != nil {
			return fmt.Errorf("failed to sync order status: %w", err)
		}
	case externalChanged:
		_, err := dbTx.Exec(ctx,
			`UPDATE orders SET external_id = $1, updated_at = $2 WHERE id = $3`,
			externalID, now, orderID)
		if err != nil {
			return fmt.Errorf("failed to sync order external id: %w", err)
		}
	}
	return nil
}

func (s *Postgres) ListTransactions(ctx context.Context, statuses []models.TransactionStatus) ([]TransactionWithOrder, error) {
	query := `
		SELECT t.id, t.order_id, t.amount, t.method, t.status, t.external_id, t.details, t.created_at, t.updated_at,
		       o.id, o.amount, o.status, o.external_id, o.email, o.name, o.document, o.created_at, o.updated_at
		FROM transactions t
		JOIN orders o ON o.id = t.order_id
		WHERE t.status = ANY($1)
		ORDER BY t.created_at DESC
	`
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, query, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var result []TransactionWithOrder
	for rows.Next() {
		var item TransactionWithOrder
		err := rows.Scan(
			&item.Transaction.ID, &item.Transaction.OrderID, &item.Transaction.Amount,
			&item.Transaction.Method, &item.Transaction.Status, &item.Transaction.ExternalID,
			&item.Transaction.Details, &item.Transaction.CreatedAt, &item.Transaction.UpdatedAt,
			&item.Order.ID, &item.Order.Amount, &item.Order.Status, &item.Order.ExternalID,
			&item.Order.Email, &item.Order.Name, &item.Order.Document,
			&item.Order.CreatedAt, &item.Order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (s *Postgres) RecordNotificationAttempt(ctx context.Context, attempt NotificationAttempt) error {
	insertSQL := `
		INSERT INTO notification_attempts (
			transaction_id, attempt_number, url, request_payload,
			response_status_code, response_body, response_time_ms, success
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, insertSQL,
		attempt.TransactionID, attempt.AttemptNumber, attempt.URL, attempt.Payload,
		attempt.StatusCode, attempt.ResponseBody, attempt.ResponseTimeMs, attempt.Success,
	)
	if err != nil {
		return fmt.Errorf("failed to record notification attempt: %w", err)
	}
	return nil
}
