// Package storage persists orders and transactions. All mutations that touch
// a transaction and its parent order happen inside one database transaction;
// partial writes are never observable.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hubx/pagamentos/internal/models"
)

// TransactionUpdate describes a status reconciliation for one transaction
type TransactionUpdate struct {
	Status  models.TransactionStatus
	Details []byte
	// ExternalID is set when the gateway assigned an id the local record
	// does not know yet
	ExternalID *string
}

// TransactionWithOrder joins a transaction to its parent order for listings
type TransactionWithOrder struct {
	Transaction models.Transaction
	Order       models.Order
}

// NotificationAttempt is one delivery attempt against the notification service
type NotificationAttempt struct {
	TransactionID  uuid.UUID
	AttemptNumber  int
	URL            string
	Payload        []byte
	StatusCode     int
	ResponseBody   string
	ResponseTimeMs int64
	Success        bool
}

// Store is the persistence contract the orchestrator depends on
type Store interface {
	// CreateCheckout inserts the order and its first transaction in one
	// atomic unit of work
	CreateCheckout(ctx context.Context, order *models.Order, tx *models.Transaction) error

	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)

	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)

	// FindTransactionByExternalID looks up the transaction matching a gateway
	// id. Not found is a normal outcome, reported by the bool, not an error.
	FindTransactionByExternalID(ctx context.Context, externalID string) (*models.Transaction, bool, error)

	// ApplyUpdate updates the transaction and synchronizes the parent order
	// in one atomic unit of work, optionally under a row lock. It returns the
	// transaction's status as observed before the update. Transitions out of
	// a terminal state are ignored: the stored state is left untouched and
	// the previous status is still returned.
	ApplyUpdate(ctx context.Context, txID uuid.UUID, update TransactionUpdate) (models.TransactionStatus, error)

	ListTransactions(ctx context.Context, statuses []models.TransactionStatus) ([]TransactionWithOrder, error)

	RecordNotificationAttempt(ctx context.Context, attempt NotificationAttempt) error
}

// ErrNotFound is returned by the Get accessors when no row matches
var ErrNotFound = errors.New("record not found")

// Contention SQLSTATEs retried by the orchestrator. Connection loss and every
// other error class propagate immediately.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateLockNotAvailable     = "55P03"
)

// IsContention reports whether err is a transient locking/serialization
// failure worth retrying with backoff
func IsContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case sqlstateSerializationFailure, sqlstateDeadlockDetected, sqlstateLockNotAvailable:
		return true
	}
	return false
}

// touch stamps updated_at on records mutated outside SQL defaults
func touch() time.Time {
	return time.Now().UTC()
}
