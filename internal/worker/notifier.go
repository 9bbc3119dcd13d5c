package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// TypeApprovalNotification is the task processed when a transaction
	// transitions into approved
	TypeApprovalNotification = "notification:payment_approved"

	notificationQueue = "notifications"
)

// approvalPayload is the task body for an approval notification
type approvalPayload struct {
	TransactionID uuid.UUID `json:"transaction_id"`
}

// NewApprovalTask builds the approval notification task
func NewApprovalTask(transactionID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(approvalPayload{TransactionID: transactionID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal approval payload: %w", err)
	}
	return asynq.NewTask(TypeApprovalNotification, payload), nil
}

// Enqueuer implements payment.Notifier by handing approval notifications to
// the queue. The payment flow only pays the cost of an enqueue; delivery
// failures live in the worker's failure domain.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer creates a queue-backed notifier
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// NotifyApproval enqueues the approval notification for a transaction
func (e *Enqueuer) NotifyApproval(ctx context.Context, transactionID uuid.UUID) error {
	task, err := NewApprovalTask(transactionID)
	if err != nil {
		return err
	}

	info, err := e.client.EnqueueContext(ctx, task, asynq.Queue(notificationQueue), asynq.MaxRetry(3))
	if err != nil {
		return fmt.Errorf("failed to enqueue approval notification: %w", err)
	}

	log.Printf("approval notification queued: transaction=%s task=%s", transactionID, info.ID)
	return nil
}
