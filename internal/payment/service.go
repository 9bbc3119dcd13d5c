// Package payment owns the payment state machine: it creates charges against
// a gateway, reconciles confirmations and refunds, retries persistence under
// contention, and fires the approval notification exactly once per
// transaction.
package payment

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hubx/pagamentos/internal/metrics"
	"github.com/hubx/pagamentos/internal/models"
	"github.com/hubx/pagamentos/internal/provider"
	"github.com/hubx/pagamentos/internal/storage"
)

// Notifier dispatches the approval confirmation for a transaction. Delivery
// is fire-and-forget from the payment flow's point of view: failures are
// logged and counted, never propagated.
type Notifier interface {
	NotifyApproval(ctx context.Context, transactionID uuid.UUID) error
}

// Config holds orchestrator tunables
type Config struct {
	// MinAmount is the smallest chargeable amount; checkouts below it are
	// rejected before any gateway call
	MinAmount decimal.Decimal
}

// Service orchestrates payments against one gateway provider
type Service struct {
	store    storage.Store
	provider provider.Provider
	notifier Notifier
	metrics  metrics.Sink
	cfg      Config

	sleep func(time.Duration)
}

// updateBackoff paces retries of the guarded update path; one initial attempt
// plus one retry per backoff step.
var updateBackoff = []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 500 * time.Millisecond}

// NewService creates the payment orchestrator
func NewService(store storage.Store, prov provider.Provider, notifier Notifier, sink metrics.Sink, cfg Config) *Service {
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Service{
		store:    store,
		provider: prov,
		notifier: notifier,
		metrics:  sink,
		cfg:      cfg,
		sleep:    time.Sleep,
	}
}

// InitiatePayment creates a charge for the order and persists the resulting
// transaction together with the synchronized order in one atomic unit of
// work. When the gateway confirms synchronously the approval notification
// fires here.
func (s *Service) InitiatePayment(ctx context.Context, order *models.Order, method models.PaymentMethod, data provider.ChargeData) (*models.Transaction, error) {
	if !models.IsValidMethod(method) {
		return nil, provider.InvalidData("unsupported payment method %q", method)
	}
	if order.Amount.LessThan(s.cfg.MinAmount) {
		return nil, provider.InvalidData("amount %s is below the minimum chargeable amount %s",
			order.Amount.StringFixed(2), s.cfg.MinAmount.StringFixed(2))
	}

	resp, err := s.provider.CreateCharge(ctx, order, method, data)
	if err != nil {
		return nil, err
	}

	status := models.NormalizeStatus(resp.Status)

	tx := &models.Transaction{
		ID:      uuid.New(),
		OrderID: order.ID,
		Amount:  order.Amount,
		Method:  method,
		Status:  status,
		Details: resp.Body,
	}
	if resp.ExternalID != "" {
		extID := resp.ExternalID
		tx.ExternalID = &extID
		order.ExternalID = &extID
	}
	order.Status = models.OrderStatusFor(status)

	if err := s.store.CreateCheckout(ctx, order, tx); err != nil {
		return nil, err
	}

	log.Printf("payment initiated: transaction=%s order=%s method=%s status=%s",
		tx.ID, order.ID, method, status)

	// Some methods confirm synchronously
	if status == models.StatusApproved {
		s.metrics.Increment(metrics.PaymentsApprovedTotal, map[string]string{"method": string(method)})
		s.notify(ctx, tx.ID)
	}

	return tx, nil
}

// ConfirmPayment re-fetches the gateway status for the transaction and
// reconciles local state through the retry-guarded update path. Safe to call
// any number of times for the same transaction.
func (s *Service) ConfirmPayment(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	resp, err := s.provider.Confirm(ctx, tx)
	if err != nil {
		return nil, err
	}

	status := models.NormalizeStatus(resp.Status)
	return s.applyUpdate(ctx, tx, storage.TransactionUpdate{
		Status:     status,
		Details:    resp.Body,
		ExternalID: externalID(resp),
	})
}

// RefundPayment issues a refund and reconciles local state. A successful
// refund call with no status field in the response implies the refund
// happened, so the outcome defaults to refunded.
func (s *Service) RefundPayment(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	resp, err := s.provider.Refund(ctx, tx)
	if err != nil {
		return nil, err
	}

	status := models.StatusRefunded
	if resp.Status != "" {
		status = models.NormalizeStatus(resp.Status)
	}

	updated, err := s.applyUpdate(ctx, tx, storage.TransactionUpdate{
		Status:     status,
		Details:    resp.Body,
		ExternalID: externalID(resp),
	})
	if err != nil {
		return nil, err
	}

	if updated.Status == models.StatusRefunded {
		s.metrics.Increment(metrics.PaymentsRefundedTotal, map[string]string{"method": string(tx.Method)})
	}
	return updated, nil
}

// applyUpdate runs the retry-guarded update: up to four attempts under
// bounded backoff when the store reports lock contention, immediate
// propagation for everything else. The approval notification fires if and
// only if this update is the one that transitioned the transaction into
// approved.
func (s *Service) applyUpdate(ctx context.Context, tx *models.Transaction, update storage.TransactionUpdate) (*models.Transaction, error) {
	var prev models.TransactionStatus
	var err error

	for attempt := 0; ; attempt++ {
		prev, err = s.store.ApplyUpdate(ctx, tx.ID, update)
		if err == nil {
			break
		}
		if !storage.IsContention(err) || attempt >= len(updateBackoff) {
			return nil, err
		}
		log.Printf("transaction update contention: transaction=%s attempt=%d: %v", tx.ID, attempt+1, err)
		s.sleep(updateBackoff[attempt])
	}

	updated, err := s.store.GetTransaction(ctx, tx.ID)
	if err != nil {
		return nil, err
	}

	if prev != models.StatusApproved && updated.Status == models.StatusApproved {
		s.metrics.Increment(metrics.PaymentsApprovedTotal, map[string]string{"method": string(updated.Method)})
		s.notify(ctx, updated.ID)
	}

	return updated, nil
}

// notify enqueues the approval confirmation. Failure never blocks or rolls
// back the payment update.
func (s *Service) notify(ctx context.Context, transactionID uuid.UUID) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyApproval(ctx, transactionID); err != nil {
		log.Printf("approval notification failed: transaction=%s: %v", transactionID, err)
		s.metrics.Increment(metrics.NotificationFailuresTotal, nil)
	}
}

func externalID(resp *provider.Response) *string {
	if resp.ExternalID == "" {
		return nil
	}
	id := resp.ExternalID
	return &id
}
