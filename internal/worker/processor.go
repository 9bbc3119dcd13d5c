// Package worker processes queued approval notifications: it builds the
// receipt payload for an approved transaction and delivers it to the
// notification service, recording every attempt for audit.
package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hubx/pagamentos/internal/models"
	"github.com/hubx/pagamentos/internal/storage"
)

// ProcessorConfig holds notification delivery settings
type ProcessorConfig struct {
	// NotificationURL is the endpoint of the e-mail/notification service
	NotificationURL string
	// Secret signs the delivered payload (HMAC-SHA256, X-Signature header)
	Secret string
}

// Processor handles background notification delivery
type Processor struct {
	store  storage.Store
	cfg    ProcessorConfig
	client *http.Client
}

// NewProcessor creates a notification processor
func NewProcessor(store storage.Store, cfg ProcessorConfig) *Processor {
	return &Processor{
		store: store,
		cfg:   cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
	}
}

// ProcessApprovalNotification delivers the approval receipt for one
// transaction. Returning an error hands the task back to Asynq for retry;
// payment state is never touched from here.
func (p *Processor) ProcessApprovalNotification(ctx context.Context, t *asynq.Task) error {
	var payload approvalPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal approval payload: %w", err)
	}

	tx, err := p.store.GetTransaction(ctx, payload.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to load transaction %s: %w", payload.TransactionID, err)
	}

	// The transaction may have moved on (e.g. refunded) between the
	// transition and this delivery; a receipt for it would be wrong.
	if tx.Status != models.StatusApproved {
		log.Printf("skipping notification: transaction=%s status=%s", tx.ID, tx.Status)
		return nil
	}

	order, err := p.store.GetOrder(ctx, tx.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", tx.OrderID, err)
	}

	body, err := json.Marshal(receiptPayload(tx, order))
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	attempt, _ := asynq.GetRetryCount(ctx)
	success, statusCode, responseBody, elapsed := p.deliver(ctx, body)

	p.recordAttempt(ctx, tx, attempt+1, body, success, statusCode, responseBody, elapsed)

	if !success {
		return fmt.Errorf("notification delivery failed with status %d: %s", statusCode, responseBody)
	}

	log.Printf("approval notification delivered: transaction=%s", tx.ID)
	return nil
}

// receiptPayload is what the notification service receives
func receiptPayload(tx *models.Transaction, order *models.Order) map[string]interface{} {
	payload := map[string]interface{}{
		"transaction_id": tx.ID,
		"order_id":       order.ID,
		"amount":         tx.Amount.StringFixed(2),
		"method":         tx.Method,
		"status":         tx.Status,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if order.Email != nil {
		payload["email"] = *order.Email
	}
	if order.Name != nil {
		payload["name"] = *order.Name
	}
	return payload
}

// deliver performs the actual HTTP POST
func (p *Processor) deliver(ctx context.Context, payload []byte) (bool, int, string, int64) {
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.NotificationURL, bytes.NewReader(payload))
	if err != nil {
		return false, 0, err.Error(), 0
	}

	req.Header.Set("Content-Type", "application/json")
	if p.cfg.Secret != "" {
		req.Header.Set("X-Signature", sign(payload, []byte(p.cfg.Secret)))
	}

	resp, err := p.client.Do(req)
	elapsed := time.Since(startTime).Milliseconds()

	if err != nil {
		return false, 0, err.Error(), elapsed
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	return success, resp.StatusCode, string(body), elapsed
}

func (p *Processor) recordAttempt(ctx context.Context, tx *models.Transaction, attemptNum int, payload []byte, success bool, statusCode int, responseBody string, elapsed int64) {
	err := p.store.RecordNotificationAttempt(ctx, storage.NotificationAttempt{
		TransactionID:  tx.ID,
		AttemptNumber:  attemptNum,
		URL:            p.cfg.NotificationURL,
		Payload:        payload,
		StatusCode:     statusCode,
		ResponseBody:   responseBody,
		ResponseTimeMs: elapsed,
		Success:        success,
	})
	if err != nil {
		log.Printf("failed to record notification attempt: %v", err)
	}
}

// sign creates an HMAC-SHA256 hex signature
func sign(payload, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
