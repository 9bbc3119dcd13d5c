package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

// TransactionStatus represents valid transaction states
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusApproved TransactionStatus = "approved"
	StatusRefunded TransactionStatus = "refunded"
	StatusFailed   TransactionStatus = "failed"
)

// PaymentMethod identifies how a charge is collected
type PaymentMethod string

const (
	MethodPix    PaymentMethod = "pix"
	MethodCard   PaymentMethod = "card"
	MethodBoleto PaymentMethod = "boleto"
	MethodPayPal PaymentMethod = "paypal"
)

// IsValidMethod reports whether m is a known payment method
func IsValidMethod(m PaymentMethod) bool {
	switch m {
	case MethodPix, MethodCard, MethodBoleto, MethodPayPal:
		return true
	}
	return false
}

// Order is the customer-facing financial record for one checkout intent.
// It is never deleted; its status is always derived from the most recently
// reconciled transaction.
type Order struct {
	ID         uuid.UUID       `db:"id"`
	Amount     decimal.Decimal `db:"amount"`
	Status     OrderStatus     `db:"status"`
	ExternalID *string         `db:"external_id"`
	Email      *string         `db:"email"`
	Name       *string         `db:"name"`
	Document   *string         `db:"document"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// Transaction is one attempt at charging for an order. An order may have
// multiple transactions; they form an append-only ledger of attempts.
type Transaction struct {
	ID         uuid.UUID         `db:"id"`
	OrderID    uuid.UUID         `db:"order_id"`
	Amount     decimal.Decimal   `db:"amount"`
	Method     PaymentMethod     `db:"method"`
	Status     TransactionStatus `db:"status"`
	ExternalID *string           `db:"external_id"`
	Details    []byte            `db:"details"` // JSONB, verbatim last gateway response
	CreatedAt  time.Time         `db:"created_at"`
	UpdatedAt  time.Time         `db:"updated_at"`
}

// NormalizeStatus maps a raw gateway status string into the four-value local
// vocabulary. Anything unrecognized maps to pending so an unknown status can
// never prematurely close a transaction.
func NormalizeStatus(raw string) TransactionStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "paid", "completed", "captured":
		return StatusApproved
	case "refunded", "cancelled", "voided":
		return StatusRefunded
	case "rejected", "failed", "declined":
		return StatusFailed
	default:
		return StatusPending
	}
}

// OrderStatusFor derives the parent order's status from a transaction status
func OrderStatusFor(status TransactionStatus) OrderStatus {
	switch status {
	case StatusApproved:
		return OrderPaid
	case StatusRefunded:
		return OrderCancelled
	default:
		return OrderPending
	}
}

// IsValidTransition checks if a status transition is allowed. Re-applying the
// same status is not a transition and is handled upstream as a no-op.
func IsValidTransition(from, to TransactionStatus) bool {
	validTransitions := map[TransactionStatus][]TransactionStatus{
		StatusPending:  {StatusApproved, StatusFailed, StatusRefunded},
		StatusApproved: {StatusRefunded},
		// No transitions allowed from terminal states
		StatusRefunded: {},
		StatusFailed:   {},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}

	for _, validTo := range allowed {
		if validTo == to {
			return true
		}
	}

	return false
}

// details returns the parsed details blob, or nil when absent or malformed
func (t *Transaction) details() map[string]interface{} {
	if len(t.Details) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(t.Details, &m); err != nil {
		return nil
	}
	return m
}

func (t *Transaction) pixTransactionData() map[string]interface{} {
	poi, _ := t.details()["point_of_interaction"].(map[string]interface{})
	data, _ := poi["transaction_data"].(map[string]interface{})
	return data
}

// PixQRCode returns the copy-and-paste Pix code from the gateway response
func (t *Transaction) PixQRCode() string {
	s, _ := t.pixTransactionData()["qr_code"].(string)
	return s
}

// PixQRCodeBase64 returns the rendered Pix QR image from the gateway response
func (t *Transaction) PixQRCodeBase64() string {
	s, _ := t.pixTransactionData()["qr_code_base64"].(string)
	return s
}

// BoletoURL returns the printable boleto location
func (t *Transaction) BoletoURL() string {
	td, _ := t.details()["transaction_details"].(map[string]interface{})
	s, _ := td["external_resource_url"].(string)
	return s
}

// BoletoExpiration returns the boleto due timestamp as sent by the gateway
func (t *Transaction) BoletoExpiration() string {
	s, _ := t.details()["date_of_expiration"].(string)
	return s
}

// PayPalApprovalURL returns the payer-facing approval link for a PayPal order
func (t *Transaction) PayPalApprovalURL() string {
	if t.Method != MethodPayPal {
		return ""
	}
	links, _ := t.details()["links"].([]interface{})
	for _, raw := range links {
		link, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if rel, _ := link["rel"].(string); rel == "approve" {
			href, _ := link["href"].(string)
			return href
		}
	}
	return ""
}

// PayPalCaptureID digs the capture id out of the stored create-order response.
// Refunds go against the capture, not the order.
func (t *Transaction) PayPalCaptureID() string {
	units, _ := t.details()["purchase_units"].([]interface{})
	if len(units) == 0 {
		return ""
	}
	unit, _ := units[0].(map[string]interface{})
	payments, _ := unit["payments"].(map[string]interface{})
	captures, _ := payments["captures"].([]interface{})
	if len(captures) == 0 {
		return ""
	}
	capture, _ := captures[0].(map[string]interface{})
	id, _ := capture["id"].(string)
	return id
}
