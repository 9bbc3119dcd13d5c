// Package provider defines the contract between the payment orchestrator and
// the concrete gateway integrations. Adapters translate domain calls into
// gateway HTTP calls and hand back the verbatim response plus the fields the
// orchestrator cares about.
package provider

import (
	"context"
	"encoding/json"

	"github.com/hubx/pagamentos/internal/models"
)

// Response is the normalized outcome of a gateway call. Status carries the
// gateway's own vocabulary; callers map it with models.NormalizeStatus. Body
// is the verbatim response, stored on the transaction for audit.
type Response struct {
	ExternalID string
	Status     string
	Body       json.RawMessage
}

// ChargeData carries the method-specific payment fields collected at checkout
type ChargeData struct {
	Email          string
	Name           string
	DocumentType   string
	DocumentNumber string
	Description    string

	// Card
	CardToken    string
	CardBrand    string // gateway payment_method_id, e.g. "visa", "amex"
	Installments int

	// Boleto / Pix
	BoletoDueDate string
	PixExpiration string
}

// Provider is the capability set every gateway adapter implements
type Provider interface {
	// CreateCharge builds the method-specific payload and creates the charge.
	// Missing required fields fail with InvalidDataError before any network
	// call is made.
	CreateCharge(ctx context.Context, order *models.Order, method models.PaymentMethod, data ChargeData) (*Response, error)

	// Confirm fetches the current gateway status for the transaction by its
	// external id. Fails with InvalidDataError when there is no external id.
	Confirm(ctx context.Context, tx *models.Transaction) (*Response, error)

	// Refund issues a refund/void call for the transaction
	Refund(ctx context.Context, tx *models.Transaction) (*Response, error)

	// QueryStatus is an alias of Confirm for polling-based reconciliation
	QueryStatus(ctx context.Context, tx *models.Transaction) (*Response, error)
}
