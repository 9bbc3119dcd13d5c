// Package mercadopago integrates with the Mercado Pago payments API
// (Pix, card and boleto charges) over plain HTTP.
package mercadopago

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hubx/pagamentos/internal/models"
	"github.com/hubx/pagamentos/internal/provider"
)

// Config holds Mercado Pago API credentials
type Config struct {
	AccessToken string
	PublicKey   string
	BaseURL     string
}

// Provider implements provider.Provider against the Mercado Pago REST API
type Provider struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// New creates a Mercado Pago provider
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mercadopago.com"
	}
	return &Provider{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		now: time.Now,
	}
}

// PublicKey exposes the key the checkout front-end needs for tokenization
func (p *Provider) PublicKey() string {
	return p.cfg.PublicKey
}

// CreateCharge builds the method-specific payload and POSTs /v1/payments
func (p *Provider) CreateCharge(ctx context.Context, order *models.Order, method models.PaymentMethod, data provider.ChargeData) (*provider.Response, error) {
	if p.cfg.AccessToken == "" {
		return nil, provider.Unavailable("mercado pago access token missing", nil)
	}

	var payload map[string]interface{}
	var err error

	switch method {
	case models.MethodPix:
		payload, err = p.buildPixPayload(order, data)
	case models.MethodCard:
		payload, err = p.buildCardPayload(order, data)
	case models.MethodBoleto:
		payload, err = p.buildBoletoPayload(order, data)
	default:
		return nil, provider.InvalidData("payment method %q not supported by mercado pago", method)
	}
	if err != nil {
		return nil, err
	}

	return p.post(ctx, "/v1/payments", payload)
}

// Confirm fetches the current payment status by external id
func (p *Provider) Confirm(ctx context.Context, tx *models.Transaction) (*provider.Response, error) {
	if tx.ExternalID == nil || *tx.ExternalID == "" {
		return nil, provider.InvalidData("transaction has no external id")
	}
	return p.request(ctx, http.MethodGet, "/v1/payments/"+*tx.ExternalID, nil, "")
}

// Refund issues a refund for the payment
func (p *Provider) Refund(ctx context.Context, tx *models.Transaction) (*provider.Response, error) {
	if tx.ExternalID == nil || *tx.ExternalID == "" {
		return nil, provider.InvalidData("transaction has no external id")
	}
	return p.post(ctx, "/v1/payments/"+*tx.ExternalID+"/refunds", map[string]interface{}{})
}

// QueryStatus is an alias of Confirm for polling reconciliation
func (p *Provider) QueryStatus(ctx context.Context, tx *models.Transaction) (*provider.Response, error) {
	return p.Confirm(ctx, tx)
}

func (p *Provider) buildPixPayload(order *models.Order, data provider.ChargeData) (map[string]interface{}, error) {
	payer, err := payerData(data)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"transaction_amount": order.Amount.InexactFloat64(),
		"payment_method_id":  "pix",
		"description":        description(data),
		"payer":              payer,
	}
	if data.PixExpiration != "" {
		expiration, err := NormalizeDateTime(data.PixExpiration)
		if err != nil {
			return nil, err
		}
		payload["date_of_expiration"] = expiration
	}
	return payload, nil
}

func (p *Provider) buildCardPayload(order *models.Order, data provider.ChargeData) (map[string]interface{}, error) {
	if data.CardToken == "" {
		return nil, provider.InvalidData("card token is required")
	}
	brand := strings.TrimSpace(data.CardBrand)
	if brand == "" {
		return nil, provider.InvalidData("card brand is required")
	}
	payer, err := payerData(data)
	if err != nil {
		return nil, err
	}
	installments := data.Installments
	if installments < 1 {
		installments = 1
	}
	return map[string]interface{}{
		"transaction_amount": order.Amount.InexactFloat64(),
		"token":              data.CardToken,
		"installments":       installments,
		"payment_method_id":  brand,
		"payer":              payer,
	}, nil
}

func (p *Provider) buildBoletoPayload(order *models.Order, data provider.ChargeData) (map[string]interface{}, error) {
	if data.BoletoDueDate == "" {
		return nil, provider.InvalidData("boleto due date is required")
	}
	dueDate, err := ParseDateTime(data.BoletoDueDate)
	if err != nil {
		return nil, err
	}
	if !dueDate.After(p.now()) {
		return nil, provider.InvalidData("boleto due date must be in the future")
	}
	payer, err := payerData(data)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"transaction_amount": order.Amount.InexactFloat64(),
		"payment_method_id":  "bolbradesco",
		"payer":              payer,
		"date_of_expiration": FormatDateTime(dueDate),
	}, nil
}

func payerData(data provider.ChargeData) (map[string]interface{}, error) {
	if data.Email == "" {
		return nil, provider.InvalidData("payer email is required")
	}
	first, last := splitName(data.Name)
	docType := data.DocumentType
	if docType == "" {
		docType = "CPF"
	}
	return map[string]interface{}{
		"email":      data.Email,
		"first_name": first,
		"last_name":  last,
		"identification": map[string]interface{}{
			"type":   docType,
			"number": data.DocumentNumber,
		},
	}, nil
}

// splitName breaks a full name at the first space; a single name doubles as
// the surname so the gateway never receives an empty field.
func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], parts[0]
	}
	return parts[0], parts[1]
}

func description(data provider.ChargeData) string {
	if data.Description != "" {
		return data.Description
	}
	return "Pagamento Hubx"
}

func (p *Provider) post(ctx context.Context, path string, payload map[string]interface{}) (*provider.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return p.request(ctx, http.MethodPost, path, body, uuid.New().String())
}

func (p *Provider) request(ctx context.Context, method, path string, body []byte, idempotencyKey string) (*provider.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, provider.Unavailable("mercado pago request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Unavailable("failed to read mercado pago response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.Unavailable(
			fmt.Sprintf("mercado pago returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	return parseResponse(respBody)
}

// parseResponse extracts the gateway id and status from a response body.
// Mercado Pago ids are numeric in JSON.
func parseResponse(body []byte) (*provider.Response, error) {
	var decoded map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, provider.Unavailable("invalid response from mercado pago", err)
	}

	resp := &provider.Response{Body: json.RawMessage(body)}
	switch id := decoded["id"].(type) {
	case string:
		resp.ExternalID = id
	case json.Number:
		resp.ExternalID = id.String()
	}
	if status, ok := decoded["status"].(string); ok {
		resp.Status = status
	}
	return resp, nil
}
