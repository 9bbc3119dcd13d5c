// Package paypal integrates with the PayPal Orders v2 REST API. Charges are
// capture-intent orders; refunds go against the capture recorded on the
// stored transaction details.
package paypal

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hubx/pagamentos/internal/models"
	"github.com/hubx/pagamentos/internal/provider"
)

// Config holds PayPal client-credentials and currency settings
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Currency     string
}

// Provider implements provider.Provider against the PayPal REST API.
// The OAuth access token is fetched lazily and cached with thread-safe access.
type Provider struct {
	cfg    Config
	client *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// tokenResponse represents the PayPal OAuth response
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// New creates a PayPal provider
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-m.sandbox.paypal.com"
	}
	if cfg.Currency == "" {
		cfg.Currency = "BRL"
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
	}
}

// CreateCharge creates a capture-intent order
func (p *Provider) CreateCharge(ctx context.Context, order *models.Order, method models.PaymentMethod, data provider.ChargeData) (*provider.Response, error) {
	if method != models.MethodPayPal {
		return nil, provider.InvalidData("payment method %q not supported by paypal", method)
	}

	payer, err := payerData(data)
	if err != nil {
		return nil, err
	}

	desc := data.Description
	if desc == "" {
		desc = "Pagamento Hubx"
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": order.ID.String(),
				"amount": map[string]interface{}{
					"currency_code": p.cfg.Currency,
					"value":         order.Amount.StringFixed(2),
				},
				"description": desc,
			},
		},
		"payer": payer,
	}

	return p.post(ctx, "/v2/checkout/orders", payload)
}

// Confirm fetches the current order state by external id
func (p *Provider) Confirm(ctx context.Context, tx *models.Transaction) (*provider.Response, error) {
	if tx.ExternalID == nil || *tx.ExternalID == "" {
		return nil, provider.InvalidData("transaction has no external id")
	}
	return p.request(ctx, http.MethodGet, "/v2/checkout/orders/"+*tx.ExternalID, nil)
}

// Refund refunds the capture recorded on the transaction details. A
// transaction with no capture fails closed without touching the gateway.
func (p *Provider) Refund(ctx context.Context, tx *models.Transaction) (*provider.Response, error) {
	captureID := tx.PayPalCaptureID()
	if captureID == "" {
		return nil, provider.InvalidData("transaction has no paypal capture recorded")
	}
	return p.post(ctx, "/v2/payments/captures/"+captureID+"/refund", map[string]interface{}{})
}

// QueryStatus is an alias of Confirm for polling reconciliation
func (p *Provider) QueryStatus(ctx context.Context, tx *models.Transaction) (*provider.Response, error) {
	return p.Confirm(ctx, tx)
}

func payerData(data provider.ChargeData) (map[string]interface{}, error) {
	if data.Email == "" {
		return nil, provider.InvalidData("payer email is required")
	}
	name := strings.TrimSpace(data.Name)
	parts := strings.SplitN(name, " ", 2)
	given := parts[0]
	surname := ""
	if len(parts) > 1 {
		surname = parts[1]
	}
	return map[string]interface{}{
		"email_address": data.Email,
		"name": map[string]interface{}{
			"given_name": given,
			"surname":    surname,
		},
	}, nil
}

// getToken returns a valid access token, refreshing if necessary
func (p *Provider) getToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	if time.Now().Before(p.expiresAt) && p.token != "" {
		token := p.token
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have refreshed)
	if time.Now().Before(p.expiresAt) && p.token != "" {
		return p.token, nil
	}

	if err := p.refreshToken(ctx); err != nil {
		return "", err
	}
	return p.token, nil
}

// refreshToken fetches a new token from PayPal (caller must hold write lock)
func (p *Provider) refreshToken(ctx context.Context) error {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return provider.Unavailable("paypal credentials missing", nil)
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}

	auth := base64.StdEncoding.EncodeToString([]byte(p.cfg.ClientID + ":" + p.cfg.ClientSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.Unavailable("paypal token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return provider.Unavailable(
			fmt.Sprintf("paypal token request returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return provider.Unavailable("invalid paypal token response", err)
	}
	if tokenResp.AccessToken == "" {
		return provider.Unavailable("paypal returned an empty access token", nil)
	}

	expiresIn := time.Duration(tokenResp.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}

	// Refresh 5 minutes before actual expiry
	p.token = tokenResp.AccessToken
	p.expiresAt = time.Now().Add(expiresIn - 5*time.Minute)

	return nil
}

func (p *Provider) post(ctx context.Context, path string, payload map[string]interface{}) (*provider.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return p.request(ctx, http.MethodPost, path, body)
}

func (p *Provider) request(ctx context.Context, method, path string, body []byte) (*provider.Response, error) {
	token, err := p.getToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, provider.Unavailable("paypal request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Unavailable("failed to read paypal response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.Unavailable(
			fmt.Sprintf("paypal returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	return parseResponse(respBody)
}

func parseResponse(body []byte) (*provider.Response, error) {
	var decoded struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, provider.Unavailable("invalid response from paypal", err)
	}

	return &provider.Response{
		ExternalID: decoded.ID,
		Status:     decoded.Status,
		Body:       json.RawMessage(body),
	}, nil
}
