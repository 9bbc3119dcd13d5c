// Package handlers exposes the HTTP boundary of the payment core: checkout,
// gateway webhooks, transaction polling and the review/export endpoints.
package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hubx/pagamentos/internal/models"
	"github.com/hubx/pagamentos/internal/payment"
	"github.com/hubx/pagamentos/internal/provider"
	"github.com/hubx/pagamentos/internal/storage"
)

// Gateway identifiers used in webhook routes and service selection
const (
	GatewayMercadoPago = "mercadopago"
	GatewayPayPal      = "paypal"
)

// Pinger is the health-check slice of the database pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store         storage.Store
	services      map[string]*payment.Service
	db            Pinger
	validator     *validator.Validate
	webhookSecret string
}

// NewHandler creates a new handler instance. services is keyed by gateway
// identifier; checkout picks the gateway from the payment method.
func NewHandler(store storage.Store, services map[string]*payment.Service, db Pinger, webhookSecret string) *Handler {
	return &Handler{
		store:         store,
		services:      services,
		db:            db,
		validator:     validator.New(),
		webhookSecret: webhookSecret,
	}
}

// CheckoutRequest represents the POST /checkout body
type CheckoutRequest struct {
	Valor        string `json:"valor" validate:"required"`
	Metodo       string `json:"metodo" validate:"required,oneof=pix card boleto paypal"`
	Email        string `json:"email" validate:"required,email"`
	Nome         string `json:"nome" validate:"required"`
	Documento    string `json:"documento" validate:"omitempty,max=40"`
	Parcelas     int    `json:"parcelas" validate:"omitempty,min=1,max=24"`
	TokenCartao  string `json:"token_cartao"`
	Bandeira     string `json:"bandeira"`
	Vencimento   string `json:"vencimento"`
	PixExpiracao string `json:"pix_expiracao"`
	Descricao    string `json:"descricao" validate:"omitempty,max=255"`
}

// Checkout handles POST /checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	if err := h.validator.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	method := models.PaymentMethod(req.Metodo)
	if method == models.MethodCard && req.TokenCartao == "" {
		respondError(w, http.StatusBadRequest, "token_cartao is required for card payments")
		return
	}
	if method == models.MethodBoleto && req.Vencimento == "" {
		respondError(w, http.StatusBadRequest, "vencimento is required for boleto payments")
		return
	}

	amount, err := decimal.NewFromString(req.Valor)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid amount format")
		return
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		respondError(w, http.StatusBadRequest, "Amount must be greater than zero")
		return
	}

	svc, ok := h.serviceFor(method)
	if !ok {
		respondError(w, http.StatusBadRequest, "Unsupported payment method")
		return
	}

	order := &models.Order{
		ID:     uuid.New(),
		Amount: amount,
		Status: models.OrderPending,
	}
	if req.Email != "" {
		order.Email = &req.Email
	}
	if req.Nome != "" {
		order.Name = &req.Nome
	}
	if req.Documento != "" {
		order.Document = &req.Documento
	}

	data := provider.ChargeData{
		Email:          req.Email,
		Name:           req.Nome,
		DocumentNumber: req.Documento,
		Description:    req.Descricao,
		CardToken:      req.TokenCartao,
		CardBrand:      req.Bandeira,
		Installments:   req.Parcelas,
		BoletoDueDate:  req.Vencimento,
		PixExpiration:  req.PixExpiracao,
	}

	tx, err := svc.InitiatePayment(r.Context(), order, method, data)
	if err != nil {
		h.respondPaymentError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, transactionView(tx))
}

// webhookEnvelope covers the id shapes the gateways deliver: a top-level id
// or a nested data.id, either a string or a number.
func extractExternalID(body []byte) string {
	var payload map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return ""
	}

	if data, ok := payload["data"].(map[string]interface{}); ok {
		if id := stringifyID(data["id"]); id != "" {
			return id
		}
	}
	return stringifyID(payload["id"])
}

func stringifyID(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	}
	return ""
}

// Webhook handles POST /webhook/{gateway}. Gateways deliver at least once;
// idempotency comes from the orchestrator's transition guard, not from any
// deduplication here.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")
	svc, ok := h.services[gateway]
	if !ok {
		respondError(w, http.StatusNotFound, "Unknown gateway")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request")
		return
	}

	if !h.signatureValid(r, body) {
		log.Printf("webhook signature mismatch: gateway=%s", gateway)
		respondError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	externalID := extractExternalID(body)
	if externalID == "" {
		log.Printf("webhook without an id: gateway=%s", gateway)
		respondError(w, http.StatusBadRequest, "Missing id")
		return
	}

	tx, found, err := h.store.FindTransactionByExternalID(r.Context(), externalID)
	if err != nil {
		log.Printf("webhook lookup failed: gateway=%s external_id=%s: %v", gateway, externalID, err)
		respondError(w, http.StatusInternalServerError, "Lookup failed")
		return
	}
	if !found {
		// Unknown ids are normal: stale events, test events, other systems
		log.Printf("webhook for unknown transaction: gateway=%s external_id=%s", gateway, externalID)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if _, err := svc.ConfirmPayment(r.Context(), tx); err != nil {
		log.Printf("webhook confirmation failed: transaction=%s: %v", tx.ID, err)
		// Non-2xx makes the gateway redeliver
		h.respondPaymentError(w, err)
		return
	}

	log.Printf("webhook processed: gateway=%s transaction=%s external_id=%s", gateway, tx.ID, externalID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// signatureValid verifies the HMAC-SHA256 hex signature over the raw body.
// An empty configured secret skips verification; that is a non-production
// posture.
func (h *Handler) signatureValid(r *http.Request, body []byte) bool {
	if h.webhookSecret == "" {
		return true
	}
	signature := r.Header.Get("X-Signature")
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// TransactionStatus handles GET /transactions/{id}: polling-based
// reconciliation for front-ends waiting on an async confirmation.
func (h *Handler) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	tx, err := h.store.GetTransaction(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Lookup failed")
		return
	}

	if tx.Status == models.StatusPending {
		if svc, ok := h.serviceFor(tx.Method); ok {
			refreshed, err := svc.ConfirmPayment(r.Context(), tx)
			if err != nil {
				log.Printf("polling confirmation failed: transaction=%s: %v", tx.ID, err)
			} else {
				tx = refreshed
			}
		}
	}

	respondJSON(w, http.StatusOK, transactionView(tx))
}

// ListTransactions handles GET /transactions for the review screen. The
// default filter shows what needs attention: pending and failed.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	statuses := []models.TransactionStatus{models.StatusPending, models.StatusFailed}
	if raw := r.URL.Query().Get("status"); raw != "" && raw != "all" {
		status := models.TransactionStatus(raw)
		switch status {
		case models.StatusPending, models.StatusApproved, models.StatusRefunded, models.StatusFailed:
			statuses = []models.TransactionStatus{status}
		default:
			respondError(w, http.StatusBadRequest, "Unknown status filter")
			return
		}
	}

	items, err := h.store.ListTransactions(r.Context(), statuses)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Listing failed")
		return
	}

	views := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		view := transactionView(&item.Transaction)
		view["order_status"] = item.Order.Status
		if item.Order.Email != nil {
			view["email"] = *item.Order.Email
		}
		views = append(views, view)
	}
	respondJSON(w, http.StatusOK, views)
}

// ExportTransactionsCSV handles GET /transactions/export
func (h *Handler) ExportTransactionsCSV(w http.ResponseWriter, r *http.Request) {
	all := []models.TransactionStatus{
		models.StatusPending, models.StatusApproved, models.StatusRefunded, models.StatusFailed,
	}
	items, err := h.store.ListTransactions(r.Context(), all)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Export failed")
		return
	}

	lines := []string{"data,valor,status,metodo"}
	for _, item := range items {
		tx := item.Transaction
		lines = append(lines, fmt.Sprintf("%s,%s,%s,%s",
			tx.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), tx.Amount.StringFixed(2), tx.Status, tx.Method))
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=transacoes.csv")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(strings.Join(lines, "\n")))
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{"status": "ok"}

	if err := h.db.Ping(r.Context()); err != nil {
		health["database"] = "down"
		health["status"] = "degraded"
	} else {
		health["database"] = "up"
	}

	status := http.StatusOK
	if health["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}

func (h *Handler) serviceFor(method models.PaymentMethod) (*payment.Service, bool) {
	if method == models.MethodPayPal {
		svc, ok := h.services[GatewayPayPal]
		return svc, ok
	}
	svc, ok := h.services[GatewayMercadoPago]
	return svc, ok
}

// respondPaymentError maps the error taxonomy to HTTP: input defects are the
// caller's fault, gateway trouble is upstream. Internal detail is logged, the
// user-visible message stays generic.
func (h *Handler) respondPaymentError(w http.ResponseWriter, err error) {
	switch {
	case provider.IsInvalidData(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case provider.IsProviderError(err):
		log.Printf("provider error: %v", err)
		respondError(w, http.StatusBadGateway, "Payment could not be processed")
	default:
		log.Printf("payment error: %v", err)
		respondError(w, http.StatusInternalServerError, "Payment could not be processed")
	}
}

// transactionView shapes a transaction for API responses, including the
// method-specific artifacts the front-end renders.
func transactionView(tx *models.Transaction) map[string]interface{} {
	view := map[string]interface{}{
		"transaction_id": tx.ID,
		"order_id":       tx.OrderID,
		"amount":         tx.Amount.StringFixed(2),
		"method":         tx.Method,
		"status":         tx.Status,
	}
	if tx.ExternalID != nil {
		view["external_id"] = *tx.ExternalID
	}
	if qr := tx.PixQRCode(); qr != "" {
		view["pix_qr_code"] = qr
	}
	if qr := tx.PixQRCodeBase64(); qr != "" {
		view["pix_qr_code_base64"] = qr
	}
	if u := tx.BoletoURL(); u != "" {
		view["boleto_url"] = u
	}
	if exp := tx.BoletoExpiration(); exp != "" {
		view["boleto_expiracao"] = exp
	}
	if u := tx.PayPalApprovalURL(); u != "" {
		view["paypal_approval_url"] = u
	}
	return view
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
