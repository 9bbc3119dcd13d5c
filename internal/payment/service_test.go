package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/hubx/pagamentos/internal/metrics"
	"github.com/hubx/pagamentos/internal/models"
	"github.com/hubx/pagamentos/internal/provider"
	"github.com/hubx/pagamentos/internal/storage"
)

// fakeStore is an in-memory Store with all-or-nothing update semantics and
// injectable ApplyUpdate failures
type fakeStore struct {
	orders    map[uuid.UUID]*models.Order
	txs       map[uuid.UUID]*models.Transaction
	applyErrs []error

	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders: make(map[uuid.UUID]*models.Order),
		txs:    make(map[uuid.UUID]*models.Transaction),
	}
}

func (f *fakeStore) CreateCheckout(_ context.Context, order *models.Order, tx *models.Transaction) error {
	if f.createErr != nil {
		return f.createErr
	}
	o := *order
	t := *tx
	f.orders[order.ID] = &o
	f.txs[tx.ID] = &t
	return nil
}

func (f *fakeStore) GetTransaction(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	tx, ok := f.txs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *tx
	return &copied, nil
}

func (f *fakeStore) GetOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeStore) FindTransactionByExternalID(_ context.Context, externalID string) (*models.Transaction, bool, error) {
	for _, tx := range f.txs {
		if tx.ExternalID != nil && *tx.ExternalID == externalID {
			copied := *tx
			return &copied, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeStore) ApplyUpdate(_ context.Context, txID uuid.UUID, update storage.TransactionUpdate) (models.TransactionStatus, error) {
	if len(f.applyErrs) > 0 {
		err := f.applyErrs[0]
		f.applyErrs = f.applyErrs[1:]
		return "", err
	}

	tx, ok := f.txs[txID]
	if !ok {
		return "", storage.ErrNotFound
	}
	prev := tx.Status
	if prev != update.Status && !models.IsValidTransition(prev, update.Status) {
		return prev, nil
	}

	tx.Status = update.Status
	tx.Details = update.Details
	if update.ExternalID != nil && *update.ExternalID != "" {
		tx.ExternalID = update.ExternalID
	}

	order := f.orders[tx.OrderID]
	order.Status = models.OrderStatusFor(update.Status)
	if tx.ExternalID != nil && order.ExternalID == nil {
		order.ExternalID = tx.ExternalID
	}
	return prev, nil
}

func (f *fakeStore) ListTransactions(context.Context, []models.TransactionStatus) ([]storage.TransactionWithOrder, error) {
	return nil, nil
}

func (f *fakeStore) RecordNotificationAttempt(context.Context, storage.NotificationAttempt) error {
	return nil
}

// fakeProvider returns scripted responses
type fakeProvider struct {
	createResp  *provider.Response
	createErr   error
	confirmResp *provider.Response
	confirmErr  error
	refundResp  *provider.Response
	refundErr   error

	createCalls  int
	confirmCalls int
	refundCalls  int
}

func (f *fakeProvider) CreateCharge(context.Context, *models.Order, models.PaymentMethod, provider.ChargeData) (*provider.Response, error) {
	f.createCalls++
	return f.createResp, f.createErr
}

func (f *fakeProvider) Confirm(context.Context, *models.Transaction) (*provider.Response, error) {
	f.confirmCalls++
	return f.confirmResp, f.confirmErr
}

func (f *fakeProvider) Refund(context.Context, *models.Transaction) (*provider.Response, error) {
	f.refundCalls++
	return f.refundResp, f.refundErr
}

func (f *fakeProvider) QueryStatus(ctx context.Context, tx *models.Transaction) (*provider.Response, error) {
	return f.Confirm(ctx, tx)
}

type fakeNotifier struct {
	calls []uuid.UUID
	err   error
}

func (f *fakeNotifier) NotifyApproval(_ context.Context, txID uuid.UUID) error {
	f.calls = append(f.calls, txID)
	return f.err
}

type fixture struct {
	store    *fakeStore
	prov     *fakeProvider
	notifier *fakeNotifier
	counters *metrics.Counters
	service  *Service
	sleeps   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		prov:     &fakeProvider{},
		notifier: &fakeNotifier{},
		counters: metrics.NewCounters(),
	}
	f.service = NewService(f.store, f.prov, f.notifier, f.counters, Config{
		MinAmount: decimal.RequireFromString("0.50"),
	})
	f.service.sleep = func(d time.Duration) { f.sleeps = append(f.sleeps, d) }
	return f
}

func newOrder(amount string) *models.Order {
	return &models.Order{
		ID:     uuid.New(),
		Amount: decimal.RequireFromString(amount),
		Status: models.OrderPending,
	}
}

func contentionErr() error {
	return &pgconn.PgError{Code: "55P03"}
}

func TestInitiatePaymentApprovedSynchronously(t *testing.T) {
	f := newFixture(t)
	f.prov.createResp = &provider.Response{
		ExternalID: "123",
		Status:     "approved",
		Body:       []byte(`{"id": "123", "status": "approved"}`),
	}

	order := newOrder("150.00")
	tx, err := f.service.InitiatePayment(context.Background(), order, models.MethodPix, provider.ChargeData{
		Email: "cliente@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tx.Status != models.StatusApproved {
		t.Errorf("transaction status = %s, want approved", tx.Status)
	}
	if tx.ExternalID == nil || *tx.ExternalID != "123" {
		t.Errorf("transaction external id = %v, want 123", tx.ExternalID)
	}

	stored, _ := f.store.GetOrder(context.Background(), order.ID)
	if stored.Status != models.OrderPaid {
		t.Errorf("order status = %s, want paid", stored.Status)
	}
	if stored.ExternalID == nil || *stored.ExternalID != "123" {
		t.Errorf("order external id = %v, want 123", stored.ExternalID)
	}

	if len(f.notifier.calls) != 1 || f.notifier.calls[0] != tx.ID {
		t.Errorf("notifier calls = %v, want exactly one with %s", f.notifier.calls, tx.ID)
	}
	if got := f.counters.Value(metrics.PaymentsApprovedTotal, map[string]string{"method": "pix"}); got != 1 {
		t.Errorf("approved counter = %d, want 1", got)
	}
}

func TestInitiatePaymentPendingDoesNotNotify(t *testing.T) {
	f := newFixture(t)
	f.prov.createResp = &provider.Response{
		ExternalID: "987",
		Status:     "in_process",
		Body:       []byte(`{"id": "987", "status": "in_process"}`),
	}

	tx, err := f.service.InitiatePayment(context.Background(), newOrder("80.00"), models.MethodBoleto, provider.ChargeData{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Status != models.StatusPending {
		t.Errorf("transaction status = %s, want pending", tx.Status)
	}
	if len(f.notifier.calls) != 0 {
		t.Errorf("notifier called %d times, want 0", len(f.notifier.calls))
	}
}

func TestInitiatePaymentRejectsUnknownMethod(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.InitiatePayment(context.Background(), newOrder("50.00"), "bitcoin", provider.ChargeData{})
	if !provider.IsInvalidData(err) {
		t.Fatalf("expected InvalidDataError, got %v", err)
	}
	if f.prov.createCalls != 0 {
		t.Error("provider must not be called for an unknown method")
	}
}

func TestInitiatePaymentRejectsAmountBelowFloor(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.InitiatePayment(context.Background(), newOrder("0.49"), models.MethodPix, provider.ChargeData{})
	if !provider.IsInvalidData(err) {
		t.Fatalf("expected InvalidDataError, got %v", err)
	}
	if f.prov.createCalls != 0 {
		t.Error("provider must not be called for an invalid amount")
	}
}

func TestInitiatePaymentProviderErrorSurfaces(t *testing.T) {
	f := newFixture(t)
	f.prov.createErr = provider.Unavailable("gateway down", nil)

	_, err := f.service.InitiatePayment(context.Background(), newOrder("50.00"), models.MethodPix, provider.ChargeData{})
	if !provider.IsProviderError(err) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if len(f.store.txs) != 0 || len(f.store.orders) != 0 {
		t.Error("no state should be persisted when the gateway call fails")
	}
}

// seedPending inserts a pending order/transaction pair directly into the store
func seedPending(f *fixture, externalID string) (*models.Order, *models.Transaction) {
	order := newOrder("150.00")
	tx := &models.Transaction{
		ID:      uuid.New(),
		OrderID: order.ID,
		Amount:  order.Amount,
		Method:  models.MethodPix,
		Status:  models.StatusPending,
	}
	if externalID != "" {
		tx.ExternalID = &externalID
	}
	f.store.orders[order.ID] = order
	f.store.txs[tx.ID] = tx
	return order, tx
}

func TestConfirmPaymentTransitionNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	order, tx := seedPending(f, "123")
	f.prov.confirmResp = &provider.Response{
		ExternalID: "123",
		Status:     "approved",
		Body:       []byte(`{"id": "123", "status": "approved"}`),
	}

	updated, err := f.service.ConfirmPayment(context.Background(), tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != models.StatusApproved {
		t.Errorf("status = %s, want approved", updated.Status)
	}

	stored, _ := f.store.GetOrder(context.Background(), order.ID)
	if stored.Status != models.OrderPaid {
		t.Errorf("order status = %s, want paid", stored.Status)
	}
	if len(f.notifier.calls) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(f.notifier.calls))
	}
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_, tx := seedPending(f, "123")
	f.prov.confirmResp = &provider.Response{
		ExternalID: "123",
		Status:     "approved",
		Body:       []byte(`{"id": "123", "status": "approved"}`),
	}

	// Same confirmation delivered five times, as an at-least-once webhook would
	for i := 0; i < 5; i++ {
		if _, err := f.service.ConfirmPayment(context.Background(), tx); err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i, err)
		}
	}

	if len(f.notifier.calls) != 1 {
		t.Fatalf("notifier called %d times across redeliveries, want exactly 1", len(f.notifier.calls))
	}
	if got := f.counters.Value(metrics.PaymentsApprovedTotal, map[string]string{"method": "pix"}); got != 1 {
		t.Errorf("approved counter = %d, want 1", got)
	}

	stored, _ := f.store.GetTransaction(context.Background(), tx.ID)
	if stored.Status != models.StatusApproved {
		t.Errorf("final status = %s, want approved", stored.Status)
	}
}

func TestConfirmPaymentRetriesContention(t *testing.T) {
	f := newFixture(t)
	_, tx := seedPending(f, "123")
	f.prov.confirmResp = &provider.Response{Status: "approved", Body: []byte(`{}`)}
	f.store.applyErrs = []error{contentionErr(), contentionErr()}

	updated, err := f.service.ConfirmPayment(context.Background(), tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != models.StatusApproved {
		t.Errorf("status = %s, want approved", updated.Status)
	}

	want := []time.Duration{100 * time.Millisecond, 250 * time.Millisecond}
	if len(f.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", f.sleeps, want)
	}
	for i := range want {
		if f.sleeps[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, f.sleeps[i], want[i])
		}
	}
}

func TestConfirmPaymentContentionExhaustionIsFatal(t *testing.T) {
	f := newFixture(t)
	_, tx := seedPending(f, "123")
	f.prov.confirmResp = &provider.Response{Status: "approved", Body: []byte(`{}`)}
	f.store.applyErrs = []error{contentionErr(), contentionErr(), contentionErr(), contentionErr()}

	_, err := f.service.ConfirmPayment(context.Background(), tx)
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if !storage.IsContention(err) {
		t.Fatalf("expected the last contention error to propagate, got %v", err)
	}
	if len(f.sleeps) != 3 {
		t.Fatalf("sleeps = %v, want 3 backoff steps", f.sleeps)
	}
	if len(f.notifier.calls) != 0 {
		t.Error("no notification on a failed update")
	}
}

func TestConfirmPaymentNonContentionErrorIsImmediate(t *testing.T) {
	f := newFixture(t)
	_, tx := seedPending(f, "123")
	f.prov.confirmResp = &provider.Response{Status: "approved", Body: []byte(`{}`)}
	fatal := errors.New("connection lost")
	f.store.applyErrs = []error{fatal}

	_, err := f.service.ConfirmPayment(context.Background(), tx)
	if !errors.Is(err, fatal) {
		t.Fatalf("expected the store error to propagate, got %v", err)
	}
	if len(f.sleeps) != 0 {
		t.Errorf("non-contention errors must not be retried, slept %v", f.sleeps)
	}
}

func TestConfirmPaymentTerminalStateIsNoOp(t *testing.T) {
	f := newFixture(t)
	order, tx := seedPending(f, "123")
	tx.Status = models.StatusFailed
	order.Status = models.OrderPending
	f.prov.confirmResp = &provider.Response{Status: "approved", Body: []byte(`{}`)}

	updated, err := f.service.ConfirmPayment(context.Background(), tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed to stay failed", updated.Status)
	}
	if len(f.notifier.calls) != 0 {
		t.Error("a failed transaction must never trigger the approval notification")
	}
}

func TestConfirmPaymentNotificationFailureDoesNotFailUpdate(t *testing.T) {
	f := newFixture(t)
	_, tx := seedPending(f, "123")
	f.prov.confirmResp = &provider.Response{Status: "approved", Body: []byte(`{}`)}
	f.notifier.err = errors.New("smtp down")

	updated, err := f.service.ConfirmPayment(context.Background(), tx)
	if err != nil {
		t.Fatalf("notification failure must not fail the payment: %v", err)
	}
	if updated.Status != models.StatusApproved {
		t.Errorf("status = %s, want approved", updated.Status)
	}
	if got := f.counters.Value(metrics.NotificationFailuresTotal, nil); got != 1 {
		t.Errorf("notification failure counter = %d, want 1", got)
	}
}

func TestRefundPaymentDefaultsToRefunded(t *testing.T) {
	f := newFixture(t)
	order, tx := seedPending(f, "123")
	tx.Status = models.StatusApproved
	order.Status = models.OrderPaid

	// Gateway confirms the refund but omits a status field
	f.prov.refundResp = &provider.Response{Body: []byte(`{"id": "re_1"}`)}

	updated, err := f.service.RefundPayment(context.Background(), tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != models.StatusRefunded {
		t.Errorf("status = %s, want refunded", updated.Status)
	}

	stored, _ := f.store.GetOrder(context.Background(), order.ID)
	if stored.Status != models.OrderCancelled {
		t.Errorf("order status = %s, want cancelled", stored.Status)
	}
	if got := f.counters.Value(metrics.PaymentsRefundedTotal, map[string]string{"method": "pix"}); got != 1 {
		t.Errorf("refund counter = %d, want 1", got)
	}
}

func TestRefundPaymentProviderErrorLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	_, tx := seedPending(f, "123")
	tx.Status = models.StatusApproved
	f.prov.refundErr = provider.InvalidData("transaction has no paypal capture recorded")

	_, err := f.service.RefundPayment(context.Background(), tx)
	if !provider.IsInvalidData(err) {
		t.Fatalf("expected InvalidDataError, got %v", err)
	}

	stored, _ := f.store.GetTransaction(context.Background(), tx.ID)
	if stored.Status != models.StatusApproved {
		t.Errorf("status = %s, refund failure must leave state unchanged", stored.Status)
	}
}
