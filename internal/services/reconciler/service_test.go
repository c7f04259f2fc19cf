package reconciler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain"
	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
	"github.com/wadipay/payment-orchestrator/internal/routing"
)

type memTxRepo struct {
	mu  sync.Mutex
	txs map[string]*domain.Transaction
}

func newMemTxRepo() *memTxRepo {
	return &memTxRepo{txs: make(map[string]*domain.Transaction)}
}

func (r *memTxRepo) Create(ctx context.Context, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *txn
	r.txs[txn.ID] = &copied
	return nil
}

func (r *memTxRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txs[id]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found")
	}
	copied := *txn
	return &copied, nil
}

func (r *memTxRepo) GetByPSPTransactionID(ctx context.Context, provider, pspID string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.txs {
		if txn.Provider == provider && txn.PSPTransactionID == pspID {
			copied := *txn
			return &copied, nil
		}
	}
	return nil, domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found")
}

func (r *memTxRepo) GetByIdempotencyKey(ctx context.Context, merchantID, key string) (*domain.Transaction, error) {
	return nil, domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found")
}

func (r *memTxRepo) Update(ctx context.Context, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.txs[txn.ID]
	if !ok {
		return domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found")
	}
	if stored.Version != txn.Version {
		return domain.NewDomainError(domain.ErrorCodeTxnConflict, "transaction was modified concurrently")
	}
	copied := *txn
	copied.Version++
	r.txs[txn.ID] = &copied
	txn.Version++
	return nil
}

func (r *memTxRepo) ListByMerchant(ctx context.Context, filter ports.TransactionFilter) ([]*domain.Transaction, error) {
	return nil, nil
}

type memMerchantRepo struct {
	merchants map[string]*domain.Merchant
}

func (r *memMerchantRepo) GetByID(ctx context.Context, id string) (*domain.Merchant, error) {
	merchant, ok := r.merchants[id]
	if !ok {
		return nil, domain.ErrMerchantNotFound
	}
	return merchant, nil
}

func (r *memMerchantRepo) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error) {
	return nil, domain.ErrMerchantNotFound
}

// fakeConnector verifies signatures with real HMAC and parses a flat JSON
// event shape used only by these tests.
type fakeConnector struct {
	provider string
}

type fakeEvent struct {
	Type      string `json:"type"`
	PSPID     string `json:"psp_id"`
	Amount    int64  `json:"amount"`
	RawStatus string `json:"raw_status"`
}

func (f *fakeConnector) Provider() string { return f.provider }
func (f *fakeConnector) CreatePayment(context.Context, *ports.CreatePaymentRequest) (*ports.ProviderPayment, error) {
	return nil, nil
}
func (f *fakeConnector) GetPayment(context.Context, string) (*ports.ProviderPayment, error) {
	return nil, nil
}
func (f *fakeConnector) RefundPayment(context.Context, string, *ports.RefundRequest) (*ports.ProviderRefund, error) {
	return nil, nil
}
func (f *fakeConnector) VoidPayment(context.Context, string) error { return nil }

func (f *fakeConnector) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(signature))
}

func (f *fakeConnector) ParseWebhookEvent(payload []byte) (*ports.WebhookEvent, error) {
	var event fakeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "malformed webhook payload", err)
	}

	eventType := ports.WebhookEventType(event.Type)
	switch eventType {
	case ports.EventPaymentPaid, ports.EventPaymentFailed, ports.EventPaymentRefunded:
	default:
		eventType = ports.EventUnknown
	}

	return &ports.WebhookEvent{
		Type:             eventType,
		RawType:          event.Type,
		PSPTransactionID: event.PSPID,
		Amount:           decimal.NewFromInt(event.Amount).Div(decimal.NewFromInt(100)),
		RawStatus:        event.RawStatus,
		Payload:          json.RawMessage(payload),
	}, nil
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestService(repo *memTxRepo, merchants *memMerchantRepo, secrets map[string]string) *Service {
	registry := routing.NewRegistry()
	registry.Register(&fakeConnector{provider: "moyasar"})
	if merchants == nil {
		merchants = &memMerchantRepo{merchants: map[string]*domain.Merchant{}}
	}
	return NewService(repo, merchants, registry, secrets, nil, zap.NewNop())
}

func seedTransaction(t *testing.T, repo *memTxRepo, status domain.PaymentStatus, refunded string) *domain.Transaction {
	t.Helper()
	txn := &domain.Transaction{
		ID:               "t-1",
		MerchantID:       "m-1",
		Provider:         "moyasar",
		PSPTransactionID: "pay_1",
		Amount:           decimal.RequireFromString("100.00"),
		RefundedAmount:   decimal.RequireFromString(refunded),
		Currency:         domain.CurrencySAR,
		Status:           status,
		Version:          1,
	}
	require.NoError(t, repo.Create(context.Background(), txn))
	return txn
}

// TestHandleInboundWebhook_PaidEvent tests the happy path from signed payload
// to ledger transition
func TestHandleInboundWebhook_PaidEvent(t *testing.T) {
	repo := newMemTxRepo()
	seedTransaction(t, repo, domain.StatusProcessing, "0")

	secret := "whsec_1"
	service := newTestService(repo, nil, map[string]string{"moyasar": secret})

	payload := []byte(`{"type":"payment_paid","psp_id":"pay_1","amount":10000}`)
	err := service.HandleInboundWebhook(context.Background(), "moyasar", payload, sign(payload, secret))
	require.NoError(t, err)

	stored, _ := repo.GetByID(context.Background(), "t-1")
	assert.Equal(t, domain.StatusPaid, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestHandleInboundWebhook_InvalidSignature(t *testing.T) {
	repo := newMemTxRepo()
	seedTransaction(t, repo, domain.StatusProcessing, "0")

	service := newTestService(repo, nil, map[string]string{"moyasar": "whsec_1"})

	payload := []byte(`{"type":"payment_paid","psp_id":"pay_1"}`)

	err := service.HandleInboundWebhook(context.Background(), "moyasar", payload, "bad-signature")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeSignatureInvalid, domain.GetErrorCode(err))

	err = service.HandleInboundWebhook(context.Background(), "moyasar", payload, "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeSignatureInvalid, domain.GetErrorCode(err))

	// Ledger untouched.
	stored, _ := repo.GetByID(context.Background(), "t-1")
	assert.Equal(t, domain.StatusProcessing, stored.Status)
}

// TestHandleInboundWebhook_NoSecretProcessesUnverified tests the explicit
// operator choice of running a provider without a signing secret
func TestHandleInboundWebhook_NoSecretProcessesUnverified(t *testing.T) {
	repo := newMemTxRepo()
	seedTransaction(t, repo, domain.StatusProcessing, "0")

	service := newTestService(repo, nil, nil)

	payload := []byte(`{"type":"payment_paid","psp_id":"pay_1","amount":10000}`)
	err := service.HandleInboundWebhook(context.Background(), "moyasar", payload, "")
	require.NoError(t, err)

	stored, _ := repo.GetByID(context.Background(), "t-1")
	assert.Equal(t, domain.StatusPaid, stored.Status)
}

func TestHandleInboundWebhook_UnknownProvider(t *testing.T) {
	service := newTestService(newMemTxRepo(), nil, nil)

	err := service.HandleInboundWebhook(context.Background(), "stripe", []byte(`{}`), "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeProviderUnsupported, domain.GetErrorCode(err))
}

func TestHandleInboundWebhook_MalformedPayload(t *testing.T) {
	service := newTestService(newMemTxRepo(), nil, nil)

	err := service.HandleInboundWebhook(context.Background(), "moyasar", []byte(`not json`), "")
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
}

// TestHandleInboundWebhook_AcksUnmatchedAndUnknown tests that unknown event
// types and missing ledger rows are acknowledged, not errored
func TestHandleInboundWebhook_AcksUnmatchedAndUnknown(t *testing.T) {
	repo := newMemTxRepo()
	service := newTestService(repo, nil, nil)

	// Unknown event type.
	err := service.HandleInboundWebhook(context.Background(), "moyasar",
		[]byte(`{"type":"balance_updated","psp_id":"pay_1"}`), "")
	assert.NoError(t, err)

	// No ledger row for the PSP transaction id.
	err = service.HandleInboundWebhook(context.Background(), "moyasar",
		[]byte(`{"type":"payment_paid","psp_id":"pay_missing"}`), "")
	assert.NoError(t, err)
}

// TestHandleInboundWebhook_DuplicatePaidEventIsNoOp tests replayed event
// convergence
func TestHandleInboundWebhook_DuplicatePaidEventIsNoOp(t *testing.T) {
	repo := newMemTxRepo()
	seedTransaction(t, repo, domain.StatusProcessing, "0")
	service := newTestService(repo, nil, nil)

	payload := []byte(`{"type":"payment_paid","psp_id":"pay_1","amount":10000}`)

	require.NoError(t, service.HandleInboundWebhook(context.Background(), "moyasar", payload, ""))
	require.NoError(t, service.HandleInboundWebhook(context.Background(), "moyasar", payload, ""))

	stored, _ := repo.GetByID(context.Background(), "t-1")
	assert.Equal(t, domain.StatusPaid, stored.Status)
	// Only the first delivery wrote.
	assert.Equal(t, int64(2), stored.Version)
}

// TestHandleInboundWebhook_RefundCumulative tests that the event amount is
// treated as the provider's cumulative refunded total
func TestHandleInboundWebhook_RefundCumulative(t *testing.T) {
	repo := newMemTxRepo()
	seedTransaction(t, repo, domain.StatusPaid, "0")
	service := newTestService(repo, nil, nil)

	// Partial refund: cumulative total 40.00.
	require.NoError(t, service.HandleInboundWebhook(context.Background(), "moyasar",
		[]byte(`{"type":"payment_refunded","psp_id":"pay_1","amount":4000}`), ""))

	stored, _ := repo.GetByID(context.Background(), "t-1")
	assert.Equal(t, domain.StatusPartiallyRefunded, stored.Status)
	assert.True(t, stored.RefundedAmount.Equal(decimal.RequireFromString("40")))

	// Replay of the same total is a no-op.
	require.NoError(t, service.HandleInboundWebhook(context.Background(), "moyasar",
		[]byte(`{"type":"payment_refunded","psp_id":"pay_1","amount":4000}`), ""))
	stored, _ = repo.GetByID(context.Background(), "t-1")
	assert.True(t, stored.RefundedAmount.Equal(decimal.RequireFromString("40")))

	// Full refund: cumulative total covers the original amount.
	require.NoError(t, service.HandleInboundWebhook(context.Background(), "moyasar",
		[]byte(`{"type":"payment_refunded","psp_id":"pay_1","amount":10000}`), ""))
	stored, _ = repo.GetByID(context.Background(), "t-1")
	assert.Equal(t, domain.StatusRefunded, stored.Status)
	assert.True(t, stored.RefundedAmount.Equal(decimal.RequireFromString("100")))
}

// TestHandleInboundWebhook_ForwardsToMerchant tests the signed canonical
// envelope delivery to the merchant endpoint
func TestHandleInboundWebhook_ForwardsToMerchant(t *testing.T) {
	var (
		mu         sync.Mutex
		gotBody    []byte
		gotSig     string
		gotEventHd string
	)
	merchantServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		gotBody = body
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEventHd = r.Header.Get("X-Webhook-Event-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer merchantServer.Close()

	repo := newMemTxRepo()
	seedTransaction(t, repo, domain.StatusProcessing, "0")

	merchantSecret := "merchant_whsec"
	merchants := &memMerchantRepo{merchants: map[string]*domain.Merchant{
		"m-1": {
			ID:            "m-1",
			WebhookURL:    merchantServer.URL,
			WebhookSecret: merchantSecret,
			IsActive:      true,
		},
	}}
	service := newTestService(repo, merchants, nil)

	payload := []byte(`{"type":"payment_paid","psp_id":"pay_1","amount":10000}`)
	require.NoError(t, service.HandleInboundWebhook(context.Background(), "moyasar", payload, ""))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, gotBody)
	assert.Equal(t, sign(gotBody, merchantSecret), gotSig)
	assert.Equal(t, "payment_paid", gotEventHd)

	var envelope MerchantEvent
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	assert.Equal(t, "t-1", envelope.TransactionID)
	assert.Equal(t, domain.StatusPaid, envelope.Status)
	assert.Equal(t, "moyasar", envelope.PSPProvider)
	assert.JSONEq(t, string(payload), string(envelope.OriginalProviderPayload))
}

// TestHandleInboundWebhook_MerchantDownStillAcks tests that forwarding
// failures never reject the provider delivery
func TestHandleInboundWebhook_MerchantDownStillAcks(t *testing.T) {
	repo := newMemTxRepo()
	seedTransaction(t, repo, domain.StatusProcessing, "0")

	merchants := &memMerchantRepo{merchants: map[string]*domain.Merchant{
		"m-1": {
			ID:            "m-1",
			WebhookURL:    "http://127.0.0.1:1", // nothing listens here
			WebhookSecret: "s",
			IsActive:      true,
		},
	}}
	service := newTestService(repo, merchants, nil)

	payload := []byte(`{"type":"payment_paid","psp_id":"pay_1","amount":10000}`)
	err := service.HandleInboundWebhook(context.Background(), "moyasar", payload, "")
	assert.NoError(t, err)

	stored, _ := repo.GetByID(context.Background(), "t-1")
	assert.Equal(t, domain.StatusPaid, stored.Status)
}

// TestMutateForEvent_FailedAfterPaidStillApplies tests the failed off-ramp
// from any non-terminal state
func TestMutateForEvent_FailedAfterPaidStillApplies(t *testing.T) {
	txn := &domain.Transaction{Status: domain.StatusPaid}
	applied := mutateForEvent(txn, &ports.WebhookEvent{Type: ports.EventPaymentFailed, RawStatus: "FAILED"})
	assert.True(t, applied)
	assert.Equal(t, domain.StatusFailed, txn.Status)

	// But not from a terminal state.
	txn = &domain.Transaction{Status: domain.StatusRefunded}
	assert.False(t, mutateForEvent(txn, &ports.WebhookEvent{Type: ports.EventPaymentFailed}))
}
