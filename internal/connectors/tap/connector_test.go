package tap

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain"
	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
)

func newTestConnector(t *testing.T, handler http.HandlerFunc) *Connector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig("sk_test_tap")
	cfg.BaseURL = server.URL
	return New(cfg, zap.NewNop())
}

func TestCreatePayment(t *testing.T) {
	var received wireChargeRequest
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/charges", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_tap", r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Write([]byte(`{
			"id": "chg_1",
			"status": "CAPTURED",
			"amount": 25000,
			"currency": "SAR",
			"reference": {"transaction": "txn_ref_9"},
			"card": {"brand": "VISA", "last_four": "4242", "token": "tok_tap_1"}
		}`))
	})

	payment, err := connector.CreatePayment(context.Background(), &ports.CreatePaymentRequest{
		Amount:   decimal.RequireFromString("250.00"),
		Currency: domain.CurrencySAR,
		Source:   ports.PaymentSource{Method: domain.PaymentMethodCreditCard, Token: "src_tok_1"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(25000), received.Amount)
	assert.Equal(t, "src_tok_1", received.Source["id"])

	assert.Equal(t, "chg_1", payment.PSPTransactionID)
	assert.Equal(t, domain.StatusPaid, payment.Status)
	assert.Equal(t, "CAPTURED", payment.RawStatus)
	assert.True(t, payment.Amount.Equal(decimal.RequireFromString("250.00")))
	assert.Equal(t, "txn_ref_9", payment.Reference)
	require.NotNil(t, payment.Card)
	assert.Equal(t, "4242", payment.Card.LastFour)
}

// TestCreatePayment_RawCardRejected tests that raw card fields are refused
// before any provider call rather than silently replaced with a placeholder
// source
func TestCreatePayment_RawCardRejected(t *testing.T) {
	calls := 0
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"id": "chg_1", "status": "CAPTURED", "amount": 10000, "currency": "SAR"}`))
	})

	_, err := connector.CreatePayment(context.Background(), &ports.CreatePaymentRequest{
		Amount:   decimal.RequireFromString("100.00"),
		Currency: domain.CurrencySAR,
		Source: ports.PaymentSource{
			Method: domain.PaymentMethodCreditCard,
			Card:   &ports.CardInput{Number: "4111111111111111", Name: "Test", Month: 12, Year: 2030, CVC: "123"},
		},
	})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeValidationFailed, domain.GetErrorCode(err))
	assert.Equal(t, 0, calls)
}

// TestStatusMapping tests the provider's charge state vocabulary maps onto
// canonical statuses with a failed fallback
func TestStatusMapping(t *testing.T) {
	tests := []struct {
		raw      string
		expected domain.PaymentStatus
	}{
		{"INITIATED", domain.StatusPending},
		{"IN_PROGRESS", domain.StatusProcessing},
		{"AUTHORIZED", domain.StatusAuthorized},
		{"CAPTURED", domain.StatusPaid},
		{"REFUNDED", domain.StatusRefunded},
		{"VOID", domain.StatusVoided},
		{"CANCELLED", domain.StatusVoided},
		{"FAILED", domain.StatusFailed},
		{"DECLINED", domain.StatusFailed},
		{"RESTRICTED", domain.StatusFailed},
		{"TIMEDOUT", domain.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{"id": "chg_1", "status": tt.raw, "currency": "SAR"})
			})

			payment, err := connector.GetPayment(context.Background(), "chg_1")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, payment.Status)
		})
	}
}

func TestRefundPayment_PartialAmount(t *testing.T) {
	var received map[string]interface{}
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/refunds", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"id": "re_1", "amount": 5000, "status": "REFUNDED"}`))
	})

	amount := decimal.RequireFromString("50.00")
	refund, err := connector.RefundPayment(context.Background(), "chg_1", &ports.RefundRequest{Amount: &amount})
	require.NoError(t, err)

	assert.Equal(t, "chg_1", received["charge_id"])
	assert.Equal(t, float64(5000), received["amount"])
	assert.Equal(t, "re_1", refund.RefundID)
	assert.True(t, refund.Amount.Equal(amount))
}

func TestProviderErrorEnvelope(t *testing.T) {
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"code":"1104","description":"Invalid source id"}]}`))
	})

	_, err := connector.CreatePayment(context.Background(), &ports.CreatePaymentRequest{
		Amount:   decimal.RequireFromString("10"),
		Currency: domain.CurrencySAR,
		Source:   ports.PaymentSource{Method: domain.PaymentMethodCreditCard, Token: "bad"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsProviderError(err))
	assert.Contains(t, err.Error(), "Invalid source id")
}

func TestVerifyWebhookSignature(t *testing.T) {
	connector := New(DefaultConfig("sk"), zap.NewNop())
	payload := []byte(`{"type":"charge.captured"}`)
	secret := "whsec_tap"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	valid := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, connector.VerifyWebhookSignature(payload, valid, secret))
	assert.False(t, connector.VerifyWebhookSignature(payload, valid, "other"))
}

func TestParseWebhookEvent(t *testing.T) {
	connector := New(DefaultConfig("sk"), zap.NewNop())

	event, err := connector.ParseWebhookEvent([]byte(`{
		"type": "charge.captured",
		"created_at": "2026-03-01T12:00:00Z",
		"data": {"id": "chg_7", "status": "CAPTURED", "amount": 7500, "currency": "SAR"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, ports.EventPaymentPaid, event.Type)
	assert.Equal(t, "chg_7", event.PSPTransactionID)
	assert.True(t, event.Amount.Equal(decimal.RequireFromString("75")))

	unknown, err := connector.ParseWebhookEvent([]byte(`{"type":"invoice.created","data":{"id":"inv_1"}}`))
	require.NoError(t, err)
	assert.Equal(t, ports.EventUnknown, unknown.Type)
}
