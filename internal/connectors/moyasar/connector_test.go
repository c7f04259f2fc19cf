package moyasar

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

func newTestConnector(t *testing.T, handler http.HandlerFunc) (*Connector, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig("sk_test_key")
	cfg.BaseURL = server.URL
	return New(cfg, zap.NewNop()), server
}

// TestCreatePayment_AmountConversion tests that major-unit amounts go out as
// integer minor units and come back as major units
func TestCreatePayment_AmountConversion(t *testing.T) {
	var received wireCreateRequest
	connector, _ := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)

		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "sk_test_key", user)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		json.NewEncoder(w).Encode(wirePayment{
			ID:       "pay_123",
			Status:   "paid",
			Amount:   received.Amount,
			Fee:      250,
			Currency: "SAR",
			Source:   &wireSource{Type: "creditcard", Company: "mada", Number: "4111-XXXX-XXXX-1111", Token: "tok_abc"},
		})
	})

	payment, err := connector.CreatePayment(context.Background(), &ports.CreatePaymentRequest{
		Amount:   decimal.RequireFromString("100.50"),
		Currency: domain.CurrencySAR,
		Source: ports.PaymentSource{
			Method: domain.PaymentMethodMada,
			Card:   &ports.CardInput{Number: "4111111111111111", Name: "A B", Month: 12, Year: 2030, CVC: "123"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10050), received.Amount)
	assert.Equal(t, "creditcard", received.Source.Type)

	assert.Equal(t, "pay_123", payment.PSPTransactionID)
	assert.Equal(t, domain.StatusPaid, payment.Status)
	assert.True(t, payment.Amount.Equal(decimal.RequireFromString("100.50")))
	assert.True(t, payment.Fee.Equal(decimal.RequireFromString("2.50")))

	require.NotNil(t, payment.Card)
	assert.Equal(t, "mada", payment.Card.Brand)
	assert.Equal(t, "1111", payment.Card.LastFour)
	assert.Equal(t, "tok_abc", payment.Card.Token)
}

// TestStatusMapping_Totality tests that every provider status lands on a
// canonical status and unknowns fail closed
func TestStatusMapping_Totality(t *testing.T) {
	tests := []struct {
		raw      string
		expected domain.PaymentStatus
	}{
		{"initiated", domain.StatusPending},
		{"paid", domain.StatusPaid},
		{"authorized", domain.StatusAuthorized},
		{"captured", domain.StatusPaid},
		{"failed", domain.StatusFailed},
		{"refunded", domain.StatusRefunded},
		{"voided", domain.StatusVoided},
		{"some_future_status", domain.StatusFailed},
		{"", domain.StatusFailed},
	}

	for _, tt := range tests {
		t.Run("status "+tt.raw, func(t *testing.T) {
			connector, _ := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(wirePayment{ID: "pay_1", Status: tt.raw, Currency: "SAR"})
			})

			payment, err := connector.GetPayment(context.Background(), "pay_1")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, payment.Status)
			assert.Equal(t, tt.raw, payment.RawStatus)
		})
	}
}

func TestGetPayment_NotFound(t *testing.T) {
	connector, _ := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := connector.GetPayment(context.Background(), "pay_missing")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeTxnNotFound, domain.GetErrorCode(err))
}

func TestCreatePayment_ProviderError(t *testing.T) {
	connector, _ := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(wireError{Type: "invalid_request_error", Message: "amount is too small"})
	})

	_, err := connector.CreatePayment(context.Background(), &ports.CreatePaymentRequest{
		Amount:   decimal.RequireFromString("0.01"),
		Currency: domain.CurrencySAR,
		Source:   ports.PaymentSource{Method: domain.PaymentMethodCreditCard, Token: "tok_1"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsProviderError(err))
	assert.Contains(t, err.Error(), "amount is too small")
}

// TestRefundPayment tests partial refunds carry the minor-unit amount
func TestRefundPayment(t *testing.T) {
	var received wireRefundRequest
	connector, _ := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay_123/refund", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(wirePayment{ID: "pay_123", Status: "refunded", Refunded: received.Amount, Currency: "SAR"})
	})

	amount := decimal.RequireFromString("30.25")
	refund, err := connector.RefundPayment(context.Background(), "pay_123", &ports.RefundRequest{
		Amount: &amount,
		Reason: "customer request",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3025), received.Amount)
	assert.Equal(t, "customer request", received.Reason)
	assert.True(t, refund.Amount.Equal(amount))
}

func TestVerifyWebhookSignature(t *testing.T) {
	connector := New(DefaultConfig("sk_test"), zap.NewNop())
	payload := []byte(`{"type":"payment_paid"}`)
	secret := "whsec_123"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	valid := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, connector.VerifyWebhookSignature(payload, valid, secret))
	assert.False(t, connector.VerifyWebhookSignature(payload, valid, "wrong-secret"))
	assert.False(t, connector.VerifyWebhookSignature([]byte(`tampered`), valid, secret))
	assert.False(t, connector.VerifyWebhookSignature(payload, "", secret))
}

// TestParseWebhookEvent tests normalization of the provider event envelope
func TestParseWebhookEvent(t *testing.T) {
	connector := New(DefaultConfig("sk_test"), zap.NewNop())

	payload := []byte(`{
		"type": "payment_refunded",
		"created_at": "2026-02-10T08:30:00Z",
		"data": {"id": "pay_9", "status": "refunded", "amount": 10000, "refunded": 4000, "currency": "SAR"}
	}`)

	event, err := connector.ParseWebhookEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, ports.EventPaymentRefunded, event.Type)
	assert.Equal(t, "pay_9", event.PSPTransactionID)
	// Refund events report the refunded total, not the payment amount.
	assert.True(t, event.Amount.Equal(decimal.RequireFromString("40")))
	assert.Equal(t, "refunded", event.RawStatus)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestParseWebhookEvent_UnknownType(t *testing.T) {
	connector := New(DefaultConfig("sk_test"), zap.NewNop())

	event, err := connector.ParseWebhookEvent([]byte(`{"type":"balance_updated","data":{"id":"pay_1"}}`))
	require.NoError(t, err)
	assert.Equal(t, ports.EventUnknown, event.Type)
	assert.Equal(t, "balance_updated", event.RawType)
}

func TestParseWebhookEvent_Malformed(t *testing.T) {
	connector := New(DefaultConfig("sk_test"), zap.NewNop())

	_, err := connector.ParseWebhookEvent([]byte(`not json`))
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeValidationFailed, domain.GetErrorCode(err))
}

// TestMinorUnitRoundTrip tests that conversion to wire units and back is
// lossless for two-decimal amounts
func TestMinorUnitRoundTrip(t *testing.T) {
	for _, raw := range []string{"0.01", "1", "10.50", "999999.99", "0.10"} {
		amount := decimal.RequireFromString(raw)
		assert.True(t, toMajorUnits(toMinorUnits(amount)).Equal(amount), "round trip for %s", raw)
	}
}
