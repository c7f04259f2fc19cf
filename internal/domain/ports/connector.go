package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wadipay/payment-orchestrator/internal/domain"
)

// CardInput carries raw card fields supplied by the merchant. These are
// forwarded to the provider on the wire and never persisted.
type CardInput struct {
	Number string
	Name   string
	Month  int
	Year   int
	CVC    string
}

// PaymentSource is either a reusable saved-card token or raw card fields.
type PaymentSource struct {
	Method domain.PaymentMethod
	Token  string
	Card   *CardInput
}

// CreatePaymentRequest is the canonical create request handed to a
// connector. Amount is in major currency units; each connector owns the
// conversion to its provider's wire unit.
type CreatePaymentRequest struct {
	Amount      decimal.Decimal
	Currency    domain.Currency
	Description string
	Source      PaymentSource
	CallbackURL string
	Metadata    map[string]string
}

// ProviderPayment is a provider response normalized into the canonical
// model: major-unit amounts, canonical status, safe card metadata only.
type ProviderPayment struct {
	PSPTransactionID string
	Status           domain.PaymentStatus
	RawStatus        string
	Amount           decimal.Decimal
	Fee              decimal.Decimal
	Currency         domain.Currency
	Card             *domain.CardDetails
	Reference        string
	Message          string
}

// RefundRequest is an optional partial refund. A nil Amount refunds the
// full remaining amount.
type RefundRequest struct {
	Amount *decimal.Decimal
	Reason string
}

// ProviderRefund is the normalized result of a refund call.
type ProviderRefund struct {
	RefundID string
	Amount   decimal.Decimal
	Message  string
}

// WebhookEventType is the canonical vocabulary for provider-pushed events.
type WebhookEventType string

const (
	EventPaymentPaid     WebhookEventType = "payment_paid"
	EventPaymentFailed   WebhookEventType = "payment_failed"
	EventPaymentRefunded WebhookEventType = "payment_refunded"
	EventUnknown         WebhookEventType = "unknown"
)

// WebhookEvent is a provider webhook normalized by the connector that owns
// the provider's event format. Amount is in major units (refund amount for
// refund events, payment amount otherwise).
type WebhookEvent struct {
	Type             WebhookEventType
	RawType          string
	PSPTransactionID string
	Amount           decimal.Decimal
	RawStatus        string
	OccurredAt       time.Time
	Payload          json.RawMessage
}

// Connector is the capability set every PSP implementation must satisfy.
// Additional providers are additive: implement this interface and register
// it with the router, nothing in the orchestration layer changes.
type Connector interface {
	// Provider returns the identifier the connector is registered under.
	Provider() string

	// CreatePayment executes a charge against the provider.
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*ProviderPayment, error)

	// GetPayment fetches live payment state from the provider.
	GetPayment(ctx context.Context, pspTransactionID string) (*ProviderPayment, error)

	// RefundPayment issues a full or partial refund.
	RefundPayment(ctx context.Context, pspTransactionID string, req *RefundRequest) (*ProviderRefund, error)

	// VoidPayment cancels a payment before settlement.
	VoidPayment(ctx context.Context, pspTransactionID string) error

	// VerifyWebhookSignature checks the HMAC-SHA256 signature of a raw
	// webhook body against the shared secret.
	VerifyWebhookSignature(payload []byte, signature, secret string) bool

	// ParseWebhookEvent interprets the provider's event format into the
	// canonical event vocabulary.
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)
}
