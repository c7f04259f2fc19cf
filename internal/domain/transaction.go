package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the canonical lifecycle state of a payment,
// independent of any provider's own status vocabulary.
type PaymentStatus string

const (
	StatusPending           PaymentStatus = "pending"
	StatusProcessing        PaymentStatus = "processing"
	StatusAuthorized        PaymentStatus = "authorized"
	StatusPaid              PaymentStatus = "paid"
	StatusPartiallyRefunded PaymentStatus = "partially_refunded"
	StatusRefunded          PaymentStatus = "refunded"
	StatusFailed            PaymentStatus = "failed"
	StatusVoided            PaymentStatus = "voided"
)

// statusRank orders the forward progression of the lifecycle. Failed and
// voided are off-ramps, not part of the progression.
var statusRank = map[PaymentStatus]int{
	StatusPending:           0,
	StatusProcessing:        1,
	StatusAuthorized:        2,
	StatusPaid:              3,
	StatusPartiallyRefunded: 4,
	StatusRefunded:          5,
}

// IsTerminal returns true if no further transition is accepted from s.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusFailed || s == StatusVoided || s == StatusRefunded
}

// IsValid returns true if s is a known canonical status.
func (s PaymentStatus) IsValid() bool {
	if s == StatusFailed || s == StatusVoided {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether the state machine permits moving from one
// status to another. Transitions are monotonic: a payment only moves forward
// along pending -> processing -> authorized -> paid -> partially_refunded ->
// refunded (intermediate states may be skipped), and failed/voided are
// reachable from any non-terminal state.
func CanTransition(from, to PaymentStatus) bool {
	if from == to {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusVoided {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// PaymentMethod represents the payment instrument used by the customer.
type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodMada       PaymentMethod = "mada"
	PaymentMethodApplePay   PaymentMethod = "apple_pay"
	PaymentMethodSTCPay     PaymentMethod = "stc_pay"
)

// Currency is an ISO 4217 currency code supported by the orchestrator.
type Currency string

const (
	CurrencySAR Currency = "SAR"
	CurrencyUSD Currency = "USD"
	CurrencyAED Currency = "AED"
)

// IsValid returns true if c is a supported currency.
func (c Currency) IsValid() bool {
	switch c {
	case CurrencySAR, CurrencyUSD, CurrencyAED:
		return true
	}
	return false
}

// CardDetails holds the card metadata that is safe to persist. The full PAN
// never reaches the ledger; only the provider-issued token and display data.
type CardDetails struct {
	Brand    string `json:"brand,omitempty"`
	LastFour string `json:"last_four,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Transaction is the canonical ledger record for a payment. Amounts are
// always in major currency units (SAR, not halalas); minor-unit conversion
// is owned by the connectors and never leaks into this type.
type Transaction struct {
	ID               string            `json:"id"`
	MerchantID       string            `json:"merchant_id"`
	Provider         string            `json:"provider"`
	PSPTransactionID string            `json:"-"`
	PSPReference     string            `json:"-"`
	Amount           decimal.Decimal   `json:"amount"`
	RefundedAmount   decimal.Decimal   `json:"refunded_amount"`
	FeeAmount        decimal.Decimal   `json:"fee_amount"`
	Currency         Currency          `json:"currency"`
	Status           PaymentStatus     `json:"status"`
	PaymentMethod    PaymentMethod     `json:"payment_method"`
	Card             *CardDetails      `json:"card,omitempty"`
	Description      string            `json:"description,omitempty"`
	CallbackURL      string            `json:"callback_url,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Version          int64             `json:"-"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// CanRefund returns true if the transaction accepts a refund. Partial
// refunds may continue until the full amount is returned.
func (t *Transaction) CanRefund() bool {
	return t.Status == StatusPaid || t.Status == StatusPartiallyRefunded
}

// CanVoid returns true if the transaction can still be cancelled before
// capture settles.
func (t *Transaction) CanVoid() bool {
	switch t.Status {
	case StatusPending, StatusProcessing, StatusAuthorized:
		return true
	}
	return false
}

// RemainingRefundable returns the amount still available for refund.
func (t *Transaction) RemainingRefundable() decimal.Decimal {
	remaining := t.Amount.Sub(t.RefundedAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// ClassifyRefund returns the status the transaction lands in after refunding
// the given amount on top of what has already been refunded: refunded once
// the cumulative total covers the original amount, partially refunded
// otherwise.
func (t *Transaction) ClassifyRefund(amount decimal.Decimal) PaymentStatus {
	if t.RefundedAmount.Add(amount).GreaterThanOrEqual(t.Amount) {
		return StatusRefunded
	}
	return StatusPartiallyRefunded
}
