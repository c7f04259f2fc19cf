package moyasar

import (
	"encoding/json"
)

// wirePayment is the provider's payment resource. Amounts are integer
// halalas (or the currency's smallest unit); the connector converts at the
// boundary so minor units never leak into the ledger.
type wirePayment struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Amount      int64             `json:"amount"`
	Fee         int64             `json:"fee"`
	Refunded    int64             `json:"refunded"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Reference   string            `json:"reference,omitempty"`
	Message     string            `json:"message,omitempty"`
	Source      *wireSource       `json:"source,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// wireSource describes the payment instrument in provider terms. Only the
// token and display fields come back; the full PAN is write-only.
type wireSource struct {
	Type    string `json:"type"`
	Company string `json:"company,omitempty"`
	Number  string `json:"number,omitempty"`
	Name    string `json:"name,omitempty"`
	Month   int    `json:"month,omitempty"`
	Year    int    `json:"year,omitempty"`
	CVC     string `json:"cvc,omitempty"`
	Token   string `json:"token,omitempty"`
}

// wireCreateRequest is the outbound create payload.
type wireCreateRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Source      wireSource        `json:"source"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// wireRefundRequest is the outbound refund payload. Amount is optional;
// omitting it refunds the full remaining amount on the provider side.
type wireRefundRequest struct {
	Amount int64  `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// wireError is the provider's error envelope for non-2xx responses.
type wireError struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors,omitempty"`
}

// wireWebhookEvent is the provider's webhook envelope.
type wireWebhookEvent struct {
	Type      string          `json:"type"`
	CreatedAt string          `json:"created_at"`
	Data      wireWebhookData `json:"data"`
}

type wireWebhookData struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Refunded int64  `json:"refunded"`
	Currency string `json:"currency"`
}
