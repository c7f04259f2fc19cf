package domain

import (
	"time"
)

// Merchant represents a tenant of the orchestration layer. The API key is
// the sole authentication credential; webhook URL and secret are optional
// and control event forwarding.
type Merchant struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Email         string            `json:"email"`
	APIKey        string            `json:"-"`
	WebhookURL    string            `json:"webhook_url,omitempty"`
	WebhookSecret string            `json:"-"`
	IsActive      bool              `json:"is_active"`
	Settings      map[string]string `json:"settings,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// CanProcessPayments returns true if the merchant may create new payments.
// An inactive merchant is rejected at authentication time but its historical
// transactions remain readable.
func (m *Merchant) CanProcessPayments() bool {
	return m.IsActive
}

// HasWebhook returns true if canonical events should be forwarded to the
// merchant's endpoint.
func (m *Merchant) HasWebhook() bool {
	return m.WebhookURL != ""
}
