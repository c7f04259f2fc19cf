package tap

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain"
	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
)

// ProviderID is the identifier the connector registers under.
const ProviderID = "tap"

var unitFactor = decimal.NewFromInt(100)

// statusTable maps the provider's charge states to canonical statuses.
// Unknown states fall back to failed.
var statusTable = map[string]domain.PaymentStatus{
	"INITIATED":   domain.StatusPending,
	"IN_PROGRESS": domain.StatusProcessing,
	"AUTHORIZED":  domain.StatusAuthorized,
	"CAPTURED":    domain.StatusPaid,
	"REFUNDED":    domain.StatusRefunded,
	"VOID":        domain.StatusVoided,
	"CANCELLED":   domain.StatusVoided,
	"FAILED":      domain.StatusFailed,
	"DECLINED":    domain.StatusFailed,
	"RESTRICTED":  domain.StatusFailed,
}

var eventTable = map[string]ports.WebhookEventType{
	"charge.captured": ports.EventPaymentPaid,
	"charge.failed":   ports.EventPaymentFailed,
	"charge.refunded": ports.EventPaymentRefunded,
}

// Config contains configuration for the Tap connector.
type Config struct {
	// Base URL of the provider API (production: https://api.tap.company)
	BaseURL string

	// Secret key, sent as a bearer token
	APIKey string

	// HTTP client timeout
	Timeout time.Duration
}

// DefaultConfig returns default configuration for the connector.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		BaseURL: "https://api.tap.company",
		APIKey:  apiKey,
		Timeout: 30 * time.Second,
	}
}

// Connector implements ports.Connector for the Tap gateway.
type Connector struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a new Tap connector.
func New(config *Config, logger *zap.Logger) *Connector {
	return &Connector{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Provider returns the connector's provider identifier.
func (c *Connector) Provider() string {
	return ProviderID
}

// wireCharge is the provider's charge resource. Amounts are integers in the
// currency's smallest unit.
type wireCharge struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference struct {
		Transaction string `json:"transaction,omitempty"`
	} `json:"reference"`
	Response struct {
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"response"`
	Card *struct {
		Brand     string `json:"brand,omitempty"`
		LastFour  string `json:"last_four,omitempty"`
		Token     string `json:"token,omitempty"`
	} `json:"card,omitempty"`
}

type wireChargeRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Source      map[string]string `json:"source"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type wireRefund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type wireEvent struct {
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"data"`
}

type wireErrorEnvelope struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

// CreatePayment executes a charge against the provider. The provider's
// charge API only accepts tokenized sources; raw card fields are rejected
// up front rather than replaced with the hosted-page placeholder.
func (c *Connector) CreatePayment(ctx context.Context, req *ports.CreatePaymentRequest) (*ports.ProviderPayment, error) {
	if req.Source.Card != nil {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed,
			"provider requires a tokenized card source").WithDetail("provider", ProviderID)
	}

	source := map[string]string{"id": "src_card"}
	if req.Source.Token != "" {
		source["id"] = req.Source.Token
	}

	wireReq := wireChargeRequest{
		Amount:      toMinorUnits(req.Amount),
		Currency:    string(req.Currency),
		Description: req.Description,
		Source:      source,
		RedirectURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}

	var charge wireCharge
	if err := c.do(ctx, http.MethodPost, "/v2/charges", wireReq, &charge); err != nil {
		return nil, err
	}

	return c.toProviderPayment(&charge), nil
}

// GetPayment fetches live charge state from the provider.
func (c *Connector) GetPayment(ctx context.Context, pspTransactionID string) (*ports.ProviderPayment, error) {
	var charge wireCharge
	if err := c.do(ctx, http.MethodGet, "/v2/charges/"+pspTransactionID, nil, &charge); err != nil {
		return nil, err
	}
	return c.toProviderPayment(&charge), nil
}

// RefundPayment issues a full or partial refund.
func (c *Connector) RefundPayment(ctx context.Context, pspTransactionID string, req *ports.RefundRequest) (*ports.ProviderRefund, error) {
	body := map[string]interface{}{"charge_id": pspTransactionID}
	if req != nil {
		if req.Amount != nil {
			body["amount"] = toMinorUnits(*req.Amount)
		}
		if req.Reason != "" {
			body["reason"] = req.Reason
		}
	}

	var refund wireRefund
	if err := c.do(ctx, http.MethodPost, "/v2/refunds", body, &refund); err != nil {
		return nil, err
	}

	return &ports.ProviderRefund{
		RefundID: refund.ID,
		Amount:   toMajorUnits(refund.Amount),
	}, nil
}

// VoidPayment cancels a charge before capture settles.
func (c *Connector) VoidPayment(ctx context.Context, pspTransactionID string) error {
	var charge wireCharge
	return c.do(ctx, http.MethodDelete, "/v2/charges/"+pspTransactionID, nil, &charge)
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature of the raw
// webhook body in constant time.
func (c *Connector) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseWebhookEvent interprets the provider's event envelope.
func (c *Connector) ParseWebhookEvent(payload []byte) (*ports.WebhookEvent, error) {
	var event wireEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "malformed webhook payload", err)
	}

	eventType, ok := eventTable[event.Type]
	if !ok {
		eventType = ports.EventUnknown
	}

	occurredAt, _ := time.Parse(time.RFC3339, event.CreatedAt)

	return &ports.WebhookEvent{
		Type:             eventType,
		RawType:          event.Type,
		PSPTransactionID: event.Data.ID,
		Amount:           toMajorUnits(event.Data.Amount),
		RawStatus:        event.Data.Status,
		OccurredAt:       occurredAt,
		Payload:          json.RawMessage(payload),
	}, nil
}

func (c *Connector) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return domain.WrapError(domain.ErrorCodeInternalError, "encode provider request", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return domain.NewProviderError(ProviderID, "", "create request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("provider request failed",
			zap.String("provider", ProviderID),
			zap.String("path", path),
			zap.Error(err),
		)
		return domain.NewProviderError(ProviderID, "", "provider unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewProviderError(ProviderID, "", "read provider response", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return domain.WrapError(domain.ErrorCodeTxnNotFound, "charge not found at provider", nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope wireErrorEnvelope
		message := fmt.Sprintf("provider returned HTTP %d", resp.StatusCode)
		code := ""
		if err := json.Unmarshal(respBody, &envelope); err == nil && len(envelope.Errors) > 0 {
			message = envelope.Errors[0].Description
			code = envelope.Errors[0].Code
		}
		return domain.NewProviderError(ProviderID, code, message, nil)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return domain.NewProviderError(ProviderID, "", "decode provider response", err)
		}
	}

	return nil
}

func (c *Connector) toProviderPayment(charge *wireCharge) *ports.ProviderPayment {
	status, ok := statusTable[charge.Status]
	if !ok {
		c.logger.Warn("unmapped provider status, treating as failed",
			zap.String("provider", ProviderID),
			zap.String("raw_status", charge.Status),
		)
		status = domain.StatusFailed
	}

	result := &ports.ProviderPayment{
		PSPTransactionID: charge.ID,
		Status:           status,
		RawStatus:        charge.Status,
		Amount:           toMajorUnits(charge.Amount),
		Currency:         domain.Currency(charge.Currency),
		Reference:        charge.Reference.Transaction,
		Message:          charge.Response.Message,
	}

	if charge.Card != nil {
		result.Card = &domain.CardDetails{
			Brand:    charge.Card.Brand,
			LastFour: charge.Card.LastFour,
			Token:    charge.Card.Token,
		}
	}

	return result
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(unitFactor).Round(0).IntPart()
}

func toMajorUnits(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(unitFactor)
}
