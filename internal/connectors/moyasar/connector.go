package moyasar

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
const ProviderID = "moyasar"

// unitFactor converts between major units and the provider's wire unit
// (halalas for SAR, cents for USD/AED).
var unitFactor = decimal.NewFromInt(100)

// statusTable maps every provider status to exactly one canonical status.
// Anything not in the table maps to failed; an unrecognized status must
// never pass through as a success.
var statusTable = map[string]domain.PaymentStatus{
	"initiated":  domain.StatusPending,
	"paid":       domain.StatusPaid,
	"authorized": domain.StatusAuthorized,
	"captured":   domain.StatusPaid,
	"failed":     domain.StatusFailed,
	"refunded":   domain.StatusRefunded,
	"voided":     domain.StatusVoided,
}

// eventTable maps provider webhook event types to the canonical vocabulary.
var eventTable = map[string]ports.WebhookEventType{
	"payment_paid":     ports.EventPaymentPaid,
	"payment_failed":   ports.EventPaymentFailed,
	"payment_refunded": ports.EventPaymentRefunded,
}

// Config contains configuration for the Moyasar connector.
type Config struct {
	// Base URL of the provider API
	// Production: https://api.moyasar.com
	BaseURL string

	// Secret API key, sent as the HTTP Basic username with empty password
	APIKey string

	// HTTP client timeout
	Timeout time.Duration
}

// DefaultConfig returns default configuration for the connector.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		BaseURL: "https://api.moyasar.com",
		APIKey:  apiKey,
		Timeout: 30 * time.Second,
	}
}

// Connector implements ports.Connector for the Moyasar gateway.
type Connector struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a new Moyasar connector with a pooled HTTP client.
func New(config *Config, logger *zap.Logger) *Connector {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Connector{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		logger: logger,
	}
}

// Provider returns the connector's provider identifier.
func (c *Connector) Provider() string {
	return ProviderID
}

// CreatePayment executes a charge against the provider.
func (c *Connector) CreatePayment(ctx context.Context, req *ports.CreatePaymentRequest) (*ports.ProviderPayment, error) {
	wireReq := wireCreateRequest{
		Amount:      toMinorUnits(req.Amount),
		Currency:    string(req.Currency),
		Description: req.Description,
		CallbackURL: req.CallbackURL,
		Source:      toWireSource(req.Source),
		Metadata:    req.Metadata,
	}

	c.logger.Info("creating provider payment",
		zap.String("provider", ProviderID),
		zap.String("currency", wireReq.Currency),
		zap.String("source_type", wireReq.Source.Type),
	)

	var payment wirePayment
	if err := c.do(ctx, http.MethodPost, "/v1/payments", wireReq, &payment); err != nil {
		return nil, err
	}

	return c.toProviderPayment(&payment), nil
}

// GetPayment fetches live payment state from the provider.
func (c *Connector) GetPayment(ctx context.Context, pspTransactionID string) (*ports.ProviderPayment, error) {
	var payment wirePayment
	path := fmt.Sprintf("/v1/payments/%s", pspTransactionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &payment); err != nil {
		return nil, err
	}

	return c.toProviderPayment(&payment), nil
}

// RefundPayment issues a full or partial refund.
func (c *Connector) RefundPayment(ctx context.Context, pspTransactionID string, req *ports.RefundRequest) (*ports.ProviderRefund, error) {
	wireReq := wireRefundRequest{}
	if req != nil {
		if req.Amount != nil {
			wireReq.Amount = toMinorUnits(*req.Amount)
		}
		wireReq.Reason = req.Reason
	}

	var payment wirePayment
	path := fmt.Sprintf("/v1/payments/%s/refund", pspTransactionID)
	if err := c.do(ctx, http.MethodPost, path, wireReq, &payment); err != nil {
		return nil, err
	}

	refunded := toMajorUnits(payment.Refunded)
	if wireReq.Amount > 0 {
		refunded = toMajorUnits(wireReq.Amount)
	}

	return &ports.ProviderRefund{
		RefundID: payment.ID,
		Amount:   refunded,
		Message:  payment.Message,
	}, nil
}

// VoidPayment cancels a payment before settlement.
func (c *Connector) VoidPayment(ctx context.Context, pspTransactionID string) error {
	var payment wirePayment
	path := fmt.Sprintf("/v1/payments/%s/void", pspTransactionID)
	return c.do(ctx, http.MethodPost, path, nil, &payment)
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature of the raw
// webhook body. Comparison is constant time.
func (c *Connector) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseWebhookEvent interprets the provider's event envelope.
func (c *Connector) ParseWebhookEvent(payload []byte) (*ports.WebhookEvent, error) {
	var event wireWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "malformed webhook payload", err)
	}

	eventType, ok := eventTable[event.Type]
	if !ok {
		eventType = ports.EventUnknown
	}

	amount := toMajorUnits(event.Data.Amount)
	if eventType == ports.EventPaymentRefunded && event.Data.Refunded > 0 {
		amount = toMajorUnits(event.Data.Refunded)
	}

	occurredAt, _ := time.Parse(time.RFC3339, event.CreatedAt)

	return &ports.WebhookEvent{
		Type:             eventType,
		RawType:          event.Type,
		PSPTransactionID: event.Data.ID,
		Amount:           amount,
		RawStatus:        event.Data.Status,
		OccurredAt:       occurredAt,
		Payload:          json.RawMessage(payload),
	}, nil
}

// do executes one provider call and decodes the response. Any transport
// failure or non-2xx response is wrapped into a provider error; raw
// transport errors never reach callers above the connector.
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
	httpReq.SetBasicAuth(c.config.APIKey, "")

	start := time.Now()
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

	c.logger.Debug("provider request completed",
		zap.String("provider", ProviderID),
		zap.String("path", path),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusNotFound {
		return domain.WrapError(domain.ErrorCodeTxnNotFound, "payment not found at provider", nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var wireErr wireError
		if err := json.Unmarshal(respBody, &wireErr); err != nil || wireErr.Message == "" {
			wireErr.Message = fmt.Sprintf("provider returned HTTP %d", resp.StatusCode)
		}
		return domain.NewProviderError(ProviderID, wireErr.Type, wireErr.Message, nil)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return domain.NewProviderError(ProviderID, "", "decode provider response", err)
		}
	}

	return nil
}

// toProviderPayment normalizes a wire payment into the canonical shape.
func (c *Connector) toProviderPayment(payment *wirePayment) *ports.ProviderPayment {
	status, ok := statusTable[payment.Status]
	if !ok {
		c.logger.Warn("unmapped provider status, treating as failed",
			zap.String("provider", ProviderID),
			zap.String("raw_status", payment.Status),
		)
		status = domain.StatusFailed
	}

	result := &ports.ProviderPayment{
		PSPTransactionID: payment.ID,
		Status:           status,
		RawStatus:        payment.Status,
		Amount:           toMajorUnits(payment.Amount),
		Fee:              toMajorUnits(payment.Fee),
		Currency:         domain.Currency(payment.Currency),
		Reference:        payment.Reference,
		Message:          payment.Message,
	}

	if payment.Source != nil && (payment.Source.Company != "" || payment.Source.Token != "") {
		result.Card = &domain.CardDetails{
			Brand:    payment.Source.Company,
			LastFour: lastFour(payment.Source.Number),
			Token:    payment.Source.Token,
		}
	}

	return result
}

func toWireSource(source ports.PaymentSource) wireSource {
	wire := wireSource{Type: sourceType(source.Method)}
	if source.Token != "" {
		wire.Token = source.Token
		return wire
	}
	if source.Card != nil {
		wire.Number = source.Card.Number
		wire.Name = source.Card.Name
		wire.Month = source.Card.Month
		wire.Year = source.Card.Year
		wire.CVC = source.Card.CVC
	}
	return wire
}

func sourceType(method domain.PaymentMethod) string {
	switch method {
	case domain.PaymentMethodApplePay:
		return "applepay"
	case domain.PaymentMethodSTCPay:
		return "stcpay"
	default:
		// mada runs on the creditcard source type with brand detection
		// on the provider side
		return "creditcard"
	}
}

// toMinorUnits converts a major-unit amount to the provider's integer wire
// amount, rounding to the nearest minor unit.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(unitFactor).Round(0).IntPart()
}

// toMajorUnits converts a wire amount back to major units.
func toMajorUnits(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(unitFactor)
}

// lastFour extracts the trailing four digits of a masked card number.
func lastFour(masked string) string {
	if len(masked) < 4 {
		return masked
	}
	return masked[len(masked)-4:]
}
