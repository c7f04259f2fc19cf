package reconciler

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
	"github.com/wadipay/payment-orchestrator/internal/routing"
	"github.com/wadipay/payment-orchestrator/pkg/observability"
)

// forwardTimeout bounds the call to the merchant's webhook endpoint. The
// merchant's downtime is not the provider's problem; the provider call must
// be acknowledged regardless.
const forwardTimeout = 10 * time.Second

const maxCASAttempts = 3

// Service ingests provider webhooks, reconciles ledger state, and forwards
// canonical events to merchant endpoints.
type Service struct {
	txRepo          ports.TransactionRepository
	merchants       ports.MerchantRepository
	registry        *routing.Registry
	providerSecrets map[string]string
	httpClient      *http.Client
	logger          *zap.Logger
}

// NewService creates a new webhook reconciler. providerSecrets maps a
// provider identifier to its webhook signing secret; a provider without an
// entry is processed unverified, which is an explicit operator choice.
func NewService(
	txRepo ports.TransactionRepository,
	merchants ports.MerchantRepository,
	registry *routing.Registry,
	providerSecrets map[string]string,
	httpClient *http.Client,
	logger *zap.Logger,
) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: forwardTimeout}
	}
	return &Service{
		txRepo:          txRepo,
		merchants:       merchants,
		registry:        registry,
		providerSecrets: providerSecrets,
		httpClient:      httpClient,
		logger:          logger,
	}
}

// MerchantEvent is the canonical envelope forwarded to the merchant's
// registered webhook endpoint.
type MerchantEvent struct {
	Event                   ports.WebhookEventType `json:"event"`
	TransactionID           string                 `json:"transaction_id"`
	Status                  domain.PaymentStatus   `json:"status"`
	Amount                  decimal.Decimal        `json:"amount"`
	Currency                domain.Currency        `json:"currency"`
	CreatedAt               time.Time              `json:"created_at"`
	PSPProvider             string                 `json:"psp_provider"`
	Metadata                map[string]string      `json:"metadata,omitempty"`
	OriginalProviderPayload json.RawMessage        `json:"original_provider_payload"`
}

// HandleInboundWebhook verifies, interprets, and applies one provider
// webhook. It returns an error only when the caller must reject the
// delivery (unknown provider, invalid signature, unparseable payload);
// everything downstream of successful routing - missing ledger rows,
// persistence failures, merchant forwarding failures - is logged and
// acknowledged so the provider does not retry forever.
func (s *Service) HandleInboundWebhook(ctx context.Context, provider string, rawBody []byte, signature string) error {
	connector, ok := s.registry.Get(provider)
	if !ok {
		return domain.NewDomainError(domain.ErrorCodeProviderUnsupported,
			"no connector registered for selected provider").WithDetail("provider", provider)
	}

	if secret := s.providerSecrets[provider]; secret != "" {
		if signature == "" || !connector.VerifyWebhookSignature(rawBody, signature, secret) {
			observability.RecordInboundWebhook(provider, "rejected")
			s.logger.Warn("webhook signature verification failed",
				zap.String("provider", provider),
			)
			return domain.ErrSignatureInvalid
		}
	} else {
		s.logger.Warn("processing unverified webhook, no secret configured",
			zap.String("provider", provider),
		)
	}

	event, err := connector.ParseWebhookEvent(rawBody)
	if err != nil {
		observability.RecordInboundWebhook(provider, "malformed")
		return err
	}

	if event.Type == ports.EventUnknown {
		observability.RecordInboundWebhook(provider, "ignored")
		s.logger.Info("ignoring unrecognized webhook event type",
			zap.String("provider", provider),
			zap.String("raw_type", event.RawType),
		)
		return nil
	}

	txn, err := s.txRepo.GetByPSPTransactionID(ctx, provider, event.PSPTransactionID)
	if err != nil {
		// The event may precede the create path's local persistence, or
		// belong to an untracked transaction; never fail the webhook call
		// for a missing local record.
		observability.RecordInboundWebhook(provider, "unmatched")
		s.logger.Info("no ledger row for webhook event",
			zap.String("provider", provider),
			zap.String("psp_transaction_id", event.PSPTransactionID),
			zap.String("event", string(event.Type)),
		)
		return nil
	}

	updated, err := s.applyEvent(ctx, txn.ID, event)
	if err != nil {
		// Acknowledge anyway: the polling path will reconcile, and the
		// provider retrying delivery would not help a persistence outage.
		s.logger.Error("failed to apply webhook event to ledger",
			zap.String("transaction_id", txn.ID),
			zap.String("event", string(event.Type)),
			zap.Error(err),
		)
		updated = txn
	}

	observability.RecordInboundWebhook(provider, "processed")

	s.forwardToMerchant(ctx, updated, event)

	return nil
}

// applyEvent maps the canonical event to a state transition and applies it
// under optimistic concurrency. Replayed events converge: a transition the
// state machine rejects is a no-op, and refund amounts are cumulative
// totals rather than increments.
func (s *Service) applyEvent(ctx context.Context, txnID string, event *ports.WebhookEvent) (*domain.Transaction, error) {
	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.txRepo.GetByID(ctx, txnID)
		if err != nil {
			return nil, err
		}

		if !mutateForEvent(current, event) {
			return current, nil
		}
		current.UpdatedAt = time.Now().UTC()

		err = s.txRepo.Update(ctx, current)
		if err == nil {
			return current, nil
		}
		if !domain.IsDomainError(err, domain.ErrorCodeTxnConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func mutateForEvent(txn *domain.Transaction, event *ports.WebhookEvent) bool {
	switch event.Type {
	case ports.EventPaymentPaid:
		if !domain.CanTransition(txn.Status, domain.StatusPaid) {
			return false
		}
		txn.Status = domain.StatusPaid
		return true

	case ports.EventPaymentFailed:
		if !domain.CanTransition(txn.Status, domain.StatusFailed) {
			return false
		}
		txn.Status = domain.StatusFailed
		if event.RawStatus != "" {
			txn.LastError = fmt.Sprintf("provider reported %s", event.RawStatus)
		}
		return true

	case ports.EventPaymentRefunded:
		// Event amount is the provider's cumulative refunded total, so
		// duplicate deliveries and the synchronous refund path converge on
		// the same ledger state.
		refunded := event.Amount
		if refunded.LessThanOrEqual(txn.RefundedAmount) {
			return false
		}
		next := domain.StatusPartiallyRefunded
		if refunded.GreaterThanOrEqual(txn.Amount) {
			next = domain.StatusRefunded
		}
		if next != txn.Status && !domain.CanTransition(txn.Status, next) {
			return false
		}
		txn.RefundedAmount = refunded
		txn.Status = next
		return true
	}
	return false
}

// forwardToMerchant delivers the canonical event envelope to the merchant's
// webhook endpoint, signed with the merchant's own secret. Failures are
// logged and swallowed; forwarding must never affect the provider-facing
// acknowledgment.
func (s *Service) forwardToMerchant(ctx context.Context, txn *domain.Transaction, event *ports.WebhookEvent) {
	merchant, err := s.merchants.GetByID(ctx, txn.MerchantID)
	if err != nil {
		s.logger.Error("failed to load merchant for webhook forwarding",
			zap.String("merchant_id", txn.MerchantID),
			zap.Error(err),
		)
		return
	}
	if !merchant.HasWebhook() {
		return
	}

	envelope := MerchantEvent{
		Event:                   event.Type,
		TransactionID:           txn.ID,
		Status:                  txn.Status,
		Amount:                  txn.Amount,
		Currency:                txn.Currency,
		CreatedAt:               txn.CreatedAt,
		PSPProvider:             txn.Provider,
		Metadata:                txn.Metadata,
		OriginalProviderPayload: event.Payload,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Error("failed to marshal merchant event envelope", zap.Error(err))
		return
	}

	forwardCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forwardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(forwardCtx, http.MethodPost, merchant.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		s.logger.Error("failed to build merchant webhook request",
			zap.String("merchant_id", merchant.ID),
			zap.Error(err),
		)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signPayload(payload, merchant.WebhookSecret))
	req.Header.Set("X-Webhook-Event-Type", string(event.Type))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		observability.RecordWebhookForward("failed")
		s.logger.Warn("merchant webhook forwarding failed",
			zap.String("merchant_id", merchant.ID),
			zap.String("webhook_url", merchant.WebhookURL),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.RecordWebhookForward("failed")
		s.logger.Warn("merchant webhook endpoint returned non-2xx",
			zap.String("merchant_id", merchant.ID),
			zap.Int("status_code", resp.StatusCode),
		)
		return
	}

	observability.RecordWebhookForward("delivered")
	s.logger.Info("merchant webhook delivered",
		zap.String("merchant_id", merchant.ID),
		zap.String("event", string(event.Type)),
		zap.String("transaction_id", txn.ID),
	)
}

// signPayload creates the HMAC-SHA256 hex signature of the payload.
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
