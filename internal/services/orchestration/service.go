package orchestration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain"
	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
	"github.com/wadipay/payment-orchestrator/internal/routing"
	"github.com/wadipay/payment-orchestrator/pkg/observability"
)

// maxCASAttempts bounds the re-read loop when a status write loses the race
// against the other writer (poll vs. webhook).
const maxCASAttempts = 3

// Service coordinates Router -> Connector -> Ledger for the merchant-facing
// payment operations. It is the only synchronous writer of the ledger; the
// webhook reconciler is the asynchronous one.
type Service struct {
	txRepo   ports.TransactionRepository
	router   *routing.Router
	registry *routing.Registry
	logger   *zap.Logger
}

// NewService creates a new orchestration service.
func NewService(
	txRepo ports.TransactionRepository,
	router *routing.Router,
	registry *routing.Registry,
	logger *zap.Logger,
) *Service {
	return &Service{
		txRepo:   txRepo,
		router:   router,
		registry: registry,
		logger:   logger,
	}
}

// CreateRequest is a validated merchant request to create a payment.
type CreateRequest struct {
	MerchantID     string
	Amount         decimal.Decimal
	Currency       domain.Currency
	Description    string
	Source         ports.PaymentSource
	CallbackURL    string
	Metadata       map[string]string
	IdempotencyKey string
}

// CreatePayment routes the request to a provider, executes the charge, and
// persists the resulting ledger row. No row is written before the provider
// accepts the request: a failed provider call leaves no trace. A repeated
// idempotency key short-circuits to the existing row without a second
// charge.
func (s *Service) CreatePayment(ctx context.Context, req CreateRequest) (*domain.Transaction, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.txRepo.GetByIdempotencyKey(ctx, req.MerchantID, req.IdempotencyKey)
		switch {
		case err == nil:
			s.logger.Info("returning existing transaction for idempotency key",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("transaction_id", existing.ID),
			)
			return existing, nil
		case !domain.IsNotFoundError(err):
			// Cannot tell whether the key was already used; charging the
			// provider here could double-charge the card.
			s.logger.Error("idempotency key lookup failed",
				zap.String("merchant_id", req.MerchantID),
				zap.Error(err),
			)
			return nil, err
		}
	}

	routingCtx := domain.RoutingContext{
		CardType: string(req.Source.Method),
		Amount:   req.Amount,
		Currency: req.Currency,
	}

	connector, err := s.router.SelectConnector(ctx, req.MerchantID, routingCtx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	providerResp, err := connector.CreatePayment(ctx, &ports.CreatePaymentRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Source:      req.Source,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	observability.ObserveProviderCall(connector.Provider(), "create", time.Since(start), err)
	if err != nil {
		s.logger.Error("provider create failed",
			zap.String("merchant_id", req.MerchantID),
			zap.String("provider", connector.Provider()),
			zap.Error(err),
		)
		return nil, err
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:               uuid.New().String(),
		MerchantID:       req.MerchantID,
		Provider:         connector.Provider(),
		PSPTransactionID: providerResp.PSPTransactionID,
		PSPReference:     providerResp.Reference,
		Amount:           req.Amount,
		RefundedAmount:   decimal.Zero,
		FeeAmount:        providerResp.Fee,
		Currency:         req.Currency,
		Status:           providerResp.Status,
		PaymentMethod:    req.Source.Method,
		Card:             providerResp.Card,
		Description:      req.Description,
		CallbackURL:      req.CallbackURL,
		LastError:        failureMessage(providerResp),
		IdempotencyKey:   req.IdempotencyKey,
		Metadata:         req.Metadata,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// The provider has accepted the charge; the ledger write goes through
	// even if the client has disconnected, so an externally-real charge is
	// never left without a local record.
	if err := s.txRepo.Create(context.WithoutCancel(ctx), txn); err != nil {
		s.logger.Error("ledger write failed after provider accepted charge",
			zap.String("transaction_id", txn.ID),
			zap.String("psp_transaction_id", txn.PSPTransactionID),
			zap.String("provider", txn.Provider),
			zap.Error(err),
		)
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "persist transaction", err)
	}

	observability.RecordPayment(txn.Provider, string(txn.Status), string(txn.PaymentMethod), string(txn.Currency))

	s.logger.Info("payment created",
		zap.String("transaction_id", txn.ID),
		zap.String("merchant_id", txn.MerchantID),
		zap.String("provider", txn.Provider),
		zap.String("status", string(txn.Status)),
	)

	return txn, nil
}

// GetPayment returns the canonical view of a transaction, reconciled with
// the provider's live status. Webhook delivery is not guaranteed, so this
// polling path must exist independently of webhooks.
func (s *Service) GetPayment(ctx context.Context, merchantID, id string) (*domain.Transaction, error) {
	txn, err := s.getOwned(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}

	if txn.Status.IsTerminal() || txn.PSPTransactionID == "" {
		return txn, nil
	}

	connector, ok := s.registry.Get(txn.Provider)
	if !ok {
		s.logger.Warn("no connector for stored provider, returning ledger state",
			zap.String("transaction_id", txn.ID),
			zap.String("provider", txn.Provider),
		)
		return txn, nil
	}

	start := time.Now()
	live, err := connector.GetPayment(ctx, txn.PSPTransactionID)
	observability.ObserveProviderCall(txn.Provider, "get", time.Since(start), err)
	if err != nil {
		// The ledger is still authoritative when the provider cannot be
		// reached; polling is reconciliation, not the source of truth.
		s.logger.Warn("provider poll failed, returning ledger state",
			zap.String("transaction_id", txn.ID),
			zap.String("provider", txn.Provider),
			zap.Error(err),
		)
		return txn, nil
	}

	if live.Status == txn.Status || !domain.CanTransition(txn.Status, live.Status) {
		return txn, nil
	}

	updated, err := s.applyStatus(ctx, txn.ID, func(current *domain.Transaction) bool {
		if !domain.CanTransition(current.Status, live.Status) {
			return false
		}
		current.Status = live.Status
		current.LastError = live.Message
		if !live.Fee.IsZero() {
			current.FeeAmount = live.Fee
		}
		if live.Reference != "" {
			current.PSPReference = live.Reference
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// RefundPayment refunds part or all of a paid transaction. Refunds are only
// accepted while the transaction is paid or partially refunded; the final
// status is refunded once the cumulative refunded amount covers the
// original amount.
func (s *Service) RefundPayment(ctx context.Context, merchantID, id string, amount *decimal.Decimal, reason string) (*domain.Transaction, error) {
	txn, err := s.getOwned(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}

	if !txn.CanRefund() {
		return nil, domain.NewDomainError(domain.ErrorCodeTxnInvalidState,
			"only paid or partially refunded transactions can be refunded").
			WithDetail("status", string(txn.Status))
	}

	refundAmount := txn.RemainingRefundable()
	if amount != nil {
		refundAmount = *amount
	}
	if !refundAmount.IsPositive() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid, "refund amount must be positive")
	}
	if refundAmount.GreaterThan(txn.RemainingRefundable()) {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid,
			"refund amount exceeds remaining refundable amount").
			WithDetail("remaining", txn.RemainingRefundable().String())
	}

	connector, ok := s.registry.Get(txn.Provider)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeProviderUnsupported,
			"no connector registered for selected provider").WithDetail("provider", txn.Provider)
	}

	start := time.Now()
	refund, err := connector.RefundPayment(ctx, txn.PSPTransactionID, &ports.RefundRequest{
		Amount: &refundAmount,
		Reason: reason,
	})
	observability.ObserveProviderCall(txn.Provider, "refund", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	refunded := refund.Amount
	if refunded.IsZero() {
		refunded = refundAmount
	}

	updated, err := s.applyStatus(context.WithoutCancel(ctx), txn.ID, func(current *domain.Transaction) bool {
		next := current.ClassifyRefund(refunded)
		if next != current.Status && !domain.CanTransition(current.Status, next) {
			return false
		}
		current.RefundedAmount = current.RefundedAmount.Add(refunded)
		current.Status = next
		return true
	})
	if err != nil {
		return nil, err
	}

	observability.RecordRefund(txn.Provider, string(updated.Status))

	s.logger.Info("payment refunded",
		zap.String("transaction_id", txn.ID),
		zap.String("provider", txn.Provider),
		zap.String("refund_amount", refunded.String()),
		zap.String("status", string(updated.Status)),
	)

	return updated, nil
}

// VoidPayment cancels a payment before capture settles.
func (s *Service) VoidPayment(ctx context.Context, merchantID, id string) (*domain.Transaction, error) {
	txn, err := s.getOwned(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}

	if !txn.CanVoid() {
		return nil, domain.NewDomainError(domain.ErrorCodeTxnInvalidState,
			"transaction can no longer be voided").
			WithDetail("status", string(txn.Status))
	}

	connector, ok := s.registry.Get(txn.Provider)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeProviderUnsupported,
			"no connector registered for selected provider").WithDetail("provider", txn.Provider)
	}

	start := time.Now()
	err = connector.VoidPayment(ctx, txn.PSPTransactionID)
	observability.ObserveProviderCall(txn.Provider, "void", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	updated, err := s.applyStatus(context.WithoutCancel(ctx), txn.ID, func(current *domain.Transaction) bool {
		if !domain.CanTransition(current.Status, domain.StatusVoided) {
			return false
		}
		current.Status = domain.StatusVoided
		return true
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment voided",
		zap.String("transaction_id", txn.ID),
		zap.String("provider", txn.Provider),
	)

	return updated, nil
}

// ListPayments returns the merchant's transactions, newest first.
func (s *Service) ListPayments(ctx context.Context, merchantID string, status *domain.PaymentStatus, limit, offset int32) ([]*domain.Transaction, error) {
	if status != nil && !status.IsValid() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "unknown status filter").
			WithDetail("status", string(*status))
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	return s.txRepo.ListByMerchant(ctx, ports.TransactionFilter{
		MerchantID: merchantID,
		Status:     status,
		Limit:      limit,
		Offset:     offset,
	})
}

// getOwned loads a transaction and enforces tenant isolation: a transaction
// belonging to another merchant is indistinguishable from a missing one.
func (s *Service) getOwned(ctx context.Context, merchantID, id string) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.MerchantID != merchantID {
		return nil, domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found")
	}
	return txn, nil
}

// applyStatus applies a mutation under optimistic concurrency: on a version
// conflict the row is re-read and the mutation re-evaluated against the
// fresh state. A mutation that returns false is a no-op and the current row
// is returned unchanged.
func (s *Service) applyStatus(ctx context.Context, id string, mutate func(*domain.Transaction) bool) (*domain.Transaction, error) {
	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.txRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if !mutate(current) {
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

func validateCreate(req CreateRequest) error {
	if req.MerchantID == "" {
		return domain.NewDomainError(domain.ErrorCodeValidationMissingField, "merchant_id is required")
	}
	if !req.Amount.IsPositive() {
		return domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid, "amount must be positive")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid, "amount precision exceeds two decimal places")
	}
	if !req.Currency.IsValid() {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "unsupported currency").
			WithDetail("currency", string(req.Currency))
	}
	if req.Source.Token == "" && req.Source.Card == nil {
		return domain.NewDomainError(domain.ErrorCodeValidationMissingField, "payment source requires a token or card details")
	}
	return nil
}

func failureMessage(resp *ports.ProviderPayment) string {
	if resp.Status == domain.StatusFailed {
		return resp.Message
	}
	return ""
}
