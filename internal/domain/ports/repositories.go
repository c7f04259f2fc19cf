package ports

import (
	"context"

	"github.com/wadipay/payment-orchestrator/internal/domain"
)

// TransactionFilter narrows a merchant-scoped ledger listing.
type TransactionFilter struct {
	MerchantID string
	Status     *domain.PaymentStatus
	Limit      int32
	Offset     int32
}

// TransactionRepository is the persistence boundary for the ledger. Update
// must apply optimistic concurrency on the transaction's version counter and
// return domain.ErrTxnVersionConflict on a lost race; the polling and
// webhook writers may be different process instances, so this check is the
// only guard against lost updates.
type TransactionRepository interface {
	Create(ctx context.Context, txn *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetByPSPTransactionID(ctx context.Context, provider, pspTransactionID string) (*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, merchantID, key string) (*domain.Transaction, error)
	Update(ctx context.Context, txn *domain.Transaction) error
	ListByMerchant(ctx context.Context, filter TransactionFilter) ([]*domain.Transaction, error)
}

// MerchantRepository reads tenant records. Merchants are provisioned out of
// band; the core only ever reads them.
type MerchantRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Merchant, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error)
}

// RoutingRuleRepository loads the routing policy. ListEnabled returns
// enabled global rules plus rules scoped to the given merchant, ordered by
// priority ascending, merchant-scoped before global on ties, then insertion
// order.
type RoutingRuleRepository interface {
	ListEnabled(ctx context.Context, merchantID string) ([]*domain.RoutingRule, error)
}
