package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wadipay/payment-orchestrator/internal/domain"
	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
)

const transactionColumns = `id, merchant_id, provider, psp_transaction_id, psp_reference,
	amount, refunded_amount, fee_amount, currency, status, payment_method,
	card_brand, card_last_four, card_token, description, callback_url,
	last_error, idempotency_key, metadata, version, created_at, updated_at`

// TransactionRepository implements ports.TransactionRepository on pgx.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Create inserts a new ledger row.
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	amount, err := decimalToNumeric(txn.Amount)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "convert amount", err)
	}
	refunded, err := decimalToNumeric(txn.RefundedAmount)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "convert refunded amount", err)
	}
	fee, err := decimalToNumeric(txn.FeeAmount)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "convert fee amount", err)
	}

	metadata, err := marshalMetadata(txn.Metadata)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "marshal metadata", err)
	}

	var cardBrand, cardLastFour, cardToken string
	if txn.Card != nil {
		cardBrand = txn.Card.Brand
		cardLastFour = txn.Card.LastFour
		cardToken = txn.Card.Token
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO transactions (
			id, merchant_id, provider, psp_transaction_id, psp_reference,
			amount, refunded_amount, fee_amount, currency, status, payment_method,
			card_brand, card_last_four, card_token, description, callback_url,
			last_error, idempotency_key, metadata, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)`,
		txn.ID, txn.MerchantID, txn.Provider, nullText(txn.PSPTransactionID), nullText(txn.PSPReference),
		amount, refunded, fee, string(txn.Currency), string(txn.Status), string(txn.PaymentMethod),
		nullText(cardBrand), nullText(cardLastFour), nullText(cardToken), nullText(txn.Description), nullText(txn.CallbackURL),
		nullText(txn.LastError), nullText(txn.IdempotencyKey), metadata, txn.Version, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "create transaction", err)
	}

	return nil
}

// GetByID retrieves a transaction by its internal id.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetByPSPTransactionID retrieves a transaction by the provider's own id,
// used to correlate inbound webhooks.
func (r *TransactionRepository) GetByPSPTransactionID(ctx context.Context, provider, pspTransactionID string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE provider = $1 AND psp_transaction_id = $2`, provider, pspTransactionID)
	return scanTransaction(row)
}

// GetByIdempotencyKey retrieves a transaction by its idempotency key within
// a merchant's scope.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, merchantID, key string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE merchant_id = $1 AND idempotency_key = $2`, merchantID, key)
	return scanTransaction(row)
}

// Update writes the mutable fields of a ledger row under optimistic
// concurrency: the UPDATE only applies if the stored version still matches
// the version the caller read. Ledger rows are never deleted, so zero
// affected rows means a concurrent writer won the race.
func (r *TransactionRepository) Update(ctx context.Context, txn *domain.Transaction) error {
	refunded, err := decimalToNumeric(txn.RefundedAmount)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "convert refunded amount", err)
	}
	fee, err := decimalToNumeric(txn.FeeAmount)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "convert fee amount", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions SET
			status = $1,
			refunded_amount = $2,
			fee_amount = $3,
			psp_reference = $4,
			last_error = $5,
			updated_at = $6,
			version = version + 1
		WHERE id = $7 AND version = $8`,
		string(txn.Status), refunded, fee, nullText(txn.PSPReference),
		nullText(txn.LastError), txn.UpdatedAt, txn.ID, txn.Version,
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "update transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTxnVersionConflict
	}

	txn.Version++
	return nil
}

// ListByMerchant lists a merchant's transactions newest first.
func (r *TransactionRepository) ListByMerchant(ctx context.Context, filter ports.TransactionFilter) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE merchant_id = $1`
	args := []interface{}{filter.MerchantID}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, string(*filter.Status))
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list transactions", err)
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "iterate transactions", err)
	}

	return transactions, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		txn          domain.Transaction
		pspTxnID     pgtype.Text
		pspReference pgtype.Text
		amount       pgtype.Numeric
		refunded     pgtype.Numeric
		fee          pgtype.Numeric
		currency     string
		status       string
		method       string
		cardBrand    pgtype.Text
		cardLastFour pgtype.Text
		cardToken    pgtype.Text
		description  pgtype.Text
		callbackURL  pgtype.Text
		lastError    pgtype.Text
		idemKey      pgtype.Text
		metadata     []byte
	)

	err := row.Scan(
		&txn.ID, &txn.MerchantID, &txn.Provider, &pspTxnID, &pspReference,
		&amount, &refunded, &fee, &currency, &status, &method,
		&cardBrand, &cardLastFour, &cardToken, &description, &callbackURL,
		&lastError, &idemKey, &metadata, &txn.Version, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan transaction", err)
	}

	txn.PSPTransactionID = pspTxnID.String
	txn.PSPReference = pspReference.String
	txn.Currency = domain.Currency(currency)
	txn.Status = domain.PaymentStatus(status)
	txn.PaymentMethod = domain.PaymentMethod(method)
	txn.Description = description.String
	txn.CallbackURL = callbackURL.String
	txn.LastError = lastError.String
	txn.IdempotencyKey = idemKey.String

	if txn.Amount, err = pgNumericToDecimal(amount); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "convert amount", err)
	}
	if txn.RefundedAmount, err = pgNumericToDecimal(refunded); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "convert refunded amount", err)
	}
	if txn.FeeAmount, err = pgNumericToDecimal(fee); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "convert fee amount", err)
	}

	if cardBrand.Valid || cardLastFour.Valid || cardToken.Valid {
		txn.Card = &domain.CardDetails{
			Brand:    cardBrand.String,
			LastFour: cardLastFour.String,
			Token:    cardToken.String,
		}
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &txn.Metadata); err != nil {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "unmarshal metadata", err)
		}
	}

	return &txn, nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}
