package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wadipay/payment-orchestrator/internal/domain"
)

const merchantColumns = `id, name, email, api_key, webhook_url, webhook_secret,
	is_active, settings, created_at, updated_at`

// MerchantRepository implements ports.MerchantRepository on pgx. Merchants
// are provisioned administratively; the core only reads them.
type MerchantRepository struct {
	pool *pgxpool.Pool
}

// NewMerchantRepository creates a new merchant repository
func NewMerchantRepository(pool *pgxpool.Pool) *MerchantRepository {
	return &MerchantRepository{pool: pool}
}

// GetByID retrieves a merchant by id.
func (r *MerchantRepository) GetByID(ctx context.Context, id string) (*domain.Merchant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id)
	return scanMerchant(row)
}

// GetByAPIKey retrieves a merchant by its API key for authentication.
func (r *MerchantRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE api_key = $1`, apiKey)
	return scanMerchant(row)
}

func scanMerchant(row rowScanner) (*domain.Merchant, error) {
	var (
		merchant      domain.Merchant
		webhookURL    pgtype.Text
		webhookSecret pgtype.Text
		settings      []byte
	)

	err := row.Scan(
		&merchant.ID, &merchant.Name, &merchant.Email, &merchant.APIKey,
		&webhookURL, &webhookSecret, &merchant.IsActive, &settings,
		&merchant.CreatedAt, &merchant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMerchantNotFound
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan merchant", err)
	}

	merchant.WebhookURL = webhookURL.String
	merchant.WebhookSecret = webhookSecret.String

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &merchant.Settings); err != nil {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "unmarshal settings", err)
		}
	}

	return &merchant, nil
}
