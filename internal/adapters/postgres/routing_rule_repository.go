package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wadipay/payment-orchestrator/internal/domain"
)

// RoutingRuleRepository implements ports.RoutingRuleRepository on pgx.
type RoutingRuleRepository struct {
	pool *pgxpool.Pool
}

// NewRoutingRuleRepository creates a new routing rule repository
func NewRoutingRuleRepository(pool *pgxpool.Pool) *RoutingRuleRepository {
	return &RoutingRuleRepository{pool: pool}
}

// ListEnabled returns enabled global rules plus rules scoped to the given
// merchant: priority ascending, merchant-scoped before global on ties, then
// insertion order.
func (r *RoutingRuleRepository) ListEnabled(ctx context.Context, merchantID string) ([]*domain.RoutingRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, priority, conditions, target_provider, enabled, merchant_id, created_at
		FROM routing_rules
		WHERE enabled = true AND (merchant_id IS NULL OR merchant_id = $1)
		ORDER BY priority ASC, (merchant_id IS NULL) ASC, created_at ASC`,
		merchantID,
	)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list routing rules", err)
	}
	defer rows.Close()

	var rules []*domain.RoutingRule
	for rows.Next() {
		var (
			rule       domain.RoutingRule
			conditions []byte
			ruleScope  pgtype.Text
		)
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Priority, &conditions,
			&rule.TargetProvider, &rule.Enabled, &ruleScope, &rule.CreatedAt,
		); err != nil {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan routing rule", err)
		}

		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
				return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "unmarshal rule conditions", err)
			}
		}
		rule.MerchantID = ruleScope.String

		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "iterate routing rules", err)
	}

	return rules, nil
}
