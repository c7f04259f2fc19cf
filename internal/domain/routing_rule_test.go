package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// TestRoutingRuleMatches tests condition evaluation against a routing context
func TestRoutingRuleMatches(t *testing.T) {
	ctx := RoutingContext{
		CardType: "mada",
		Amount:   decimal.RequireFromString("150.00"),
		Currency: CurrencySAR,
	}

	tests := []struct {
		name       string
		conditions []RuleCondition
		matches    bool
	}{
		{
			name:       "no conditions matches everything",
			conditions: nil,
			matches:    true,
		},
		{
			name: "card type equals",
			conditions: []RuleCondition{
				{Field: RuleFieldCardType, Operator: OperatorEquals, Value: "mada"},
			},
			matches: true,
		},
		{
			name: "card type equals is case insensitive",
			conditions: []RuleCondition{
				{Field: RuleFieldCardType, Operator: OperatorEquals, Value: "MADA"},
			},
			matches: true,
		},
		{
			name: "amount greater than",
			conditions: []RuleCondition{
				{Field: RuleFieldAmount, Operator: OperatorGreaterThan, Value: "100"},
			},
			matches: true,
		},
		{
			name: "amount greater than boundary is exclusive",
			conditions: []RuleCondition{
				{Field: RuleFieldAmount, Operator: OperatorGreaterThan, Value: "150.00"},
			},
			matches: false,
		},
		{
			name: "amount less than",
			conditions: []RuleCondition{
				{Field: RuleFieldAmount, Operator: OperatorLessThan, Value: "100"},
			},
			matches: false,
		},
		{
			name: "conditions are AND-ed",
			conditions: []RuleCondition{
				{Field: RuleFieldCardType, Operator: OperatorEquals, Value: "mada"},
				{Field: RuleFieldCurrency, Operator: OperatorEquals, Value: "USD"},
			},
			matches: false,
		},
		{
			name: "all conditions hold",
			conditions: []RuleCondition{
				{Field: RuleFieldCardType, Operator: OperatorEquals, Value: "mada"},
				{Field: RuleFieldCurrency, Operator: OperatorEquals, Value: "SAR"},
				{Field: RuleFieldAmount, Operator: OperatorLessThan, Value: "1000"},
			},
			matches: true,
		},
		{
			name: "unknown field never matches",
			conditions: []RuleCondition{
				{Field: RuleField("issuer_country"), Operator: OperatorEquals, Value: "SA"},
			},
			matches: false,
		},
		{
			name: "malformed decimal value never matches",
			conditions: []RuleCondition{
				{Field: RuleFieldAmount, Operator: OperatorGreaterThan, Value: "not-a-number"},
			},
			matches: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &RoutingRule{Conditions: tt.conditions, Enabled: true}
			assert.Equal(t, tt.matches, rule.Matches(ctx))
		})
	}
}

func TestRoutingRuleMatches_SuccessRate(t *testing.T) {
	rule := &RoutingRule{
		Conditions: []RuleCondition{
			{Field: RuleFieldSuccessRate, Operator: OperatorGreaterThan, Value: "0.95"},
		},
	}

	assert.True(t, rule.Matches(RoutingContext{SuccessRate: decimal.RequireFromString("0.98")}))
	assert.False(t, rule.Matches(RoutingContext{SuccessRate: decimal.RequireFromString("0.90")}))
	assert.False(t, rule.Matches(RoutingContext{}), "zero success rate fails the threshold")
}
