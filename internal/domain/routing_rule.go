package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RuleField identifies the request attribute a routing condition inspects.
type RuleField string

const (
	RuleFieldCardType    RuleField = "card_type"
	RuleFieldAmount      RuleField = "amount"
	RuleFieldCurrency    RuleField = "currency"
	RuleFieldSuccessRate RuleField = "success_rate"
)

// RuleOperator is the comparison applied between the request attribute and
// the condition value.
type RuleOperator string

const (
	OperatorEquals      RuleOperator = "equals"
	OperatorGreaterThan RuleOperator = "greater_than"
	OperatorLessThan    RuleOperator = "less_than"
	OperatorContains    RuleOperator = "contains"
)

// RuleCondition is a single predicate inside a routing rule. Conditions
// within one rule are AND-ed.
type RuleCondition struct {
	Field    RuleField    `json:"field"`
	Operator RuleOperator `json:"operator"`
	Value    string       `json:"value"`
}

// RoutingRule selects a target provider for matching payment requests.
// Priority is ascending: a rule with priority 1 is evaluated before a rule
// with priority 10. On equal priority, merchant-scoped rules come before
// global ones, then insertion order.
type RoutingRule struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Priority       int             `json:"priority"`
	Conditions     []RuleCondition `json:"conditions"`
	TargetProvider string          `json:"target_provider"`
	Enabled        bool            `json:"enabled"`
	MerchantID     string          `json:"merchant_id,omitempty"` // empty = applies to all merchants
	CreatedAt      time.Time       `json:"created_at"`
}

// RoutingContext carries the request attributes routing conditions may
// inspect. SuccessRate is the observed success rate of the candidate flow,
// supplied by the caller when available.
type RoutingContext struct {
	CardType    string
	Amount      decimal.Decimal
	Currency    Currency
	SuccessRate decimal.Decimal
}

// Matches returns true if every condition in the rule holds for the context.
// A rule with no conditions matches everything.
func (r *RoutingRule) Matches(ctx RoutingContext) bool {
	for _, cond := range r.Conditions {
		if !cond.matches(ctx) {
			return false
		}
	}
	return true
}

func (c *RuleCondition) matches(ctx RoutingContext) bool {
	switch c.Field {
	case RuleFieldAmount:
		return compareDecimal(ctx.Amount, c.Operator, c.Value)
	case RuleFieldSuccessRate:
		return compareDecimal(ctx.SuccessRate, c.Operator, c.Value)
	case RuleFieldCardType:
		return compareString(ctx.CardType, c.Operator, c.Value)
	case RuleFieldCurrency:
		return compareString(string(ctx.Currency), c.Operator, c.Value)
	}
	return false
}

func compareDecimal(have decimal.Decimal, op RuleOperator, raw string) bool {
	want, err := decimal.NewFromString(raw)
	if err != nil {
		return false
	}
	switch op {
	case OperatorEquals:
		return have.Equal(want)
	case OperatorGreaterThan:
		return have.GreaterThan(want)
	case OperatorLessThan:
		return have.LessThan(want)
	case OperatorContains:
		return strings.Contains(have.String(), raw)
	}
	return false
}

func compareString(have string, op RuleOperator, want string) bool {
	switch op {
	case OperatorEquals:
		return strings.EqualFold(have, want)
	case OperatorContains:
		return strings.Contains(strings.ToLower(have), strings.ToLower(want))
	case OperatorGreaterThan:
		return have > want
	case OperatorLessThan:
		return have < want
	}
	return false
}
