package routing

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain"
	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
)

// Registry holds the connector for each supported provider, keyed by
// provider identifier. Registration happens once at startup; lookups are
// concurrent.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]ports.Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]ports.Connector),
	}
}

// Register adds a connector under its provider identifier.
func (r *Registry) Register(connector ports.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[connector.Provider()] = connector
}

// Get returns the connector registered for a provider.
func (r *Registry) Get(provider string) (ports.Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connector, ok := r.connectors[provider]
	return connector, ok
}

// Providers returns the identifiers of all registered connectors.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]string, 0, len(r.connectors))
	for provider := range r.connectors {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	return providers
}

// Router selects the connector for a payment request by evaluating the
// declarative routing rules, falling back to the configured default
// provider when nothing matches.
type Router struct {
	registry        *Registry
	rules           ports.RoutingRuleRepository
	defaultProvider string
	logger          *zap.Logger
}

// NewRouter creates a router over a registry and a rule store.
func NewRouter(registry *Registry, rules ports.RoutingRuleRepository, defaultProvider string, logger *zap.Logger) *Router {
	return &Router{
		registry:        registry,
		rules:           rules,
		defaultProvider: defaultProvider,
		logger:          logger,
	}
}

// SelectConnector evaluates enabled rules in priority order (lower number
// wins; merchant-scoped rules before global on ties) and returns the
// connector of the first rule whose conditions all match. If no rule
// matches, the default provider is used. A selected provider without a
// registered connector fails here, at selection time, so routing
// misconfiguration is diagnosable before any provider call.
func (r *Router) SelectConnector(ctx context.Context, merchantID string, routingCtx domain.RoutingContext) (ports.Connector, error) {
	rules, err := r.rules.ListEnabled(ctx, merchantID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "load routing rules", err)
	}

	orderRules(rules)

	provider := r.defaultProvider
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if rule.Matches(routingCtx) {
			provider = rule.TargetProvider
			r.logger.Debug("routing rule matched",
				zap.String("rule", rule.Name),
				zap.Int("priority", rule.Priority),
				zap.String("provider", provider),
			)
			break
		}
	}

	connector, ok := r.registry.Get(provider)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeProviderUnsupported,
			"no connector registered for selected provider").WithDetail("provider", provider)
	}

	return connector, nil
}

// orderRules sorts by ascending priority, merchant-scoped before global on
// equal priority, then insertion order.
func orderRules(rules []*domain.RoutingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		iScoped := rules[i].MerchantID != ""
		jScoped := rules[j].MerchantID != ""
		if iScoped != jScoped {
			return iScoped
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}
