package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
)

// envSecretManager resolves secrets from process environment variables.
// Paths are mapped to variable names by uppercasing and replacing path
// separators, e.g. "providers/moyasar/api_key" -> "PROVIDERS_MOYASAR_API_KEY".
// Intended for development; use AWS Secrets Manager or Vault in production.
type envSecretManager struct {
	prefix string
	logger *zap.Logger
}

// NewEnvSecretManager creates an environment-backed secret manager. The
// prefix may be given with or without a trailing underscore.
func NewEnvSecretManager(prefix string, logger *zap.Logger) ports.SecretManager {
	return &envSecretManager{
		prefix: strings.TrimSuffix(prefix, "_"),
		logger: logger,
	}
}

// GetSecret reads the secret from the environment.
func (m *envSecretManager) GetSecret(_ context.Context, path string) (string, error) {
	name := strings.ToUpper(strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(path))
	if m.prefix != "" {
		name = m.prefix + "_" + name
	}

	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("secret not found: %s (env %s)", path, name)
	}

	m.logger.Debug("resolved secret from environment", zap.String("path", path))
	return value, nil
}
