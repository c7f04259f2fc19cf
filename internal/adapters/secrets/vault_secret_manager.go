package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
)

// VaultConfig contains configuration for the HashiCorp Vault backend.
type VaultConfig struct {
	// Vault server address (e.g., "https://vault.example.com:8200")
	Address string

	// Token authentication
	Token string

	// KV secrets engine mount path (default: "secret")
	MountPath string

	// Cache TTL for resolved secrets
	CacheTTL time.Duration
}

// DefaultVaultConfig returns default configuration.
func DefaultVaultConfig(address, token string) *VaultConfig {
	return &VaultConfig{
		Address:   address,
		Token:     token,
		MountPath: "secret",
		CacheTTL:  5 * time.Minute,
	}
}

// vaultSecretManager implements ports.SecretManager on Vault KV v2.
type vaultSecretManager struct {
	client *vault.Client
	config *VaultConfig
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewVaultSecretManager creates a Vault-backed secret manager.
func NewVaultSecretManager(cfg *VaultConfig, logger *zap.Logger) (ports.SecretManager, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &vaultSecretManager{
		client: client,
		config: cfg,
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}, nil
}

// GetSecret retrieves the "value" field of the KV v2 secret at path.
func (m *vaultSecretManager) GetSecret(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	if entry, ok := m.cache[path]; ok && time.Now().Before(entry.expiresAt) {
		m.mu.Unlock()
		return entry.value, nil
	}
	m.mu.Unlock()

	secret, err := m.client.KVv2(m.config.MountPath).Get(ctx, path)
	if err != nil {
		m.logger.Error("failed to retrieve secret",
			zap.String("path", path),
			zap.Error(err),
		)
		return "", fmt.Errorf("get secret %s: %w", path, err)
	}

	raw, ok := secret.Data["value"]
	if !ok {
		return "", fmt.Errorf("secret %s has no value field", path)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("secret %s value is not a string", path)
	}

	m.mu.Lock()
	m.cache[path] = cacheEntry{value: value, expiresAt: time.Now().Add(m.config.CacheTTL)}
	m.mu.Unlock()

	return value, nil
}
