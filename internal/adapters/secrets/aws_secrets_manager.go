package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
)

// AWSConfig contains configuration for the AWS Secrets Manager backend.
type AWSConfig struct {
	// AWS Region (e.g., "me-south-1")
	Region string

	// Optional: AWS profile name (for local development)
	Profile string

	// Cache TTL for resolved secrets
	CacheTTL time.Duration
}

// DefaultAWSConfig returns default configuration.
func DefaultAWSConfig(region string) *AWSConfig {
	return &AWSConfig{
		Region:   region,
		CacheTTL: 5 * time.Minute,
	}
}

// awsSecretManager implements ports.SecretManager on AWS Secrets Manager.
type awsSecretManager struct {
	client *secretsmanager.Client
	config *AWSConfig
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// NewAWSSecretManager creates an AWS Secrets Manager backed secret manager.
func NewAWSSecretManager(ctx context.Context, cfg *AWSConfig, logger *zap.Logger) (ports.SecretManager, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &awsSecretManager{
		client: secretsmanager.NewFromConfig(awsConfig),
		config: cfg,
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}, nil
}

// GetSecret retrieves a secret value by its name, with TTL caching.
func (m *awsSecretManager) GetSecret(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	if entry, ok := m.cache[path]; ok && time.Now().Before(entry.expiresAt) {
		m.mu.Unlock()
		return entry.value, nil
	}
	m.mu.Unlock()

	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(path),
	})
	if err != nil {
		m.logger.Error("failed to retrieve secret",
			zap.String("path", path),
			zap.Error(err),
		)
		return "", fmt.Errorf("get secret %s: %w", path, err)
	}

	value := aws.ToString(out.SecretString)

	m.mu.Lock()
	m.cache[path] = cacheEntry{value: value, expiresAt: time.Now().Add(m.config.CacheTTL)}
	m.mu.Unlock()

	return value, nil
}
