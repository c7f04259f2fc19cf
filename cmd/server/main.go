package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wadipay/payment-orchestrator/internal/adapters/postgres"
	"github.com/wadipay/payment-orchestrator/internal/adapters/secrets"
	"github.com/wadipay/payment-orchestrator/internal/api"
	"github.com/wadipay/payment-orchestrator/internal/config"
	"github.com/wadipay/payment-orchestrator/internal/connectors/moyasar"
	"github.com/wadipay/payment-orchestrator/internal/connectors/tap"
	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
	paymentHandler "github.com/wadipay/payment-orchestrator/internal/handlers/payment"
	webhookHandler "github.com/wadipay/payment-orchestrator/internal/handlers/webhook"
	"github.com/wadipay/payment-orchestrator/internal/middleware"
	"github.com/wadipay/payment-orchestrator/internal/routing"
	"github.com/wadipay/payment-orchestrator/internal/services/orchestration"
	"github.com/wadipay/payment-orchestrator/internal/services/reconciler"
	"github.com/wadipay/payment-orchestrator/pkg/observability"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logger)
	defer logger.Sync()

	logger.Info("Starting payment orchestrator",
		zap.String("version", "0.1.0"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dbPool, err := postgres.NewPool(ctx, &postgres.PoolConfig{
		DatabaseURL: cfg.Database.ConnectionString(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbPool.Close()

	logger.Info("Database connection established",
		zap.String("database", cfg.Database.Database),
	)

	secretManager, err := initSecretManager(context.Background(), &cfg.Secrets, logger)
	if err != nil {
		logger.Fatal("Failed to initialize secret manager", zap.Error(err))
	}

	txRepo := postgres.NewTransactionRepository(dbPool)
	merchantRepo := postgres.NewMerchantRepository(dbPool)
	ruleRepo := postgres.NewRoutingRuleRepository(dbPool)

	registry := routing.NewRegistry()
	webhookSecrets := make(map[string]string)

	if cfg.Providers.Moyasar.Enabled {
		apiKey, err := secretManager.GetSecret(context.Background(), cfg.Providers.Moyasar.APIKeyPath)
		if err != nil {
			logger.Fatal("Failed to load moyasar API key", zap.Error(err))
		}
		connectorCfg := moyasar.DefaultConfig(apiKey)
		connectorCfg.BaseURL = cfg.Providers.Moyasar.BaseURL
		connectorCfg.Timeout = time.Duration(cfg.Providers.Moyasar.Timeout) * time.Second
		registry.Register(moyasar.New(connectorCfg, logger))

		loadWebhookSecret(secretManager, moyasar.ProviderID, cfg.Providers.Moyasar.WebhookSecretPath, webhookSecrets, logger)
	}

	if cfg.Providers.Tap.Enabled {
		apiKey, err := secretManager.GetSecret(context.Background(), cfg.Providers.Tap.APIKeyPath)
		if err != nil {
			logger.Fatal("Failed to load tap API key", zap.Error(err))
		}
		connectorCfg := tap.DefaultConfig(apiKey)
		connectorCfg.BaseURL = cfg.Providers.Tap.BaseURL
		connectorCfg.Timeout = time.Duration(cfg.Providers.Tap.Timeout) * time.Second
		registry.Register(tap.New(connectorCfg, logger))

		loadWebhookSecret(secretManager, tap.ProviderID, cfg.Providers.Tap.WebhookSecretPath, webhookSecrets, logger)
	}

	logger.Info("Payment providers registered",
		zap.Strings("providers", registry.Providers()),
		zap.String("default_provider", cfg.Routing.DefaultProvider),
	)

	router := routing.NewRouter(registry, ruleRepo, cfg.Routing.DefaultProvider, logger)

	orchestrationSvc := orchestration.NewService(txRepo, router, registry, logger)
	reconcilerSvc := reconciler.NewService(txRepo, merchantRepo, registry, webhookSecrets, nil, logger)

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		defer rateLimiter.Shutdown()
	}

	handler := api.NewRouter(api.Deps{
		PaymentHandler: paymentHandler.NewHandler(orchestrationSvc, logger),
		WebhookHandler: webhookHandler.NewHandler(reconcilerSvc, logger),
		Merchants:      merchantRepo,
		RateLimiter:    rateLimiter,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	healthChecker := observability.NewHealthChecker(dbPool)
	metricsServer := observability.StartMetricsServer(fmt.Sprintf("%d", cfg.Server.MetricsPort), healthChecker, logger)

	go func() {
		logger.Info("HTTP server listening",
			zap.String("address", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := observability.ShutdownMetricsServer(metricsServer); err != nil {
		logger.Error("Metrics server shutdown error", zap.Error(err))
	}

	logger.Info("Servers stopped")
}

// initLogger initializes the logger
func initLogger(cfg config.LoggerConfig) *zap.Logger {
	if cfg.Development {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	zapCfg := zap.NewProductionConfig()
	if level, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, _ := zapCfg.Build()
	return logger
}

// initSecretManager selects the configured secret backend.
func initSecretManager(ctx context.Context, cfg *config.SecretsConfig, logger *zap.Logger) (ports.SecretManager, error) {
	switch cfg.Backend {
	case "aws":
		awsCfg := secrets.DefaultAWSConfig(cfg.AWSRegion)
		awsCfg.CacheTTL = time.Duration(cfg.CacheTTL) * time.Second
		return secrets.NewAWSSecretManager(ctx, awsCfg, logger)
	case "vault":
		vaultCfg := secrets.DefaultVaultConfig(cfg.VaultAddress, cfg.VaultToken)
		vaultCfg.MountPath = cfg.VaultMount
		vaultCfg.CacheTTL = time.Duration(cfg.CacheTTL) * time.Second
		return secrets.NewVaultSecretManager(vaultCfg, logger)
	default:
		return secrets.NewEnvSecretManager(cfg.EnvPrefix, logger), nil
	}
}

// loadWebhookSecret resolves one provider's webhook signing secret. A missing
// secret is tolerated: inbound webhooks for that provider are processed
// unverified, which the reconciler logs on every delivery.
func loadWebhookSecret(sm ports.SecretManager, provider, path string, out map[string]string, logger *zap.Logger) {
	secret, err := sm.GetSecret(context.Background(), path)
	if err != nil || secret == "" {
		logger.Warn("No webhook signing secret configured; inbound webhooks will not be verified",
			zap.String("provider", provider),
			zap.String("path", path),
		)
		return
	}
	out[provider] = secret
}
