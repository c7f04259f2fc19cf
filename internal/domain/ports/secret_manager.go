package ports

import (
	"context"
)

// SecretManager resolves provider credentials and webhook secrets at
// startup so they are injected configuration rather than ambient process
// state. Path format depends on the backend:
//   - env:   the environment variable name
//   - AWS:   "payment-orchestrator/providers/{provider}/api_key"
//   - Vault: KV path under the configured mount
type SecretManager interface {
	GetSecret(ctx context.Context, path string) (string, error)
}
