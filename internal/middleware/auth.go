package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain"
	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
)

type contextKey string

const merchantContextKey contextKey = "merchant"

// APIKeyAuth authenticates merchant requests by the bearer API key in the
// Authorization header. The authenticated merchant is placed in the request
// context; whether an inactive merchant may perform the operation is decided
// per handler (historical transactions stay readable).
func APIKeyAuth(merchants ports.MerchantRepository, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := bearerToken(r.Header.Get("Authorization"))
			if apiKey == "" {
				http.Error(w, `{"error":"missing api key"}`, http.StatusUnauthorized)
				return
			}

			merchant, err := merchants.GetByAPIKey(r.Context(), apiKey)
			if err != nil {
				if !domain.IsNotFoundError(err) {
					logger.Error("merchant lookup failed", zap.Error(err))
					http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
					return
				}
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), merchantContextKey, merchant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MerchantFromContext returns the authenticated merchant, if any.
func MerchantFromContext(ctx context.Context) (*domain.Merchant, bool) {
	merchant, ok := ctx.Value(merchantContextKey).(*domain.Merchant)
	return merchant, ok
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
