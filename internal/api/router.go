package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
	"github.com/wadipay/payment-orchestrator/internal/handlers/payment"
	"github.com/wadipay/payment-orchestrator/internal/handlers/webhook"
	"github.com/wadipay/payment-orchestrator/internal/middleware"
)

// Deps holds everything the HTTP router needs.
type Deps struct {
	PaymentHandler *payment.Handler
	WebhookHandler *webhook.Handler
	Merchants      ports.MerchantRepository
	RateLimiter    *middleware.RateLimiter
	Logger         *zap.Logger
}

// NewRouter builds the service HTTP router. Merchant endpoints sit
// behind API key auth and per-merchant rate limiting; the provider
// webhook endpoint is unauthenticated and verified by HMAC instead.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(deps.Merchants, deps.Logger))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware)
			}
			deps.PaymentHandler.RegisterRoutes(r)
		})

		deps.WebhookHandler.RegisterRoutes(r)
	})

	return r
}
