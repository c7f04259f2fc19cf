package webhook

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain"
	"github.com/wadipay/payment-orchestrator/internal/handlers/respond"
	"github.com/wadipay/payment-orchestrator/internal/services/reconciler"
)

// maxPayloadBytes caps provider webhook payloads.
const maxPayloadBytes = 1 << 20

// signatureHeader carries the provider's HMAC signature.
const signatureHeader = "X-Webhook-Signature"

// Handler receives provider webhook callbacks.
type Handler struct {
	reconciler *reconciler.Service
	logger     *zap.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(svc *reconciler.Service, logger *zap.Logger) *Handler {
	return &Handler{
		reconciler: svc,
		logger:     logger,
	}
}

// RegisterRoutes mounts the webhook endpoint on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/{provider}", h.Receive)
}

// Receive handles POST /webhooks/{provider}. The provider is acked with
// 200 once the event has been applied to the ledger; signature and
// payload errors are surfaced so the provider retries.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		respond.Error(w, domain.WrapError(domain.ErrorCodeValidationFailed, "failed to read webhook payload", err))
		return
	}

	signature := r.Header.Get(signatureHeader)

	if err := h.reconciler.HandleInboundWebhook(r.Context(), provider, body, signature); err != nil {
		h.logger.Warn("webhook rejected",
			zap.String("provider", provider),
			zap.String("error_code", string(domain.GetErrorCode(err))),
		)
		respond.Error(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]string{"status": "received"})
}
