package payment

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wadipay/payment-orchestrator/internal/domain"
	"github.com/wadipay/payment-orchestrator/internal/domain/ports"
	"github.com/wadipay/payment-orchestrator/internal/handlers/respond"
	"github.com/wadipay/payment-orchestrator/internal/middleware"
	"github.com/wadipay/payment-orchestrator/internal/services/orchestration"
)

// maxBodyBytes caps merchant request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the merchant-facing payment endpoints.
type Handler struct {
	service *orchestration.Service
	logger  *zap.Logger
}

// NewHandler creates a payment handler.
func NewHandler(service *orchestration.Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes mounts the payment endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/payments", h.Create)
	r.Get("/payments", h.List)
	r.Get("/payments/{id}", h.Get)
	r.Post("/payments/{id}/refund", h.Refund)
	r.Post("/payments/{id}/void", h.Void)
}

type sourceRequest struct {
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	Number string `json:"number,omitempty"`
	Name   string `json:"name,omitempty"`
	Month  int    `json:"month,omitempty"`
	Year   int    `json:"year,omitempty"`
	CVC    string `json:"cvc,omitempty"`
}

type createRequest struct {
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Source      *sourceRequest    `json:"source,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type refundBody struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// Create handles POST /payments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.MerchantFromContext(r.Context())
	if !ok {
		respond.Error(w, domain.ErrMerchantNotFound)
		return
	}
	if !merchant.CanProcessPayments() {
		respond.Error(w, domain.ErrMerchantInactive)
		return
	}

	var body createRequest
	if err := decodeJSON(r, &body); err != nil {
		respond.Error(w, err)
		return
	}
	if body.Source == nil {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "source is required"))
		return
	}

	req := orchestration.CreateRequest{
		MerchantID:     merchant.ID,
		Amount:         body.Amount,
		Currency:       domain.Currency(body.Currency),
		Description:    body.Description,
		Source:         toPaymentSource(body.Source),
		CallbackURL:    body.CallbackURL,
		Metadata:       body.Metadata,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}

	txn, err := h.service.CreatePayment(r.Context(), req)
	if err != nil {
		respond.Error(w, err)
		return
	}

	respond.JSON(w, http.StatusCreated, txn)
}

// Get handles GET /payments/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.MerchantFromContext(r.Context())
	if !ok {
		respond.Error(w, domain.ErrMerchantNotFound)
		return
	}

	txn, err := h.service.GetPayment(r.Context(), merchant.ID, chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, txn)
}

// Refund handles POST /payments/{id}/refund.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.MerchantFromContext(r.Context())
	if !ok {
		respond.Error(w, domain.ErrMerchantNotFound)
		return
	}
	if !merchant.CanProcessPayments() {
		respond.Error(w, domain.ErrMerchantInactive)
		return
	}

	var body refundBody
	if err := decodeJSON(r, &body); err != nil {
		respond.Error(w, err)
		return
	}

	txn, err := h.service.RefundPayment(r.Context(), merchant.ID, chi.URLParam(r, "id"), body.Amount, body.Reason)
	if err != nil {
		respond.Error(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, txn)
}

// Void handles POST /payments/{id}/void.
func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.MerchantFromContext(r.Context())
	if !ok {
		respond.Error(w, domain.ErrMerchantNotFound)
		return
	}
	if !merchant.CanProcessPayments() {
		respond.Error(w, domain.ErrMerchantInactive)
		return
	}

	txn, err := h.service.VoidPayment(r.Context(), merchant.ID, chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, txn)
}

// List handles GET /payments?status=&limit=&offset=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.MerchantFromContext(r.Context())
	if !ok {
		respond.Error(w, domain.ErrMerchantNotFound)
		return
	}

	var status *domain.PaymentStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.PaymentStatus(raw)
		status = &s
	}

	limit := parseInt32(r.URL.Query().Get("limit"), 50)
	offset := parseInt32(r.URL.Query().Get("offset"), 0)

	transactions, err := h.service.ListPayments(r.Context(), merchant.ID, status, limit, offset)
	if err != nil {
		respond.Error(w, err)
		return
	}
	if transactions == nil {
		transactions = []*domain.Transaction{}
	}

	respond.JSON(w, http.StatusOK, transactions)
}

func toPaymentSource(src *sourceRequest) ports.PaymentSource {
	source := ports.PaymentSource{
		Method: domain.PaymentMethod(src.Type),
		Token:  src.Token,
	}
	if src.Number != "" {
		source.Card = &ports.CardInput{
			Number: src.Number,
			Name:   src.Name,
			Month:  src.Month,
			Year:   src.Year,
			CVC:    src.CVC,
		}
	}
	return source
}

func decodeJSON(r *http.Request, out interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return domain.WrapError(domain.ErrorCodeValidationFailed, "malformed request body", err)
	}
	return nil
}

func parseInt32(raw string, fallback int32) int32 {
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return fallback
	}
	return int32(value)
}
