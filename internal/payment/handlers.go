package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-gateway/internal/common"
	"github.com/noah-isme/storefront-gateway/internal/obs"
	"github.com/noah-isme/storefront-gateway/internal/paynow"
	"github.com/noah-isme/storefront-gateway/internal/store"
)

// Gateway is the slice of the Paynow client the handlers need.
type Gateway interface {
	CreatePayment(ctx context.Context, req paynow.CreatePaymentRequest) (*paynow.Payment, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*string, error)
	PaymentMethods(ctx context.Context) (json.RawMessage, error)
	DataProcessingNotices(ctx context.Context) (json.RawMessage, error)
}

// Handler exposes HTTP endpoints for payment initiation and status polling.
type Handler struct {
	Gateway     Gateway
	Validate    *validator.Validate
	Correlation *Correlation
	Events      *store.EventStore
	Env         string
	Logger      zerolog.Logger
}

type initiateReq struct {
	Amount            int64  `json:"amount" validate:"required,gt=0"`
	Currency          string `json:"currency" validate:"omitempty,len=3,alpha"`
	ExternalID        string `json:"externalId" validate:"required"`
	Description       string `json:"description" validate:"required"`
	ContinueURL       string `json:"continueUrl" validate:"omitempty"`
	Email             string `json:"email" validate:"required,email"`
	PaymentMethodID   int64  `json:"paymentMethodId" validate:"omitempty,gt=0"`
	AuthorizationCode string `json:"authorizationCode"`
}

type initiateResp struct {
	PaymentID   string `json:"paymentId"`
	RedirectURL string `json:"redirectUrl"`
	Status      string `json:"status"`
}

type statusResp struct {
	PaymentID string `json:"paymentId,omitempty"`
	Status    string `json:"status"`
}

// StatusUnknown is reported when neither the gateway nor the local event
// log knows the payment yet.
const StatusUnknown = "UNKNOWN"

// Initiate opens a payment with the gateway for a storefront cart.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req initiateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
	}
	payment, err := h.Gateway.CreatePayment(r.Context(), paynow.CreatePaymentRequest{
		Amount:            req.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(req.Currency)),
		ExternalID:        strings.TrimSpace(req.ExternalID),
		Description:       strings.TrimSpace(req.Description),
		ContinueURL:       strings.TrimSpace(req.ContinueURL),
		Buyer:             paynow.Buyer{Email: strings.TrimSpace(req.Email)},
		PaymentMethodID:   req.PaymentMethodID,
		AuthorizationCode: strings.TrimSpace(req.AuthorizationCode),
	})
	if err != nil {
		h.initiateMetric("error")
		h.writeInitiateError(w, err)
		return
	}
	h.initiateMetric("ok")

	if err := h.Correlation.Bind(r.Context(), req.ExternalID, payment.PaymentID); err != nil {
		h.Logger.Error().Err(err).Str("external_id", req.ExternalID).Msg("bind payment correlation failed")
	}
	h.Events.RecordEvent(r.Context(), store.Event{
		PaymentID:  payment.PaymentID,
		ExternalID: req.ExternalID,
		Status:     firstNonEmpty(payment.Status, "NEW"),
	})

	common.JSON(w, http.StatusCreated, initiateResp{
		PaymentID:   payment.PaymentID,
		RedirectURL: payment.RedirectURL,
		Status:      firstNonEmpty(payment.Status, "NEW"),
	})
}

// Status polls the gateway for one payment by its gateway id.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentId"))
	if paymentID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "paymentId is required", nil)
		return
	}
	status, err := h.Gateway.GetPaymentStatus(r.Context(), paymentID)
	if err != nil {
		h.writeStatusError(w, err)
		return
	}
	resp := statusResp{PaymentID: paymentID, Status: StatusUnknown}
	if status != nil {
		resp.Status = *status
	} else if recorded, rerr := h.Events.LatestStatusByPayment(r.Context(), paymentID); rerr == nil && recorded != "" {
		resp.Status = recorded
	}
	common.JSONNoStore(w, http.StatusOK, resp)
}

// StatusByExternal polls by the storefront's cart id, resolving the gateway
// payment id through the correlation store with the event log as durable
// fallback.
func (h *Handler) StatusByExternal(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	externalID := strings.TrimSpace(chi.URLParam(r, "externalId"))
	if externalID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "externalId is required", nil)
		return
	}
	ctx := r.Context()

	paymentID, err := h.Correlation.PaymentID(ctx, externalID)
	if err != nil {
		h.Logger.Error().Err(err).Str("external_id", externalID).Msg("correlation lookup failed")
	}
	if paymentID == "" {
		paymentID, err = h.Events.PaymentID(ctx, externalID)
		if err != nil {
			h.Logger.Error().Err(err).Str("external_id", externalID).Msg("event log lookup failed")
		}
	}
	if paymentID == "" {
		recorded, err := h.Events.LatestStatus(ctx, externalID)
		if err == nil && recorded != "" {
			common.JSONNoStore(w, http.StatusOK, statusResp{Status: recorded})
			return
		}
		common.JSONError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "no payment known for cart", nil)
		return
	}

	status, err := h.Gateway.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		h.writeStatusError(w, err)
		return
	}
	resp := statusResp{PaymentID: paymentID, Status: StatusUnknown}
	if status != nil {
		resp.Status = *status
	} else if recorded, rerr := h.Events.LatestStatus(ctx, externalID); rerr == nil && recorded != "" {
		resp.Status = recorded
	}
	common.JSONNoStore(w, http.StatusOK, resp)
}

// Methods proxies the gateway's available payment methods.
func (h *Handler) Methods(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	raw, err := h.Gateway.PaymentMethods(r.Context())
	if err != nil {
		h.writeStatusError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, raw)
}

// Notices proxies the gateway's GDPR data-processing notices.
func (h *Handler) Notices(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	raw, err := h.Gateway.DataProcessingNotices(r.Context())
	if err != nil {
		h.writeStatusError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, raw)
}

func (h *Handler) writeInitiateError(w http.ResponseWriter, err error) {
	if paynow.IsValidation(err) {
		common.JSONAppError(w, common.NewAppError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest, err))
		return
	}
	common.JSONAppError(w, h.classifyGatewayError(err))
}

func (h *Handler) writeStatusError(w http.ResponseWriter, err error) {
	common.JSONAppErrorNoStore(w, h.classifyGatewayError(err))
}

// classifyGatewayError maps a gateway client failure onto the response error
// taxonomy. An upstream non-2xx keeps its original status code so callers can
// tell a gateway rejection from an auth problem or an outage.
func (h *Handler) classifyGatewayError(err error) *common.AppError {
	if app, ok := common.AsAppError(err); ok {
		return app
	}
	var gw *paynow.GatewayError
	if errors.As(err, &gw) {
		return common.NewAppError("GATEWAY_ERROR", gw.Error(), gw.StatusCode, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return common.NewAppError("GATEWAY_TIMEOUT", "payment gateway timed out", http.StatusGatewayTimeout, err)
	}
	h.Logger.Error().Err(err).Msg("payment gateway call failed")
	return common.NewAppError("GATEWAY_ERROR", "payment gateway unavailable", http.StatusBadGateway, err)
}

func (h *Handler) initiateMetric(result string) {
	if obs.PaymentInitiateTotal == nil {
		return
	}
	env := h.Env
	if env == "" {
		env = "sandbox"
	}
	obs.PaymentInitiateTotal.WithLabelValues(env, result).Inc()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
