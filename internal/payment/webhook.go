package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/noah-isme/storefront-gateway/internal/commerce"
	"github.com/noah-isme/storefront-gateway/internal/common"
	"github.com/noah-isme/storefront-gateway/internal/obs"
	"github.com/noah-isme/storefront-gateway/internal/paynow"
	"github.com/noah-isme/storefront-gateway/internal/store"
)

// CartCompleter finalises carts in the commerce backend once a payment is
// confirmed.
type CartCompleter interface {
	CompleteCart(ctx context.Context, cartID string) error
	EnsurePaymentSession(ctx context.Context, cartID string) error
}

// Webhook receives Paynow payment notifications. The contract with the
// gateway: reject unverifiable payloads with 400 so redelivery kicks in,
// acknowledge everything with a valid signature with 200 exactly once per
// payload, and never let downstream failures turn into non-2xx answers
// that would stall redelivery of later notifications.
type Webhook struct {
	SignatureKey string
	Replay       *redis.Client
	ReplayTTL    time.Duration
	Completer    CartCompleter
	Correlation  *Correlation
	Events       *store.EventStore
	Logger       zerolog.Logger
}

type notification struct {
	PaymentID  string `json:"paymentId"`
	ExternalID string `json:"externalId"`
	Status     string `json:"status"`
	ModifiedAt string `json:"modifiedAt"`
}

// Handle processes one gateway notification.
func (h *Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.SignatureKey == "" {
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	ctx, span := otel.Tracer("payment").Start(r.Context(), "webhook.Handle")
	defer span.End()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	if !paynow.VerifySignature(body, r.Header.Get("Signature"), h.SignatureKey) {
		h.webhookMetric("invalid_signature")
		common.JSONError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	if duplicate := h.replaySeen(ctx, body); duplicate {
		h.webhookMetric("replay")
		common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		// Signed but unparseable. Acknowledge so the gateway stops
		// redelivering a payload we will never understand.
		h.webhookMetric("malformed")
		h.Logger.Warn().Err(err).Msg("webhook payload malformed")
		common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	status := strings.ToUpper(strings.TrimSpace(n.Status))
	h.Logger.Info().
		Str("payment_id", n.PaymentID).
		Str("external_id", n.ExternalID).
		Str("payment_status", status).
		Msg("payment notification received")

	h.Events.RecordEvent(ctx, store.Event{
		PaymentID:  n.PaymentID,
		ExternalID: n.ExternalID,
		Status:     status,
		Payload:    body,
	})
	if n.ExternalID != "" && n.PaymentID != "" {
		if err := h.Correlation.Bind(ctx, n.ExternalID, n.PaymentID); err != nil {
			h.Logger.Error().Err(err).Str("external_id", n.ExternalID).Msg("bind correlation from webhook failed")
		}
	}

	if status == "CONFIRMED" && n.ExternalID != "" {
		h.completeCart(ctx, n.ExternalID)
	}

	h.webhookMetric("ok")
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// replaySeen marks the payload as processed and reports whether it was
// already seen. Redis outages degrade to at-least-once processing.
func (h *Webhook) replaySeen(ctx context.Context, body []byte) bool {
	if h.Replay == nil || h.ReplayTTL <= 0 {
		return false
	}
	key := "paywh:" + common.Sha256Hex(string(body))
	fresh, err := h.Replay.SetNX(ctx, key, "1", h.ReplayTTL).Result()
	if err != nil {
		h.Logger.Error().Err(err).Msg("webhook replay guard unavailable")
		return false
	}
	return !fresh
}

// completeCart finalises the cart, remediating a missing payment session
// once before retrying.
func (h *Webhook) completeCart(ctx context.Context, cartID string) {
	if h.Completer == nil {
		return
	}
	err := h.Completer.CompleteCart(ctx, cartID)
	if errors.Is(err, commerce.ErrPaymentSessionMissing) {
		h.Logger.Info().Str("cart_id", cartID).Msg("cart missing payment session, remediating")
		if serr := h.Completer.EnsurePaymentSession(ctx, cartID); serr != nil {
			h.completionMetric("remediation_failed")
			h.Logger.Error().Err(serr).Str("cart_id", cartID).Msg("payment session remediation failed")
			return
		}
		err = h.Completer.CompleteCart(ctx, cartID)
	}
	if err != nil {
		h.completionMetric("error")
		h.Logger.Error().Err(err).Str("cart_id", cartID).Msg("cart completion failed")
		return
	}
	h.completionMetric("ok")
	h.Logger.Info().Str("cart_id", cartID).Msg("cart completed")
}

func (h *Webhook) webhookMetric(result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(result).Inc()
	}
}

func (h *Webhook) completionMetric(result string) {
	if obs.CartCompletionTotal != nil {
		obs.CartCompletionTotal.WithLabelValues(result).Inc()
	}
}

var _ CartCompleter = (*commerce.Client)(nil)
