package paynow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/storefront-gateway/internal/obs"
)

// statusEndpoints lists the candidate URL shapes tried in order. The status
// representation is not uniformly located across gateway accounts, so each
// shape is probed until one matches.
var statusEndpoints = []struct {
	name string
	path func(id string) string
}{
	{"payment", func(id string) string { return "/v3/payments/" + url.PathEscape(id) }},
	{"payment-status", func(id string) string { return "/v3/payments/" + url.PathEscape(id) + "/status" }},
	{"transaction", func(id string) string { return "/v3/transactions/" + url.PathEscape(id) }},
	{"transaction-status", func(id string) string { return "/v3/transactions/" + url.PathEscape(id) + "/status" }},
	{"payment-transactions", func(id string) string { return "/v3/payments/" + url.PathEscape(id) + "/transactions" }},
}

// statusFields is the priority order of response shapes a matching endpoint
// may use to report the status.
var statusFields = []string{
	"status",
	"payment.status",
	"state",
	"state.status",
	"transaction.status",
	"paymentStatus",
	"currentStatus",
	"order.status",
}

// GetPaymentStatus probes the candidate endpoints sequentially and returns
// the first extractable status. A nil status with nil error means every
// candidate answered 404: the payment is not yet known, and the caller may
// keep polling. Any non-404 failure aborts the probe loop immediately.
func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (*string, error) {
	ctx, span := otel.Tracer("paynow.Client").Start(ctx, "Paynow.GetPaymentStatus")
	defer span.End()

	if strings.TrimSpace(paymentID) == "" {
		return nil, &ValidationError{Field: "paymentId"}
	}
	span.SetAttributes(attribute.String("payment.id", paymentID))

	for _, ep := range statusEndpoints {
		status, body, err := c.signedGet(ctx, ep.path(paymentID), true)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if status == http.StatusBadRequest || status == http.StatusUnauthorized {
			// Some deployments reject signed GETs outright; retry the same
			// URL with Api-Key only before judging the outcome.
			status, body, err = c.signedGet(ctx, ep.path(paymentID), false)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
		}
		switch {
		case status >= 200 && status < 300:
			probeOutcome(ep.name, "matched")
			value := extractStatus(body)
			if value != nil {
				span.SetAttributes(attribute.String("payment.status", *value))
			}
			return value, nil
		case status == http.StatusNotFound:
			probeOutcome(ep.name, "not_applicable")
			continue
		default:
			probeOutcome(ep.name, "error")
			gerr := c.gatewayError(status, body)
			span.RecordError(gerr)
			return nil, gerr
		}
	}
	// Every shape answered 404: unknown yet, not a failure.
	return nil, nil
}

func probeOutcome(endpoint, outcome string) {
	if obs.PaymentStatusProbeTotal != nil {
		obs.PaymentStatusProbeTotal.WithLabelValues(endpoint, outcome).Inc()
	}
}

func extractStatus(body []byte) *string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}
	for _, field := range statusFields {
		if value := lookupString(doc, strings.Split(field, ".")); value != "" {
			return &value
		}
	}
	return nil
}

func lookupString(doc map[string]any, path []string) string {
	var current any = doc
	for _, segment := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = node[segment]
		if !ok {
			return ""
		}
	}
	value, _ := current.(string)
	return strings.TrimSpace(value)
}
