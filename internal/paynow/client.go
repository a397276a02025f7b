package paynow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Client talks the Paynow v3 protocol: signed payment creation, status
// lookups and payment method listing.
type Client struct {
	apiKey       string
	signatureKey string
	baseURL      string

	frontendBaseURL string
	backendBaseURL  string
	currency        string
	production      bool

	timeout time.Duration
	http    *http.Client
	logger  zerolog.Logger
}

// Config carries the knobs required to construct a Client.
type Config struct {
	APIKey          string
	SignatureKey    string
	BaseURL         string
	FrontendBaseURL string
	BackendBaseURL  string
	DefaultCurrency string
	Production      bool
	Timeout         time.Duration
	HTTPClient      *http.Client
	Logger          zerolog.Logger
}

// NewClient validates the configuration once at construction so request paths
// never have to re-check secrets.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("paynow: api key is required")
	}
	if strings.TrimSpace(cfg.SignatureKey) == "" {
		return nil, ErrSignatureKeyMissing
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("paynow: base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if currency == "" {
		currency = "PLN"
	}
	return &Client{
		apiKey:          strings.TrimSpace(cfg.APIKey),
		signatureKey:    strings.TrimSpace(cfg.SignatureKey),
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		frontendBaseURL: strings.TrimRight(strings.TrimSpace(cfg.FrontendBaseURL), "/"),
		backendBaseURL:  strings.TrimRight(strings.TrimSpace(cfg.BackendBaseURL), "/"),
		currency:        currency,
		production:      cfg.Production,
		timeout:         timeout,
		http:            httpClient,
		logger:          cfg.Logger,
	}, nil
}

// Buyer identifies the paying customer.
type Buyer struct {
	Email string `json:"email"`
}

// CreatePaymentRequest describes a payment to open with the gateway. Field
// order mirrors the transmitted JSON; the body is marshalled exactly once and
// the same bytes are signed and sent.
type CreatePaymentRequest struct {
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	ExternalID        string `json:"externalId"`
	Description       string `json:"description"`
	ContinueURL       string `json:"continueUrl"`
	Buyer             Buyer  `json:"buyer"`
	PaymentMethodID   int64  `json:"paymentMethodId,omitempty"`
	AuthorizationCode string `json:"authorizationCode,omitempty"`
}

// Payment is the durable result of a successful initiation; PaymentID is the
// correlation key for all subsequent status queries.
type Payment struct {
	RedirectURL string `json:"redirectUrl"`
	PaymentID   string `json:"paymentId"`
	Status      string `json:"status"`
}

// CreatePayment signs and posts a payment-creation request.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	ctx, span := otel.Tracer("paynow.Client").Start(ctx, "Paynow.CreatePayment")
	defer span.End()

	if req.Amount <= 0 {
		return nil, &ValidationError{Field: "amount"}
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		return nil, &ValidationError{Field: "externalId"}
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, &ValidationError{Field: "description"}
	}
	if strings.TrimSpace(req.Buyer.Email) == "" {
		return nil, &ValidationError{Field: "buyer.email"}
	}
	if strings.TrimSpace(req.Currency) == "" {
		req.Currency = c.currency
	}
	req.ContinueURL = c.resolveContinueURL(req.ContinueURL, req.ExternalID)
	span.SetAttributes(attribute.String("payment.external_id", req.ExternalID))

	// Marshalled exactly once: these bytes are both signed and transmitted.
	body, err := marshalCompact(req)
	if err != nil {
		return nil, err
	}
	idemKey := uuid.NewString()
	signature, err := Sign(SignatureInput{
		APIKey:         c.apiKey,
		IdempotencyKey: idemKey,
		Body:           string(body),
	}, c.signatureKey)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/v3/payments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Api-Key", c.apiKey)
	httpReq.Header.Set("Signature", signature)
	httpReq.Header.Set("Idempotency-Key", idemKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gerr := c.gatewayError(resp.StatusCode, respBody)
		span.RecordError(gerr)
		c.logger.Error().Int("status", resp.StatusCode).Str("external_id", req.ExternalID).Msg("payment creation rejected")
		return nil, gerr
	}

	var payment Payment
	if err := json.Unmarshal(respBody, &payment); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.id", payment.PaymentID))
	c.logger.Info().
		Str("external_id", req.ExternalID).
		Str("payment_id", payment.PaymentID).
		Str("status", payment.Status).
		Msg("payment created")
	return &payment, nil
}

// PaymentMethods lists available payment methods, falling back to the legacy
// path when the account does not expose the nested one.
func (c *Client) PaymentMethods(ctx context.Context) (json.RawMessage, error) {
	status, body, err := c.signedGet(ctx, "/v3/payments/payment-methods", true)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		status, body, err = c.signedGet(ctx, "/v3/payment-methods", true)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, c.gatewayError(status, body)
	}
	return json.RawMessage(body), nil
}

// DataProcessingNotices retrieves the gateway's GDPR notices for passthrough
// rendering by the storefront.
func (c *Client) DataProcessingNotices(ctx context.Context) (json.RawMessage, error) {
	status, body, err := c.signedGet(ctx, "/v3/data-processing-notices", true)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, c.gatewayError(status, body)
	}
	return json.RawMessage(body), nil
}

// signedGet performs a bodiless GET against the gateway. A fresh idempotency
// key is generated per HTTP attempt; when signed is false the Signature
// header is omitted (Api-Key only), which some account shapes require.
func (c *Client) signedGet(ctx context.Context, path string, signed bool) (int, []byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Key", c.apiKey)
	idemKey := uuid.NewString()
	req.Header.Set("Idempotency-Key", idemKey)
	if signed {
		signature, err := Sign(SignatureInput{
			APIKey:         c.apiKey,
			IdempotencyKey: idemKey,
			Body:           "",
		}, c.signatureKey)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Signature", signature)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) resolveContinueURL(raw, externalID string) string {
	base := c.frontendBaseURL
	if base == "" {
		base = c.backendBaseURL
	}
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		if u, err := url.Parse(trimmed); err == nil && u.IsAbs() {
			return trimmed
		}
		if base == "" {
			return trimmed
		}
		if !strings.HasPrefix(trimmed, "/") {
			trimmed = "/" + trimmed
		}
		return base + trimmed
	}
	fallback := "/order/confirmed/" + url.PathEscape(externalID)
	if base == "" {
		return fallback
	}
	return base + fallback
}

func (c *Client) gatewayError(status int, body []byte) *GatewayError {
	gerr := &GatewayError{StatusCode: status}
	if !c.production {
		gerr.Body = string(body)
	}
	return gerr
}
