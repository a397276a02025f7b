package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-gateway/internal/resilience"
)

// ErrPaymentSessionMissing marks a completion failure the webhook receiver
// can remediate by opening a payment session before retrying.
var ErrPaymentSessionMissing = errors.New("commerce: cart has no payment session")

// Client calls the commerce backend's store API to finalise carts once a
// payment is confirmed. Completion is idempotent upstream, which is what
// makes transport-level retries safe here.
type Client struct {
	baseURL        string
	publishableKey string
	providerID     string
	http           resilience.HTTPClient
	logger         zerolog.Logger
}

// Config carries the knobs required to construct a Client.
type Config struct {
	BaseURL        string
	PublishableKey string
	// ProviderID names the payment provider registered in the commerce
	// backend for sessions created during remediation.
	ProviderID  string
	Timeout     time.Duration
	MaxAttempts int
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// NewClient validates configuration and wires the resilient transport.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("commerce: base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	providerID := strings.TrimSpace(cfg.ProviderID)
	if providerID == "" {
		providerID = "pp_paynow"
	}
	return &Client{
		baseURL:        base,
		publishableKey: strings.TrimSpace(cfg.PublishableKey),
		providerID:     providerID,
		http: resilience.HTTPClient{
			Client:      httpClient,
			Breaker:     resilience.NewBreaker(5, 30*time.Second, "commerce", cfg.Logger),
			MaxAttempts: attempts,
			BaseBackoff: 200 * time.Millisecond,
			Jitter:      0.2,
			Timeout:     timeout,
		},
		logger: cfg.Logger,
	}, nil
}

// CompleteCart finalises the cart into an order.
func (c *Client) CompleteCart(ctx context.Context, cartID string) error {
	status, body, err := c.post(ctx, "/store/carts/"+url.PathEscape(cartID)+"/complete", nil)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}
	if missingPaymentSession(status, body) {
		return fmt.Errorf("complete cart %s: %w", cartID, ErrPaymentSessionMissing)
	}
	return fmt.Errorf("commerce: complete cart %s: status %d: %s", cartID, status, truncate(body))
}

// CreatePaymentCollection opens a payment collection for the cart and
// returns its identifier.
func (c *Client) CreatePaymentCollection(ctx context.Context, cartID string) (string, error) {
	status, body, err := c.post(ctx, "/store/payment-collections", map[string]string{"cart_id": cartID})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("commerce: create payment collection for %s: status %d: %s", cartID, status, truncate(body))
	}
	var resp struct {
		PaymentCollection struct {
			ID string `json:"id"`
		} `json:"payment_collection"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("commerce: decode payment collection: %w", err)
	}
	if resp.PaymentCollection.ID == "" {
		return "", errors.New("commerce: payment collection response missing id")
	}
	return resp.PaymentCollection.ID, nil
}

// CreatePaymentSession opens a payment session on the collection.
func (c *Client) CreatePaymentSession(ctx context.Context, collectionID string) error {
	path := "/store/payment-collections/" + url.PathEscape(collectionID) + "/payment-sessions"
	status, body, err := c.post(ctx, path, map[string]string{"provider_id": c.providerID})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("commerce: create payment session on %s: status %d: %s", collectionID, status, truncate(body))
	}
	return nil
}

// EnsurePaymentSession remediates a missing payment-session precondition by
// creating a collection for the cart and opening a session on it.
func (c *Client) EnsurePaymentSession(ctx context.Context, cartID string) error {
	collectionID, err := c.CreatePaymentCollection(ctx, cartID)
	if err != nil {
		return err
	}
	return c.CreatePaymentSession(ctx, collectionID)
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.publishableKey != "" {
		req.Header.Set("x-publishable-api-key", c.publishableKey)
	}
	resp, err := c.http.Do(ctx, req)
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

func missingPaymentSession(status int, body []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusNotFound {
		return false
	}
	lowered := strings.ToLower(string(body))
	return strings.Contains(lowered, "payment session") || strings.Contains(lowered, "payment collection")
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
