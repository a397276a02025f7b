package payment

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const correlationPrefix = "paycorr:"

// Correlation maps the shop-side external id (the cart) to the gateway's
// payment id so status can be polled without the client remembering the
// gateway identifier. Entries expire; the payment event log is the durable
// fallback.
type Correlation struct {
	R   *redis.Client
	TTL time.Duration
}

// Bind stores the externalID to paymentID mapping. A later initiation for
// the same cart overwrites the previous binding.
func (c *Correlation) Bind(ctx context.Context, externalID, paymentID string) error {
	if c == nil || c.R == nil {
		return nil
	}
	if externalID == "" || paymentID == "" {
		return errors.New("payment: correlation requires externalId and paymentId")
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return c.R.Set(ctx, correlationPrefix+externalID, paymentID, ttl).Err()
}

// PaymentID resolves the gateway payment id for the external id, or empty
// when no binding exists.
func (c *Correlation) PaymentID(ctx context.Context, externalID string) (string, error) {
	if c == nil || c.R == nil {
		return "", nil
	}
	val, err := c.R.Get(ctx, correlationPrefix+externalID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}
