// Package replay suppresses duplicate webhook deliveries.
package replay

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/razorpay-gateway/internal/common"
)

// Guard claims delivery keys with redis SETNX semantics. A nil client admits
// every delivery.
type Guard struct {
	Client redis.Cmdable
	Prefix string
}

// Acquire claims the delivery key for ttl. It reports false when the key was
// already claimed by an earlier delivery.
func (g Guard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if g.Client == nil {
		return true, nil
	}
	return g.Client.SetNX(ctx, g.Prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Complete re-arms a claimed key for ttl once the delivery has been settled.
// Acquire is expected to use a short in-flight ttl so a crash before Complete
// only blocks redeliveries briefly.
func (g Guard) Complete(ctx context.Context, key string, ttl time.Duration) error {
	if g.Client == nil {
		return nil
	}
	return g.Client.Expire(ctx, g.Prefix+key, ttl).Err()
}

// Release removes the delivery key so a redelivery is processed again.
func (g Guard) Release(ctx context.Context, key string) error {
	if g.Client == nil {
		return nil
	}
	return g.Client.Del(ctx, g.Prefix+key).Err()
}

// Key derives the delivery key from the processor event id when present and
// from the body digest otherwise.
func Key(eventID string, body []byte) string {
	if id := strings.TrimSpace(eventID); id != "" {
		return "event:" + id
	}
	return "body:" + common.Sha256Hex(body)
}
