package sessions

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
)

// Revocations is a Redis-backed list of access tokens revoked before they
// expire. Entries live until the token would have expired anyway. A nil
// client makes every operation a no-op.
type Revocations struct {
	client *redis.Client
	prefix string
}

// NewRevocations keys entries under prefix (default "revoked:access:").
func NewRevocations(client *redis.Client, prefix string) *Revocations {
	if prefix == "" {
		prefix = "revoked:access:"
	}
	return &Revocations{client: client, prefix: prefix}
}

// Tokens are stored by digest so raw credentials never reach Redis.
func (r *Revocations) key(token string) string {
	sum := blake3.Sum256([]byte(token))
	return r.prefix + hex.EncodeToString(sum[:])
}

// Revoke records token as revoked for ttl. Non-positive ttl uses one minute.
func (r *Revocations) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if r == nil || r.client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return r.client.Set(ctx, r.key(token), "1", ttl).Err()
}

// IsRevoked reports whether token was revoked.
func (r *Revocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	if r == nil || r.client == nil {
		return false, nil
	}
	n, err := r.client.Exists(ctx, r.key(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
