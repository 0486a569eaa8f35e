package revoke

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tasktracker:token:revoked:"

// Denylist records revoked token ids until the token would have expired anyway.
type Denylist struct {
	rdb *redis.Client
}

func NewDenylist(rdb *redis.Client) *Denylist {
	return &Denylist{rdb: rdb}
}

// Revoke marks tokenID as revoked for ttl. A nil Denylist is a no-op.
func (d *Denylist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if d == nil || d.rdb == nil || tokenID == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := d.rdb.Set(ctx, keyPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke set: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID was revoked. A nil Denylist never revokes.
func (d *Denylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if d == nil || d.rdb == nil || tokenID == "" {
		return false, nil
	}
	n, err := d.rdb.Exists(ctx, keyPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("revoke exists: %w", err)
	}
	return n > 0, nil
}
