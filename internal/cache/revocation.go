package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// RevokedSessionPrefix is the prefix for revoked session keys
	RevokedSessionPrefix = "session:revoked:"
	// MinRevocationTTL is used when a revoked session has already expired
	MinRevocationTTL = 1 * time.Hour
)

// RevocationCache remembers revoked session keys so relay checks can fail fast.
// It only ever stores negative answers.
type RevocationCache struct {
	client *redis.Client
}

// NewRevocationCache creates a RevocationCache on top of client
func NewRevocationCache(client *redis.Client) *RevocationCache {
	return &RevocationCache{client: client}
}

type revocationEntry struct {
	Owner     string `json:"owner"`
	RevokedAt int64  `json:"revoked_at"`
}

// MarkRevoked stores the revocation for ttl. A non-positive ttl falls back to MinRevocationTTL.
func (c *RevocationCache) MarkRevoked(ctx context.Context, sessionKey, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = MinRevocationTTL
	}

	data, err := json.Marshal(revocationEntry{Owner: owner, RevokedAt: time.Now().UTC().Unix()})
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, RevokedSessionPrefix+sessionKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache revocation: %w", err)
	}

	slog.Debug("Session revocation cached", "session_public_key", sessionKey, "ttl", ttl)
	return nil
}

// IsRevoked reports whether sessionKey has a cached revocation
func (c *RevocationCache) IsRevoked(ctx context.Context, sessionKey string) (bool, error) {
	err := c.client.Get(ctx, RevokedSessionPrefix+sessionKey).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read revocation: %w", err)
	}
	return true, nil
}
