package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RevocationCache is a fast negative cache of revoked session keys
type RevocationCache interface {
	MarkRevoked(ctx context.Context, sessionKey, owner string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionKey string) (bool, error)
}

// Validator decides whether a session may be relayed through right now.
// Its answer comes from the off-chain index and can lag the chain.
type Validator struct {
	repo  Repository
	cache RevocationCache
	now   func() time.Time
}

// NewValidator creates a Validator. cache and now may be nil.
func NewValidator(repo Repository, cache RevocationCache, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{repo: repo, cache: cache, now: now}
}

// IsSessionValid is true iff the record exists, is not revoked and expires strictly after now.
// Store failures are returned as errors, not as false.
func (v *Validator) IsSessionValid(ctx context.Context, sessionKey string) (bool, error) {
	_, err := v.Active(ctx, sessionKey)
	if errors.Is(err, ErrSessionInvalid) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Active returns the session if it is active, ErrSessionInvalid otherwise.
func (v *Validator) Active(ctx context.Context, sessionKey string) (*Session, error) {
	if v.cache != nil {
		revoked, err := v.cache.IsRevoked(ctx, sessionKey)
		if err != nil {
			slog.Warn("Revocation cache lookup failed", "error", err, "session_public_key", sessionKey)
		} else if revoked {
			return nil, ErrSessionInvalid
		}
	}

	sess, err := v.repo.FindBySessionKey(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, storeError(err)
	}

	if sess.StatusAt(v.now()) != StatusActive {
		return nil, ErrSessionInvalid
	}
	return sess, nil
}
