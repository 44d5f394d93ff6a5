package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is a Repository kept in process memory.
// It is meant for tests and local development; nothing survives a restart.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]Session
	nonces   map[string]struct{}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]Session),
		nonces:   make(map[string]struct{}),
	}
}

func (m *MemoryRepository) Create(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sess.SessionPublicKey]; ok {
		return ErrDuplicateSession
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	m.sessions[sess.SessionPublicKey] = *sess
	return nil
}

func (m *MemoryRepository) FindBySessionKey(_ context.Context, sessionKey string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionKey]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (m *MemoryRepository) FindByOwner(_ context.Context, owner string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, sess := range m.sessions {
		if sess.UserMainPublicKey == owner {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) FindExpiredUnrevoked(_ context.Context, before int64, limit int) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, sess := range m.sessions {
		if !sess.IsRevoked && sess.ExpiresAt <= before {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt < out[j].ExpiresAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) MarkRevoked(_ context.Context, sessionKey, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionKey]
	if !ok || sess.IsRevoked || sess.UserMainPublicKey != owner {
		return false, nil
	}
	now := time.Now().UTC()
	sess.IsRevoked = true
	sess.RevokedAt = &now
	m.sessions[sessionKey] = sess
	return true, nil
}

func (m *MemoryRepository) ConsumeNonce(_ context.Context, sessionKey, nonceDigest string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey + "|" + nonceDigest
	if _, ok := m.nonces[key]; ok {
		return false, nil
	}
	m.nonces[key] = struct{}{}
	return true, nil
}
