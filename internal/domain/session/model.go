package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is the relay eligibility of a session at a given instant
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Session is the off-chain index entry for a delegated session key.
// Only IsRevoked and RevokedAt ever change after creation.
type Session struct {
	SessionPublicKey  string     `gorm:"column:session_public_key;primaryKey;size:64" json:"sessionPublicKey"`
	UserMainPublicKey string     `gorm:"column:user_main_public_key;size:64;not null;index" json:"userMainPublicKey"`
	ExpiresAt         int64      `gorm:"column:expires_at;not null;index:idx_sessions_expiry,priority:1" json:"expiresAt"`
	IsRevoked         bool       `gorm:"column:is_revoked;not null;default:false;index:idx_sessions_expiry,priority:2" json:"isRevoked"`
	RevokedAt         *time.Time `gorm:"column:revoked_at" json:"revokedAt,omitempty"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (Session) TableName() string {
	return "sessions"
}

// StatusAt derives the session status at now
func (s *Session) StatusAt(now time.Time) Status {
	switch {
	case s.IsRevoked:
		return StatusRevoked
	case s.ExpiresAt <= now.Unix():
		return StatusExpired
	default:
		return StatusActive
	}
}

// ConsumedNonce records a (session key, nonce) pair accepted at registration
type ConsumedNonce struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SessionPublicKey string    `gorm:"column:session_public_key;size:64;not null;uniqueIndex:idx_consumed_nonces_pair"`
	NonceDigest      string    `gorm:"column:nonce_digest;size:64;not null;uniqueIndex:idx_consumed_nonces_pair"`
	ConsumedAt       time.Time `gorm:"column:consumed_at;not null"`
}

func (ConsumedNonce) TableName() string {
	return "consumed_nonces"
}

// Info is a session together with its derived status
type Info struct {
	*Session
	Status Status `json:"status"`
}
