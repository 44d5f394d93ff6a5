package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the durable index of session records
type Repository interface {
	Create(ctx context.Context, sess *Session) error
	FindBySessionKey(ctx context.Context, sessionKey string) (*Session, error)
	FindByOwner(ctx context.Context, owner string) ([]Session, error)
	FindExpiredUnrevoked(ctx context.Context, before int64, limit int) ([]Session, error)
	MarkRevoked(ctx context.Context, sessionKey, owner string) (bool, error)
	ConsumeNonce(ctx context.Context, sessionKey, nonceDigest string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

// Create inserts sess. An existing row with the same key is left untouched and ErrDuplicateSession is returned.
func (r *repository) Create(ctx context.Context, sess *Session) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(sess)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicateSession
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateSession
	}
	return nil
}

func (r *repository) FindBySessionKey(ctx context.Context, sessionKey string) (*Session, error) {
	var sess Session
	err := r.db.WithContext(ctx).Where("session_public_key = ?", sessionKey).First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (r *repository) FindByOwner(ctx context.Context, owner string) ([]Session, error) {
	var sessions []Session
	err := r.db.WithContext(ctx).
		Where("user_main_public_key = ?", owner).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repository) FindExpiredUnrevoked(ctx context.Context, before int64, limit int) ([]Session, error) {
	var sessions []Session
	q := r.db.WithContext(ctx).
		Where("expires_at <= ? AND is_revoked = ?", before, false).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// MarkRevoked flips is_revoked for the owner's session. It reports false when the
// row is absent, owned by someone else, or already revoked.
func (r *repository) MarkRevoked(ctx context.Context, sessionKey, owner string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_public_key = ? AND user_main_public_key = ? AND is_revoked = ?", sessionKey, owner, false).
		Updates(map[string]any{
			"is_revoked": true,
			"revoked_at": time.Now().UTC(),
		})

	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// ConsumeNonce records the pair and reports false if it was already recorded.
func (r *repository) ConsumeNonce(ctx context.Context, sessionKey, nonceDigest string) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ConsumedNonce{
			ID:               uuid.New(),
			SessionPublicKey: sessionKey,
			NonceDigest:      nonceDigest,
			ConsumedAt:       time.Now().UTC(),
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
