package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Anvoria/keyrelay/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepository(t *testing.T) Repository {
	db := utils.SetupTestDB(t, &Session{}, &ConsumedNonce{})
	return NewRepository(db)
}

func TestRepository_CreateAndFind(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour).Unix()

	err := repo.Create(ctx, &Session{SessionPublicKey: "s1", UserMainPublicKey: "w1", ExpiresAt: expires})
	require.NoError(t, err)

	sess, err := repo.FindBySessionKey(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "w1", sess.UserMainPublicKey)
	assert.Equal(t, expires, sess.ExpiresAt)
	assert.False(t, sess.IsRevoked)
	assert.False(t, sess.CreatedAt.IsZero())

	_, err = repo.FindBySessionKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRepository_CreateDuplicate(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Session{SessionPublicKey: "s1", UserMainPublicKey: "w1", ExpiresAt: 100}))

	err := repo.Create(ctx, &Session{SessionPublicKey: "s1", UserMainPublicKey: "w2", ExpiresAt: 200})
	assert.ErrorIs(t, err, ErrDuplicateSession)

	sess, err := repo.FindBySessionKey(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "w1", sess.UserMainPublicKey)
	assert.Equal(t, int64(100), sess.ExpiresAt)
}

func TestRepository_MarkRevoked(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &Session{SessionPublicKey: "s1", UserMainPublicKey: "w1", ExpiresAt: 100}))

	changed, err := repo.MarkRevoked(ctx, "s1", "w2")
	require.NoError(t, err)
	assert.False(t, changed, "wrong owner must not revoke")

	changed, err = repo.MarkRevoked(ctx, "s1", "w1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkRevoked(ctx, "s1", "w1")
	require.NoError(t, err)
	assert.False(t, changed, "second revoke is a no-op")

	changed, err = repo.MarkRevoked(ctx, "missing", "w1")
	require.NoError(t, err)
	assert.False(t, changed)

	sess, err := repo.FindBySessionKey(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.IsRevoked)
	require.NotNil(t, sess.RevokedAt)
}

func TestRepository_FindExpiredUnrevoked(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Session{SessionPublicKey: "old", UserMainPublicKey: "w", ExpiresAt: 50}))
	require.NoError(t, repo.Create(ctx, &Session{SessionPublicKey: "edge", UserMainPublicKey: "w", ExpiresAt: 100}))
	require.NoError(t, repo.Create(ctx, &Session{SessionPublicKey: "future", UserMainPublicKey: "w", ExpiresAt: 101}))
	require.NoError(t, repo.Create(ctx, &Session{SessionPublicKey: "gone", UserMainPublicKey: "w", ExpiresAt: 10}))
	_, err := repo.MarkRevoked(ctx, "gone", "w")
	require.NoError(t, err)

	sessions, err := repo.FindExpiredUnrevoked(ctx, 100, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "old", sessions[0].SessionPublicKey)
	assert.Equal(t, "edge", sessions[1].SessionPublicKey)

	sessions, err = repo.FindExpiredUnrevoked(ctx, 100, 1)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestRepository_FindByOwner(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Session{SessionPublicKey: "a", UserMainPublicKey: "w1", ExpiresAt: 100}))
	require.NoError(t, repo.Create(ctx, &Session{SessionPublicKey: "b", UserMainPublicKey: "w1", ExpiresAt: 100}))
	require.NoError(t, repo.Create(ctx, &Session{SessionPublicKey: "c", UserMainPublicKey: "w2", ExpiresAt: 100}))

	sessions, err := repo.FindByOwner(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	sessions, err = repo.FindByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRepository_ConsumeNonce(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	fresh, err := repo.ConsumeNonce(ctx, "s1", nonceDigest("n"))
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = repo.ConsumeNonce(ctx, "s1", nonceDigest("n"))
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = repo.ConsumeNonce(ctx, "s2", nonceDigest("n"))
	require.NoError(t, err)
	assert.True(t, fresh, "same nonce under another session key is a different pair")
}

func TestMemoryRepository_MatchesContract(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Session{SessionPublicKey: "s1", UserMainPublicKey: "w1", ExpiresAt: 100}))
	assert.ErrorIs(t, repo.Create(ctx, &Session{SessionPublicKey: "s1", UserMainPublicKey: "w1", ExpiresAt: 100}), ErrDuplicateSession)

	changed, err := repo.MarkRevoked(ctx, "s1", "w2")
	require.NoError(t, err)
	assert.False(t, changed)

	fresh, _ := repo.ConsumeNonce(ctx, "s1", "d")
	assert.True(t, fresh)
	fresh, _ = repo.ConsumeNonce(ctx, "s1", "d")
	assert.False(t, fresh)
}

func TestRepository_ConcurrentRevokeConverges(t *testing.T) {
	repos := []struct {
		name string
		open func(t *testing.T) Repository
	}{
		{"sqlite", setupRepository},
		{"memory", func(*testing.T) Repository { return NewMemoryRepository() }},
	}

	for _, tt := range repos {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := tt.open(t)
			clk := newClock()
			require.NoError(t, repo.Create(ctx, &Session{
				SessionPublicKey:  "s1",
				UserMainPublicKey: "w1",
				ExpiresAt:         clk.Now().Unix() - 1,
			}))

			const owners = 8
			var (
				wg      sync.WaitGroup
				changes atomic.Int32
				start   = make(chan struct{})
			)

			for range owners {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					changed, err := repo.MarkRevoked(ctx, "s1", "w1")
					assert.NoError(t, err)
					if changed {
						changes.Add(1)
					}
				}()
			}

			reaper := NewReaper(repo, ReaperOptions{Now: clk.Now})
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				res, err := reaper.Sweep(ctx)
				assert.NoError(t, err)
				assert.Zero(t, res.Failed)
				changes.Add(int32(res.Revoked))
			}()

			close(start)
			wg.Wait()

			assert.Equal(t, int32(1), changes.Load(), "exactly one caller revokes")

			sess, err := repo.FindBySessionKey(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, sess.IsRevoked)
			assert.NotNil(t, sess.RevokedAt)
		})
	}
}
