package session

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/Anvoria/keyrelay/internal/codec"
	"github.com/Anvoria/keyrelay/internal/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58("JCbSFuVLdwzefyEDV4bjMjA16qW7eivCrN8mkZV5iZAY")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Unix(1_750_000_000, 0).UTC()}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway records calls and returns canned transactions
type fakeGateway struct {
	mu        sync.Mutex
	buildErr  error
	revokeErr error
	submitErr error
	account   *ledger.SessionAccount
	fetchErr  error
	submitted [][]byte
	revokes   int
}

func (g *fakeGateway) ProgramID() solana.PublicKey { return testProgramID }

func (g *fakeGateway) BuildRegister(_ context.Context, main, session solana.PublicKey, _ int64) (*ledger.UnsignedTransaction, error) {
	if g.buildErr != nil {
		return nil, g.buildErr
	}
	return g.tx(main, session)
}

func (g *fakeGateway) BuildRevoke(_ context.Context, main, session solana.PublicKey) (*ledger.UnsignedTransaction, error) {
	g.mu.Lock()
	g.revokes++
	g.mu.Unlock()
	if g.revokeErr != nil {
		return nil, g.revokeErr
	}
	return g.tx(main, session)
}

func (g *fakeGateway) BuildRelay(_ context.Context, main, session, _ solana.PublicKey, _ uint64, _ []byte) (*ledger.UnsignedTransaction, error) {
	if g.buildErr != nil {
		return nil, g.buildErr
	}
	tx, err := g.tx(main, session)
	if err != nil {
		return nil, err
	}
	tx.FeePayer = session.String()
	return tx, nil
}

func (g *fakeGateway) Submit(_ context.Context, raw []byte) (string, error) {
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, raw)
	return "5sig", nil
}

func (g *fakeGateway) FetchSession(_ context.Context, _, _ solana.PublicKey) (*ledger.SessionAccount, error) {
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	if g.account == nil {
		return nil, ledger.ErrAccountNotFound
	}
	return g.account, nil
}

func (g *fakeGateway) tx(main, session solana.PublicKey) (*ledger.UnsignedTransaction, error) {
	pda, _, err := ledger.DeriveSessionAddress(testProgramID, main, session)
	if err != nil {
		return nil, err
	}
	return &ledger.UnsignedTransaction{
		Transaction:    "AQ==",
		Message:        "AQ==",
		Blockhash:      solana.SystemProgramID.String(),
		FeePayer:       main.String(),
		SessionAccount: pda.String(),
	}, nil
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// attest signs the delegation statement for nonce with the main wallet key
func attest(main solana.PrivateKey, nonce string) string {
	sig := ed25519.Sign(ed25519.PrivateKey(main), AttestationMessage(nonce))
	return codec.Encode(sig)
}

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	gateway *fakeGateway
	clock   *clock
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		repo:    NewMemoryRepository(),
		gateway: &fakeGateway{},
		clock:   newClock(),
	}
	opts := Options{
		MinTTL: time.Minute,
		MaxTTL: 24 * time.Hour,
		Now:    f.clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.svc = NewService(f.repo, f.gateway, opts)
	return f
}

// register delegates a fresh session key from a fresh main wallet
func (f *fixture) register(t *testing.T, ttl time.Duration) (main, session solana.PrivateKey) {
	t.Helper()
	main, session = newKey(t), newKey(t)
	_, err := f.svc.Register(context.Background(), RegisterRequest{
		SessionPublicKey:  session.PublicKey().String(),
		UserMainPublicKey: main.PublicKey().String(),
		ExpiresAt:         f.clock.Now().Add(ttl).Unix(),
		Nonce:             "nonce-" + session.PublicKey().String()[:8],
		Signature:         attest(main, "nonce-"+session.PublicKey().String()[:8]),
	})
	require.NoError(t, err)
	return main, session
}
