package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Anvoria/keyrelay/internal/codec"
	"github.com/Anvoria/keyrelay/internal/ledger"
	"github.com/Anvoria/keyrelay/internal/metrics"
	"github.com/gagliardetto/solana-go"
)

// Gateway builds and submits session program transactions
type Gateway interface {
	ProgramID() solana.PublicKey
	BuildRegister(ctx context.Context, main, session solana.PublicKey, expiresAt int64) (*ledger.UnsignedTransaction, error)
	BuildRevoke(ctx context.Context, main, session solana.PublicKey) (*ledger.UnsignedTransaction, error)
	BuildRelay(ctx context.Context, main, session, target solana.PublicKey, functionID uint64, params []byte) (*ledger.UnsignedTransaction, error)
	Submit(ctx context.Context, raw []byte) (string, error)
	FetchSession(ctx context.Context, main, session solana.PublicKey) (*ledger.SessionAccount, error)
}

// Options configures a Service
type Options struct {
	MaxTTL         time.Duration
	MinTTL         time.Duration
	RequireOnChain bool
	Cache          RevocationCache
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Service implements the session key protocol operations
type Service struct {
	repo      Repository
	gateway   Gateway
	validator *Validator
	opts      Options
}

// NewService creates a Service. Zero TTL bounds default to one minute and 24 hours.
func NewService(repo Repository, gateway Gateway, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MinTTL <= 0 {
		opts.MinTTL = time.Minute
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		gateway:   gateway,
		validator: NewValidator(repo, opts.Cache, opts.Now),
		opts:      opts,
	}
}

type VerifyRequest struct {
	SessionPublicKey  string `json:"sessionPublicKey"`
	UserMainPublicKey string `json:"userMainPublicKey"`
	Nonce             string `json:"nonce"`
	Signature         string `json:"signature"`
}

type VerifyResult struct {
	SessionPublicKey  string `json:"sessionPublicKey"`
	UserMainPublicKey string `json:"userMainPublicKey"`
}

type RegisterRequest struct {
	SessionPublicKey  string `json:"sessionPublicKey"`
	UserMainPublicKey string `json:"userMainPublicKey"`
	ExpiresAt         int64  `json:"expiresAt"`
	Nonce             string `json:"nonce"`
	Signature         string `json:"signature"`
}

type RegisterResult struct {
	SessionPublicKey  string                      `json:"sessionPublicKey"`
	UserMainPublicKey string                      `json:"userMainPublicKey"`
	ExpiresAt         int64                       `json:"expiresAt"`
	Transaction       *ledger.UnsignedTransaction `json:"transaction"`
}

type RevokeRequest struct {
	SessionPublicKey  string `json:"sessionPublicKey"`
	UserMainPublicKey string `json:"userMainPublicKey"`
}

// RevokeResult carries the on-chain revoke transaction when the session account exists
type RevokeResult struct {
	SessionPublicKey string                      `json:"sessionPublicKey"`
	Transaction      *ledger.UnsignedTransaction `json:"transaction,omitempty"`
}

type RelayRequest struct {
	SessionPublicKey  string `json:"sessionPublicKey"`
	TargetProgramID   string `json:"targetProgramId"`
	FunctionID        uint64 `json:"functionId"`
	Params            string `json:"params"`            // base64
	SignedTransaction string `json:"signedTransaction"` // base64
}

type RelayResult struct {
	Signature string `json:"signature"`
}

type PrepareRelayRequest struct {
	SessionPublicKey string `json:"sessionPublicKey"`
	TargetProgramID  string `json:"targetProgramId"`
	FunctionID       uint64 `json:"functionId"`
	Params           string `json:"params"` // base64
}

// Verify checks that the main wallet signed the attestation for nonce. It has no side effects.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if err := required(
		"sessionPublicKey", req.SessionPublicKey,
		"userMainPublicKey", req.UserMainPublicKey,
		"nonce", req.Nonce,
		"signature", req.Signature,
	); err != nil {
		return nil, err
	}
	if _, err := decodeKey("sessionPublicKey", req.SessionPublicKey); err != nil {
		return nil, err
	}

	ok := VerifyAttestation(req.UserMainPublicKey, req.Nonce, req.Signature)
	s.opts.Metrics.Verification(ok)
	if !ok {
		return nil, ErrSignatureInvalid
	}

	return &VerifyResult{
		SessionPublicKey:  req.SessionPublicKey,
		UserMainPublicKey: req.UserMainPublicKey,
	}, nil
}

// Register verifies the attestation, consumes its nonce, builds the register
// transaction and stores the session record.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := required(
		"sessionPublicKey", req.SessionPublicKey,
		"userMainPublicKey", req.UserMainPublicKey,
		"nonce", req.Nonce,
		"signature", req.Signature,
	); err != nil {
		return nil, err
	}
	sessionKey, err := decodeKey("sessionPublicKey", req.SessionPublicKey)
	if err != nil {
		return nil, err
	}
	mainKey, err := decodeKey("userMainPublicKey", req.UserMainPublicKey)
	if err != nil {
		return nil, err
	}
	if sessionKey.Equals(mainKey) {
		return nil, invalid("sessionPublicKey", "must differ from userMainPublicKey")
	}

	now := s.opts.Now().UTC()
	if req.ExpiresAt < now.Add(s.opts.MinTTL).Unix() {
		return nil, invalid("expiresAt", "must be at least "+s.opts.MinTTL.String()+" in the future")
	}
	if req.ExpiresAt > now.Add(s.opts.MaxTTL).Unix() {
		return nil, invalid("expiresAt", "must be within "+s.opts.MaxTTL.String())
	}

	ok := VerifyAttestation(req.UserMainPublicKey, req.Nonce, req.Signature)
	s.opts.Metrics.Verification(ok)
	if !ok {
		s.opts.Metrics.Registration("rejected")
		return nil, ErrSignatureInvalid
	}

	if _, err := s.repo.FindBySessionKey(ctx, req.SessionPublicKey); err == nil {
		s.opts.Metrics.Registration("duplicate")
		return nil, ErrDuplicateSession
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, storeError(err)
	}

	fresh, err := s.repo.ConsumeNonce(ctx, req.SessionPublicKey, nonceDigest(req.Nonce))
	if err != nil {
		return nil, storeError(err)
	}
	if !fresh {
		s.opts.Metrics.Registration("replay")
		return nil, ErrNonceReused
	}

	tx, err := s.gateway.BuildRegister(ctx, mainKey, sessionKey, req.ExpiresAt)
	if err != nil {
		return nil, networkError(err)
	}

	sess := &Session{
		SessionPublicKey:  req.SessionPublicKey,
		UserMainPublicKey: req.UserMainPublicKey,
		ExpiresAt:         req.ExpiresAt,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		if errors.Is(err, ErrDuplicateSession) {
			s.opts.Metrics.Registration("duplicate")
			return nil, ErrDuplicateSession
		}
		return nil, storeError(err)
	}

	s.opts.Metrics.Registration("created")
	slog.Info("Session registered",
		"session_public_key", sess.SessionPublicKey,
		"owner", sess.UserMainPublicKey,
		"expires_at", sess.ExpiresAt,
	)

	return &RegisterResult{
		SessionPublicKey:  sess.SessionPublicKey,
		UserMainPublicKey: sess.UserMainPublicKey,
		ExpiresAt:         sess.ExpiresAt,
		Transaction:       tx,
	}, nil
}

// Revoke marks the owner's session revoked and returns the on-chain revoke
// transaction for the owner to sign. If the session account never landed on
// chain only the off-chain record is revoked.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest) (*RevokeResult, error) {
	if err := required(
		"sessionPublicKey", req.SessionPublicKey,
		"userMainPublicKey", req.UserMainPublicKey,
	); err != nil {
		return nil, err
	}
	sessionKey, err := decodeKey("sessionPublicKey", req.SessionPublicKey)
	if err != nil {
		return nil, err
	}
	mainKey, err := decodeKey("userMainPublicKey", req.UserMainPublicKey)
	if err != nil {
		return nil, err
	}

	sess, err := s.repo.FindBySessionKey(ctx, req.SessionPublicKey)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, storeError(err)
	}
	if sess.IsRevoked || sess.UserMainPublicKey != req.UserMainPublicKey {
		return nil, ErrSessionNotFound
	}

	tx, err := s.gateway.BuildRevoke(ctx, mainKey, sessionKey)
	if err != nil && !errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, networkError(err)
	}

	changed, err := s.repo.MarkRevoked(ctx, req.SessionPublicKey, req.UserMainPublicKey)
	if err != nil {
		return nil, storeError(err)
	}
	if !changed {
		return nil, ErrSessionNotFound
	}

	s.opts.Metrics.Revocation(metrics.SourceUser)
	if s.opts.Cache != nil {
		ttl := time.Unix(sess.ExpiresAt, 0).Sub(s.opts.Now())
		if err := s.opts.Cache.MarkRevoked(ctx, sess.SessionPublicKey, sess.UserMainPublicKey, ttl); err != nil {
			slog.Warn("Failed to cache session revocation", "error", err, "session_public_key", sess.SessionPublicKey)
		}
	}

	slog.Info("Session revoked",
		"session_public_key", sess.SessionPublicKey,
		"owner", sess.UserMainPublicKey,
		"onchain", tx != nil,
	)

	return &RevokeResult{SessionPublicKey: sess.SessionPublicKey, Transaction: tx}, nil
}

// Relay submits a transaction signed by an active session key.
func (s *Service) Relay(ctx context.Context, req RelayRequest) (*RelayResult, error) {
	if err := required(
		"sessionPublicKey", req.SessionPublicKey,
		"targetProgramId", req.TargetProgramID,
		"signedTransaction", req.SignedTransaction,
	); err != nil {
		return nil, err
	}
	sessionKey, err := decodeKey("sessionPublicKey", req.SessionPublicKey)
	if err != nil {
		return nil, err
	}
	target, err := decodeKey("targetProgramId", req.TargetProgramID)
	if err != nil {
		return nil, err
	}
	params, err := base64.StdEncoding.DecodeString(req.Params)
	if err != nil {
		return nil, invalid("params", "must be base64")
	}
	raw, err := base64.StdEncoding.DecodeString(req.SignedTransaction)
	if err != nil {
		return nil, invalid("signedTransaction", "must be base64")
	}

	sess, err := s.validator.Active(ctx, req.SessionPublicKey)
	if err != nil {
		s.opts.Metrics.Relay("rejected")
		return nil, err
	}

	if s.opts.RequireOnChain {
		if err := s.confirmOnChain(ctx, sess, sessionKey); err != nil {
			s.opts.Metrics.Relay("rejected")
			return nil, err
		}
	}

	relay, err := ledger.ParseSignedTransaction(raw, sessionKey, s.gateway.ProgramID())
	if err != nil {
		s.opts.Metrics.Relay("rejected")
		switch {
		case errors.Is(err, ledger.ErrFeePayerMismatch), errors.Is(err, ledger.ErrTransactionSignature):
			return nil, ErrSignatureInvalid
		default:
			return nil, invalid("signedTransaction", err.Error())
		}
	}
	if err := matchRelayCall(relay.Call, target, req.FunctionID, params); err != nil {
		s.opts.Metrics.Relay("rejected")
		return nil, err
	}

	sig, err := s.gateway.Submit(ctx, raw)
	if err != nil {
		s.opts.Metrics.Relay("failed")
		return nil, networkError(err)
	}

	s.opts.Metrics.Relay("submitted")
	slog.Info("Relay submitted",
		"session_public_key", req.SessionPublicKey,
		"target_program_id", req.TargetProgramID,
		"function_id", req.FunctionID,
		"signature", sig,
	)
	return &RelayResult{Signature: sig}, nil
}

// PrepareRelay builds an unsigned relay transaction for an active session.
func (s *Service) PrepareRelay(ctx context.Context, req PrepareRelayRequest) (*ledger.UnsignedTransaction, error) {
	if err := required(
		"sessionPublicKey", req.SessionPublicKey,
		"targetProgramId", req.TargetProgramID,
	); err != nil {
		return nil, err
	}
	sessionKey, err := decodeKey("sessionPublicKey", req.SessionPublicKey)
	if err != nil {
		return nil, err
	}
	target, err := decodeKey("targetProgramId", req.TargetProgramID)
	if err != nil {
		return nil, err
	}
	params, err := base64.StdEncoding.DecodeString(req.Params)
	if err != nil {
		return nil, invalid("params", "must be base64")
	}

	sess, err := s.validator.Active(ctx, req.SessionPublicKey)
	if err != nil {
		return nil, err
	}
	mainKey, err := decodeKey("userMainPublicKey", sess.UserMainPublicKey)
	if err != nil {
		return nil, storeError(err)
	}

	tx, err := s.gateway.BuildRelay(ctx, mainKey, sessionKey, target, req.FunctionID, params)
	if err != nil {
		return nil, networkError(err)
	}
	return tx, nil
}

// IsSessionValid reports whether sessionKey may be relayed through right now
func (s *Service) IsSessionValid(ctx context.Context, sessionKey string) (bool, error) {
	return s.validator.IsSessionValid(ctx, sessionKey)
}

// Status returns the stored session with its current status
func (s *Service) Status(ctx context.Context, sessionKey string) (*Info, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return nil, invalid("sessionPublicKey", "is required")
	}
	sess, err := s.repo.FindBySessionKey(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, storeError(err)
	}
	return &Info{Session: sess, Status: sess.StatusAt(s.opts.Now())}, nil
}

// ListByOwner returns every session delegated by owner, newest first
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]Info, error) {
	if _, err := decodeKey("owner", owner); err != nil {
		return nil, err
	}
	sessions, err := s.repo.FindByOwner(ctx, owner)
	if err != nil {
		return nil, storeError(err)
	}

	now := s.opts.Now()
	out := make([]Info, 0, len(sessions))
	for i := range sessions {
		out = append(out, Info{Session: &sessions[i], Status: sessions[i].StatusAt(now)})
	}
	return out, nil
}

func (s *Service) confirmOnChain(ctx context.Context, sess *Session, sessionKey solana.PublicKey) error {
	mainKey, err := decodeKey("userMainPublicKey", sess.UserMainPublicKey)
	if err != nil {
		return storeError(err)
	}

	acc, err := s.gateway.FetchSession(ctx, mainKey, sessionKey)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) || errors.Is(err, ledger.ErrInvalidAccountData) {
			return ErrSessionInvalid
		}
		return networkError(err)
	}
	if !acc.ActiveAt(s.opts.Now().Unix()) {
		return ErrSessionInvalid
	}
	return nil
}

// matchRelayCall checks the signed relay instruction against what the client asked to relay
func matchRelayCall(call ledger.RelayCall, target solana.PublicKey, functionID uint64, params []byte) error {
	switch {
	case !call.Target.Equals(target):
		return invalid("targetProgramId", "does not match the relay instruction")
	case call.FunctionID != functionID:
		return invalid("functionId", "does not match the relay instruction")
	case !bytes.Equal(call.Params, params):
		return invalid("params", "does not match the relay instruction")
	}
	return nil
}

func decodeKey(field, value string) (solana.PublicKey, error) {
	b, err := codec.DecodeKey(value)
	if err != nil {
		return solana.PublicKey{}, invalid(field, "must be a base58 encoded 32 byte key")
	}
	return solana.PublicKeyFromBytes(b), nil
}

// required takes field/value pairs and fails on the first blank value
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return invalid(pairs[i], "is required")
		}
	}
	return nil
}
