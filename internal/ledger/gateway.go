package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/Anvoria/keyrelay/internal/config"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPC is the subset of the ledger JSON-RPC API used by the gateway.
// *rpc.Client satisfies it.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	SendRawTransactionWithOpts(ctx context.Context, rawTx []byte, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Options tunes commitment levels and deadlines for RPC calls
type Options struct {
	Commitment          rpc.CommitmentType
	PreflightCommitment rpc.CommitmentType
	SkipPreflight       bool
	Timeout             time.Duration
}

// UnsignedTransaction is a built transaction waiting for the client's signature
type UnsignedTransaction struct {
	Transaction          string `json:"transaction"` // base64, zeroed signature slots
	Message              string `json:"message"`     // base64 message bytes to sign
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	FeePayer             string `json:"feePayer"`
	SessionAccount       string `json:"sessionAccount"`
}

// Gateway builds session program transactions and talks to the ledger
type Gateway struct {
	client    RPC
	programID solana.PublicKey
	opts      Options
}

// NewGateway creates a Gateway for the given program
func NewGateway(client RPC, programID solana.PublicKey, opts Options) *Gateway {
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentFinalized
	}
	if opts.PreflightCommitment == "" {
		opts.PreflightCommitment = rpc.CommitmentConfirmed
	}
	return &Gateway{client: client, programID: programID, opts: opts}
}

// Dial creates a Gateway backed by a JSON-RPC client for cfg.RPCURL
func Dial(cfg *config.LedgerConfig) (*Gateway, error) {
	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id: %w", err)
	}

	return NewGateway(rpc.New(cfg.RPCURL), programID, Options{
		Commitment:          rpc.CommitmentType(cfg.Commitment),
		PreflightCommitment: rpc.CommitmentType(cfg.PreflightCommitment),
		SkipPreflight:       cfg.SkipPreflight,
		Timeout:             cfg.RequestTimeoutDuration(),
	}), nil
}

// ProgramID returns the relay program this gateway targets
func (g *Gateway) ProgramID() solana.PublicKey {
	return g.programID
}

// BuildRegister builds the transaction creating the session account. The main wallet pays.
func (g *Gateway) BuildRegister(ctx context.Context, main, session solana.PublicKey, expiresAt int64) (*UnsignedTransaction, error) {
	pda, _, err := DeriveSessionAddress(g.programID, main, session)
	if err != nil {
		return nil, fmt.Errorf("failed to derive session address: %w", err)
	}

	ix := solana.NewInstruction(g.programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(main, true, true),
		solana.NewAccountMeta(pda, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, encodeRegister(session, expiresAt))

	return g.build(ctx, ix, main, pda)
}

// BuildRevoke builds the transaction marking the session account revoked. The
// main wallet pays. It fails with ErrAccountNotFound if the account was never created.
func (g *Gateway) BuildRevoke(ctx context.Context, main, session solana.PublicKey) (*UnsignedTransaction, error) {
	acc, err := g.FetchSession(ctx, main, session)
	if err != nil {
		return nil, err
	}

	ix := solana.NewInstruction(g.programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(main, true, true),
		solana.NewAccountMeta(acc.Address, true, false),
	}, encodeRevoke())

	return g.build(ctx, ix, main, acc.Address)
}

// BuildRelay builds a transaction invoking target through the relay program. The session key pays.
func (g *Gateway) BuildRelay(ctx context.Context, main, session, target solana.PublicKey, functionID uint64, params []byte) (*UnsignedTransaction, error) {
	pda, _, err := DeriveSessionAddress(g.programID, main, session)
	if err != nil {
		return nil, fmt.Errorf("failed to derive session address: %w", err)
	}

	ix := solana.NewInstruction(g.programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(pda, true, false),
		solana.NewAccountMeta(main, false, false),
		solana.NewAccountMeta(target, false, false),
		solana.NewAccountMeta(session, true, true),
	}, EncodeRelay(RelayCall{Target: target, FunctionID: functionID, Params: params}))

	return g.build(ctx, ix, session, pda)
}

func (g *Gateway) build(ctx context.Context, ix solana.Instruction, payer, pda solana.PublicKey) (*UnsignedTransaction, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	latest, err := g.client.GetLatestBlockhash(ctx, g.opts.Commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: get latest blockhash: %w", ErrRPC, err)
	}
	if latest == nil || latest.Value == nil {
		return nil, fmt.Errorf("%w: empty blockhash response", ErrRPC)
	}

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, latest.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	return &UnsignedTransaction{
		Transaction:          base64.StdEncoding.EncodeToString(raw),
		Message:              base64.StdEncoding.EncodeToString(msg),
		Blockhash:            latest.Value.Blockhash.String(),
		LastValidBlockHeight: latest.Value.LastValidBlockHeight,
		FeePayer:             payer.String(),
		SessionAccount:       pda.String(),
	}, nil
}

// Submit sends a signed transaction and returns its signature. Failures are not retried.
func (g *Gateway) Submit(ctx context.Context, raw []byte) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sig, err := g.client.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       g.opts.SkipPreflight,
		PreflightCommitment: g.opts.PreflightCommitment,
	})
	if err != nil {
		return "", fmt.Errorf("%w: send transaction: %w", ErrRPC, err)
	}
	return sig.String(), nil
}

// FetchSession loads and decodes the on-chain session account for (main, session).
func (g *Gateway) FetchSession(ctx context.Context, main, session solana.PublicKey) (*SessionAccount, error) {
	pda, _, err := DeriveSessionAddress(g.programID, main, session)
	if err != nil {
		return nil, fmt.Errorf("failed to derive session address: %w", err)
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	res, err := g.client.GetAccountInfo(ctx, pda)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: get account info: %w", ErrRPC, err)
	}
	if res == nil || res.Value == nil || res.Value.Data == nil {
		return nil, ErrAccountNotFound
	}
	if !res.Value.Owner.Equals(g.programID) {
		return nil, fmt.Errorf("%w: owned by %s", ErrInvalidAccountData, res.Value.Owner)
	}

	return DecodeSessionAccount(pda, res.Value.Data.GetBinary())
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.opts.Timeout)
}
