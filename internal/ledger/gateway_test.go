package ledger

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRPC is a mock implementation of RPC
type MockRPC struct {
	mock.Mock
}

func (m *MockRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	args := m.Called(ctx, commitment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rpc.GetLatestBlockhashResult), args.Error(1)
}

func (m *MockRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rpc.GetAccountInfoResult), args.Error(1)
}

func (m *MockRPC) SendRawTransactionWithOpts(ctx context.Context, rawTx []byte, opts rpc.TransactionOpts) (solana.Signature, error) {
	args := m.Called(ctx, rawTx, opts)
	return args.Get(0).(solana.Signature), args.Error(1)
}

var testProgramID = solana.MustPublicKeyFromBase58("JCbSFuVLdwzefyEDV4bjMjA16qW7eivCrN8mkZV5iZAY")

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func blockhashResult(t *testing.T) *rpc.GetLatestBlockhashResult {
	t.Helper()
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            solana.Hash(newKey(t).PublicKey()),
			LastValidBlockHeight: 4242,
		},
	}
}

func decodeTx(t *testing.T, b64 string) *solana.Transaction {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	require.NoError(t, err)
	return tx
}

func TestDeriveSessionAddress(t *testing.T) {
	main := newKey(t).PublicKey()
	session := newKey(t).PublicKey()

	first, bump1, err := DeriveSessionAddress(testProgramID, main, session)
	require.NoError(t, err)
	second, bump2, err := DeriveSessionAddress(testProgramID, main, session)
	require.NoError(t, err)

	assert.Equal(t, first, second, "derivation must be deterministic")
	assert.Equal(t, bump1, bump2)

	swapped, _, err := DeriveSessionAddress(testProgramID, session, main)
	require.NoError(t, err)
	assert.NotEqual(t, first, swapped, "seed order must matter")

	otherProgram, _, err := DeriveSessionAddress(solana.SystemProgramID, main, session)
	require.NoError(t, err)
	assert.NotEqual(t, first, otherProgram, "program id must matter")
}

func TestInstructionData(t *testing.T) {
	session := newKey(t).PublicKey()
	target := newKey(t).PublicKey()

	t.Run("register", func(t *testing.T) {
		data := encodeRegister(session, 1_700_000_000)
		require.Len(t, data, 48)
		assert.Equal(t, instructionDiscriminator(registerInstruction), data[:8])
		assert.Equal(t, session.Bytes(), data[8:40])
		assert.Equal(t, uint64(1_700_000_000), binary.LittleEndian.Uint64(data[40:]))
	})

	t.Run("revoke", func(t *testing.T) {
		assert.Equal(t, instructionDiscriminator(revokeInstruction), encodeRevoke())
	})

	t.Run("relay", func(t *testing.T) {
		params := []byte{1, 2, 3}
		data := EncodeRelay(RelayCall{Target: target, FunctionID: 7, Params: params})
		require.Len(t, data, 8+32+8+4+3)
		assert.Equal(t, target.Bytes(), data[8:40])
		assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(data[40:48]))
		assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(data[48:52]))
		assert.Equal(t, params, data[52:])

		call, err := DecodeRelay(data)
		require.NoError(t, err)
		assert.True(t, call.Target.Equals(target))
		assert.Equal(t, uint64(7), call.FunctionID)
		assert.Equal(t, params, call.Params)
	})

	t.Run("relay decode rejects", func(t *testing.T) {
		valid := EncodeRelay(RelayCall{Target: target, FunctionID: 7, Params: []byte{1, 2, 3}})

		tests := []struct {
			name string
			data []byte
		}{
			{"empty", nil},
			{"truncated header", valid[:20]},
			{"truncated params", valid[:len(valid)-1]},
			{"trailing bytes", append(append([]byte{}, valid...), 0)},
			{"register discriminator", append(encodeRegister(target, 1), make([]byte, 4)...)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := DecodeRelay(tt.data)
				assert.ErrorIs(t, err, ErrInvalidRelayInstruction)
			})
		}
	})

	t.Run("discriminators differ", func(t *testing.T) {
		assert.NotEqual(t, instructionDiscriminator(registerInstruction), instructionDiscriminator(revokeInstruction))
		assert.NotEqual(t, instructionDiscriminator(revokeInstruction), instructionDiscriminator(relayInstruction))
	})
}

func TestGateway_BuildRegister(t *testing.T) {
	client := new(MockRPC)
	gw := NewGateway(client, testProgramID, Options{})
	main := newKey(t).PublicKey()
	session := newKey(t).PublicKey()
	latest := blockhashResult(t)

	client.On("GetLatestBlockhash", mock.Anything, rpc.CommitmentFinalized).Return(latest, nil)

	built, err := gw.BuildRegister(context.Background(), main, session, 1_700_003_600)
	require.NoError(t, err)

	pda, _, err := DeriveSessionAddress(testProgramID, main, session)
	require.NoError(t, err)
	assert.Equal(t, pda.String(), built.SessionAccount)
	assert.Equal(t, main.String(), built.FeePayer)
	assert.Equal(t, latest.Value.Blockhash.String(), built.Blockhash)
	assert.Equal(t, uint64(4242), built.LastValidBlockHeight)

	tx := decodeTx(t, built.Transaction)
	assert.True(t, tx.Message.AccountKeys[0].Equals(main), "main wallet pays")
	assert.Equal(t, latest.Value.Blockhash, tx.Message.RecentBlockhash)
	require.Len(t, tx.Message.Instructions, 1)
	assert.Equal(t, encodeRegister(session, 1_700_003_600), []byte(tx.Message.Instructions[0].Data))

	client.AssertExpectations(t)
}

func TestGateway_BuildRevoke(t *testing.T) {
	main := newKey(t).PublicKey()
	session := newKey(t).PublicKey()
	pda, bump, err := DeriveSessionAddress(testProgramID, main, session)
	require.NoError(t, err)

	t.Run("account exists", func(t *testing.T) {
		client := new(MockRPC)
		gw := NewGateway(client, testProgramID, Options{})

		data := EncodeSessionAccount(&SessionAccount{UserMain: main, Session: session, ExpiresAt: 99, Bump: bump})
		client.On("GetAccountInfo", mock.Anything, pda).Return(&rpc.GetAccountInfoResult{
			Value: &rpc.Account{Owner: testProgramID, Data: rpc.DataBytesOrJSONFromBytes(data)},
		}, nil)
		client.On("GetLatestBlockhash", mock.Anything, rpc.CommitmentFinalized).Return(blockhashResult(t), nil)

		built, err := gw.BuildRevoke(context.Background(), main, session)
		require.NoError(t, err)
		assert.Equal(t, main.String(), built.FeePayer)

		tx := decodeTx(t, built.Transaction)
		assert.Equal(t, encodeRevoke(), []byte(tx.Message.Instructions[0].Data))
		client.AssertExpectations(t)
	})

	t.Run("account missing", func(t *testing.T) {
		client := new(MockRPC)
		gw := NewGateway(client, testProgramID, Options{})
		client.On("GetAccountInfo", mock.Anything, pda).Return(nil, rpc.ErrNotFound)

		built, err := gw.BuildRevoke(context.Background(), main, session)
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.Nil(t, built)
		client.AssertNotCalled(t, "GetLatestBlockhash", mock.Anything, mock.Anything)
	})
}

func TestGateway_BuildRelay(t *testing.T) {
	client := new(MockRPC)
	gw := NewGateway(client, testProgramID, Options{})
	main := newKey(t).PublicKey()
	session := newKey(t).PublicKey()
	target := newKey(t).PublicKey()

	client.On("GetLatestBlockhash", mock.Anything, rpc.CommitmentFinalized).Return(blockhashResult(t), nil)

	built, err := gw.BuildRelay(context.Background(), main, session, target, 3, []byte("args"))
	require.NoError(t, err)
	assert.Equal(t, session.String(), built.FeePayer)

	tx := decodeTx(t, built.Transaction)
	assert.True(t, tx.Message.AccountKeys[0].Equals(session), "session key pays")
	assert.Equal(t, EncodeRelay(RelayCall{Target: target, FunctionID: 3, Params: []byte("args")}), []byte(tx.Message.Instructions[0].Data))
}

func TestGateway_BlockhashFailure(t *testing.T) {
	client := new(MockRPC)
	gw := NewGateway(client, testProgramID, Options{})
	client.On("GetLatestBlockhash", mock.Anything, rpc.CommitmentFinalized).Return(nil, errors.New("connection refused"))

	built, err := gw.BuildRegister(context.Background(), newKey(t).PublicKey(), newKey(t).PublicKey(), 10)
	assert.ErrorIs(t, err, ErrRPC)
	assert.Nil(t, built)
}

func TestGateway_Submit(t *testing.T) {
	raw := []byte{1, 2, 3}
	var sig solana.Signature
	sig[0] = 9

	t.Run("success", func(t *testing.T) {
		client := new(MockRPC)
		gw := NewGateway(client, testProgramID, Options{})
		client.On("SendRawTransactionWithOpts", mock.Anything, raw, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		}).Return(sig, nil)

		got, err := gw.Submit(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, sig.String(), got)
		client.AssertExpectations(t)
	})

	t.Run("failure is wrapped", func(t *testing.T) {
		client := new(MockRPC)
		gw := NewGateway(client, testProgramID, Options{})
		client.On("SendRawTransactionWithOpts", mock.Anything, raw, mock.Anything).
			Return(solana.Signature{}, errors.New("blockhash not found"))

		got, err := gw.Submit(context.Background(), raw)
		assert.ErrorIs(t, err, ErrRPC)
		assert.Empty(t, got)
		client.AssertNumberOfCalls(t, "SendRawTransactionWithOpts", 1)
	})
}

func TestGateway_FetchSession(t *testing.T) {
	main := newKey(t).PublicKey()
	session := newKey(t).PublicKey()
	pda, _, err := DeriveSessionAddress(testProgramID, main, session)
	require.NoError(t, err)

	t.Run("decodes account", func(t *testing.T) {
		client := new(MockRPC)
		gw := NewGateway(client, testProgramID, Options{})
		data := EncodeSessionAccount(&SessionAccount{UserMain: main, Session: session, ExpiresAt: 500, Revoked: true, Bump: 254})
		client.On("GetAccountInfo", mock.Anything, pda).Return(&rpc.GetAccountInfoResult{
			Value: &rpc.Account{Owner: testProgramID, Data: rpc.DataBytesOrJSONFromBytes(data)},
		}, nil)

		acc, err := gw.FetchSession(context.Background(), main, session)
		require.NoError(t, err)
		assert.Equal(t, pda, acc.Address)
		assert.Equal(t, main, acc.UserMain)
		assert.Equal(t, session, acc.Session)
		assert.Equal(t, int64(500), acc.ExpiresAt)
		assert.True(t, acc.Revoked)
		assert.Equal(t, uint8(254), acc.Bump)
		assert.False(t, acc.ActiveAt(100))
	})

	t.Run("foreign owner", func(t *testing.T) {
		client := new(MockRPC)
		gw := NewGateway(client, testProgramID, Options{})
		client.On("GetAccountInfo", mock.Anything, pda).Return(&rpc.GetAccountInfoResult{
			Value: &rpc.Account{Owner: solana.SystemProgramID, Data: rpc.DataBytesOrJSONFromBytes([]byte{})},
		}, nil)

		_, err := gw.FetchSession(context.Background(), main, session)
		assert.ErrorIs(t, err, ErrInvalidAccountData)
	})

	t.Run("rpc failure", func(t *testing.T) {
		client := new(MockRPC)
		gw := NewGateway(client, testProgramID, Options{})
		client.On("GetAccountInfo", mock.Anything, pda).Return(nil, errors.New("timeout"))

		_, err := gw.FetchSession(context.Background(), main, session)
		assert.ErrorIs(t, err, ErrRPC)
	})
}

func TestDecodeSessionAccount_Invalid(t *testing.T) {
	_, err := DecodeSessionAccount(solana.PublicKey{}, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidAccountData)

	data := make([]byte, sessionAccountSize)
	_, err = DecodeSessionAccount(solana.PublicKey{}, data)
	assert.ErrorIs(t, err, ErrInvalidAccountData)
}
