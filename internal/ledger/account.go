package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const sessionAccountSize = 8 + 32 + 32 + 8 + 1 + 1

// SessionAccount is the on-chain mirror of a session record
type SessionAccount struct {
	Address   solana.PublicKey
	UserMain  solana.PublicKey
	Session   solana.PublicKey
	ExpiresAt int64
	Revoked   bool
	Bump      uint8
}

// ActiveAt reports whether the program would still honour the session at unix time now.
func (a *SessionAccount) ActiveAt(now int64) bool {
	return !a.Revoked && a.ExpiresAt > now
}

// DecodeSessionAccount parses raw account data.
func DecodeSessionAccount(address solana.PublicKey, data []byte) (*SessionAccount, error) {
	if len(data) < sessionAccountSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidAccountData, len(data))
	}
	if !bytes.Equal(data[:8], accountDiscriminator(sessionAccountName)) {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrInvalidAccountData)
	}

	off := 8
	acc := &SessionAccount{Address: address}
	acc.UserMain = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32
	acc.Session = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32
	acc.ExpiresAt = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	acc.Revoked = data[off] != 0
	off++
	acc.Bump = data[off]

	return acc, nil
}

// EncodeSessionAccount is the inverse of DecodeSessionAccount.
func EncodeSessionAccount(acc *SessionAccount) []byte {
	data := make([]byte, 0, sessionAccountSize)
	data = append(data, accountDiscriminator(sessionAccountName)...)
	data = append(data, acc.UserMain.Bytes()...)
	data = append(data, acc.Session.Bytes()...)
	data = binary.LittleEndian.AppendUint64(data, uint64(acc.ExpiresAt))
	revoked := byte(0)
	if acc.Revoked {
		revoked = 1
	}
	return append(data, revoked, acc.Bump)
}
