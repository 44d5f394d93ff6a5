package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Instruction names exposed by the relay program
const (
	registerInstruction = "register_session_key"
	revokeInstruction   = "revoke_session_key"
	relayInstruction    = "relay_transaction"

	sessionAccountName = "SessionAccount"
)

// instructionDiscriminator is the 8 byte prefix selecting a program method.
func instructionDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

func accountDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("account:" + name))
	return sum[:8]
}

func encodeRegister(session solana.PublicKey, expiresAt int64) []byte {
	data := make([]byte, 0, 8+32+8)
	data = append(data, instructionDiscriminator(registerInstruction)...)
	data = append(data, session.Bytes()...)
	return binary.LittleEndian.AppendUint64(data, uint64(expiresAt))
}

func encodeRevoke() []byte {
	return instructionDiscriminator(revokeInstruction)
}

// relayHeaderSize covers discriminator, target, function id and params length
const relayHeaderSize = 8 + 32 + 8 + 4

// RelayCall is the argument list of a relay_transaction instruction
type RelayCall struct {
	Target     solana.PublicKey
	FunctionID uint64
	Params     []byte
}

// EncodeRelay returns the relay_transaction instruction data for call
func EncodeRelay(call RelayCall) []byte {
	data := make([]byte, 0, relayHeaderSize+len(call.Params))
	data = append(data, instructionDiscriminator(relayInstruction)...)
	data = append(data, call.Target.Bytes()...)
	data = binary.LittleEndian.AppendUint64(data, call.FunctionID)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(call.Params)))
	return append(data, call.Params...)
}

// DecodeRelay parses relay_transaction instruction data. Trailing bytes are rejected.
func DecodeRelay(data []byte) (RelayCall, error) {
	if len(data) < relayHeaderSize {
		return RelayCall{}, fmt.Errorf("%w: %d bytes", ErrInvalidRelayInstruction, len(data))
	}
	if !bytes.Equal(data[:8], instructionDiscriminator(relayInstruction)) {
		return RelayCall{}, fmt.Errorf("%w: not a %s instruction", ErrInvalidRelayInstruction, relayInstruction)
	}

	n := binary.LittleEndian.Uint32(data[48:relayHeaderSize])
	if uint64(len(data)-relayHeaderSize) != uint64(n) {
		return RelayCall{}, fmt.Errorf("%w: params length %d does not match data", ErrInvalidRelayInstruction, n)
	}

	return RelayCall{
		Target:     solana.PublicKeyFromBytes(data[8:40]),
		FunctionID: binary.LittleEndian.Uint64(data[40:48]),
		Params:     bytes.Clone(data[relayHeaderSize:]),
	}, nil
}
