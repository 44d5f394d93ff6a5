package ledger

import (
	"crypto/ed25519"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// SignedRelay is a decoded client-signed relay transaction
type SignedRelay struct {
	Tx   *solana.Transaction
	Call RelayCall
}

// ParseSignedTransaction decodes a client-signed relay transaction and checks
// that the session key pays for it and signed it. Exactly one instruction may
// target the relay program and it must be a relay_transaction call.
func ParseSignedTransaction(raw []byte, session, programID solana.PublicKey) (*SignedRelay, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	if len(tx.Message.AccountKeys) == 0 || len(tx.Signatures) == 0 {
		return nil, fmt.Errorf("%w: missing accounts or signatures", ErrMalformedTransaction)
	}

	if !tx.Message.AccountKeys[0].Equals(session) {
		return nil, ErrFeePayerMismatch
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	sig := tx.Signatures[0]
	if !ed25519.Verify(ed25519.PublicKey(session.Bytes()), msg, sig[:]) {
		return nil, ErrTransactionSignature
	}

	var relay *solana.CompiledInstruction
	for i := range tx.Message.Instructions {
		ix := &tx.Message.Instructions[i]
		idx := int(ix.ProgramIDIndex)
		if idx >= len(tx.Message.AccountKeys) {
			return nil, fmt.Errorf("%w: program index %d out of range", ErrMalformedTransaction, idx)
		}
		if !tx.Message.AccountKeys[idx].Equals(programID) {
			continue
		}
		if relay != nil {
			return nil, fmt.Errorf("%w: more than one relay program instruction", ErrInvalidRelayInstruction)
		}
		relay = ix
	}
	if relay == nil {
		return nil, ErrProgramNotInvoked
	}

	call, err := DecodeRelay(relay.Data)
	if err != nil {
		return nil, err
	}
	return &SignedRelay{Tx: tx, Call: call}, nil
}
