package ledger

import "errors"

var (
	// ErrRPC wraps every failure returned by the ledger RPC endpoint
	ErrRPC = errors.New("ledger rpc failure")
	// ErrAccountNotFound is returned when the session account does not exist on chain
	ErrAccountNotFound = errors.New("session account not found")
	// ErrInvalidAccountData is returned when an account does not decode as a session account
	ErrInvalidAccountData = errors.New("invalid session account data")
	// ErrMalformedTransaction is returned when raw bytes do not decode as a transaction
	ErrMalformedTransaction = errors.New("malformed transaction")
	// ErrFeePayerMismatch is returned when a relay transaction is not paid by the session key
	ErrFeePayerMismatch = errors.New("transaction fee payer is not the session key")
	// ErrTransactionSignature is returned when the fee payer signature does not verify
	ErrTransactionSignature = errors.New("transaction signature does not verify")
	// ErrProgramNotInvoked is returned when no instruction of a relay transaction targets the relay program
	ErrProgramNotInvoked = errors.New("transaction does not invoke the relay program")
	// ErrInvalidRelayInstruction is returned when the relay program instruction is not a well formed relay_transaction
	ErrInvalidRelayInstruction = errors.New("invalid relay instruction")
)
