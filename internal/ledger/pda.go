package ledger

import (
	"github.com/gagliardetto/solana-go"
)

// SessionSeed is the domain separation tag for session account addresses
const SessionSeed = "session"

// DeriveSessionAddress returns the program derived address holding the on-chain
// record for (main, session). The result depends only on its inputs.
func DeriveSessionAddress(programID, main, session solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{
			[]byte(SessionSeed),
			main.Bytes(),
			session.Bytes(),
		},
		programID,
	)
}
