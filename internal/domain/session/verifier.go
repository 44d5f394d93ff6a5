package session

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/Anvoria/keyrelay/internal/codec"
	"golang.org/x/crypto/sha3"
)

// AttestationPrefix is the fixed statement a main wallet signs, followed by the nonce
const AttestationPrefix = "This sessionKey.publicKey is my session key"

// AttestationMessage returns prefix || nonce with no separator
func AttestationMessage(nonce string) []byte {
	msg := make([]byte, 0, len(AttestationPrefix)+len(nonce))
	msg = append(msg, AttestationPrefix...)
	return append(msg, nonce...)
}

// VerifyAttestation reports whether signature is the main wallet's ed25519
// signature over AttestationMessage(nonce). Keys and signatures are base58.
// Any decoding problem yields false.
func VerifyAttestation(mainPublicKey, nonce, signature string) bool {
	pub, err := codec.DecodeKey(mainPublicKey)
	if err != nil {
		return false
	}
	sig, err := codec.DecodeSignature(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), AttestationMessage(nonce), sig)
}

// nonceDigest is the stored form of a consumed nonce
func nonceDigest(nonce string) string {
	sum := sha3.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}
