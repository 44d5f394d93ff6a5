package codec

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	// KeySize is the length of an ed25519 public key in bytes
	KeySize = 32
	// SignatureSize is the length of an ed25519 signature in bytes
	SignatureSize = 64
)

// ErrMalformedEncoding is returned when a string is not valid base58 or has the wrong length
var ErrMalformedEncoding = errors.New("malformed encoding")

// Encode returns the base58 form of b.
func Encode(b []byte) string {
	return base58.Encode(b)
}

// Decode parses a base58 string. The empty string decodes to an empty slice.
func Decode(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}

	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	return b, nil
}

// DecodeKey decodes a base58 public key and checks that it is exactly KeySize bytes.
func DecodeKey(s string) ([]byte, error) {
	return decodeFixed(s, KeySize)
}

// DecodeSignature decodes a base58 signature and checks that it is exactly SignatureSize bytes.
func DecodeSignature(s string) ([]byte, error) {
	return decodeFixed(s, SignatureSize)
}

func decodeFixed(s string, size int) ([]byte, error) {
	b, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedEncoding, size, len(b))
	}
	return b, nil
}
