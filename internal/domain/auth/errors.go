package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKey is returned when the active key ID is not in the key set
	ErrUnknownKey = errors.New("active signing key not found")
	// ErrKeyExists is returned when generating a key pair over an existing one
	ErrKeyExists = errors.New("key pair already exists")
	// ErrInvalidKeySize is returned for RSA sizes other than 2048, 3072 or 4096
	ErrInvalidKeySize = errors.New("key size must be 2048, 3072, or 4096")
)

type ErrKeysDirectoryNotAccessible struct {
	Path string
	Err  error
}

func (e *ErrKeysDirectoryNotAccessible) Error() string {
	return fmt.Sprintf("keys directory %s is not accessible: %v", e.Path, e.Err)
}

func (e *ErrKeysDirectoryNotAccessible) Unwrap() error { return e.Err }

type ErrKeysPathNotDirectory struct {
	Path string
}

func (e *ErrKeysPathNotDirectory) Error() string {
	return fmt.Sprintf("keys path %s is not a directory", e.Path)
}

// ErrInvalidKeyFile reports a key file that could not be read or parsed
type ErrInvalidKeyFile struct {
	FileName string
	Reason   string
	Err      error
}

func (e *ErrInvalidKeyFile) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.FileName, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.FileName, e.Reason)
}

func (e *ErrInvalidKeyFile) Unwrap() error { return e.Err }
