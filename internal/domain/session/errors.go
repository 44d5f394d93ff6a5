package session

import (
	"errors"
	"fmt"

	"github.com/Anvoria/keyrelay/internal/utils"
	"github.com/gofiber/fiber/v2"
)

var (
	// ErrValidation is returned when a required field is missing or malformed
	ErrValidation = errors.New("validation failed")
	// ErrSignatureInvalid is returned when the delegation attestation does not verify
	ErrSignatureInvalid = errors.New("invalid signature")
	// ErrNonceReused is returned when a (session key, nonce) pair was already consumed
	ErrNonceReused = errors.New("nonce already used for this session key")
	// ErrSessionNotFound is returned when a session is absent or already revoked
	ErrSessionNotFound = errors.New("session not found or already revoked")
	// ErrSessionInvalid is returned when a relay targets a session that is not active
	ErrSessionInvalid = errors.New("invalid or expired session")
	// ErrDuplicateSession is returned when a session key is registered twice
	ErrDuplicateSession = errors.New("session already registered")
	// ErrNetwork is returned when the ledger could not be reached
	ErrNetwork = errors.New("ledger network error")
	// ErrStore is returned when the session store fails
	ErrStore = errors.New("session store error")
)

// ValidationError describes a rejected request field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func storeError(err error) error {
	return fmt.Errorf("%w: %w", ErrStore, err)
}

func networkError(err error) error {
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// MapError converts a protocol error to the API error sent to clients
func MapError(err error) *utils.APIError {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		apiErr := utils.NewAPIError("VALIDATION_ERROR", verr.Error(), fiber.StatusBadRequest)
		apiErr.Details = fiber.Map{"field": verr.Field}
		return apiErr
	case errors.Is(err, ErrValidation):
		return utils.NewAPIError("VALIDATION_ERROR", err.Error(), fiber.StatusBadRequest)
	case errors.Is(err, ErrNonceReused):
		return utils.NewAPIError("NONCE_REUSED", ErrNonceReused.Error(), fiber.StatusUnauthorized)
	case errors.Is(err, ErrSignatureInvalid):
		return utils.NewAPIError("SIGNATURE_INVALID", ErrSignatureInvalid.Error(), fiber.StatusUnauthorized)
	case errors.Is(err, ErrSessionInvalid):
		return utils.NewAPIError("SESSION_INVALID", ErrSessionInvalid.Error(), fiber.StatusUnauthorized)
	case errors.Is(err, ErrSessionNotFound):
		return utils.NewAPIError("SESSION_NOT_FOUND", ErrSessionNotFound.Error(), fiber.StatusNotFound)
	case errors.Is(err, ErrDuplicateSession):
		return utils.NewAPIError("DUPLICATE_SESSION", ErrDuplicateSession.Error(), fiber.StatusConflict)
	case errors.Is(err, ErrNetwork):
		return utils.NewAPIError("NETWORK_ERROR", "Ledger is unavailable, please retry", fiber.StatusBadGateway)
	case errors.Is(err, ErrStore):
		return utils.NewAPIError("STORE_ERROR", "Session store is unavailable", fiber.StatusInternalServerError)
	default:
		return utils.NewAPIError("INTERNAL_SERVER_ERROR", "An unexpected error occurred", fiber.StatusInternalServerError)
	}
}
