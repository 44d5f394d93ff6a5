package auth

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/keyrelay/internal/utils"
)

// IdentityKey is the key used to store the identity in Fiber context
const IdentityKey = "identity"

var (
	errMissingHeader = utils.NewAPIError("UNAUTHORIZED", "Missing authorization header", fiber.StatusUnauthorized)
	errInvalidHeader = utils.NewAPIError("UNAUTHORIZED", "Invalid authorization header", fiber.StatusUnauthorized)
	errInvalidToken  = utils.NewAPIError("UNAUTHORIZED", "Invalid or expired token", fiber.StatusUnauthorized)
	errForbidden     = utils.NewAPIError("FORBIDDEN", "Token lacks the required scope", fiber.StatusForbidden)
)

// Middleware verifies the bearer token and stores the caller's Identity
func Middleware(keyStore *KeyStore, issuer string, audience []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return utils.ErrorResponse(c, errMissingHeader)
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return utils.ErrorResponse(c, errInvalidHeader)
		}

		claims, err := keyStore.Verify(strings.TrimSpace(token))
		if err != nil {
			slog.Debug("Bearer token rejected", "error", err)
			return utils.ErrorResponse(c, errInvalidToken)
		}
		if err := claims.Validate(issuer, audience, time.Now()); err != nil {
			slog.Debug("Bearer token rejected", "error", err)
			return utils.ErrorResponse(c, errInvalidToken)
		}

		c.Locals(IdentityKey, &Identity{Subject: claims.Subject(), Scopes: claims.Scopes()})
		return c.Next()
	}
}

// RequireScope rejects callers whose Identity lacks scope.
// Without an Identity in context (auth disabled) the request passes.
func RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity := GetIdentity(c)
		if identity == nil {
			return c.Next()
		}
		for _, s := range identity.Scopes {
			if s == scope {
				return c.Next()
			}
		}
		return utils.ErrorResponse(c, errForbidden)
	}
}

// GetIdentity extracts the identity from Fiber context
func GetIdentity(c *fiber.Ctx) *Identity {
	identity, ok := c.Locals(IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}
