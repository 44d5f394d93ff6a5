package auth

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwt"
)

// Scopes understood by the session API
const (
	ScopeRead  = "sessions:read"
	ScopeWrite = "sessions:write"
	ScopeRelay = "sessions:relay"
)

const scopeClaim = "scope"

// Claims wraps a verified operator token
type Claims struct {
	Token jwt.Token
}

func (c *Claims) Subject() string {
	sub, _ := c.Token.Subject()
	return sub
}

func (c *Claims) Issuer() string {
	iss, _ := c.Token.Issuer()
	return iss
}

func (c *Claims) Audience() []string {
	aud, _ := c.Token.Audience()
	return aud
}

func (c *Claims) Expiration() time.Time {
	exp, _ := c.Token.Expiration()
	return exp
}

// Scopes returns the space separated scope claim as a slice
func (c *Claims) Scopes() []string {
	var raw string
	if err := c.Token.Get(scopeClaim, &raw); err != nil {
		return nil
	}
	return strings.Fields(raw)
}

func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes(), scope)
}

// Validate checks expiry, issuer and audience
func (c *Claims) Validate(issuer string, expectedAudience []string, now time.Time) error {
	exp := c.Expiration()
	if exp.IsZero() {
		return errors.New("token missing expiration claim")
	}
	if !now.Before(exp) {
		return errors.New("token expired")
	}

	if issuer != "" && c.Issuer() != issuer {
		return errors.New("token issuer mismatch")
	}

	if len(expectedAudience) > 0 {
		aud := c.Audience()
		if !slices.ContainsFunc(expectedAudience, func(a string) bool { return slices.Contains(aud, a) }) {
			return errors.New("token audience mismatch")
		}
	}

	return nil
}

// Identity is the authenticated caller stored in the request context
type Identity struct {
	Subject string
	Scopes  []string
}
