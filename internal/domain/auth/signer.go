package auth

import (
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// MintOptions describes an operator token
type MintOptions struct {
	Subject  string
	Issuer   string
	Audience []string
	Scopes   []string
	TTL      time.Duration
}

// Mint builds and signs a token with the active key
func (ks *KeyStore) Mint(opts MintOptions) (string, error) {
	now := time.Now()
	builder := jwt.NewBuilder().
		Subject(opts.Subject).
		IssuedAt(now).
		Expiration(now.Add(opts.TTL)).
		Claim(scopeClaim, strings.Join(opts.Scopes, " "))
	if opts.Issuer != "" {
		builder = builder.Issuer(opts.Issuer)
	}
	if len(opts.Audience) > 0 {
		builder = builder.Audience(opts.Audience)
	}

	token, err := builder.Build()
	if err != nil {
		return "", err
	}
	return ks.Sign(token)
}

// Sign signs token with RS256. The key ID travels in the header.
func (ks *KeyStore) Sign(token jwt.Token) (string, error) {
	key, err := ks.GetActiveKey()
	if err != nil {
		return "", err
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), key))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}
