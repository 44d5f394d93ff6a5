package auth

import (
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// Verify checks the token signature against the key set, matching on kid
func (ks *KeyStore) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(ks.KeySet, jws.WithInferAlgorithmFromKey(true)),
	)
	if err != nil {
		return nil, err
	}
	return &Claims{Token: token}, nil
}
