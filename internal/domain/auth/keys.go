package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

const (
	privatePrefix = "private-"
	publicPrefix  = "public-"
	keyIDPrefix   = "key-"
)

// KeyStore holds the RSA keys used to sign and verify operator tokens
type KeyStore struct {
	ActiveKid string
	KeySet    jwk.Set
}

// LoadKeys reads every private-<kid>.pem / public-<kid>.pem pair in dir
func LoadKeys(dir, activeKid string) (*KeyStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &ErrKeysDirectoryNotAccessible{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &ErrKeysPathNotDirectory{Path: dir}
	}

	kids, err := ListKeyIDs(dir)
	if err != nil {
		return nil, err
	}

	set := jwk.NewSet()
	for _, kid := range kids {
		key, err := loadKeyPair(dir, kid)
		if err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("failed to add key %s to set: %w", kid, err)
		}
	}

	return &KeyStore{ActiveKid: activeKid, KeySet: set}, nil
}

// ListKeyIDs returns the IDs of the private keys in dir, sorted
func ListKeyIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &ErrKeysDirectoryNotAccessible{Path: dir, Err: err}
	}

	var kids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".pem" || !strings.HasPrefix(name, privatePrefix) {
			continue
		}
		if kid := strings.TrimSuffix(strings.TrimPrefix(name, privatePrefix), ".pem"); kid != "" {
			kids = append(kids, kid)
		}
	}
	sort.Strings(kids)
	return kids, nil
}

func loadKeyPair(dir, kid string) (jwk.Key, error) {
	privName := privatePrefix + kid + ".pem"
	block, err := readPEM(filepath.Join(dir, privName))
	if err != nil {
		return nil, &ErrInvalidKeyFile{FileName: privName, Reason: "unreadable private key", Err: err}
	}

	priv, err := parseRSAPrivateKey(block.Bytes)
	if err != nil {
		return nil, &ErrInvalidKeyFile{FileName: privName, Reason: "invalid private key", Err: err}
	}

	pubName := publicPrefix + kid + ".pem"
	pubBlock, err := readPEM(filepath.Join(dir, pubName))
	if err != nil {
		return nil, &ErrInvalidKeyFile{FileName: pubName, Reason: "unreadable public key", Err: err}
	}
	pub, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, &ErrInvalidKeyFile{FileName: pubName, Reason: "invalid public key", Err: err}
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, &ErrInvalidKeyFile{FileName: pubName, Reason: "not an RSA key"}
	}
	if !rsaPub.Equal(&priv.PublicKey) {
		return nil, &ErrInvalidKeyFile{FileName: pubName, Reason: "does not match " + privName}
	}

	key, err := jwk.Import(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key to JWK: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, keyIDPrefix+kid); err != nil {
		return nil, fmt.Errorf("failed to set key ID: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
		return nil, fmt.Errorf("failed to set algorithm: %w", err)
	}
	return key, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	return block, nil
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA key")
	}
	return rsaKey, nil
}

// GenerateKeyPair writes a new RSA key pair as private-<kid>.pem and public-<kid>.pem
func GenerateKeyPair(dir, kid string, bits int) error {
	if bits != 2048 && bits != 3072 && bits != 4096 {
		return ErrInvalidKeySize
	}
	if kid == "" || strings.ContainsAny(kid, `/\`) {
		return fmt.Errorf("invalid key ID %q", kid)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}

	privPath := filepath.Join(dir, privatePrefix+kid+".pem")
	if _, err := os.Stat(privPath); err == nil {
		return fmt.Errorf("%w: %s", ErrKeyExists, privPath)
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("failed to generate RSA key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}

	if err := writePEM(privPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv), 0o600); err != nil {
		return err
	}
	return writePEM(filepath.Join(dir, publicPrefix+kid+".pem"), "PUBLIC KEY", pubDER, 0o644)
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// GetActiveKey returns the signing key named by ActiveKid
func (ks *KeyStore) GetActiveKey() (jwk.Key, error) {
	kid := ks.ActiveKid
	if !strings.HasPrefix(kid, keyIDPrefix) {
		kid = keyIDPrefix + kid
	}

	key, ok := ks.KeySet.LookupKeyID(kid)
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

// JWKS returns the public half of every key
func (ks *KeyStore) JWKS() jwk.Set {
	publicSet, err := jwk.PublicSetOf(ks.KeySet)
	if err != nil {
		return jwk.NewSet()
	}
	return publicSet
}
