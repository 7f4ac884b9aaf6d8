// Package keys provides the RSA keys that sign access and ID tokens and
// publishes their public halves as a JSON Web Key Set.
//
// Key ids are RFC 7638 thumbprints, so the same key always gets the same
// kid across restarts and instances.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AlgorithmRS256 is the only signing algorithm in use.
	AlgorithmRS256 = "RS256"

	// MinKeyBits is the smallest RSA modulus accepted.
	MinKeyBits = 2048
)

// ErrKeyNotFound is returned when no published key has the requested kid.
var ErrKeyNotFound = errors.New("signing key not found")

// SigningKey is the private key currently used to sign tokens.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Private   *rsa.PrivateKey
}

// PublicKey is a key tokens may be verified against.
type PublicKey struct {
	KeyID     string
	Algorithm string
	Key       *rsa.PublicKey
}

// Provider supplies the current signing key and every key that verifies
// tokens still in circulation. Implementations must be safe for
// concurrent use.
type Provider interface {
	SigningKey(ctx context.Context) (*SigningKey, error)
	VerificationKeys(ctx context.Context) ([]*PublicKey, error)
}

// JWK is the public form of an RSA key (RFC 7517).
type JWK struct {
	KTY string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	KID string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet represents a JSON Web Key Set (collection of JWKs)
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWK converts the key to its published form.
func (k *PublicKey) JWK() JWK {
	n, e := encodeRSAPublic(k.Key)
	return JWK{
		KTY: "RSA",
		Use: "sig",
		Alg: k.Algorithm,
		KID: k.KeyID,
		N:   n,
		E:   e,
	}
}

// Public returns the verification half of the signing key.
func (k *SigningKey) Public() *PublicKey {
	return &PublicKey{KeyID: k.KeyID, Algorithm: k.Algorithm, Key: &k.Private.PublicKey}
}

// Lookup returns the key with kid from set.
func Lookup(set []*PublicKey, kid string) (*PublicKey, error) {
	for _, k := range set {
		if k.KeyID == kid {
			return k, nil
		}
	}
	return nil, ErrKeyNotFound
}

// Thumbprint computes the RFC 7638 SHA-256 thumbprint of an RSA public key.
func Thumbprint(pub *rsa.PublicKey) string {
	n, e := encodeRSAPublic(pub)
	// Member order is fixed by RFC 7638: lexicographic, no whitespace.
	canonical, _ := json.Marshal(struct {
		E   string `json:"e"`
		KTY string `json:"kty"`
		N   string `json:"n"`
	}{E: e, KTY: "RSA", N: n})
	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func encodeRSAPublic(pub *rsa.PublicKey) (n, e string) {
	n = base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	e = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	return n, e
}

// StaticProvider serves one signing key plus any number of retired keys
// that are still published for verification.
type StaticProvider struct {
	current  *SigningKey
	verifies []*PublicKey
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider signing with current. Keys in
// previous are published and accepted for verification only.
func NewStaticProvider(current *rsa.PrivateKey, previous ...*rsa.PublicKey) (*StaticProvider, error) {
	if current == nil {
		return nil, errors.New("signing key is required")
	}
	if current.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("signing key must be at least %d bits, got %d", MinKeyBits, current.N.BitLen())
	}

	signing := &SigningKey{
		KeyID:     Thumbprint(&current.PublicKey),
		Algorithm: AlgorithmRS256,
		Private:   current,
	}
	p := &StaticProvider{
		current:  signing,
		verifies: []*PublicKey{signing.Public()},
	}

	for _, pub := range previous {
		if pub == nil {
			continue
		}
		kid := Thumbprint(pub)
		if _, err := Lookup(p.verifies, kid); err == nil {
			continue
		}
		p.verifies = append(p.verifies, &PublicKey{KeyID: kid, Algorithm: AlgorithmRS256, Key: pub})
	}
	return p, nil
}

// SigningKey implements Provider.
func (p *StaticProvider) SigningKey(_ context.Context) (*SigningKey, error) {
	return p.current, nil
}

// VerificationKeys implements Provider. The signing key comes first.
func (p *StaticProvider) VerificationKeys(_ context.Context) ([]*PublicKey, error) {
	out := make([]*PublicKey, len(p.verifies))
	copy(out, p.verifies)
	return out, nil
}

// Generate creates a fresh RSA key of the given size.
func Generate(bits int) (*rsa.PrivateKey, error) {
	if bits < MinKeyBits {
		return nil, fmt.Errorf("key size must be at least %d bits", MinKeyBits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return key, nil
}

// LoadPrivateKeyFile reads a PEM encoded RSA private key (PKCS#1 or PKCS#8).
func LoadPrivateKeyFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key %s: %w", path, err)
	}
	return key, nil
}

// LoadPublicKeyFile reads a PEM encoded RSA public key or certificate.
func LoadPublicKeyFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read verification key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse verification key %s: %w", path, err)
	}
	return key, nil
}

// EncodePrivateKeyPEM encodes key as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM encodes key as a PKIX PEM block.
func EncodePublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
