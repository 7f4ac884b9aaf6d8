package testutil

import (
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/workspace-sso/keys"
)

// Epoch is a fixed instant tests start their clocks at.
var Epoch = time.Date(2030, time.January, 15, 9, 0, 0, 0, time.UTC)

// MockTime provides a controllable time source for deterministic testing.
// It satisfies security.Clock and is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

var (
	rsaOnce sync.Once
	rsaKeys [2]*rsa.PrivateKey
	rsaErr  error
)

func loadRSAKeys(t *testing.T) {
	t.Helper()
	rsaOnce.Do(func() {
		for i := range rsaKeys {
			rsaKeys[i], rsaErr = keys.Generate(keys.MinKeyBits)
			if rsaErr != nil {
				return
			}
		}
	})
	if rsaErr != nil {
		t.Fatalf("failed to generate RSA fixture: %v", rsaErr)
	}
}

// RSAKey returns a 2048-bit key shared by every test in the binary.
func RSAKey(t *testing.T) *rsa.PrivateKey {
	loadRSAKeys(t)
	return rsaKeys[0]
}

// SecondRSAKey returns a shared key distinct from RSAKey, for rotation tests.
func SecondRSAKey(t *testing.T) *rsa.PrivateKey {
	loadRSAKeys(t)
	return rsaKeys[1]
}

// KeyProvider returns a keys.StaticProvider signing with RSAKey.
func KeyProvider(t *testing.T) *keys.StaticProvider {
	t.Helper()
	p, err := keys.NewStaticProvider(RSAKey(t))
	if err != nil {
		t.Fatalf("NewStaticProvider() error = %v", err)
	}
	return p
}

// SessionKey is a fixed HS256 key for session cookies.
func SessionKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

// GeneratePKCEPair returns an S256 challenge and its verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}
