package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/workspace-sso/internal/testutil"
)

func issueTestCode(t *testing.T, env *testEnv, challenge, method string) string {
	t.Helper()
	code, err := env.srv.Codes.Issue(context.Background(), CodeRequest{
		UserID:              testUserID,
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		Scope:               "openid",
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return code.Code
}

func TestCodeIssuer_Issue(t *testing.T) {
	env := newTestEnv(t)
	challenge, _ := testutil.GeneratePKCEPair()

	code, err := env.srv.Codes.Issue(context.Background(), CodeRequest{
		UserID:        testUserID,
		ClientID:      testClientID,
		RedirectURI:   testRedirectURI,
		Scope:         "openid",
		CodeChallenge: challenge,
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if len(code.Code) < 32 {
		t.Errorf("code length = %d, want at least 32 characters", len(code.Code))
	}
	if want := testutil.Epoch.Add(DefaultAuthorizationCodeTTL); !code.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", code.ExpiresAt, want)
	}
	if code.CodeChallengeMethod != PKCEMethodPlain {
		t.Errorf("CodeChallengeMethod = %q, want plain when omitted", code.CodeChallengeMethod)
	}
	if code.GrantID == "" {
		t.Error("GrantID must be set")
	}
	if !code.AuthTime.Equal(testutil.Epoch) {
		t.Errorf("AuthTime = %v, want issue time", code.AuthTime)
	}
}

func TestCodeIssuer_RedeemTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	challenge, verifier := testutil.GeneratePKCEPair()
	code := issueTestCode(t, env, challenge, PKCEMethodS256)

	record, err := env.srv.Codes.Redeem(ctx, code, testClientID, testRedirectURI, verifier)
	if err != nil {
		t.Fatalf("first Redeem() error = %v", err)
	}
	if record.UserID != testUserID || record.Scope != "openid" {
		t.Errorf("Redeem() = user %q scope %q", record.UserID, record.Scope)
	}

	record, err = env.srv.Codes.Redeem(ctx, code, testClientID, testRedirectURI, verifier)
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("second Redeem() error = %v, want ErrInvalidGrant", err)
	}
	if !errors.Is(err, ErrCodeReused) {
		t.Errorf("second Redeem() error = %v, want ErrCodeReused", err)
	}
	if record == nil || record.GrantID == "" {
		t.Error("reuse must return the record so its grant can be revoked")
	}
}

func TestCodeIssuer_RedeemFailures(t *testing.T) {
	challenge, verifier := testutil.GeneratePKCEPair()
	_, otherVerifier := testutil.GeneratePKCEPair()

	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		verifier    string
		advance     time.Duration
		wantPKCE    bool
	}{
		{name: "expired", clientID: testClientID, redirectURI: testRedirectURI, verifier: verifier, advance: DefaultAuthorizationCodeTTL},
		{name: "other client", clientID: testPublicClientID, redirectURI: testRedirectURI, verifier: verifier},
		{name: "other redirect uri", clientID: testClientID, redirectURI: testRedirectURI + "/evil", verifier: verifier},
		{name: "wrong verifier", clientID: testClientID, redirectURI: testRedirectURI, verifier: otherVerifier, wantPKCE: true},
		{name: "missing verifier", clientID: testClientID, redirectURI: testRedirectURI, verifier: "", wantPKCE: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			code := issueTestCode(t, env, challenge, PKCEMethodS256)
			env.clock.Advance(tt.advance)

			_, err := env.srv.Codes.Redeem(context.Background(), code, tt.clientID, tt.redirectURI, tt.verifier)
			if !errors.Is(err, ErrInvalidGrant) {
				t.Fatalf("Redeem() error = %v, want ErrInvalidGrant", err)
			}
			if got := errors.Is(err, ErrInvalidPKCE); got != tt.wantPKCE {
				t.Errorf("errors.Is(err, ErrInvalidPKCE) = %v, want %v", got, tt.wantPKCE)
			}
		})
	}
}

func TestCodeIssuer_UnknownCode(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.srv.Codes.Redeem(context.Background(), "no-such-code", testClientID, testRedirectURI, "")
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("Redeem() error = %v, want ErrInvalidGrant", err)
	}
}

func TestCodeIssuer_PKCEPlain(t *testing.T) {
	tests := []struct {
		verifier string
		wantErr  bool
	}{
		{verifier: "abc123"},
		{verifier: "abc124", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.verifier, func(t *testing.T) {
			env := newTestEnv(t, func(c *Config) { c.AllowPKCEPlain = true })
			code := issueTestCode(t, env, "abc123", PKCEMethodPlain)

			_, err := env.srv.Codes.Redeem(context.Background(), code, testClientID, testRedirectURI, tt.verifier)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidGrant) || !errors.Is(err, ErrInvalidPKCE) {
					t.Fatalf("Redeem() error = %v, want ErrInvalidPKCE (invalid_grant)", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Redeem() error = %v", err)
			}
		})
	}
}

func TestCodeIssuer_VerifierWithoutChallenge(t *testing.T) {
	env := newTestEnv(t)
	code := issueTestCode(t, env, "", "")

	_, err := env.srv.Codes.Redeem(context.Background(), code, testClientID, testRedirectURI, "a-verifier-nobody-asked-for")
	if !errors.Is(err, ErrInvalidPKCE) {
		t.Fatalf("Redeem() error = %v, want ErrInvalidPKCE", err)
	}
}

func TestCodeIssuer_ConcurrentRedeem(t *testing.T) {
	env := newTestEnv(t)
	challenge, verifier := testutil.GeneratePKCEPair()
	code := issueTestCode(t, env, challenge, PKCEMethodS256)

	const attempts = 50
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		failures  atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.srv.Codes.Redeem(context.Background(), code, testClientID, testRedirectURI, verifier)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrInvalidGrant):
				failures.Add(1)
			default:
				t.Errorf("Redeem() unexpected error = %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Errorf("successful redemptions = %d, want exactly 1", got)
	}
	if got := failures.Load(); got != attempts-1 {
		t.Errorf("failed redemptions = %d, want %d", got, attempts-1)
	}
}
