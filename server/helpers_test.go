package server

import (
	"context"
	"testing"

	"github.com/giantswarm/workspace-sso/identity"
	"github.com/giantswarm/workspace-sso/internal/testutil"
	"github.com/giantswarm/workspace-sso/security"
	"github.com/giantswarm/workspace-sso/storage/memory"
)

const (
	testIssuer         = "https://sso.example.com"
	testClientID       = "workspace-app"
	testClientSecret   = "workspace-app-secret"
	testPublicClientID = "workspace-cli"
	testRedirectURI    = "https://app.example/cb"
	testCLIRedirectURI = "http://127.0.0.1:8765/callback"
	testUserID         = "user-123"
	testUserEmail      = "ada@example.com"
	testUserName       = "Ada Lovelace"
)

type testEnv struct {
	srv   *Server
	store *memory.Store
	clock *testutil.MockTime
	dir   *identity.StaticDirectory
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	clock := testutil.NewMockTime(testutil.Epoch)
	store := memory.New()
	store.SetClock(clock)
	t.Cleanup(store.Stop)

	dir := identity.NewStaticDirectory(&identity.UserInfo{
		ID:                testUserID,
		Email:             testUserEmail,
		EmailVerified:     identity.Bool(true),
		Name:              testUserName,
		PreferredUsername: "ada",
	})

	config := &Config{
		Issuer:     testIssuer,
		SessionKey: testutil.SessionKey(),
		LoginURL:   testIssuer + "/login",
	}
	for _, m := range mutate {
		m(config)
	}

	srv, err := New(Stores{
		Clients:       store,
		Codes:         store,
		RefreshTokens: store,
		Sessions:      store,
	}, testutil.KeyProvider(t), dir, config, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.SetClock(clock)
	srv.SetAuditor(security.NewAuditor(nil, true))

	ctx := context.Background()
	if _, err := srv.Clients.Register(ctx, ClientRegistration{
		ClientID:     testClientID,
		ClientName:   "Workspace App",
		Secret:       testClientSecret,
		RedirectURIs: []string{testRedirectURI},
	}); err != nil {
		t.Fatalf("Register(confidential) error = %v", err)
	}
	if _, err := srv.Clients.Register(ctx, ClientRegistration{
		ClientID:     testPublicClientID,
		ClientType:   "public",
		RedirectURIs: []string{testCLIRedirectURI},
		Scopes:       []string{ScopeOpenID, ScopeProfile},
	}); err != nil {
		t.Fatalf("Register(public) error = %v", err)
	}

	return &testEnv{srv: srv, store: store, clock: clock, dir: dir}
}

// login establishes a session for the test user and returns its id.
func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	session, err := e.srv.EstablishSession(context.Background(), testUserID, "")
	if err != nil {
		t.Fatalf("EstablishSession() error = %v", err)
	}
	return session.SessionID
}

// authorize runs an authorization request for the confidential client
// with an S256 challenge and returns the code and verifier.
func (e *testEnv) authorize(t *testing.T, sessionID, scope string) (code, verifier string) {
	t.Helper()
	challenge, verifier := testutil.GeneratePKCEPair()
	result, err := e.srv.Authorize(context.Background(), AuthorizeRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		ResponseType:        ResponseTypeCode,
		Scope:               scope,
		State:               "xyz",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
		Nonce:               "n-0S6_WzA2Mj",
		SessionID:           sessionID,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	return result.Code, verifier
}

// exchange redeems code for the confidential client.
func (e *testEnv) exchange(code, verifier string) (*TokenResult, error) {
	return e.srv.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	})
}

func (e *testEnv) refresh(token, scope string) (*TokenResult, error) {
	return e.srv.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: token,
		Scope:        scope,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	})
}
