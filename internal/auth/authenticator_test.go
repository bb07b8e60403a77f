package auth

import (
	"testing"
	"time"

	"bitriver-live/internal/models"
)

type fakeClientStore struct {
	clients map[string]models.Client
}

func (f *fakeClientStore) GetClient(clientID string) (models.Client, bool, error) {
	c, ok := f.clients[clientID]
	return c, ok, nil
}

func newTestAuthenticator(t *testing.T, clientID, secret string, scopes []string) *Authenticator {
	t.Helper()
	hashed, err := HashClientSecret(secret)
	if err != nil {
		t.Fatalf("HashClientSecret returned error: %v", err)
	}
	store := &fakeClientStore{clients: map[string]models.Client{
		clientID: {ClientID: clientID, HashedSecret: hashed, Scopes: scopes},
	}}
	issuer, err := NewJWTIssuer([]byte("test-signing-key"), time.Minute)
	if err != nil {
		t.Fatalf("NewJWTIssuer returned error: %v", err)
	}
	sessions := NewSessionManager(time.Hour)
	return NewAuthenticator(store, issuer, sessions)
}

func TestIssueTokenSucceedsWithValidCredentials(t *testing.T) {
	a := newTestAuthenticator(t, "client-1", "secret-1", []string{models.ScopeStreamsRead})
	resp, err := a.IssueToken("client-1", "secret-1")
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected both access and refresh tokens")
	}
	if len(resp.Scopes) != 1 || resp.Scopes[0] != models.ScopeStreamsRead {
		t.Fatalf("unexpected scopes: %v", resp.Scopes)
	}
}

func TestIssueTokenRejectsWrongSecret(t *testing.T) {
	a := newTestAuthenticator(t, "client-1", "secret-1", []string{models.ScopeStreamsRead})
	if _, err := a.IssueToken("client-1", "wrong-secret"); err != ErrInvalidClientCredentials {
		t.Fatalf("expected ErrInvalidClientCredentials, got %v", err)
	}
}

func TestIssueTokenRejectsUnknownClient(t *testing.T) {
	a := newTestAuthenticator(t, "client-1", "secret-1", []string{models.ScopeStreamsRead})
	if _, err := a.IssueToken("unknown", "secret-1"); err != ErrInvalidClientCredentials {
		t.Fatalf("expected ErrInvalidClientCredentials, got %v", err)
	}
}

func TestRefreshTokenMintsNewAccessTokenWithoutRotatingRefresh(t *testing.T) {
	a := newTestAuthenticator(t, "client-1", "secret-1", []string{models.ScopeStreamsWrite})
	issued, err := a.IssueToken("client-1", "secret-1")
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	refreshed, err := a.RefreshToken(issued.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshToken returned error: %v", err)
	}
	if refreshed.AccessToken == "" {
		t.Fatal("expected a new access token")
	}
	if refreshed.RefreshToken != "" {
		t.Fatal("expected RefreshToken response to omit refresh_token (not rotated)")
	}

	// the original refresh token must still redeem after a refresh, since
	// spec.md says refresh tokens are never rotated.
	if _, err := a.RefreshToken(issued.RefreshToken); err != nil {
		t.Fatalf("expected original refresh token to still redeem, got: %v", err)
	}
}

func TestRevokeTokenInvalidatesRefreshToken(t *testing.T) {
	a := newTestAuthenticator(t, "client-1", "secret-1", []string{models.ScopeStreamsRead})
	issued, err := a.IssueToken("client-1", "secret-1")
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	if err := a.RevokeToken(issued.RefreshToken); err != nil {
		t.Fatalf("RevokeToken returned error: %v", err)
	}
	if _, err := a.RefreshToken(issued.RefreshToken); err != ErrInvalidClientCredentials {
		t.Fatalf("expected revoked refresh token to be rejected, got %v", err)
	}
}

func TestAuthorizeEnforcesScope(t *testing.T) {
	a := newTestAuthenticator(t, "client-1", "secret-1", []string{models.ScopeStreamsRead})
	issued, err := a.IssueToken("client-1", "secret-1")
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	if _, err := a.Authorize(issued.AccessToken, models.ScopeStreamsRead); err != nil {
		t.Fatalf("expected granted scope to authorize, got: %v", err)
	}
	if _, err := a.Authorize(issued.AccessToken, models.ScopeStreamsWrite); err != ErrScopeNotGranted {
		t.Fatalf("expected ErrScopeNotGranted, got %v", err)
	}
}
