package auth

import (
	"errors"
	"time"

	"bitriver-live/internal/models"
)

// RefreshTokenTTL is the lifetime of an issued refresh token (spec.md §3
// "~7d"). Refresh tokens are never rotated (spec.md §6): redeeming one
// mints a new access token but leaves the refresh token itself untouched.
const RefreshTokenTTL = 7 * 24 * time.Hour

// ErrInvalidClientCredentials is returned for an unknown client_id or a
// client_secret that fails verification.
var ErrInvalidClientCredentials = errors.New("auth: invalid client credentials")

// ClientStore resolves a Client record by id; implemented by the storage
// repository in production.
type ClientStore interface {
	GetClient(clientID string) (models.Client, bool, error)
}

// TokenResponse is the payload returned by POST /v2/auth/token and its
// refresh counterpart.
type TokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresIn    int      `json:"expires_in"`
	Scopes       []string `json:"scopes"`
}

// Authenticator implements spec.md §6's token issuance/refresh/revoke
// operations. It composes a JWTIssuer for short-lived access tokens with
// the teacher's SessionManager for long-lived opaque refresh tokens,
// keyed on client_id rather than a human user id.
type Authenticator struct {
	clients  ClientStore
	jwt      *JWTIssuer
	sessions *SessionManager
}

// NewAuthenticator wires a ClientStore, JWTIssuer, and refresh-token
// SessionManager into one authenticator.
func NewAuthenticator(clients ClientStore, jwt *JWTIssuer, sessions *SessionManager) *Authenticator {
	return &Authenticator{clients: clients, jwt: jwt, sessions: sessions}
}

// IssueToken implements POST /v2/auth/token: verifies client_id/client_secret
// and returns a fresh access+refresh token pair scoped to the Client's
// granted scopes.
func (a *Authenticator) IssueToken(clientID, clientSecret string) (TokenResponse, error) {
	client, ok, err := a.clients.GetClient(clientID)
	if err != nil {
		return TokenResponse{}, err
	}
	if !ok {
		return TokenResponse{}, ErrInvalidClientCredentials
	}
	if err := VerifyClientSecret(client.HashedSecret, clientSecret); err != nil {
		return TokenResponse{}, ErrInvalidClientCredentials
	}

	access, expiresAt, err := a.jwt.Issue(client.ClientID, client.Scopes)
	if err != nil {
		return TokenResponse{}, err
	}
	refresh, _, err := a.sessions.Create(client.ClientID)
	if err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(time.Until(expiresAt).Seconds()),
		Scopes:       client.Scopes,
	}, nil
}

// RefreshToken implements POST /v2/auth/token/refresh: validates the
// refresh token and mints a new access token without rotating it.
func (a *Authenticator) RefreshToken(refreshToken string) (TokenResponse, error) {
	clientID, _, ok, err := a.sessions.Validate(refreshToken)
	if err != nil {
		return TokenResponse{}, err
	}
	if !ok {
		return TokenResponse{}, ErrInvalidClientCredentials
	}
	client, ok, err := a.clients.GetClient(clientID)
	if err != nil {
		return TokenResponse{}, err
	}
	if !ok {
		return TokenResponse{}, ErrInvalidClientCredentials
	}

	access, expiresAt, err := a.jwt.Issue(client.ClientID, client.Scopes)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken: access,
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
		Scopes:      client.Scopes,
	}, nil
}

// RevokeToken implements POST /v2/auth/token/revoke: invalidates a refresh
// token so it can no longer be redeemed.
func (a *Authenticator) RevokeToken(refreshToken string) error {
	return a.sessions.Revoke(refreshToken)
}

// Authorize validates a bearer access token and reports whether its
// claims include the required scope.
func (a *Authenticator) Authorize(accessToken, requiredScope string) (AccessClaims, error) {
	claims, err := a.jwt.Validate(accessToken)
	if err != nil {
		return AccessClaims{}, err
	}
	if requiredScope == "" {
		return claims, nil
	}
	for _, s := range claims.Scopes {
		if s == requiredScope {
			return claims, nil
		}
	}
	return AccessClaims{}, ErrScopeNotGranted
}

// ErrScopeNotGranted means the bearer token validated but lacks the scope
// the requested operation needs.
var ErrScopeNotGranted = errors.New("auth: scope not granted")
