package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenTTL is the lifetime of an issued access token (spec.md §3 "~1h").
const AccessTokenTTL = time.Hour

// AccessClaims is the payload carried by a signed access token: the
// client_id and the scopes it was granted at issuance time, not
// re-resolved against the Client record on every request.
type AccessClaims struct {
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

// JWTIssuer signs and validates access tokens with a single HMAC key.
type JWTIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

// NewJWTIssuer constructs an issuer around a signing key; the key is the
// "JWT signing key" config knob spec.md §6 calls out.
func NewJWTIssuer(signingKey []byte, ttl time.Duration) (*JWTIssuer, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("auth: jwt signing key is required")
	}
	if ttl <= 0 {
		ttl = AccessTokenTTL
	}
	return &JWTIssuer{signingKey: signingKey, ttl: ttl}, nil
}

// Issue mints a signed access token for clientID carrying scopes.
func (j *JWTIssuer) Issue(clientID string, scopes []string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(j.ttl)
	claims := AccessClaims{
		ClientID: clientID,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ErrInvalidAccessToken covers every way a bearer token can fail validation
// other than simple expiry: malformed, or signed with a different key.
var ErrInvalidAccessToken = errors.New("auth: invalid access token")

// ErrTokenExpired is returned by Validate for a well-formed token whose exp
// claim has passed, distinguished from ErrInvalidAccessToken so the API
// layer can surface spec.md §6's TOKEN_EXPIRED code instead of INVALID_TOKEN.
var ErrTokenExpired = errors.New("auth: access token has expired")

// Validate parses and verifies tokenString, returning its claims.
func (j *JWTIssuer) Validate(tokenString string) (AccessClaims, error) {
	var claims AccessClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AccessClaims{}, ErrTokenExpired
		}
		return AccessClaims{}, ErrInvalidAccessToken
	}
	if !token.Valid {
		return AccessClaims{}, ErrInvalidAccessToken
	}
	return claims, nil
}
