package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"bitriver-live/internal/auth"
)

type contextKey string

const claimsContextKey contextKey = "accessClaims"

// ContextWithClaims stores the authenticated client's claims in ctx.
func ContextWithClaims(ctx context.Context, claims auth.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext retrieves the authenticated client's claims, if present.
func ClaimsFromContext(ctx context.Context) (auth.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(auth.AccessClaims)
	return claims, ok
}

// ExtractToken pulls a bearer token out of the Authorization header.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// requireScope authenticates the bearer token on r and checks it carries
// requiredScope, writing the spec.md §6 error envelope and returning false
// on any failure. Pass an empty requiredScope to only check authentication.
func (h *Handler) requireScope(w http.ResponseWriter, r *http.Request, requiredScope string) (auth.AccessClaims, bool) {
	token := ExtractToken(r)
	if token == "" {
		writeAPIError(w, r, codeInvalidToken, "missing bearer token", nil)
		return auth.AccessClaims{}, false
	}
	claims, err := h.Authenticator.Authorize(token, requiredScope)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrScopeNotGranted):
			writeAPIError(w, r, codeInsufficientScope, "token lacks required scope "+requiredScope, map[string]any{"required_scope": requiredScope})
		case errors.Is(err, auth.ErrTokenExpired):
			writeAPIError(w, r, codeTokenExpired, "access token has expired", nil)
		default:
			writeAPIError(w, r, codeInvalidToken, "access token is invalid", nil)
		}
		return auth.AccessClaims{}, false
	}
	return claims, true
}
