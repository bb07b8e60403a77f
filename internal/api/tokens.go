package api

import (
	"errors"
	"net/http"

	"bitriver-live/internal/auth"
)

type issueTokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresIn    int      `json:"expires_in"`
	Scopes       []string `json:"scopes"`
}

func newTokenResponse(t auth.TokenResponse) tokenResponse {
	return tokenResponse{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    t.ExpiresIn,
		Scopes:       t.Scopes,
	}
}

// IssueToken implements POST /v2/auth/token.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req issueTokenRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		writeAPIError(w, r, codeValidationError, "client_id and client_secret are required", nil)
		return
	}
	token, err := h.Authenticator.IssueToken(req.ClientID, req.ClientSecret)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidClientCredentials) {
			writeAPIError(w, r, codeInvalidCredentials, "client_id or client_secret is invalid", nil)
			return
		}
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}
	WriteJSON(w, http.StatusOK, newTokenResponse(token))
}

// RefreshAccessToken implements POST /v2/auth/token/refresh: the refresh
// token itself is never rotated, only the access token is reissued.
func (h *Handler) RefreshAccessToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshTokenRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeAPIError(w, r, codeValidationError, "refresh_token is required", nil)
		return
	}
	token, err := h.Authenticator.RefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidClientCredentials) {
			writeAPIError(w, r, codeInvalidRefreshToken, "refresh token is invalid or expired", nil)
			return
		}
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}
	WriteJSON(w, http.StatusOK, newTokenResponse(token))
}

// RevokeToken implements POST /v2/auth/token/revoke.
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req revokeTokenRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeAPIError(w, r, codeValidationError, "refresh_token is required", nil)
		return
	}
	if err := h.Authenticator.RevokeToken(req.RefreshToken); err != nil {
		writeAPIError(w, r, codeInvalidRefreshToken, "refresh token is invalid", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
