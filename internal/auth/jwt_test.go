package auth

import (
	"testing"
	"time"
)

func TestJWTIssuerIssueAndValidate(t *testing.T) {
	issuer, err := NewJWTIssuer([]byte("test-signing-key"), time.Minute)
	if err != nil {
		t.Fatalf("NewJWTIssuer returned error: %v", err)
	}

	token, expiresAt, err := issuer.Issue("client-abc", []string{"streams:read", "streams:write"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if !expiresAt.After(time.Now()) {
		t.Fatal("expected expiry in the future")
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if claims.ClientID != "client-abc" {
		t.Fatalf("expected client_id client-abc, got %s", claims.ClientID)
	}
	if len(claims.Scopes) != 2 {
		t.Fatalf("expected 2 scopes, got %d", len(claims.Scopes))
	}
}

func TestJWTIssuerRejectsExpiredToken(t *testing.T) {
	issuer, err := NewJWTIssuer([]byte("test-signing-key"), time.Millisecond)
	if err != nil {
		t.Fatalf("NewJWTIssuer returned error: %v", err)
	}
	token, _, err := issuer.Issue("client-abc", nil)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := issuer.Validate(token); err == nil {
		t.Fatal("expected expired token to fail validation")
	}
}

func TestJWTIssuerRejectsWrongSigningKey(t *testing.T) {
	issuer, err := NewJWTIssuer([]byte("key-one"), time.Minute)
	if err != nil {
		t.Fatalf("NewJWTIssuer returned error: %v", err)
	}
	token, _, err := issuer.Issue("client-abc", nil)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	other, err := NewJWTIssuer([]byte("key-two"), time.Minute)
	if err != nil {
		t.Fatalf("NewJWTIssuer returned error: %v", err)
	}
	if _, err := other.Validate(token); err == nil {
		t.Fatal("expected token signed with a different key to fail validation")
	}
}

func TestNewJWTIssuerRejectsEmptyKey(t *testing.T) {
	if _, err := NewJWTIssuer(nil, time.Minute); err == nil {
		t.Fatal("expected error constructing issuer with an empty signing key")
	}
}
