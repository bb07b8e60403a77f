package auth

import (
	"strconv"
	"strings"
	"testing"
)

func TestHashClientSecretRoundTrips(t *testing.T) {
	hash, err := HashClientSecret("s3cret-value")
	if err != nil {
		t.Fatalf("HashClientSecret returned error: %v", err)
	}
	if err := VerifyClientSecret(hash, "s3cret-value"); err != nil {
		t.Fatalf("expected matching secret to verify, got: %v", err)
	}
	if err := VerifyClientSecret(hash, "wrong-value"); err == nil {
		t.Fatal("expected mismatched secret to fail verification")
	}
}

func TestHashClientSecretEncodesParameters(t *testing.T) {
	hash, err := HashClientSecret("another-secret")
	if err != nil {
		t.Fatalf("HashClientSecret returned error: %v", err)
	}
	parts := strings.Split(hash, "$")
	if len(parts) != 5 {
		t.Fatalf("expected 5 encoded parts, got %d", len(parts))
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		t.Fatalf("unexpected hash identifier: %s/%s", parts[0], parts[1])
	}
	if parts[2] != strconv.Itoa(clientSecretIterations) {
		t.Fatalf("expected iteration count %d, got %s", clientSecretIterations, parts[2])
	}
}

func TestHashClientSecretRejectsEmpty(t *testing.T) {
	if _, err := HashClientSecret(""); err == nil {
		t.Fatal("expected error hashing an empty secret")
	}
}
