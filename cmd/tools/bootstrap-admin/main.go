// Command bootstrap-admin creates an API Client with every recognised
// scope (models.AllScopes), the credential an operator uses to mint the
// gateway's first access tokens before any other Client exists.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitriver-live/internal/auth"
	"bitriver-live/internal/models"
	"bitriver-live/internal/storage"
)

func main() {
	var (
		postgresDSN string
		clientID    string
		secret      string
	)

	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string (required)")
	flag.StringVar(&clientID, "client-id", "", "client id to create (defaults to a generated one)")
	flag.StringVar(&secret, "secret", "", "client secret (generated and printed once if omitted)")
	flag.Parse()

	if strings.TrimSpace(postgresDSN) == "" {
		fatalf("--postgres-dsn is required")
	}

	repo, err := storage.NewPostgresRepository(postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer repo.Close()

	if strings.TrimSpace(clientID) == "" {
		clientID = "admin-" + randomToken(6)
	}
	generatedSecret := secret == ""
	if generatedSecret {
		secret = randomToken(32)
	}

	hashed, err := auth.HashClientSecret(secret)
	if err != nil {
		fatalf("hash client secret: %v", err)
	}

	client, err := repo.CreateClient(models.Client{
		ClientID:     clientID,
		HashedSecret: hashed,
		Scopes:       models.AllScopes(),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		fatalf("create client: %v", err)
	}

	fmt.Printf("Client %s created with scopes: %s\n", client.ClientID, strings.Join(client.Scopes, ", "))
	if generatedSecret {
		fmt.Printf("Secret (shown once, store it securely): %s\n", secret)
	}
}

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		fatalf("generate random token: %v", err)
	}
	return strings.TrimRight(base64.URLEncoding.EncodeToString(buf), "=")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
