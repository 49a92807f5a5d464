// Command token issues access tokens for local testing of the GoChat server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/gochat-dm/internal/auth"
)

func main() {
	user := pflag.String("user", "", "user UUID to issue the token for (random when empty)")
	ttl := pflag.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := pflag.String("secret", os.Getenv("JWT_SECRET"), "HS256 signing secret (defaults to JWT_SECRET)")
	issuer := pflag.String("issuer", envOr("JWT_ISSUER", "gochat"), "iss claim")
	pflag.Parse()

	userID := uuid.New()
	if *user != "" {
		parsed, err := uuid.Parse(*user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token: invalid --user: %v\n", err)
			os.Exit(2)
		}
		userID = parsed
	}

	token, err := auth.IssueToken(*secret, *issuer, userID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "user %s\n", userID)
	fmt.Println(token)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
