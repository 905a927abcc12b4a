package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/mcdev12/cardroom/go/internal/auth"
	"github.com/mcdev12/cardroom/go/internal/dbconfig"
)

// issue_token mints access tokens for local play and load tests. Each user gets a
// refresh-token row so revocation lookups find it, then one access token per line:
//
//	go run ./go/internal/tools/issue_token -ttl 2h alice bob
func main() {
	ttl := flag.Duration("ttl", time.Hour, "access token lifetime")
	sessionTTL := flag.Duration("session-ttl", 24*time.Hour, "refresh token lifetime")
	skipDB := flag.Bool("no-db", false, "sign without recording a refresh token")
	flag.Parse()

	users := flag.Args()
	if len(users) == 0 {
		fmt.Fprintln(os.Stderr, "usage: issue_token [flags] user_id...")
		os.Exit(2)
	}

	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(1)
	}
	verifier := auth.NewJWTVerifier(auth.Config{
		Secret:   secret,
		Issuer:   getEnv("JWT_ISSUER", "cardroom"),
		Audience: getEnv("JWT_AUDIENCE", "cardroom-clients"),
		TTL:      *ttl,
	}, nil, nil)

	ctx := context.Background()
	var pool *pgxpool.Pool
	if !*skipDB {
		var err error
		pool, err = pgxpool.New(ctx, dbconfig.NewConfigFromEnv().DSN())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
			os.Exit(1)
		}
		defer pool.Close()
	}

	errs := 0
	for _, userID := range users {
		tokenID := uuid.New()
		if pool != nil {
			_, err := pool.Exec(ctx, `
                INSERT INTO refresh_tokens (id, user_id, expires_at)
                VALUES ($1, $2, $3)
            `, tokenID, userID, time.Now().UTC().Add(*sessionTTL))
			if err != nil {
				fmt.Fprintf(os.Stderr, "error recording session for %s: %v\n", userID, err)
				errs++
				continue
			}
		}

		token, err := verifier.Sign(userID, tokenID.String())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error signing token for %s: %v\n", userID, err)
			errs++
			continue
		}
		fmt.Printf("%s\t%s\n", userID, token)
	}

	if errs > 0 {
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
