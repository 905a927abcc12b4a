package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/mcdev12/cardroom/go/internal/dbconfig"
)

// Deletes revoked refresh tokens whose expiry has passed, oldest first, in batches so
// the expires_at index drives each pass.
const purgeBatch = `
    DELETE FROM refresh_tokens
    WHERE id IN (
      SELECT id FROM refresh_tokens
      WHERE expires_at < $1 AND revoked_at IS NOT NULL
      ORDER BY expires_at
      LIMIT $2
    )
`

func main() {
	batchSize := flag.Int("batch", 1000, "rows deleted per statement")
	grace := flag.Duration("grace", 0, "keep tokens that expired less than this long ago")
	dryRun := flag.Bool("dry-run", false, "count matching rows without deleting")
	flag.Parse()

	_ = godotenv.Load()

	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	cutoff := time.Now().UTC().Add(-*grace)

	if *dryRun {
		var count int64
		err := pool.QueryRow(ctx, `
            SELECT count(*) FROM refresh_tokens
            WHERE expires_at < $1 AND revoked_at IS NOT NULL
        `, cutoff).Scan(&count)
		if err != nil {
			fmt.Fprintf(os.Stderr, "count tokens: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Purge dry run: %d revoked tokens expired before %s\n", count, cutoff.Format(time.RFC3339))
		return
	}

	var (
		deleted int64
		batches int
	)
	for {
		tag, err := pool.Exec(ctx, purgeBatch, cutoff, *batchSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "purge batch %d: %v\n", batches+1, err)
			os.Exit(1)
		}
		batches++
		deleted += tag.RowsAffected()
		if tag.RowsAffected() < int64(*batchSize) {
			break
		}
	}

	fmt.Printf(
		"Token purge complete: %d deleted in %d batches, cutoff %s\n",
		deleted, batches, cutoff.Format(time.RFC3339),
	)
}
