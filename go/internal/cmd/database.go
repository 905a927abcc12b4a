package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mcdev12/cardroom/go/internal/config"
	"github.com/mcdev12/cardroom/go/internal/dbconfig"
	"github.com/rs/zerolog/log"
)

// setupDatabase opens Postgres when the database is enabled. It returns nil otherwise
// and callers fall back to in-memory stores.
func setupDatabase(cfg *config.Config) (*sql.DB, error) {
	if !cfg.Database.Enabled {
		log.Info().Msg("database disabled, using in-memory block registry and revocation list")
		return nil, nil
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	database, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	database.SetMaxOpenConns(dbCfg.MaxOpenConns)
	database.SetMaxIdleConns(dbCfg.MaxIdleConns)
	database.SetConnMaxLifetime(dbCfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Msg("connected to database")
	return database, nil
}
