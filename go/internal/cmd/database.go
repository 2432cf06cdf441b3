package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/mcdev12/scoreboard/go/internal/dbconfig"
	"github.com/mcdev12/scoreboard/go/internal/directory"
	"github.com/mcdev12/scoreboard/go/internal/statstore"
	"github.com/rs/zerolog/log"
)

func setupDatabase(ctx context.Context, dbConfig dbconfig.Config) (*sql.DB, error) {
	database, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("user", dbConfig.User).
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("connected to database")
	return database, nil
}

func setupStore(ctx context.Context, cfg *Config, clock clockwork.Clock) (statstore.Store, error) {
	var store statstore.Store
	switch cfg.StoreBackend {
	case backendBolt:
		s, err := statstore.OpenBoltStore(cfg.BoltPath, clock)
		if err != nil {
			return nil, err
		}
		store = s
	case backendPostgres:
		dbConfig, err := dbconfig.NewConfigFromEnv()
		if err != nil {
			return nil, err
		}
		s, err := statstore.NewPostgresStore(ctx, dbConfig.DSN(), clock)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to migrate stats store: %w", err)
		}
		store = s
	case backendRedis:
		s, err := statstore.NewRedisStore(ctx, cfg.RedisURL, clock)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		store = statstore.NewMemoryStore(clock)
	}

	log.Info().
		Str("backend", cfg.StoreBackend).
		Dur("timeout", cfg.StoreTimeout).
		Msg("stats store ready")
	return statstore.WithTimeout(store, cfg.StoreTimeout), nil
}

// setupDirectory returns the game directory and a close func for its database.
func setupDirectory(ctx context.Context, cfg *Config) (directory.Directory, func() error, error) {
	noop := func() error { return nil }

	if cfg.DirectoryBackend != backendPostgres {
		if cfg.DirectoryFixture == "" {
			log.Warn().Msg("no DIRECTORY_FIXTURE set, directory starts empty")
			return directory.NewMemory(), noop, nil
		}
		dir, err := directory.LoadFixture(cfg.DirectoryFixture)
		if err != nil {
			return nil, nil, err
		}
		return dir, noop, nil
	}

	dbConfig, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	database, err := setupDatabase(ctx, dbConfig)
	if err != nil {
		return nil, nil, err
	}
	dir := directory.NewPostgres(database)
	if err := dir.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to migrate directory: %w", err)
	}
	return dir, database.Close, nil
}
