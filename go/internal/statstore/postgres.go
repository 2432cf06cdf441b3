package statstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/mcdev12/scoreboard/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS game_statistics (
    game_id    UUID PRIMARY KEY,
    record     JSONB NOT NULL,
    version    BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS universal_clocks (
    owner_id   UUID PRIMARY KEY,
    quarter    INT NOT NULL DEFAULT 0,
    minutes    INT NOT NULL DEFAULT 0,
    seconds    INT NOT NULL DEFAULT 0,
    running    BOOLEAN NOT NULL DEFAULT FALSE,
    version    BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE universal_clocks ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;
`

const uniqueViolation = "23505"

// PostgresStore keeps each StatRecord as a JSONB document. Updates lock the row
// with SELECT ... FOR UPDATE for the duration of one transaction.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

// NewPostgresStore connects a pgx pool to dsn.
func NewPostgresStore(ctx context.Context, dsn string, clock clockwork.Clock) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", models.ErrStoreUnavailable, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PostgresStore{pool: pool, clock: clock}, nil
}

// Migrate creates the store tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info().Msg("stat store schema applied")
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *models.StatRecord) (*models.StatRecord, error) {
	stored := rec.Clone()
	if stored.Actions == nil {
		stored.Actions = []models.ActionEvent{}
	}
	stored.Version = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stat record: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO game_statistics (game_id, record, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
    `, stored.GameID, data, stored.Version, stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return stored, nil
}

func (s *PostgresStore) Get(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `SELECT record FROM game_statistics WHERE game_id = $1`, gameID))
	if err != nil {
		return nil, mapPgErr(err)
	}
	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error) {
	return s.update(ctx, gameID, false, fn)
}

func (s *PostgresStore) Upsert(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error) {
	return s.update(ctx, gameID, true, fn)
}

func (s *PostgresStore) update(ctx context.Context, gameID uuid.UUID, create bool, fn UpdateFunc) (*models.StatRecord, error) {
	var out *models.StatRecord
	err := sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		if create {
			empty, err := json.Marshal(models.NewStatRecord(gameID, s.clock.Now()))
			if err != nil {
				return fmt.Errorf("failed to marshal stat record: %w", err)
			}
			if _, err := tx.Exec(ctx, `
                INSERT INTO game_statistics (game_id, record) VALUES ($1, $2)
                ON CONFLICT (game_id) DO NOTHING
            `, gameID, empty); err != nil {
				return err
			}
		}

		current, err := scanRecord(tx.QueryRow(ctx,
			`SELECT record FROM game_statistics WHERE game_id = $1 FOR UPDATE`, gameID))
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = current
			}
			return err
		}
		next.GameID = gameID
		next.Version = current.Version + 1
		next.UpdatedAt = s.clock.Now()

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal stat record: %w", err)
		}
		if _, err := tx.Exec(ctx, `
            UPDATE game_statistics SET record = $2, version = $3, updated_at = $4
            WHERE game_id = $1
        `, gameID, data, next.Version, next.UpdatedAt); err != nil {
			return err
		}
		out = next
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return out, nil
	}
	if err != nil {
		return nil, mapPgErr(err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, gameID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM game_statistics WHERE game_id = $1`, gameID)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no stats for game %s", models.ErrNotFound, gameID)
	}
	return nil
}

func (s *PostgresStore) GetUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error) {
	return s.UpdateUniversal(ctx, ownerID, func(*models.UniversalClock) error { return ErrNoChange })
}

func (s *PostgresStore) UpdateUniversal(ctx context.Context, ownerID uuid.UUID, fn ClockUpdateFunc) (*models.UniversalClock, error) {
	var out *models.UniversalClock
	err := sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
            INSERT INTO universal_clocks (owner_id, updated_at) VALUES ($1, $2)
            ON CONFLICT (owner_id) DO NOTHING
        `, ownerID, s.clock.Now()); err != nil {
			return err
		}

		current := models.UniversalClock{OwnerID: ownerID}
		if err := tx.QueryRow(ctx, `
            SELECT quarter, minutes, seconds, running, version, updated_at
            FROM universal_clocks WHERE owner_id = $1 FOR UPDATE
        `, ownerID).Scan(&current.Quarter, &current.Minutes, &current.Seconds, &current.Running, &current.Version, &current.UpdatedAt); err != nil {
			return err
		}

		next := current
		if err := fn(&next); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = &current
			}
			return err
		}
		next.OwnerID = ownerID
		next.Version = current.Version + 1
		next.UpdatedAt = s.clock.Now()

		if _, err := tx.Exec(ctx, `
            UPDATE universal_clocks
            SET quarter = $2, minutes = $3, seconds = $4, running = $5, version = $6, updated_at = $7
            WHERE owner_id = $1
        `, ownerID, next.Quarter, next.Minutes, next.Seconds, next.Running, next.Version, next.UpdatedAt); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return out, nil
	}
	if err != nil {
		return nil, mapPgErr(err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (*models.StatRecord, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	var rec models.StatRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stat record: %w", err)
	}
	if rec.Actions == nil {
		rec.Actions = []models.ActionEvent{}
	}
	return &rec, nil
}

// mapPgErr translates pgx errors into the store taxonomy. Errors that already
// carry a taxonomy error, such as those returned by update functions, pass through.
func mapPgErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainErr(err):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %v", models.ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.Message)
		}
		return fmt.Errorf("postgres error %s: %w", pgErr.Code, err)
	}

	var jsonErr *json.SyntaxError
	if errors.As(err, &jsonErr) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}
