package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mcdev12/scoreboard/go/internal/models"
)

// Schema is the slice of the platform's schema the directory reads.
const Schema = `
CREATE TABLE IF NOT EXISTS fields (
    id           UUID PRIMARY KEY,
    name         TEXT NOT NULL,
    owner_id     UUID NOT NULL,
    clock_synced BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS games (
    id       UUID PRIMARY KEY,
    field_id UUID REFERENCES fields (id),
    owner_id UUID NOT NULL,
    ended    BOOLEAN NOT NULL DEFAULT FALSE
);
`

// Postgres reads games and fields through database/sql and lib/pq.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the directory tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply directory schema: %w", mapPqErr(err))
	}
	return nil
}

func (p *Postgres) GetGame(ctx context.Context, gameID uuid.UUID) (*models.GameRef, error) {
	var (
		g       models.GameRef
		fieldID uuid.NullUUID
	)
	err := p.db.QueryRowContext(ctx, `
        SELECT id, field_id, owner_id, ended FROM games WHERE id = $1
    `, gameID).Scan(&g.ID, &fieldID, &g.OwnerID, &g.Ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: game %s", models.ErrNotFound, gameID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", mapPqErr(err))
	}
	if fieldID.Valid {
		g.FieldID = &fieldID.UUID
	}
	return &g, nil
}

func (p *Postgres) SetEnded(ctx context.Context, gameID uuid.UUID, ended bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE games SET ended = $2 WHERE id = $1`, gameID, ended)
	if err != nil {
		return fmt.Errorf("failed to update game: %w", mapPqErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update game: %w", mapPqErr(err))
	}
	if n == 0 {
		return fmt.Errorf("%w: game %s", models.ErrNotFound, gameID)
	}
	return nil
}

func (p *Postgres) SyncedGames(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	fieldIDs, err := p.syncedFields(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(fieldIDs) == 0 {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, `
        SELECT id FROM games
        WHERE field_id = ANY($1::uuid[]) AND NOT ended
        ORDER BY id
    `, pq.Array(fieldIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list synced games: %w", mapPqErr(err))
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan game id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list synced games: %w", mapPqErr(err))
	}
	return out, nil
}

func (p *Postgres) syncedFields(ctx context.Context, ownerID uuid.UUID) ([]string, error) {
	var ids pq.StringArray
	err := p.db.QueryRowContext(ctx, `
        SELECT COALESCE(array_agg(id::text), '{}') FROM fields
        WHERE owner_id = $1 AND clock_synced
    `, ownerID).Scan(&ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list synced fields: %w", mapPqErr(err))
	}
	return ids, nil
}

// mapPqErr marks connection-class failures as models.ErrStoreUnavailable.
func mapPqErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%w: %s", models.ErrStoreUnavailable, pqErr.Message)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, pq.ErrSSLNotSupported) {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return err
}
