// Package directory answers the two questions the statistics engine asks about
// the wider platform: does a game exist, and which games follow an owner's
// universal clock.
package directory

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/models"
)

// Games looks up games managed elsewhere on the platform.
type Games interface {
	// GetGame fails with models.ErrNotFound for unknown games.
	GetGame(ctx context.Context, gameID uuid.UUID) (*models.GameRef, error)
	// SetEnded records whether a game is over.
	SetEnded(ctx context.Context, gameID uuid.UUID, ended bool) error
}

// Fields resolves universal clock fan-out targets.
type Fields interface {
	// SyncedGames returns the games that are not over and are played on a
	// clock-synced field of ownerID.
	SyncedGames(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error)
}

// Directory is both lookups.
type Directory interface {
	Games
	Fields
}
