// Package statstore persists one StatRecord per game and one UniversalClock per
// owner. Every mutation goes through an atomic read-modify-write so concurrent
// writers for the same key cannot lose each other's updates.
package statstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/models"
)

// ErrNoChange can be returned from an update function to skip the write. The
// store then returns the current value with a nil error.
var ErrNoChange = errors.New("no change")

// UpdateFunc mutates a private copy of a record. Returning an error aborts the write.
type UpdateFunc func(rec *models.StatRecord) error

// ClockUpdateFunc mutates a private copy of a universal clock.
type ClockUpdateFunc func(c *models.UniversalClock) error

// Store is the keyed persistence contract used by the engines.
type Store interface {
	// Create inserts a new record. Fails with models.ErrConflict if one exists.
	Create(ctx context.Context, rec *models.StatRecord) (*models.StatRecord, error)
	// Get fails with models.ErrNotFound if there is no record for gameID.
	Get(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
	// Update applies fn atomically. Fails with models.ErrNotFound if there is no record.
	Update(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error)
	// Upsert is Update that first creates an empty record when none exists.
	Upsert(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error)
	// Delete removes a record. Fails with models.ErrNotFound if there is none.
	Delete(ctx context.Context, gameID uuid.UUID) error

	ClockStore

	Close() error
}

// ClockStore holds universal clocks keyed by owner.
type ClockStore interface {
	// GetUniversal returns the owner's clock, creating a default one if needed.
	GetUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error)
	// UpdateUniversal applies fn atomically, creating a default clock if needed.
	UpdateUniversal(ctx context.Context, ownerID uuid.UUID, fn ClockUpdateFunc) (*models.UniversalClock, error)
}

// isDomainErr reports whether err already carries a taxonomy error, so store
// implementations pass it through untouched.
func isDomainErr(err error) bool {
	return errors.Is(err, ErrNoChange) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInvalidArgument) ||
		errors.Is(err, models.ErrConflict) ||
		errors.Is(err, models.ErrTimeout) ||
		errors.Is(err, models.ErrStoreUnavailable)
}
