package statstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"go.etcd.io/bbolt"
)

var (
	statsBucket  = []byte("game_statistics")
	uclockBucket = []byte("universal_clocks")
)

// BoltStore is an embedded single-file store. bbolt runs one read-write
// transaction at a time, which gives every update its atomicity.
type BoltStore struct {
	db    *bbolt.DB
	clock clockwork.Clock
}

// OpenBoltStore opens (or creates) the database file at path.
func OpenBoltStore(path string, clock clockwork.Clock) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open storage db: %v", models.ErrStoreUnavailable, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{statsBucket, uclockBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BoltStore{db: db, clock: clock}, nil
}

func (s *BoltStore) Create(ctx context.Context, rec *models.StatRecord) (*models.StatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored := rec.Clone()
	if stored.Actions == nil {
		stored.Actions = []models.ActionEvent{}
	}
	stored.Version = 1
	payload, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal stat record: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(statsBucket)
		key := stored.GameID[:]
		if b.Get(key) != nil {
			return fmt.Errorf("%w: stats already exist for game %s", models.ErrConflict, stored.GameID)
		}
		return b.Put(key, payload)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *BoltStore) Get(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *models.StatRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket(statsBucket).Get(gameID[:])
		if payload == nil {
			return fmt.Errorf("%w: no stats for game %s", models.ErrNotFound, gameID)
		}
		var err error
		rec, err = decodeRecord(payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BoltStore) Update(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error) {
	return s.update(ctx, gameID, false, fn)
}

func (s *BoltStore) Upsert(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error) {
	return s.update(ctx, gameID, true, fn)
}

func (s *BoltStore) update(ctx context.Context, gameID uuid.UUID, create bool, fn UpdateFunc) (*models.StatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *models.StatRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(statsBucket)
		var current *models.StatRecord
		if payload := b.Get(gameID[:]); payload != nil {
			var err error
			if current, err = decodeRecord(payload); err != nil {
				return err
			}
		} else if create {
			current = models.NewStatRecord(gameID, s.clock.Now())
		} else {
			return fmt.Errorf("%w: no stats for game %s", models.ErrNotFound, gameID)
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

		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal stat record: %w", err)
		}
		if err := b.Put(gameID[:], payload); err != nil {
			return err
		}
		out = next
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Delete(ctx context.Context, gameID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(statsBucket)
		if b.Get(gameID[:]) == nil {
			return fmt.Errorf("%w: no stats for game %s", models.ErrNotFound, gameID)
		}
		return b.Delete(gameID[:])
	})
}

func (s *BoltStore) GetUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error) {
	return s.UpdateUniversal(ctx, ownerID, func(*models.UniversalClock) error { return ErrNoChange })
}

func (s *BoltStore) UpdateUniversal(ctx context.Context, ownerID uuid.UUID, fn ClockUpdateFunc) (*models.UniversalClock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *models.UniversalClock
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(uclockBucket)
		current := models.NewUniversalClock(ownerID, s.clock.Now())
		if payload := b.Get(ownerID[:]); payload != nil {
			if err := json.Unmarshal(payload, current); err != nil {
				return fmt.Errorf("unmarshal universal clock: %w", err)
			}
		}

		next := *current
		if err := fn(&next); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = current
			}
			return err
		}
		next.OwnerID = ownerID
		next.Version = current.Version + 1
		next.UpdatedAt = s.clock.Now()

		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal universal clock: %w", err)
		}
		if err := b.Put(ownerID[:], payload); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
