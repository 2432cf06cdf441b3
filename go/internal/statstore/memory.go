package statstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/models"
)

// MemoryStore keeps records in process memory. Writers for the same key are
// serialized by a per-key lock whose acquisition honours context cancellation.
type MemoryStore struct {
	clock clockwork.Clock

	mu      sync.Mutex
	records map[uuid.UUID]*models.StatRecord
	clocks  map[uuid.UUID]*models.UniversalClock
	locks   map[uuid.UUID]chan struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:   clock,
		records: make(map[uuid.UUID]*models.StatRecord),
		clocks:  make(map[uuid.UUID]*models.UniversalClock),
		locks:   make(map[uuid.UUID]chan struct{}),
	}
}

// lock acquires the key lock and returns its release function.
func (s *MemoryStore) lock(ctx context.Context, key uuid.UUID) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[key] = l
	}
	s.mu.Unlock()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec *models.StatRecord) (*models.StatRecord, error) {
	release, err := s.lock(ctx, rec.GameID)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.GameID]; exists {
		return nil, fmt.Errorf("%w: stats already exist for game %s", models.ErrConflict, rec.GameID)
	}
	stored := rec.Clone()
	if stored.Actions == nil {
		stored.Actions = []models.ActionEvent{}
	}
	stored.Version = 1
	s.records[rec.GameID] = stored
	return stored.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: no stats for game %s", models.ErrNotFound, gameID)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error) {
	return s.update(ctx, gameID, false, fn)
}

func (s *MemoryStore) Upsert(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error) {
	return s.update(ctx, gameID, true, fn)
}

func (s *MemoryStore) update(ctx context.Context, gameID uuid.UUID, create bool, fn UpdateFunc) (*models.StatRecord, error) {
	release, err := s.lock(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	current, ok := s.records[gameID]
	s.mu.Unlock()
	if !ok {
		if !create {
			return nil, fmt.Errorf("%w: no stats for game %s", models.ErrNotFound, gameID)
		}
		current = models.NewStatRecord(gameID, s.clock.Now())
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}
	next.GameID = gameID
	next.Version = current.Version + 1
	next.UpdatedAt = s.clock.Now()

	s.mu.Lock()
	s.records[gameID] = next
	s.mu.Unlock()
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, gameID uuid.UUID) error {
	release, err := s.lock(ctx, gameID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[gameID]; !ok {
		return fmt.Errorf("%w: no stats for game %s", models.ErrNotFound, gameID)
	}
	delete(s.records, gameID)
	return nil
}

func (s *MemoryStore) GetUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error) {
	return s.UpdateUniversal(ctx, ownerID, func(*models.UniversalClock) error { return ErrNoChange })
}

func (s *MemoryStore) UpdateUniversal(ctx context.Context, ownerID uuid.UUID, fn ClockUpdateFunc) (*models.UniversalClock, error) {
	release, err := s.lock(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	current, ok := s.clocks[ownerID]
	if !ok {
		current = models.NewUniversalClock(ownerID, s.clock.Now())
		s.clocks[ownerID] = current
	}
	next := *current
	s.mu.Unlock()

	if err := fn(&next); err != nil {
		if errors.Is(err, ErrNoChange) {
			out := *current
			return &out, nil
		}
		return nil, err
	}
	next.OwnerID = ownerID
	next.Version = current.Version + 1
	next.UpdatedAt = s.clock.Now()

	s.mu.Lock()
	s.clocks[ownerID] = &next
	s.mu.Unlock()
	out := next
	return &out, nil
}

func (s *MemoryStore) Close() error { return nil }
