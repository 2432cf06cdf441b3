package statstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/models"
)

// timeoutStore bounds every call to the wrapped store.
type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout wraps a store so no call can hang a client command indefinitely.
// Expired calls fail with models.ErrTimeout.
func WithTimeout(next Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return next
	}
	return &timeoutStore{next: next, timeout: timeout}
}

func (s *timeoutStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func mapTimeout(err error) error {
	if err == nil || errors.Is(err, models.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	return err
}

func (s *timeoutStore) Create(ctx context.Context, rec *models.StatRecord) (*models.StatRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	out, err := s.next.Create(ctx, rec)
	return out, mapTimeout(err)
}

func (s *timeoutStore) Get(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	out, err := s.next.Get(ctx, gameID)
	return out, mapTimeout(err)
}

func (s *timeoutStore) Update(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	out, err := s.next.Update(ctx, gameID, fn)
	return out, mapTimeout(err)
}

func (s *timeoutStore) Upsert(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	out, err := s.next.Upsert(ctx, gameID, fn)
	return out, mapTimeout(err)
}

func (s *timeoutStore) Delete(ctx context.Context, gameID uuid.UUID) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return mapTimeout(s.next.Delete(ctx, gameID))
}

func (s *timeoutStore) GetUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	out, err := s.next.GetUniversal(ctx, ownerID)
	return out, mapTimeout(err)
}

func (s *timeoutStore) UpdateUniversal(ctx context.Context, ownerID uuid.UUID, fn ClockUpdateFunc) (*models.UniversalClock, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	out, err := s.next.UpdateUniversal(ctx, ownerID, fn)
	return out, mapTimeout(err)
}

func (s *timeoutStore) Close() error {
	return s.next.Close()
}
