package statstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/redis/go-redis/v9"
)

// openMiniredisStore returns a RedisStore backed by an in-process server that
// is torn down with the test.
func openMiniredisStore(t *testing.T, clock clockwork.Clock) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s := newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), clock)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStoreGivesUpUnderContention(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		key  func(id uuid.UUID) string
		seed func(t *testing.T, s *RedisStore, id uuid.UUID)
		run  func(s *RedisStore, id uuid.UUID, interfere func()) error
	}{
		{
			name: "stat record",
			key:  statsKey,
			seed: func(t *testing.T, s *RedisStore, id uuid.UUID) {
				if _, err := s.Create(ctx, models.NewStatRecord(id, testNow)); err != nil {
					t.Fatalf("create: %v", err)
				}
			},
			run: func(s *RedisStore, id uuid.UUID, interfere func()) error {
				_, err := s.Update(ctx, id, func(rec *models.StatRecord) error {
					interfere()
					rec.HomeTeam.Score++
					return nil
				})
				return err
			},
		},
		{
			name: "universal clock",
			key:  uclockKey,
			seed: func(t *testing.T, s *RedisStore, id uuid.UUID) {
				if _, err := s.UpdateUniversal(ctx, id, func(c *models.UniversalClock) error {
					c.Quarter = 1
					return nil
				}); err != nil {
					t.Fatalf("seed universal: %v", err)
				}
			},
			run: func(s *RedisStore, id uuid.UUID, interfere func()) error {
				_, err := s.UpdateUniversal(ctx, id, func(c *models.UniversalClock) error {
					interfere()
					c.Minutes = 5
					return nil
				})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			s := newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), clockwork.NewFakeClockAt(testNow))
			s.maxRetries = 3
			t.Cleanup(func() { _ = s.Close() })

			id := uuid.New()
			tt.seed(t, s, id)

			// A second writer touches the key inside every attempt.
			var attempts int
			interfere := func() {
				attempts++
				current, err := mr.Get(tt.key(id))
				if err != nil {
					t.Errorf("read %s: %v", tt.key(id), err)
					return
				}
				if err := mr.Set(tt.key(id), current); err != nil {
					t.Errorf("rewrite %s: %v", tt.key(id), err)
				}
			}
			err := tt.run(s, id, interfere)
			if !errors.Is(err, models.ErrConflict) {
				t.Fatalf("expected conflict, got %v", err)
			}
			if attempts != 3 {
				t.Fatalf("expected 3 attempts, got %d", attempts)
			}
		})
	}
}

func TestRedisStoreRetriesLostRace(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), clockwork.NewFakeClockAt(testNow))
	t.Cleanup(func() { _ = s.Close() })

	gameID := uuid.New()
	if _, err := s.Create(ctx, models.NewStatRecord(gameID, testNow)); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The first attempt loses to a concurrent goal; the retry sees it.
	var attempts int
	rec, err := s.Update(ctx, gameID, func(rec *models.StatRecord) error {
		attempts++
		if attempts == 1 {
			other := models.NewStatRecord(gameID, testNow)
			other.HomeTeam.Score = 1
			other.Version = 2
			data, err := json.Marshal(other)
			if err != nil {
				return err
			}
			if err := mr.Set(statsKey(gameID), string(data)); err != nil {
				return err
			}
		}
		rec.AwayTeam.Score++
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if rec.HomeTeam.Score != 1 || rec.AwayTeam.Score != 1 {
		t.Fatalf("expected both writes kept, got home %d away %d", rec.HomeTeam.Score, rec.AwayTeam.Score)
	}
	if rec.Version != 3 {
		t.Fatalf("expected version 3, got %d", rec.Version)
	}
}
