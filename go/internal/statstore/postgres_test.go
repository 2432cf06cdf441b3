package statstore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/models"
)

const postgresDSNEnv = "SCOREBOARD_TEST_POSTGRES_DSN"

// openPostgresStore connects to the database named by postgresDSNEnv and
// skips the test when it is unset.
func openPostgresStore(t *testing.T, clock clockwork.Clock) *PostgresStore {
	t.Helper()
	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn, clock)
	if err != nil {
		t.Fatalf("open postgres store: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStoreLocksRowForUpdate(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	s := openPostgresStore(t, clock)
	ctx := context.Background()

	gameID := uuid.New()
	if _, err := s.Create(ctx, models.NewStatRecord(gameID, clock.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _ = s.Delete(context.Background(), gameID) })

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, gameID, func(rec *models.StatRecord) error {
				rec.AwayTeam.Stats.Save++
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	got, err := s.Get(ctx, gameID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AwayTeam.Stats.Save != writers || got.Version != writers+1 {
		t.Fatalf("expected %d saves at version %d, got %d at %d", writers, writers+1, got.AwayTeam.Stats.Save, got.Version)
	}
}

func TestPostgresUniversalClockVersion(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	s := openPostgresStore(t, clock)
	ctx := context.Background()
	ownerID := uuid.New()

	tests := []struct {
		name    string
		fn      ClockUpdateFunc
		want    int64
		wantErr error
	}{
		{name: "lazy create", fn: func(*models.UniversalClock) error { return ErrNoChange }, want: 0},
		{name: "write bumps", fn: func(c *models.UniversalClock) error { c.Minutes = 9; return nil }, want: 1},
		{name: "no change keeps", fn: func(*models.UniversalClock) error { return ErrNoChange }, want: 1},
		{name: "invalid leaves", fn: func(*models.UniversalClock) error { return models.ErrInvalidArgument }, wantErr: models.ErrInvalidArgument},
		{name: "second write bumps", fn: func(c *models.UniversalClock) error { c.Running = true; return nil }, want: 2},
	}
	for _, tt := range tests {
		uc, err := s.UpdateUniversal(ctx, ownerID, tt.fn)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("%s: expected %v, got %v", tt.name, tt.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if uc.Version != tt.want {
			t.Fatalf("%s: expected version %d, got %d", tt.name, tt.want, uc.Version)
		}
	}
}
