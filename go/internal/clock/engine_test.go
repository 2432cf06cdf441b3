package clock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/directory"
	"github.com/mcdev12/scoreboard/go/internal/events"
	"github.com/mcdev12/scoreboard/go/internal/events/eventstest"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/mcdev12/scoreboard/go/internal/statstore"
)

type fakeEntry struct {
	fn    func(Token)
	token Token
}

type fakeScheduler struct {
	mu      sync.Mutex
	entries map[TickKey]*fakeEntry
	last    Token
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{entries: make(map[TickKey]*fakeEntry)}
}

func (s *fakeScheduler) Schedule(key TickKey, fn func(Token)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	if entry, ok := s.entries[key]; ok {
		entry.token = s.last
		return
	}
	s.entries[key] = &fakeEntry{fn: fn, token: s.last}
}

func (s *fakeScheduler) Cancel(key TickKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *fakeScheduler) CancelIf(key TickKey, token Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; !ok || entry.token != token {
		return false
	}
	delete(s.entries, key)
	return true
}

func (s *fakeScheduler) Active(key TickKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *fakeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[TickKey]*fakeEntry)
}

// fire runs the scheduled callback for key, as one elapsed interval would.
func (s *fakeScheduler) fire(t *testing.T, key TickKey) {
	t.Helper()
	s.mu.Lock()
	entry, ok := s.entries[key]
	var fn func(Token)
	var token Token
	if ok {
		fn, token = entry.fn, entry.token
	}
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no ticker scheduled for %s", key)
	}
	fn(token)
}

// hookStore runs afterUpdate once, after the next Update commits.
type hookStore struct {
	*statstore.MemoryStore
	mu          sync.Mutex
	afterUpdate func()
}

func (s *hookStore) Update(ctx context.Context, gameID uuid.UUID, fn statstore.UpdateFunc) (*models.StatRecord, error) {
	rec, err := s.MemoryStore.Update(ctx, gameID, fn)
	s.mu.Lock()
	hook := s.afterUpdate
	s.afterUpdate = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return rec, err
}

func (s *hookStore) onNextUpdate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterUpdate = fn
}

type failingFields struct{}

func (failingFields) SyncedGames(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, errors.New("directory offline")
}

type harness struct {
	engine    *Engine
	store     *statstore.MemoryStore
	dir       *directory.Memory
	scheduler *fakeScheduler
	events    *eventstest.Recorder
	owner     uuid.UUID
	field     uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 10, 14, 0, 0, 0, time.UTC))
	h := &harness{
		store:     statstore.NewMemoryStore(clock),
		dir:       directory.NewMemory(),
		scheduler: newFakeScheduler(),
		events:    &eventstest.Recorder{},
		owner:     uuid.New(),
		field:     uuid.New(),
	}
	h.dir.PutField(models.Field{ID: h.field, Name: "Field 1", OwnerID: h.owner, ClockSynced: true})
	h.engine = NewEngine(Config{
		Store:      h.store,
		Games:      h.dir,
		Fields:     h.dir,
		Scheduler:  h.scheduler,
		Dispatcher: Inline{},
		Publisher:  h.events,
		Clock:      clock,
	})
	return h
}

// addGame registers a game with an existing stat record.
func (h *harness) addGame(t *testing.T, fieldID *uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	h.dir.PutGame(models.GameRef{ID: id, FieldID: fieldID, OwnerID: h.owner})
	if _, err := h.store.Create(context.Background(), models.NewStatRecord(id, time.Now())); err != nil {
		t.Fatalf("create stats: %v", err)
	}
	return id
}

func (h *harness) clockOf(t *testing.T, gameID uuid.UUID) models.Clock {
	t.Helper()
	rec, err := h.store.Get(context.Background(), gameID)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	return rec.Clock
}

func intPtr(v int) *int { return &v }

func TestStartSchedulesTicks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.addGame(t, nil)

	if _, err := h.engine.SetTime(ctx, gameID, 12, 0, intPtr(1)); err != nil {
		t.Fatalf("set time: %v", err)
	}
	rec, err := h.engine.Start(ctx, gameID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !rec.Clock.Running {
		t.Fatal("expected running clock")
	}
	if !h.scheduler.Active(gameKey(gameID)) {
		t.Fatal("expected a ticker for the game")
	}

	h.scheduler.fire(t, gameKey(gameID))
	got := h.clockOf(t, gameID)
	if got.Minutes != 11 || got.Seconds != 59 || !got.Running || got.Quarter != 1 {
		t.Fatalf("expected 11:59 running in Q1, got %+v", got)
	}

	evs := h.events.InRoom(events.GameRoom(gameID))
	if len(evs) != 1 || evs[0].Type != events.EventClockUpdated {
		t.Fatalf("expected one clockUpdated event, got %d", len(evs))
	}
	payload := eventstest.Decode[events.ClockPayload](t, evs[0])
	if payload.GameID != gameID || payload.Clock != got {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestTickTerminalBehaviour(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.addGame(t, nil)

	if _, err := h.engine.UpdateClock(ctx, gameID, models.ClockPatch{Minutes: intPtr(0), Seconds: intPtr(2)}); err != nil {
		t.Fatalf("update clock: %v", err)
	}
	if _, err := h.engine.Start(ctx, gameID); err != nil {
		t.Fatalf("start: %v", err)
	}

	steps := []struct {
		seconds int
		running bool
		active  bool
	}{
		{seconds: 1, running: true, active: true},
		{seconds: 0, running: false, active: false},
	}
	for i, step := range steps {
		if _, err := h.engine.Tick(ctx, gameID); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		c := h.clockOf(t, gameID)
		if c.TotalSeconds() != step.seconds || c.Running != step.running {
			t.Fatalf("tick %d: expected %ds running=%v, got %+v", i, step.seconds, step.running, c)
		}
		if h.scheduler.Active(gameKey(gameID)) != step.active {
			t.Fatalf("tick %d: expected ticker active=%v", i, step.active)
		}
	}

	h.events.Reset()
	rec, err := h.engine.Tick(ctx, gameID)
	if err != nil {
		t.Fatalf("tick after stop: %v", err)
	}
	if rec.Clock.TotalSeconds() != 0 || rec.Clock.Running {
		t.Fatalf("expected 00:00 stopped, got %+v", rec.Clock)
	}
	if n := len(h.events.Events()); n != 0 {
		t.Fatalf("expected no events from a no-op tick, got %d", n)
	}
}

func TestTickAtZeroStops(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.addGame(t, nil)

	if _, err := h.engine.Start(ctx, gameID); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec, err := h.engine.Tick(ctx, gameID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if rec.Clock.Running || rec.Clock.TotalSeconds() != 0 {
		t.Fatalf("expected stopped at zero, got %+v", rec.Clock)
	}
	if h.scheduler.Active(gameKey(gameID)) {
		t.Fatal("expected ticker cancelled")
	}
}

func TestPause(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.addGame(t, nil)

	_, _ = h.engine.SetTime(ctx, gameID, 5, 0, nil)
	_, _ = h.engine.Start(ctx, gameID)
	rec, err := h.engine.Pause(ctx, gameID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if rec.Clock.Running || h.scheduler.Active(gameKey(gameID)) {
		t.Fatal("expected stopped clock without a ticker")
	}

	again, err := h.engine.Pause(ctx, gameID)
	if err != nil {
		t.Fatalf("second pause: %v", err)
	}
	if again.Version != rec.Version {
		t.Fatalf("expected pausing a stopped clock to write nothing, version %d -> %d", rec.Version, again.Version)
	}
}

func TestSetTimeValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.addGame(t, nil)

	tests := []struct {
		name    string
		minutes int
		seconds int
		quarter *int
	}{
		{name: "seconds above 59", minutes: 1, seconds: 60},
		{name: "negative seconds", minutes: 1, seconds: -1},
		{name: "negative minutes", minutes: -1, seconds: 0},
		{name: "negative quarter", minutes: 1, seconds: 0, quarter: intPtr(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.SetTime(ctx, gameID, tt.minutes, tt.seconds, tt.quarter)
			if !errors.Is(err, models.ErrInvalidArgument) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}

	rec, err := h.engine.SetTime(ctx, gameID, 8, 30, nil)
	if err != nil {
		t.Fatalf("set time: %v", err)
	}
	if rec.Clock.Minutes != 8 || rec.Clock.Seconds != 30 || rec.Clock.Quarter != 0 {
		t.Fatalf("unexpected clock %+v", rec.Clock)
	}
}

func TestUpdateClockPartial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.addGame(t, nil)

	_, _ = h.engine.SetTime(ctx, gameID, 10, 15, intPtr(2))
	running := true
	rec, err := h.engine.UpdateClock(ctx, gameID, models.ClockPatch{Running: &running})
	if err != nil {
		t.Fatalf("update clock: %v", err)
	}
	want := models.Clock{Quarter: 2, Minutes: 10, Seconds: 15, Running: true}
	if rec.Clock != want {
		t.Fatalf("expected %+v, got %+v", want, rec.Clock)
	}
	if !h.scheduler.Active(gameKey(gameID)) {
		t.Fatal("expected running via patch to schedule ticks")
	}
}

func TestLazyClockCreation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	known := uuid.New()
	h.dir.PutGame(models.GameRef{ID: known, OwnerID: h.owner})

	rec, err := h.engine.Snapshot(ctx, known)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if rec.Clock != (models.Clock{}) {
		t.Fatalf("expected default clock, got %+v", rec.Clock)
	}
	if _, err := h.store.Get(ctx, known); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected snapshot not to write, got %v", err)
	}

	if _, err := h.engine.Start(ctx, known); err != nil {
		t.Fatalf("start on a game without stats: %v", err)
	}
	if c := h.clockOf(t, known); !c.Running {
		t.Fatalf("expected created clock to be running, got %+v", c)
	}

	if _, err := h.engine.Start(ctx, uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for an unknown game, got %v", err)
	}
}

func TestStartEndedGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.addGame(t, nil)

	_, _ = h.store.Update(ctx, gameID, func(rec *models.StatRecord) error {
		rec.Ended = true
		return nil
	})
	if _, err := h.engine.Start(ctx, gameID); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if h.scheduler.Active(gameKey(gameID)) {
		t.Fatal("expected no ticker for an ended game")
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.addGame(t, nil)
	_ = h.dir.SetEnded(ctx, gameID, true)

	_, _ = h.store.Update(ctx, gameID, func(rec *models.StatRecord) error {
		rec.HomeTeam = models.TeamStats{Score: 3, Stats: models.Counters{Goal: 3}}
		rec.AwayTeam.Stats.Save = 4
		rec.Actions = []models.ActionEvent{{ID: uuid.New(), Type: models.ActionGoal, Team: models.TeamHome}}
		rec.Clock = models.Clock{Quarter: 3, Minutes: 4, Seconds: 5, Running: true}
		rec.Ended = true
		return nil
	})
	h.scheduler.Schedule(gameKey(gameID), func(Token) {})

	rec, err := h.engine.Reset(ctx, gameID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if rec.HomeTeam != (models.TeamStats{}) || rec.AwayTeam != (models.TeamStats{}) {
		t.Fatalf("expected zeroed teams, got %+v / %+v", rec.HomeTeam, rec.AwayTeam)
	}
	if rec.Clock != (models.Clock{}) || len(rec.Actions) != 0 || rec.Ended {
		t.Fatalf("expected cleared clock, log and ended flag, got %+v", rec)
	}
	if h.scheduler.Active(gameKey(gameID)) {
		t.Fatal("expected ticker cancelled by reset")
	}
	g, _ := h.dir.GetGame(ctx, gameID)
	if g.Ended {
		t.Fatal("expected reset to reopen the game in the directory")
	}
}

func TestUniversalFanOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	other := uuid.New()
	h.dir.PutField(models.Field{ID: other, OwnerID: h.owner, ClockSynced: false})

	synced1 := h.addGame(t, &h.field)
	synced2 := h.addGame(t, &h.field)
	unsynced := h.addGame(t, &other)
	standalone := h.addGame(t, nil)

	// A synced game without stats gets them on first push.
	lazy := uuid.New()
	h.dir.PutGame(models.GameRef{ID: lazy, FieldID: &h.field, OwnerID: h.owner})

	if _, err := h.engine.SetUniversal(ctx, h.owner, 10, 0, intPtr(1)); err != nil {
		t.Fatalf("set universal: %v", err)
	}
	if _, err := h.engine.StartUniversal(ctx, h.owner); err != nil {
		t.Fatalf("start universal: %v", err)
	}
	h.events.Reset()
	h.scheduler.fire(t, universalKey(h.owner))

	want := models.Clock{Quarter: 1, Minutes: 9, Seconds: 59, Running: true}
	for _, id := range []uuid.UUID{synced1, synced2, lazy} {
		if got := h.clockOf(t, id); got != want {
			t.Fatalf("game %s: expected %+v, got %+v", id, want, got)
		}
		evs := h.events.InRoom(events.GameRoom(id))
		if len(evs) != 1 || evs[0].Type != events.EventClockUpdated {
			t.Fatalf("game %s: expected one clockUpdated, got %d", id, len(evs))
		}
	}
	for _, id := range []uuid.UUID{unsynced, standalone} {
		if got := h.clockOf(t, id); got != (models.Clock{}) {
			t.Fatalf("game %s should not follow the universal clock, got %+v", id, got)
		}
		if n := len(h.events.InRoom(events.GameRoom(id))); n != 0 {
			t.Fatalf("game %s: expected no events, got %d", id, n)
		}
	}

	ownerEvents := h.events.InRoom(events.OwnerRoom(h.owner))
	if len(ownerEvents) != 1 || ownerEvents[0].Type != events.EventUniversalClockUpdated {
		t.Fatalf("expected one universalClockUpdated in the owner room, got %d", len(ownerEvents))
	}
	uc := eventstest.Decode[models.UniversalClock](t, ownerEvents[0])
	if uc.Minutes != 9 || uc.Seconds != 59 || !uc.Running {
		t.Fatalf("unexpected universal clock %+v", uc)
	}
}

func TestUniversalSkipsEndedGames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.addGame(t, &h.field)

	// Directory still lists the game but the record says it is over.
	_, _ = h.store.Update(ctx, gameID, func(rec *models.StatRecord) error {
		rec.Ended = true
		return nil
	})
	if _, err := h.engine.SetUniversal(ctx, h.owner, 5, 0, nil); err != nil {
		t.Fatalf("set universal: %v", err)
	}
	if got := h.clockOf(t, gameID); got != (models.Clock{}) {
		t.Fatalf("expected ended game untouched, got %+v", got)
	}
}

func TestUniversalCancelsGameTicker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.addGame(t, &h.field)

	_, _ = h.engine.SetTime(ctx, gameID, 5, 0, nil)
	_, _ = h.engine.Start(ctx, gameID)
	if _, err := h.engine.SetUniversal(ctx, h.owner, 5, 0, nil); err != nil {
		t.Fatalf("set universal: %v", err)
	}
	if h.scheduler.Active(gameKey(gameID)) {
		t.Fatal("expected the game's own ticker cancelled once the universal clock drives it")
	}
}

func TestPropagationFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.engine.fields = failingFields{}

	uc, err := h.engine.StartUniversal(context.Background(), h.owner)
	if err != nil {
		t.Fatalf("expected propagation failure to stay internal, got %v", err)
	}
	if !uc.Running {
		t.Fatal("expected universal clock running")
	}
}

func TestUniversalTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.engine.SetUniversal(ctx, h.owner, 0, 1, nil)
	_, _ = h.engine.StartUniversal(ctx, h.owner)

	uc, err := h.engine.TickUniversal(ctx, h.owner)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if uc.Running || uc.Clock().TotalSeconds() != 0 {
		t.Fatalf("expected stopped at zero, got %+v", uc)
	}
	if h.scheduler.Active(universalKey(h.owner)) {
		t.Fatal("expected universal ticker cancelled")
	}
}

func TestRestartDuringFinalTickKeepsTicker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	store := &hookStore{MemoryStore: h.store}
	engine := NewEngine(Config{
		Store:      store,
		Games:      h.dir,
		Fields:     h.dir,
		Scheduler:  h.scheduler,
		Dispatcher: Inline{},
		Publisher:  h.events,
		Clock:      clockwork.NewFakeClock(),
	})
	gameID := h.addGame(t, nil)
	key := gameKey(gameID)

	if _, err := engine.SetTime(ctx, gameID, 0, 1, intPtr(4)); err != nil {
		t.Fatalf("set time: %v", err)
	}
	if _, err := engine.Start(ctx, gameID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The tick consuming the last second commits, then an operator restarts
	// the clock before the tick has stopped its ticker.
	store.onNextUpdate(func() {
		if _, err := engine.SetTime(ctx, gameID, 0, 30, nil); err != nil {
			t.Errorf("set time: %v", err)
		}
		if _, err := engine.Start(ctx, gameID); err != nil {
			t.Errorf("start: %v", err)
		}
	})
	h.scheduler.fire(t, key)

	want := models.Clock{Quarter: 4, Minutes: 0, Seconds: 30, Running: true}
	if got := h.clockOf(t, gameID); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if !h.scheduler.Active(key) {
		t.Fatal("expected restarted clock to keep its ticker")
	}

	h.scheduler.fire(t, key)
	if got := h.clockOf(t, gameID); got.Seconds != 29 {
		t.Fatalf("expected restarted clock to tick to 0:29, got %+v", got)
	}
}

func TestFinalTickStopsTicker(t *testing.T) {
	tests := []struct {
		name string
		tick func(t *testing.T, h *harness, gameID uuid.UUID)
	}{
		{
			name: "scheduled tick",
			tick: func(t *testing.T, h *harness, gameID uuid.UUID) {
				h.scheduler.fire(t, gameKey(gameID))
			},
		},
		{
			name: "direct tick",
			tick: func(t *testing.T, h *harness, gameID uuid.UUID) {
				if _, err := h.engine.Tick(context.Background(), gameID); err != nil {
					t.Fatalf("tick: %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			gameID := h.addGame(t, nil)
			if _, err := h.engine.SetTime(ctx, gameID, 0, 1, intPtr(2)); err != nil {
				t.Fatalf("set time: %v", err)
			}
			if _, err := h.engine.Start(ctx, gameID); err != nil {
				t.Fatalf("start: %v", err)
			}

			tt.tick(t, h, gameID)

			if got := h.clockOf(t, gameID); got.Running || got.Seconds != 0 {
				t.Fatalf("expected stopped clock at 0:00, got %+v", got)
			}
			if h.scheduler.Active(gameKey(gameID)) {
				t.Fatal("expected ticker cancelled after the last second")
			}
		})
	}
}

func TestUniversalFanOutAcrossSyncedFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	second := uuid.New()
	h.dir.PutField(models.Field{ID: second, Name: "Field 2", OwnerID: h.owner, ClockSynced: true})
	games := map[string]uuid.UUID{
		"Field 1": h.addGame(t, &h.field),
		"Field 2": h.addGame(t, &second),
	}

	if _, err := h.engine.SetUniversal(ctx, h.owner, 8, 0, intPtr(2)); err != nil {
		t.Fatalf("set universal: %v", err)
	}
	if _, err := h.engine.StartUniversal(ctx, h.owner); err != nil {
		t.Fatalf("start universal: %v", err)
	}
	h.events.Reset()
	h.scheduler.fire(t, universalKey(h.owner))

	want := models.Clock{Quarter: 2, Minutes: 7, Seconds: 59, Running: true}
	for field, id := range games {
		if got := h.clockOf(t, id); got != want {
			t.Fatalf("%s: expected %+v, got %+v", field, want, got)
		}
		evs := h.events.InRoom(events.GameRoom(id))
		if len(evs) != 1 || evs[0].Type != events.EventClockUpdated {
			t.Fatalf("%s: expected one clockUpdated, got %d", field, len(evs))
		}
		if h.scheduler.Active(gameKey(id)) {
			t.Fatalf("%s: expected no per-game ticker while the universal clock drives it", field)
		}
	}
}
