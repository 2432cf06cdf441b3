package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/clock"
	"github.com/mcdev12/scoreboard/go/internal/directory"
	"github.com/mcdev12/scoreboard/go/internal/gamestats"
	"github.com/mcdev12/scoreboard/go/internal/gateway"
	"github.com/mcdev12/scoreboard/go/internal/statstore"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Store     statstore.Store
	Directory directory.Directory
	Engine    *clock.Engine
	Pool      *clock.Pool
	Stats     *gamestats.Service
	Gateway   *gateway.Service

	closeDirectory func() error
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store → App → Service, with the gateway publisher shared by every engine
	realClock := clockwork.NewRealClock()

	store, err := setupStore(ctx, cfg, realClock)
	if err != nil {
		return nil, fmt.Errorf("failed to set up stats store: %w", err)
	}

	dir, closeDirectory, err := setupDirectory(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to set up directory: %w", err)
	}

	gw, err := gateway.NewService(ctx, cfg.gatewayConfig())
	if err != nil {
		store.Close()
		closeDirectory()
		return nil, fmt.Errorf("failed to set up gateway: %w", err)
	}
	publisher := gw.Publisher()

	// Clock
	pool := clock.NewPool(cfg.PropagationWorkers, cfg.PropagationQueue)
	engine := clock.NewEngine(clock.Config{
		Store:      store,
		Games:      dir,
		Fields:     dir,
		Scheduler:  clock.NewTickerScheduler(realClock, cfg.TickInterval),
		Dispatcher: pool,
		Publisher:  publisher,
		Clock:      realClock,
	})

	// Stats
	statsApp := gamestats.NewApp(store, dir, realClock)
	statsService := gamestats.NewService(statsApp, engine, publisher, realClock)

	gw.Bind(statsApp, engine, realClock)

	log.Info().
		Int("propagation_workers", cfg.PropagationWorkers).
		Dur("tick_interval", cfg.TickInterval).
		Bool("relay", cfg.NATSURL != "").
		Msg("services ready")

	return &Services{
		Store:          store,
		Directory:      dir,
		Engine:         engine,
		Pool:           pool,
		Stats:          statsService,
		Gateway:        gw,
		closeDirectory: closeDirectory,
	}, nil
}

// Close releases the store and directory connections.
func (s *Services) Close() {
	if err := s.Store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close stats store")
	}
	if err := s.closeDirectory(); err != nil {
		log.Error().Err(err).Msg("failed to close directory database")
	}
}
