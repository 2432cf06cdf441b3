package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/events"
	"github.com/rs/zerolog/log"
)

// Service is the realtime gateway: WebSocket rooms, command dispatch and the
// optional cross-instance relay.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	relay             *Relay
	publisher         events.Publisher
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	// Relay is nil when the gateway runs as a single instance.
	Relay *RelayConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates the gateway. Its Publisher can be handed to the engines
// before they exist; Bind attaches them afterwards.
func NewService(ctx context.Context, config Config) (*Service, error) {
	cm := NewConnectionManager(config.ConnectionConfig)
	s := &Service{
		connectionManager: cm,
		publisher:         cm,
	}

	if config.Relay != nil {
		relay, err := NewRelay(ctx, *config.Relay, cm)
		if err != nil {
			return nil, fmt.Errorf("failed to create event relay: %w", err)
		}
		s.relay = relay
		s.publisher = events.Multi(cm, relay)
	}
	return s, nil
}

// Publisher delivers events to local rooms and, with a relay, to other instances.
func (s *Service) Publisher() events.Publisher {
	return s.publisher
}

// Bind attaches the engines that serve client commands.
func (s *Service) Bind(stats StatsApp, clocks ClockEngine, clock clockwork.Clock) {
	commands := NewCommands(stats, clocks, s.publisher, clock)
	s.connectionManager.SetHandler(commands)
	s.wsHandler = NewWebSocketHandler(s.connectionManager, commands)
}

// Start runs the broadcast loop and the relay until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting gateway service")

	go s.connectionManager.Start(ctx)

	if s.relay != nil {
		if err := s.relay.Start(ctx); err != nil {
			return fmt.Errorf("failed to start event relay: %w", err)
		}
	}

	<-ctx.Done()

	log.Info().Msg("gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service
func (s *Service) Stop() error {
	if s.relay != nil {
		if err := s.relay.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event relay")
		}
	}
	log.Info().Msg("gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	if s.wsHandler == nil {
		log.Warn().Msg("gateway has no engines bound, WebSocket routes not registered")
		return
	}
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
