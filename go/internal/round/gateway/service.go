// Package gateway connects game clients over WebSocket. It turns client
// frames into coordinator commands and fans events out to every socket of a
// game, optionally relaying events published by other instances through
// JetStream.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service is the game gateway: WebSocket connections, state endpoints and
// the optional JetStream relay.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	eventConsumer     *EventConsumer
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

// NewService creates a gateway. Bind the coordinator with
// Connections().SetDispatcher before serving. rounds and p may be nil when
// they are bound later with BindState.
func NewService(config Config, games GameDirectory, rounds RoundReader, p PresenceReader, opts ...ManagerOption) *Service {
	cm := NewConnectionManager(config.ConnectionConfig, nil, opts...)
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, games),
		stateHandler:      NewStateHandler(games, rounds, p),
	}
}

// Connections returns the local fan-out, which is also the event emitter in
// single-instance mode.
func (s *Service) Connections() *ConnectionManager {
	return s.connectionManager
}

// BindState sets the sources of the round state endpoint. Call it before
// serving.
func (s *Service) BindState(rounds RoundReader, p PresenceReader) {
	s.stateHandler.rounds = rounds
	s.stateHandler.presence = p
}

// EnableJetStream relays events from the shared stream to local sockets.
func (s *Service) EnableJetStream(ctx context.Context, config JetStreamConsumerConfig) error {
	consumer, err := NewEventConsumer(ctx, s.connectionManager, config)
	if err != nil {
		return fmt.Errorf("failed to create event consumer: %w", err)
	}
	s.eventConsumer = consumer
	return nil
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("jetstream", s.eventConsumer != nil).Msg("starting game gateway service")

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("game gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service
func (s *Service) Stop() error {
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	s.connectionManager.Close()
	log.Info().Msg("game gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and state HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("game gateway routes registered")
}
