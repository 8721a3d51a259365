package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mcdev12/reflex/go/internal/clock"
	"github.com/mcdev12/reflex/go/internal/presence"
	"github.com/mcdev12/reflex/go/internal/round/coordinator"
	"github.com/mcdev12/reflex/go/internal/round/gateway"
	"github.com/mcdev12/reflex/go/internal/round/metrics"
	"github.com/mcdev12/reflex/go/internal/round/repository"
	"github.com/mcdev12/reflex/go/internal/round/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Repository  *repository.Repository
	Presence    *presence.Tracker
	Coordinator *coordinator.Coordinator
	Gateway     *gateway.Service

	closers []func() error
}

// setupServices wires the dependency chain:
// database → repository → presence tracker → coordinator → gateway.
func setupServices(ctx context.Context, config *Config, database *sql.DB, reg prometheus.Registerer) (*Services, error) {
	s := &Services{}
	collector := metrics.NewPrometheus(reg)

	// Repository
	s.Repository = repository.NewRepository(database)
	if err := s.Repository.Migrate(ctx); err != nil {
		return nil, err
	}

	// Gateway; its connection manager is the local fan-out
	s.Gateway = gateway.NewService(config.gatewayConfig(), s.Repository, nil, nil,
		gateway.WithManagerMetrics(collector))

	// Event emitter: local sockets, or the shared stream in cluster mode
	var emitter coordinator.Emitter = s.Gateway.Connections()
	if config.NATS.Enabled {
		publisher, err := stream.NewJetStreamPublisher(ctx, config.streamConfig(), collector)
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		s.closers = append(s.closers, publisher.Close)
		emitter = publisher

		if err := s.Gateway.EnableJetStream(ctx, config.gatewayConfig().JetStreamConfig); err != nil {
			s.Close()
			return nil, err
		}
	}

	// Presence
	mirrors := presence.Mirrors{s.Repository}
	if config.Redis.Addr != "" {
		redisMirror, err := presence.NewRedisMirror(ctx, config.redisConfig())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect presence mirror: %w", err)
		}
		s.closers = append(s.closers, redisMirror.Close)
		mirrors = append(mirrors, redisMirror)
	}
	clk := clock.Real()
	s.Presence = presence.NewTracker(config.presenceConfig(), clk, emitter,
		presence.WithMirror(mirrors),
		presence.WithMetrics(collector),
	)

	// Coordinator
	coord, err := coordinator.New(config.roundConfig(), s.Repository, emitter, s.Presence, clk,
		coordinator.WithMetrics(collector))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Coordinator = coord
	s.Presence.OnOffline(coord.OnPresenceOffline)
	s.Gateway.Connections().SetDispatcher(coord)
	s.Gateway.BindState(coord, s.Presence)

	log.Info().
		Bool("nats", config.NATS.Enabled).
		Bool("redis", config.Redis.Addr != "").
		Msg("services initialized")
	return s, nil
}

// Close stops timers first so no callback fires into a closed publisher.
func (s *Services) Close() {
	if s.Coordinator != nil {
		s.Coordinator.Close()
	}
	if s.Presence != nil {
		s.Presence.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Error().Err(err).Msg("failed to close service dependency")
		}
	}
	s.closers = nil
}
