package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/round/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConsumerConfig holds configuration for the JetStream consumer
type JetStreamConsumerConfig struct {
	URL           string
	StreamName    string
	SubjectFilter string // e.g., "reflex.events.>"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConsumerConfig returns default JetStream consumer configuration
func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "REFLEX_EVENTS",
		SubjectFilter: "reflex.events.>",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Publisher delivers an event to local subscribers.
type Publisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// EventConsumer relays events published by any instance to the sockets
// connected to this one. Each instance reads through its own ordered,
// ephemeral consumer starting at new messages, so nothing is replayed.
type EventConsumer struct {
	local    Publisher
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   JetStreamConsumerConfig

	consumeCtx jetstream.ConsumeContext
}

// NewEventConsumer creates a new JetStream event consumer
func NewEventConsumer(ctx context.Context, local Publisher, config JetStreamConsumerConfig) (*EventConsumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	consumer, err := js.OrderedConsumer(ctx, config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{config.SubjectFilter},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create ordered consumer: %w", err)
	}

	log.Info().
		Str("stream", config.StreamName).
		Str("filter", config.SubjectFilter).
		Msg("created JetStream consumer")

	return &EventConsumer{
		local:    local,
		nc:       nc,
		js:       js,
		consumer: consumer,
		config:   config,
	}, nil
}

// Subscribe begins delivery. Events stored after it returns are relayed.
func (ec *EventConsumer) Subscribe(ctx context.Context) error {
	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		if err := ec.processMessage(ctx, msg); err != nil {
			log.Error().
				Err(err).
				Str("subject", msg.Subject()).
				Msg("failed to process message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	ec.consumeCtx = consumeCtx
	return nil
}

// Start relays events until ctx is done, subscribing first if needed.
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("stream", ec.config.StreamName).
		Msg("starting JetStream event consumer")

	if ec.consumeCtx == nil {
		if err := ec.Subscribe(ctx); err != nil {
			return err
		}
	}
	defer ec.consumeCtx.Stop()

	<-ctx.Done()
	log.Info().Msg("event consumer shutting down")
	return nil
}

// processMessage relays a single JetStream message
func (ec *EventConsumer) processMessage(ctx context.Context, msg jetstream.Msg) error {
	return ec.relay(ctx, msg.Subject(), msg.Data())
}

// relay decodes and validates an event before handing it to local sockets.
// Events with an unknown type, a malformed payload or a bad game id are
// dropped.
func (ec *EventConsumer) relay(ctx context.Context, subject string, data []byte) error {
	var event events.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if _, err := uuid.Parse(event.GameID); err != nil {
		return fmt.Errorf("event %s has invalid game id %q: %w", event.ID, event.GameID, err)
	}
	if _, err := events.ParsePayload(&event); err != nil {
		return fmt.Errorf("event %s: %w", event.ID, err)
	}

	log.Debug().
		Str("event_id", event.ID).
		Str("game_id", event.GameID).
		Str("event_type", string(event.Type)).
		Str("subject", subject).
		Msg("processing JetStream event")

	return ec.local.Publish(ctx, &event)
}

// Stop gracefully shuts down the event consumer
func (ec *EventConsumer) Stop() error {
	log.Info().Msg("stopping event consumer")
	if ec.nc != nil {
		return ec.nc.Drain()
	}
	return nil
}
