package stream_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/round/events"
	"github.com/mcdev12/reflex/go/internal/round/gateway"
	"github.com/mcdev12/reflex/go/internal/round/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []*events.Event
}

func (c *collector) Publish(_ context.Context, ev *events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.ID
	}
	return out
}

func TestSubject(t *testing.T) {
	gameID := uuid.New()
	ev, err := events.New(gameID, events.TypeRoundResult, events.RoundResultPayload{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "reflex.events."+gameID.String()+".round.result", stream.Subject("reflex.events", ev))
}

func TestPublishRelaysInOrder(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := stream.DefaultJetStreamConfig()
	cfg.URL = url
	cfg.StreamName = "REFLEX_TEST_" + uuid.NewString()[:8]
	cfg.SubjectPrefix = "reflex.test." + uuid.NewString()[:8]

	pub, err := stream.NewJetStreamPublisher(ctx, cfg, nil)
	require.NoError(t, err)
	defer pub.Close()

	local := &collector{}
	consumerCfg := gateway.DefaultJetStreamConsumerConfig()
	consumerCfg.URL = url
	consumerCfg.StreamName = cfg.StreamName
	consumerCfg.SubjectFilter = cfg.SubjectPrefix + ".>"
	consumer, err := gateway.NewEventConsumer(ctx, local, consumerCfg)
	require.NoError(t, err)
	defer consumer.Stop()
	require.NoError(t, consumer.Subscribe(ctx))
	go consumer.Start(ctx)

	gameID := uuid.New()
	var want []string
	for _, typ := range []events.Type{events.TypeRoundCreated, events.TypeRoundStarted, events.TypeRoundResult} {
		ev, err := events.New(gameID, typ, map[string]string{"round_id": "r"}, time.Now())
		require.NoError(t, err)
		require.NoError(t, pub.Publish(ctx, ev))
		want = append(want, ev.ID)
	}

	require.Eventually(t, func() bool { return len(local.ids()) == len(want) }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, want, local.ids())
}
