package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	gameID := uuid.New()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	ev, err := New(gameID, TypeRoundStarted, RoundStartedPayload{RoundID: "r1", CountdownMs: 2000, ServerTimestamp: 42}, at)
	require.NoError(t, err)

	assert.Equal(t, gameID.String(), ev.GameID)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	_, err = uuid.Parse(ev.ID)
	assert.NoError(t, err)

	payload, err := ParsePayload(ev)
	require.NoError(t, err)
	started, ok := payload.(*RoundStartedPayload)
	require.True(t, ok)
	assert.Equal(t, 2000, started.CountdownMs)
}

func TestParsePayloadUnknownType(t *testing.T) {
	_, err := ParsePayload(&Event{Type: "round.paused", Data: []byte(`{}`)})
	assert.Error(t, err)
	assert.False(t, Type("round.paused").Valid())
	assert.True(t, TypePresenceOffline.Valid())
}
