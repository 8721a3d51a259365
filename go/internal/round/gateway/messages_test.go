package gateway

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/mcdev12/reflex/go/internal/round/coordinator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, typ string, data string) ClientMessage {
	t.Helper()
	return ClientMessage{Type: typ, Data: json.RawMessage(data)}
}

func TestDecodeParticipantFrames(t *testing.T) {
	gameID, pid, roundID := uuid.New(), uuid.New(), uuid.New()
	c := &Connection{GameID: gameID, ParticipantID: pid, Role: RoleParticipant}

	t.Run("heartbeat with timestamp", func(t *testing.T) {
		cmd, err := decodeCommand(c, frame(t, MsgHeartbeat, `{"timestamp":1700000000123}`), 10000)
		require.NoError(t, err)
		hb := cmd.(coordinator.Heartbeat)
		assert.Equal(t, pid, hb.ParticipantID)
		assert.Equal(t, gameID, hb.GameID)
		require.NotNil(t, hb.ClientTime)
		assert.Equal(t, time.UnixMilli(1700000000123), *hb.ClientTime)
	})

	t.Run("heartbeat without data", func(t *testing.T) {
		cmd, err := decodeCommand(c, ClientMessage{Type: MsgHeartbeat}, 10000)
		require.NoError(t, err)
		assert.Nil(t, cmd.(coordinator.Heartbeat).ClientTime)
	})

	t.Run("button click", func(t *testing.T) {
		data := fmt.Sprintf(`{"round_id":%q,"reaction_time":0.4}`, roundID)
		cmd, err := decodeCommand(c, frame(t, MsgButtonClick, data), 10000)
		require.NoError(t, err)
		assert.Equal(t, coordinator.SubmitReaction{RoundID: roundID, ParticipantID: pid, ReactionTimeMs: 0}, cmd)
	})

	t.Run("button click without reaction time", func(t *testing.T) {
		data := fmt.Sprintf(`{"round_id":%q}`, roundID)
		_, err := decodeCommand(c, frame(t, MsgButtonClick, data), 10000)
		assert.ErrorIs(t, err, round.ErrInvalidReactionTime)
	})

	t.Run("eliminate", func(t *testing.T) {
		data := fmt.Sprintf(`{"round_id":%q}`, roundID)
		cmd, err := decodeCommand(c, frame(t, MsgEliminate, data), 10000)
		require.NoError(t, err)
		assert.Equal(t, coordinator.SubmitElimination{RoundID: roundID, ParticipantID: pid}, cmd)
	})

	t.Run("bad round id", func(t *testing.T) {
		_, err := decodeCommand(c, frame(t, MsgEliminate, `{"round_id":"nope"}`), 10000)
		assert.ErrorIs(t, err, errInvalidMessage)
		assert.Equal(t, "INVALID_MESSAGE", errorCode(err))
	})
}

func TestDecodeAdminFrames(t *testing.T) {
	gameID, roundID := uuid.New(), uuid.New()
	roster := []uuid.UUID{uuid.New(), uuid.New()}
	c := &Connection{GameID: gameID, Role: RoleAdmin}
	rosterJSON, err := json.Marshal(map[string]any{"round_id": roundID, "participant_ids": roster})
	require.NoError(t, err)
	ref := fmt.Sprintf(`{"round_id":%q}`, roundID)

	tests := []struct {
		typ  string
		data string
		want coordinator.Command
	}{
		{MsgCreateRound, string(rosterJSON), coordinator.CreateRound{GameID: gameID, Roster: roster}},
		{MsgReplaceRoster, string(rosterJSON), coordinator.ReplaceRoster{GameID: gameID, RoundID: roundID, Roster: roster}},
		{MsgStartRound, ref, coordinator.StartRound{GameID: gameID, RoundID: roundID}},
		{MsgStopRound, ref, coordinator.StopRound{GameID: gameID, RoundID: roundID}},
		{MsgDiscardRound, ref, coordinator.DiscardRound{GameID: gameID, RoundID: roundID}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			cmd, err := decodeCommand(c, frame(t, tt.typ, tt.data), 10000)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
		})
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "FORBIDDEN", errorCode(fmt.Errorf("%w: x", errForbidden)))
	assert.Equal(t, "NOT_IN_ROUND", errorCode(round.ErrNotInRoster))
	assert.Equal(t, "INVALID_ROUND_STATE", errorCode(round.ErrInvalidState))
}
