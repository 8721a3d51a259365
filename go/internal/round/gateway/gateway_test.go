package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/reflex/go/internal/models"
	"github.com/mcdev12/reflex/go/internal/presence"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/mcdev12/reflex/go/internal/round/coordinator"
	"github.com/mcdev12/reflex/go/internal/round/events"
	"github.com/mcdev12/reflex/go/internal/round/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "ABC123"

type fakeDispatcher struct {
	mu       sync.Mutex
	commands []coordinator.Command
	result   coordinator.Result
	err      error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, cmd coordinator.Command) (coordinator.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, cmd)
	return d.result, d.err
}

func (d *fakeDispatcher) respond(res coordinator.Result, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.result, d.err = res, err
}

func (d *fakeDispatcher) received() []coordinator.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]coordinator.Command(nil), d.commands...)
}

func (d *fakeDispatcher) has(match func(coordinator.Command) bool) bool {
	for _, cmd := range d.received() {
		if match(cmd) {
			return true
		}
	}
	return false
}

type fakeDirectory struct {
	game         models.Game
	participants map[uuid.UUID]models.Participant
}

func (f *fakeDirectory) GetGameByToken(_ context.Context, token string) (*models.Game, error) {
	if token != f.game.Token {
		return nil, round.ErrGameNotFound
	}
	g := f.game
	return &g, nil
}

func (f *fakeDirectory) GetParticipant(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	p, ok := f.participants[id]
	if !ok {
		return nil, round.ErrParticipantNotFound
	}
	return &p, nil
}

type fakeRounds struct {
	mu    sync.Mutex
	round *models.Round
}

func (f *fakeRounds) set(r *models.Round) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round = r
}

func (f *fakeRounds) CurrentRound(context.Context, uuid.UUID) (models.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.round == nil {
		return models.Round{}, round.ErrRoundNotFound
	}
	return *f.round, nil
}

type fakePresence struct {
	statuses []presence.Status
}

func (f *fakePresence) Snapshot(uuid.UUID) []presence.Status { return f.statuses }

type gatewayHarness struct {
	svc         *gateway.Service
	server      *httptest.Server
	dispatcher  *fakeDispatcher
	directory   *fakeDirectory
	rounds      *fakeRounds
	gameID      uuid.UUID
	participant uuid.UUID
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	gameID := uuid.New()
	participant := uuid.New()
	outsider := uuid.New()

	h := &gatewayHarness{
		dispatcher: &fakeDispatcher{},
		directory: &fakeDirectory{
			game: models.Game{ID: gameID, Token: testToken},
			participants: map[uuid.UUID]models.Participant{
				participant: {ID: participant, GameID: gameID, Name: "ada"},
				outsider:    {ID: outsider, GameID: uuid.New(), Name: "eve"},
			},
		},
		rounds:      &fakeRounds{},
		gameID:      gameID,
		participant: participant,
	}
	h.svc = gateway.NewService(gateway.DefaultConfig(), h.directory, h.rounds, &fakePresence{})
	h.svc.Connections().SetDispatcher(h.dispatcher)

	mux := http.NewServeMux()
	h.svc.RegisterRoutes(mux)
	h.server = httptest.NewServer(mux)
	t.Cleanup(func() {
		h.svc.Connections().Close()
		h.server.Close()
	})
	return h
}

func (h *gatewayHarness) wsURL(params url.Values) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/game?" + params.Encode()
}

func (h *gatewayHarness) dial(t *testing.T, params url.Values) *websocket.Conn {
	t.Helper()
	before := h.svc.Connections().GetConnectionStats().TotalConnections
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(params), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool {
		return h.svc.Connections().GetConnectionStats().TotalConnections == before+1
	}, time.Second, 5*time.Millisecond)
	return conn
}

func (h *gatewayHarness) dialParticipant(t *testing.T) *websocket.Conn {
	t.Helper()
	return h.dial(t, url.Values{
		"token":          {strings.ToLower(testToken)},
		"role":           {"participant"},
		"participant_id": {h.participant.String()},
	})
}

func (h *gatewayHarness) dialAdmin(t *testing.T) *websocket.Conn {
	t.Helper()
	return h.dial(t, url.Values{"token": {testToken}, "role": {"admin"}})
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(gateway.ClientMessage{Type: msgType, Data: raw}))
}

type reply struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readReply(t *testing.T, conn *websocket.Conn) reply {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var r reply
	require.NoError(t, conn.ReadJSON(&r))
	return r
}

func readError(t *testing.T, conn *websocket.Conn) gateway.ErrorData {
	t.Helper()
	r := readReply(t, conn)
	require.Equal(t, gateway.MsgError, r.Type)
	var d gateway.ErrorData
	require.NoError(t, json.Unmarshal(r.Data, &d))
	return d
}

func TestParticipantReceivesGameEvents(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dialParticipant(t)

	require.Eventually(t, func() bool {
		return h.dispatcher.has(func(cmd coordinator.Command) bool {
			c, ok := cmd.(coordinator.Connect)
			return ok && c.ParticipantID == h.participant && c.GameID == h.gameID
		})
	}, time.Second, 5*time.Millisecond)

	other, err := events.New(uuid.New(), events.TypeRoundCreated, events.RoundCreatedPayload{RoundID: "x"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.svc.Connections().Publish(context.Background(), other))

	ev, err := events.New(h.gameID, events.TypeRoundStarted, events.RoundStartedPayload{RoundID: "r1", CountdownMs: 1500}, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.svc.Connections().Publish(context.Background(), ev))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, events.TypeRoundStarted, got.Type)

	p, err := events.ParsePayload(&got)
	require.NoError(t, err)
	assert.Equal(t, 1500, p.(*events.RoundStartedPayload).CountdownMs)
}

func TestPublishRejectsMalformedGameID(t *testing.T) {
	h := newGatewayHarness(t)
	err := h.svc.Connections().Publish(context.Background(), &events.Event{GameID: "nope", Type: events.TypeRoundResult})
	assert.Error(t, err)
}

func TestButtonClickIsFlooredAndAcked(t *testing.T) {
	h := newGatewayHarness(t)
	roundID := uuid.New()
	h.dispatcher.respond(coordinator.Result{Round: &models.Round{ID: roundID}}, nil)
	conn := h.dialParticipant(t)

	send(t, conn, gateway.MsgButtonClick, map[string]any{"round_id": roundID, "reaction_time": 250.9})

	r := readReply(t, conn)
	require.Equal(t, gateway.MsgAck, r.Type)
	var ack gateway.AckData
	require.NoError(t, json.Unmarshal(r.Data, &ack))
	assert.Equal(t, gateway.MsgButtonClick, ack.Command)
	assert.Equal(t, roundID.String(), ack.RoundID)

	assert.True(t, h.dispatcher.has(func(cmd coordinator.Command) bool {
		c, ok := cmd.(coordinator.SubmitReaction)
		return ok && c.RoundID == roundID && c.ParticipantID == h.participant && c.ReactionTimeMs == 250
	}))
}

func TestRejectedCommandRepliesWithCode(t *testing.T) {
	h := newGatewayHarness(t)
	h.dispatcher.respond(coordinator.Result{}, round.ErrDuplicateOutcome)
	conn := h.dialParticipant(t)

	send(t, conn, gateway.MsgEliminate, map[string]any{"round_id": uuid.New()})
	assert.Equal(t, "ALREADY_CLICKED", readError(t, conn).Code)
}

func TestStorageFailureHidesDetails(t *testing.T) {
	h := newGatewayHarness(t)
	h.dispatcher.respond(coordinator.Result{}, round.ErrStorageFailure)
	conn := h.dialAdmin(t)

	send(t, conn, gateway.MsgStartRound, map[string]any{"round_id": uuid.New()})
	d := readError(t, conn)
	assert.Equal(t, "SERVER_ERROR", d.Code)
	assert.Equal(t, "internal server error", d.Message)
}

func TestRoleIsEnforced(t *testing.T) {
	h := newGatewayHarness(t)
	participant := h.dialParticipant(t)
	admin := h.dialAdmin(t)

	send(t, participant, gateway.MsgStartRound, map[string]any{"round_id": uuid.New()})
	assert.Equal(t, "FORBIDDEN", readError(t, participant).Code)

	send(t, admin, gateway.MsgButtonClick, map[string]any{"round_id": uuid.New(), "reaction_time": 200})
	assert.Equal(t, "FORBIDDEN", readError(t, admin).Code)

	assert.False(t, h.dispatcher.has(func(cmd coordinator.Command) bool {
		switch cmd.(type) {
		case coordinator.StartRound, coordinator.SubmitReaction:
			return true
		}
		return false
	}))
}

func TestMalformedFrames(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dialParticipant(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "INVALID_MESSAGE", readError(t, conn).Code)

	send(t, conn, "round:teleport", map[string]any{})
	assert.Equal(t, "INVALID_MESSAGE", readError(t, conn).Code)

	send(t, conn, gateway.MsgButtonClick, map[string]any{"round_id": uuid.New(), "reaction_time": 10001})
	assert.Equal(t, "INVALID_REACTION_TIME", readError(t, conn).Code)
}

func TestAdminCreateRound(t *testing.T) {
	h := newGatewayHarness(t)
	roundID := uuid.New()
	h.dispatcher.respond(coordinator.Result{Round: &models.Round{ID: roundID}}, nil)
	conn := h.dialAdmin(t)
	roster := []uuid.UUID{uuid.New(), uuid.New()}

	send(t, conn, gateway.MsgCreateRound, map[string]any{"participant_ids": roster})
	assert.Equal(t, gateway.MsgAck, readReply(t, conn).Type)

	assert.True(t, h.dispatcher.has(func(cmd coordinator.Command) bool {
		c, ok := cmd.(coordinator.CreateRound)
		return ok && c.GameID == h.gameID && assert.ObjectsAreEqual(roster, c.Roster)
	}))
}

func TestClosingSocketReportsDisconnect(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dialParticipant(t)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	require.Eventually(t, func() bool {
		return h.dispatcher.has(func(cmd coordinator.Command) bool {
			c, ok := cmd.(coordinator.Disconnect)
			return ok && c.ParticipantID == h.participant
		})
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.svc.Connections().GetConnectionStats().TotalConnections == 0
	}, time.Second, 5*time.Millisecond)
}

func TestConnectionIsRefused(t *testing.T) {
	h := newGatewayHarness(t)
	var outsider uuid.UUID
	for id, p := range h.directory.participants {
		if p.GameID != h.gameID {
			outsider = id
		}
	}

	tests := []struct {
		name   string
		params url.Values
		status int
	}{
		{"malformed token", url.Values{"token": {"ab"}}, http.StatusBadRequest},
		{"unknown game", url.Values{"token": {"ZZZ999"}, "role": {"admin"}}, http.StatusNotFound},
		{"bad role", url.Values{"token": {testToken}, "role": {"spectator"}}, http.StatusBadRequest},
		{"missing participant", url.Values{"token": {testToken}}, http.StatusBadRequest},
		{"unknown participant", url.Values{"token": {testToken}, "participant_id": {uuid.NewString()}}, http.StatusNotFound},
		{"participant of another game", url.Values{"token": {testToken}, "participant_id": {outsider.String()}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(tt.params), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.Empty(t, h.dispatcher.received())
}

func TestStatsEndpoint(t *testing.T) {
	h := newGatewayHarness(t)
	h.dialParticipant(t)
	h.dialAdmin(t)

	resp, err := http.Get(h.server.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats gateway.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 2, stats.TotalConnections)
	assert.Equal(t, 1, stats.ActiveGames)
	assert.Equal(t, 2, stats.GameConnections[h.gameID.String()])
}

func TestRoundStateEndpoint(t *testing.T) {
	h := newGatewayHarness(t)

	get := func(t *testing.T, token string) (*http.Response, gateway.GameStateResponse) {
		t.Helper()
		resp, err := http.Get(h.server.URL + "/api/games/" + token + "/round")
		require.NoError(t, err)
		defer resp.Body.Close()
		var body gateway.GameStateResponse
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		}
		return resp, body
	}

	resp, body := get(t, testToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, h.gameID.String(), body.GameID)
	assert.Nil(t, body.Round)
	assert.NotNil(t, body.Presence)

	current := &models.Round{ID: uuid.New(), GameID: h.gameID, Status: models.RoundStatusInProgress}
	h.rounds.set(current)
	_, body = get(t, testToken)
	require.NotNil(t, body.Round)
	assert.Equal(t, current.ID, body.Round.ID)
	assert.Equal(t, models.RoundStatusInProgress, body.Round.Status)

	resp, _ = get(t, "QQQ999")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = get(t, "x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
