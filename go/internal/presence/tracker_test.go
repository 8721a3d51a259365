package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reflex/go/internal/round/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.Event
}

func (e *recordingEmitter) Publish(_ context.Context, ev *events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) types() []events.Type {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.Type, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

func (e *recordingEmitter) last(t *testing.T) *events.PresencePayload {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.events)
	p, err := events.ParsePayload(e.events[len(e.events)-1])
	require.NoError(t, err)
	return p.(*events.PresencePayload)
}

type recordingMirror struct {
	mu       sync.Mutex
	statuses []Status
}

func (m *recordingMirror) MirrorPresence(_ context.Context, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, s)
	return nil
}

type offlineCalls struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (o *offlineCalls) handle(_ context.Context, id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ids = append(o.ids, id)
}

func (o *offlineCalls) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ids)
}

func newTestTracker(t *testing.T) (*Tracker, *clockwork.FakeClock, *recordingEmitter, *offlineCalls) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	em := &recordingEmitter{}
	calls := &offlineCalls{}
	tr := NewTracker(DefaultConfig(), fc, em)
	tr.OnOffline(calls.handle)
	t.Cleanup(tr.Close)
	return tr, fc, em, calls
}

func TestConnectAndTimeout(t *testing.T) {
	tr, fc, em, calls := newTestTracker(t)
	ctx := context.Background()
	game, p := uuid.New(), uuid.New()

	st := tr.Connect(ctx, game, p)
	assert.True(t, st.Online)
	assert.Equal(t, 1, st.Connections)
	assert.Equal(t, []events.Type{events.TypePresenceOnline}, em.types())
	assert.Equal(t, 1, tr.ActiveTimers())

	fc.Advance(29 * time.Second)
	assert.Never(t, func() bool { return calls.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return calls.count() == 1 }, time.Second, 5*time.Millisecond)

	online, known := tr.IsOnline(p)
	assert.True(t, known)
	assert.False(t, online)
	assert.Equal(t, []events.Type{events.TypePresenceOnline, events.TypePresenceOffline}, em.types())
	assert.Equal(t, events.ReasonTimeout, em.last(t).Reason)
	assert.Equal(t, 0, tr.ActiveTimers())

	fc.Advance(time.Minute)
	assert.Never(t, func() bool { return calls.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestHeartbeatReschedulesTimeout(t *testing.T) {
	tr, fc, _, calls := newTestTracker(t)
	ctx := context.Background()
	game, p := uuid.New(), uuid.New()

	tr.Connect(ctx, game, p)
	fc.Advance(20 * time.Second)
	tr.Heartbeat(ctx, game, p, nil)
	fc.Advance(20 * time.Second)

	assert.Never(t, func() bool { return calls.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	online, _ := tr.IsOnline(p)
	assert.True(t, online)

	fc.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return calls.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHeartbeatLatency(t *testing.T) {
	tr, fc, _, _ := newTestTracker(t)
	ctx := context.Background()

	sent := fc.Now().Add(-120 * time.Millisecond)
	st := tr.Heartbeat(ctx, uuid.New(), uuid.New(), &sent)
	require.NotNil(t, st.LatencyMs)
	assert.Equal(t, 120, *st.LatencyMs)

	future := fc.Now().Add(time.Second)
	st = tr.Heartbeat(ctx, uuid.New(), uuid.New(), &future)
	require.NotNil(t, st.LatencyMs)
	assert.Equal(t, 0, *st.LatencyMs)
}

func TestDisconnectWaitsForLastConnection(t *testing.T) {
	tr, _, em, calls := newTestTracker(t)
	ctx := context.Background()
	game, p := uuid.New(), uuid.New()

	tr.Connect(ctx, game, p)
	tr.Connect(ctx, game, p)
	assert.Equal(t, []events.Type{events.TypePresenceOnline}, em.types())

	tr.Disconnect(ctx, p)
	online, _ := tr.IsOnline(p)
	assert.True(t, online)
	assert.Equal(t, 0, calls.count())

	tr.Disconnect(ctx, p)
	online, _ = tr.IsOnline(p)
	assert.False(t, online)
	assert.Equal(t, 1, calls.count())
	assert.Equal(t, events.ReasonDisconnect, em.last(t).Reason)

	tr.Disconnect(ctx, p)
	assert.Equal(t, 1, calls.count())
}

func TestForcedOfflineIgnoresOpenConnections(t *testing.T) {
	tr, _, _, calls := newTestTracker(t)
	ctx := context.Background()
	p := uuid.New()

	tr.Connect(ctx, uuid.New(), p)
	tr.Connect(ctx, uuid.New(), p)
	tr.markOffline(ctx, p, events.ReasonTimeout, nil)
	tr.markOffline(ctx, p, events.ReasonTimeout, nil)

	assert.Equal(t, 1, calls.count())
	tr.markOffline(ctx, uuid.New(), events.ReasonTimeout, nil)
	assert.Equal(t, 1, calls.count())
}

func TestStaleTimeoutIsIgnored(t *testing.T) {
	tr, _, _, calls := newTestTracker(t)
	ctx := context.Background()
	p := uuid.New()

	tr.Connect(ctx, uuid.New(), p)
	tr.expire(p, 0)
	online, _ := tr.IsOnline(p)
	assert.True(t, online)
	assert.Zero(t, calls.count())
}

func TestParticipantsAreIndependent(t *testing.T) {
	tr, fc, _, calls := newTestTracker(t)
	ctx := context.Background()
	game := uuid.New()
	a, b := uuid.New(), uuid.New()

	tr.Connect(ctx, game, a)
	fc.Advance(15 * time.Second)
	tr.Connect(ctx, game, b)
	fc.Advance(15 * time.Second)

	require.Eventually(t, func() bool { return calls.count() == 1 }, time.Second, 5*time.Millisecond)
	onlineA, _ := tr.IsOnline(a)
	onlineB, _ := tr.IsOnline(b)
	assert.False(t, onlineA)
	assert.True(t, onlineB)

	snap := tr.Snapshot(game)
	assert.Len(t, snap, 2)
	assert.Empty(t, tr.Snapshot(uuid.New()))
}

func TestUnknownParticipant(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)

	online, known := tr.IsOnline(uuid.New())
	assert.False(t, online)
	assert.False(t, known)

	_, ok := tr.Status(uuid.New())
	assert.False(t, ok)
}

func TestMirrorReceivesTransitions(t *testing.T) {
	fc := clockwork.NewFakeClock()
	mirror := &recordingMirror{}
	tr := NewTracker(DefaultConfig(), fc, nil, WithMirror(mirror))
	defer tr.Close()
	ctx := context.Background()
	p := uuid.New()

	tr.Connect(ctx, uuid.New(), p)
	tr.Disconnect(ctx, p)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	require.Len(t, mirror.statuses, 2)
	assert.True(t, mirror.statuses[0].Online)
	assert.False(t, mirror.statuses[1].Online)
}

func TestCloseStopsTimers(t *testing.T) {
	fc := clockwork.NewFakeClock()
	calls := &offlineCalls{}
	tr := NewTracker(DefaultConfig(), fc, nil)
	tr.OnOffline(calls.handle)

	tr.Connect(context.Background(), uuid.New(), uuid.New())
	tr.Close()
	assert.Equal(t, 0, tr.ActiveTimers())

	fc.Advance(time.Minute)
	assert.Never(t, func() bool { return calls.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

type failingMirror struct{}

func (failingMirror) MirrorPresence(context.Context, Status) error {
	return errors.New("mirror down")
}

func TestMirrorsFanOut(t *testing.T) {
	a, b := &recordingMirror{}, &recordingMirror{}
	s := Status{ParticipantID: uuid.New(), GameID: uuid.New(), Online: true}

	err := Mirrors{a, failingMirror{}, b}.MirrorPresence(context.Background(), s)
	assert.EqualError(t, err, "mirror down")
	assert.Equal(t, []Status{s}, a.statuses)
	assert.Equal(t, []Status{s}, b.statuses)
}
