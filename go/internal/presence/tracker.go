// Package presence tracks which participants are online. Every participant
// has its own record and lock, so heartbeats for different participants
// never contend.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/clock"
	"github.com/mcdev12/reflex/go/internal/round/events"
	"github.com/mcdev12/reflex/go/internal/round/metrics"
	"github.com/rs/zerolog/log"
)

// Emitter receives presence events.
type Emitter interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Mirror copies presence to external storage for other processes.
type Mirror interface {
	MirrorPresence(ctx context.Context, status Status) error
}

// Mirrors copies presence to each mirror in turn.
type Mirrors []Mirror

func (ms Mirrors) MirrorPresence(ctx context.Context, status Status) error {
	var errs []error
	for _, m := range ms {
		if err := m.MirrorPresence(ctx, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OfflineHandler is told about every online -> offline transition.
type OfflineHandler func(ctx context.Context, participantID uuid.UUID)

// Status is a point-in-time view of one participant's presence.
type Status struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	GameID        uuid.UUID `json:"game_id"`
	Online        bool      `json:"online"`
	LastSeen      time.Time `json:"last_seen"`
	LatencyMs     *int      `json:"latency_ms,omitempty"`
	Connections   int       `json:"connections"`
}

// Config holds presence settings.
type Config struct {
	HeartbeatTimeout time.Duration
	MirrorTimeout    time.Duration
}

// DefaultConfig returns default presence configuration
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 30 * time.Second,
		MirrorTimeout:    2 * time.Second,
	}
}

type record struct {
	mu        sync.Mutex
	gameID    uuid.UUID
	online    bool
	lastSeen  time.Time
	latencyMs *int
	conns     int
	timer     *clock.Handle
	gen       uint64 // bumped whenever the timeout is re-armed or cleared
}

// Tracker owns all presence records of this process.
type Tracker struct {
	cfg     Config
	clock   clock.Clock
	emitter Emitter
	mirror  Mirror
	metrics metrics.Collector

	offlineMu sync.RWMutex
	onOffline OfflineHandler

	// timers live until Close
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	records map[uuid.UUID]*record
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithMirror(m Mirror) Option {
	return func(t *Tracker) { t.mirror = m }
}

func WithMetrics(c metrics.Collector) Option {
	return func(t *Tracker) { t.metrics = c }
}

// NewTracker creates a presence tracker.
func NewTracker(cfg Config, clk clock.Clock, emitter Emitter, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		cfg:     cfg,
		clock:   clk,
		emitter: emitter,
		metrics: metrics.NoOp{},
		ctx:     ctx,
		cancel:  cancel,
		records: make(map[uuid.UUID]*record),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnOffline registers the handler told about offline transitions. The
// handler runs after the participant's record is unlocked.
func (t *Tracker) OnOffline(h OfflineHandler) {
	t.offlineMu.Lock()
	defer t.offlineMu.Unlock()
	t.onOffline = h
}

// Connect registers a live connection for the participant, marks it online
// and arms the heartbeat timeout.
func (t *Tracker) Connect(ctx context.Context, gameID, participantID uuid.UUID) Status {
	rec := t.record(participantID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.conns++
	t.refreshLocked(ctx, participantID, gameID, rec, nil)

	log.Info().
		Str("participant_id", participantID.String()).
		Str("game_id", gameID.String()).
		Int("connections", rec.conns).
		Msg("participant connected")

	return statusOf(participantID, rec)
}

// Heartbeat refreshes last-seen and re-arms the timeout. clientTime, when
// set, is the client's send time and yields a latency estimate.
func (t *Tracker) Heartbeat(ctx context.Context, gameID, participantID uuid.UUID, clientTime *time.Time) Status {
	rec := t.record(participantID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	t.refreshLocked(ctx, participantID, gameID, rec, clientTime)

	log.Debug().
		Str("participant_id", participantID.String()).
		Time("last_seen", rec.lastSeen).
		Msg("heartbeat received")

	return statusOf(participantID, rec)
}

// Disconnect drops one live connection. The participant goes offline when
// its last connection closes.
func (t *Tracker) Disconnect(ctx context.Context, participantID uuid.UUID) {
	rec := t.lookup(participantID)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if rec.conns > 0 {
		rec.conns--
	}
	if rec.conns > 0 || !rec.online {
		rec.mu.Unlock()
		return
	}
	t.offlineLocked(ctx, participantID, rec, events.ReasonDisconnect)
	rec.mu.Unlock()

	t.notifyOffline(ctx, participantID)
}

// markOffline moves an online participant offline regardless of open
// connections. A non-nil gen must match the record's timer generation, so a
// timeout that lost the race with a heartbeat does nothing.
func (t *Tracker) markOffline(ctx context.Context, participantID uuid.UUID, reason string, gen *uint64) {
	rec := t.lookup(participantID)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if !rec.online || (gen != nil && rec.gen != *gen) {
		rec.mu.Unlock()
		return
	}
	if reason == events.ReasonTimeout {
		log.Info().
			Str("participant_id", participantID.String()).
			Dur("timeout", t.cfg.HeartbeatTimeout).
			Msg("heartbeat timeout")
	}
	t.offlineLocked(ctx, participantID, rec, reason)
	rec.mu.Unlock()

	t.notifyOffline(ctx, participantID)
}

// IsOnline reports the participant's flag. known is false when this process
// has never seen the participant.
func (t *Tracker) IsOnline(participantID uuid.UUID) (online, known bool) {
	rec := t.lookup(participantID)
	if rec == nil {
		return false, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.online, true
}

// Status returns the participant's presence.
func (t *Tracker) Status(participantID uuid.UUID) (Status, bool) {
	rec := t.lookup(participantID)
	if rec == nil {
		return Status{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return statusOf(participantID, rec), true
}

// Snapshot returns the presence of every known participant of a game.
func (t *Tracker) Snapshot(gameID uuid.UUID) []Status {
	t.mu.Lock()
	ids := make([]uuid.UUID, 0, len(t.records))
	recs := make([]*record, 0, len(t.records))
	for id, rec := range t.records {
		ids = append(ids, id)
		recs = append(recs, rec)
	}
	t.mu.Unlock()

	var out []Status
	for i, rec := range recs {
		rec.mu.Lock()
		if rec.gameID == gameID {
			out = append(out, statusOf(ids[i], rec))
		}
		rec.mu.Unlock()
	}
	return out
}

// ActiveTimers returns how many heartbeat timeouts are armed.
func (t *Tracker) ActiveTimers() int {
	t.mu.Lock()
	recs := make([]*record, 0, len(t.records))
	for _, rec := range t.records {
		recs = append(recs, rec)
	}
	t.mu.Unlock()

	n := 0
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.timer != nil {
			n++
		}
		rec.mu.Unlock()
	}
	return n
}

// Close cancels every pending timeout.
func (t *Tracker) Close() {
	t.cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.records {
		rec.mu.Lock()
		rec.timer.Stop()
		rec.timer = nil
		rec.gen++
		rec.mu.Unlock()
	}
	log.Info().Int("participants", len(t.records)).Msg("presence tracker closed")
}

func (t *Tracker) refreshLocked(ctx context.Context, participantID, gameID uuid.UUID, rec *record, clientTime *time.Time) {
	now := t.clock.Now()
	wasOnline := rec.online

	rec.gameID = gameID
	rec.online = true
	rec.lastSeen = now
	if clientTime != nil {
		latency := int(now.Sub(*clientTime).Milliseconds())
		if latency < 0 {
			latency = 0
		}
		rec.latencyMs = &latency
	}
	t.armLocked(participantID, rec)

	if !wasOnline {
		t.metrics.RecordPresence(true, "")
		t.emit(ctx, gameID, events.TypePresenceOnline, events.PresencePayload{
			ParticipantID: participantID.String(),
			LatencyMs:     rec.latencyMs,
		})
	}
	t.mirrorLocked(ctx, participantID, rec)
}

// armLocked cancels the pending timeout and schedules a fresh one.
func (t *Tracker) armLocked(participantID uuid.UUID, rec *record) {
	rec.timer.Stop()
	rec.gen++
	gen := rec.gen
	rec.timer = clock.Schedule(t.ctx, t.clock, t.cfg.HeartbeatTimeout, func() {
		t.expire(participantID, gen)
	})
}

func (t *Tracker) expire(participantID uuid.UUID, gen uint64) {
	t.markOffline(t.ctx, participantID, events.ReasonTimeout, &gen)
}

func (t *Tracker) offlineLocked(ctx context.Context, participantID uuid.UUID, rec *record, reason string) {
	rec.online = false
	rec.timer.Stop()
	rec.timer = nil
	rec.gen++

	t.metrics.RecordPresence(false, reason)
	t.emit(ctx, rec.gameID, events.TypePresenceOffline, events.PresencePayload{
		ParticipantID: participantID.String(),
		Reason:        reason,
	})
	t.mirrorLocked(ctx, participantID, rec)

	log.Info().
		Str("participant_id", participantID.String()).
		Str("game_id", rec.gameID.String()).
		Str("reason", reason).
		Msg("participant offline")
}

func (t *Tracker) notifyOffline(ctx context.Context, participantID uuid.UUID) {
	t.offlineMu.RLock()
	h := t.onOffline
	t.offlineMu.RUnlock()
	if h != nil {
		h(ctx, participantID)
	}
}

func (t *Tracker) emit(ctx context.Context, gameID uuid.UUID, typ events.Type, payload events.PresencePayload) {
	if t.emitter == nil {
		return
	}
	ev, err := events.New(gameID, typ, payload, t.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to build presence event")
		return
	}
	if err := t.emitter.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to publish presence event")
	}
}

func (t *Tracker) mirrorLocked(ctx context.Context, participantID uuid.UUID, rec *record) {
	if t.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.MirrorTimeout)
	defer cancel()
	if err := t.mirror.MirrorPresence(mctx, statusOf(participantID, rec)); err != nil {
		log.Warn().Err(err).Str("participant_id", participantID.String()).Msg("failed to mirror presence")
	}
}

func (t *Tracker) record(participantID uuid.UUID) *record {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[participantID]
	if !ok {
		rec = &record{}
		t.records[participantID] = rec
	}
	return rec
}

func (t *Tracker) lookup(participantID uuid.UUID) *record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records[participantID]
}

func statusOf(participantID uuid.UUID, rec *record) Status {
	s := Status{
		ParticipantID: participantID,
		GameID:        rec.gameID,
		Online:        rec.online,
		LastSeen:      rec.lastSeen,
		Connections:   rec.conns,
	}
	if rec.latencyMs != nil {
		v := *rec.latencyMs
		s.LatencyMs = &v
	}
	return s
}
