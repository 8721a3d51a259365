// Package coordinator drives rounds through their lifecycle. It is the only
// caller of the round state machine's mutating operations and of the winner
// resolver. Every command for a round runs under that round's lock, and the
// events it produces are published before the lock is released, so
// subscribers observe each round's events in transition order.
//
// The store is the source of truth. A round is reloaded under its lock before
// every command, so several coordinators may share one store.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/clock"
	"github.com/mcdev12/reflex/go/internal/models"
	"github.com/mcdev12/reflex/go/internal/presence"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/mcdev12/reflex/go/internal/round/events"
	"github.com/mcdev12/reflex/go/internal/round/metrics"
	"github.com/rs/zerolog/log"
)

// Store defines what the coordinator needs from the persistence layer.
// Every method is synchronous; any error is surfaced as a storage failure.
type Store interface {
	CreateRound(ctx context.Context, gameID uuid.UUID, roster []uuid.UUID) (*models.Round, error)
	GetRound(ctx context.Context, roundID uuid.UUID) (*models.Round, error)
	// GetActiveRound returns round.ErrRoundNotFound when the game has no
	// waiting or in-progress round.
	GetActiveRound(ctx context.Context, gameID uuid.UUID) (*models.Round, error)
	// GetLatestRound returns the game's most recently created round, or
	// round.ErrRoundNotFound.
	GetLatestRound(ctx context.Context, gameID uuid.UUID) (*models.Round, error)
	ReplaceRoster(ctx context.Context, roundID uuid.UUID, roster []uuid.UUID) error
	// SaveOutcome writes the outcome and, when completion is set, the
	// completing status update in the same transaction. It returns
	// round.ErrStaleRound when the stored round is not in progress or its
	// outcome count disagrees with completion.
	SaveOutcome(ctx context.Context, roundID uuid.UUID, outcome models.Outcome, completion *models.RoundUpdate) error
	UpdateRoundStatus(ctx context.Context, update models.RoundUpdate) error
	ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error)
}

// Emitter publishes events to a game's subscribers.
type Emitter interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Presence is the slice of the presence tracker the coordinator uses.
type Presence interface {
	Connect(ctx context.Context, gameID, participantID uuid.UUID) presence.Status
	Heartbeat(ctx context.Context, gameID, participantID uuid.UUID, clientTime *time.Time) presence.Status
	Disconnect(ctx context.Context, participantID uuid.UUID)
	IsOnline(participantID uuid.UUID) (online, known bool)
}

// Config holds round tuning.
type Config struct {
	CountdownMinMs    int
	CountdownMaxMs    int
	MaxReactionTimeMs int
	SuspiciousBelowMs int
}

// DefaultConfig returns default round configuration
func DefaultConfig() Config {
	return Config{
		CountdownMinMs:    round.MinCountdownMs,
		CountdownMaxMs:    round.MaxCountdownMs,
		MaxReactionTimeMs: round.MaxReactionTimeMs,
		SuspiciousBelowMs: round.SuspiciousReactionMs,
	}
}

// Validate checks the configured bounds.
func (c Config) Validate() error {
	if c.CountdownMinMs <= 0 || c.CountdownMaxMs < c.CountdownMinMs {
		return fmt.Errorf("countdown bounds [%d, %d] are invalid", c.CountdownMinMs, c.CountdownMaxMs)
	}
	if c.MaxReactionTimeMs <= 0 {
		return fmt.Errorf("max reaction time %d is invalid", c.MaxReactionTimeMs)
	}
	return nil
}

type roundEntry struct {
	mu        sync.Mutex
	machine   *round.Machine
	countdown *clock.Handle
	attempt   uint64 // bumped on every start, stop and finish
}

// Coordinator orchestrates all rounds of this process.
type Coordinator struct {
	store    Store
	emitter  Emitter
	presence Presence
	clock    clock.Clock
	metrics  metrics.Collector
	cfg      Config
	draw     func() int

	// countdown timers live until Close
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the maps below. It is never held while acquiring a
	// roundEntry lock. Only active rounds are cached.
	mu        sync.Mutex
	rounds    map[uuid.UUID]*roundEntry
	active    map[uuid.UUID]uuid.UUID // game -> waiting/in-progress round
	gameLocks map[uuid.UUID]*gameLock
}

type gameLock struct {
	mu   sync.Mutex
	refs int
}

// staleRetries bounds how often an outcome is re-applied after another
// instance changed the round underneath it.
const staleRetries = 3

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithMetrics(m metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithCountdownSource replaces the uniform random countdown draw.
func WithCountdownSource(draw func() int) Option {
	return func(c *Coordinator) { c.draw = draw }
}

// New creates a coordinator. Wire presence offline notifications with
// tracker.OnOffline(c.OnPresenceOffline).
func New(cfg Config, store Store, emitter Emitter, p Presence, clk clock.Clock, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid round config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:     store,
		emitter:   emitter,
		presence:  p,
		clock:     clk,
		metrics:   metrics.NoOp{},
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		rounds:    make(map[uuid.UUID]*roundEntry),
		active:    make(map[uuid.UUID]uuid.UUID),
		gameLocks: make(map[uuid.UUID]*gameLock),
	}
	c.draw = func() int {
		return cfg.CountdownMinMs + rand.IntN(cfg.CountdownMaxMs-cfg.CountdownMinMs+1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close cancels every pending countdown callback.
func (c *Coordinator) Close() {
	c.cancel()
	log.Info().Msg("round coordinator closed")
}

// Round returns a snapshot of a round as currently stored.
func (c *Coordinator) Round(ctx context.Context, roundID uuid.UUID) (models.Round, error) {
	e, err := c.acquire(ctx, roundID)
	if err != nil {
		return models.Round{}, err
	}
	defer e.mu.Unlock()
	return e.machine.Snapshot(), nil
}

// CurrentRound returns the game's active round, or else its most recent one.
// It returns round.ErrRoundNotFound when the game has no rounds.
func (c *Coordinator) CurrentRound(ctx context.Context, gameID uuid.UUID) (models.Round, error) {
	c.mu.Lock()
	id, ok := c.active[gameID]
	c.mu.Unlock()

	if ok {
		snap, err := c.Round(ctx, id)
		if err != nil || snap.Status.Active() {
			return snap, err
		}
	}

	r, err := c.store.GetLatestRound(ctx, gameID)
	if err != nil {
		return models.Round{}, storageError(err)
	}
	if r.Status.Active() {
		if _, err := c.adopt(*r); err != nil {
			return models.Round{}, err
		}
	}
	return *r, nil
}

// entry finds a round in memory or loads it from the store.
func (c *Coordinator) entry(ctx context.Context, roundID uuid.UUID) (*roundEntry, error) {
	c.mu.Lock()
	e, ok := c.rounds[roundID]
	c.mu.Unlock()
	if ok {
		return e, nil
	}

	r, err := c.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, storageError(err)
	}
	return c.adopt(*r)
}

// acquire returns the round's entry locked and reloaded from the store.
// The caller unlocks e.mu.
func (c *Coordinator) acquire(ctx context.Context, roundID uuid.UUID) (*roundEntry, error) {
	e, err := c.entry(ctx, roundID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if err := c.refreshLocked(ctx, e); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	return e, nil
}

// acquireOwned is acquire for admin commands. A round of another game is
// reported as not found.
func (c *Coordinator) acquireOwned(ctx context.Context, gameID, roundID uuid.UUID) (*roundEntry, error) {
	e, err := c.acquire(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if e.machine.GameID() != gameID {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s in game %s", round.ErrRoundNotFound, roundID, gameID)
	}
	return e, nil
}

// refreshLocked replaces the cached machine with the stored round. A pending
// countdown survives only if the stored round is still the same attempt.
// Caller holds e.mu.
func (c *Coordinator) refreshLocked(ctx context.Context, e *roundEntry) error {
	id := e.machine.ID()
	r, err := c.store.GetRound(ctx, id)
	if err != nil {
		return storageError(fmt.Errorf("reload round: %w", err))
	}
	m, err := round.FromModel(*r)
	if err != nil {
		return fmt.Errorf("load round %s: %w", id, err)
	}

	if e.countdown != nil && !sameAttempt(e.machine.Snapshot(), *r) {
		c.cancelButtonActive(e)
	}
	e.machine = m
	if !r.Status.Active() {
		c.release(r.GameID, r.ID)
	}
	return nil
}

// sameAttempt reports whether a and b are the same in-progress attempt.
// Stored timestamps lose sub-microsecond precision.
func sameAttempt(a, b models.Round) bool {
	if a.Status != models.RoundStatusInProgress || b.Status != models.RoundStatusInProgress {
		return false
	}
	if a.StartedAt == nil || b.StartedAt == nil {
		return false
	}
	d := a.StartedAt.Sub(*b.StartedAt)
	return d > -time.Millisecond && d < time.Millisecond
}

// adopt caches a persisted active round, keeping any entry loaded
// concurrently. Terminal rounds get an uncached entry.
func (c *Coordinator) adopt(r models.Round) (*roundEntry, error) {
	m, err := round.FromModel(r)
	if err != nil {
		return nil, fmt.Errorf("load round %s: %w", r.ID, err)
	}
	if !r.Status.Active() {
		return &roundEntry{machine: m}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.rounds[r.ID]; ok {
		return e, nil
	}
	e := &roundEntry{machine: m}
	c.rounds[r.ID] = e
	if _, ok := c.active[r.GameID]; !ok {
		c.active[r.GameID] = r.ID
	}

	log.Debug().
		Str("round_id", r.ID.String()).
		Str("status", string(r.Status)).
		Msg("loaded round from store")
	return e, nil
}

// lockGame serializes round creation per game. The returned func unlocks,
// dropping the lock once nobody holds or waits on it.
func (c *Coordinator) lockGame(gameID uuid.UUID) func() {
	c.mu.Lock()
	l, ok := c.gameLocks[gameID]
	if !ok {
		l = &gameLock{}
		c.gameLocks[gameID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		defer c.mu.Unlock()
		if l.refs--; l.refs == 0 {
			delete(c.gameLocks, gameID)
		}
	}
}

// Cached reports how many rounds and game locks are held in memory.
func (c *Coordinator) Cached() (rounds, gameLocks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rounds), len(c.gameLocks)
}

// release frees the game's round slot and drops the cached entry once a
// round reaches a terminal state.
func (c *Coordinator) release(gameID, roundID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[gameID] == roundID {
		delete(c.active, gameID)
	}
	delete(c.rounds, roundID)
}

func (c *Coordinator) emit(ctx context.Context, gameID uuid.UUID, typ events.Type, payload any) {
	if c.emitter == nil {
		return
	}
	ev, err := events.New(gameID, typ, payload, c.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to build event")
		return
	}
	if err := c.emitter.Publish(ctx, ev); err != nil {
		log.Error().
			Err(err).
			Str("event_type", string(typ)).
			Str("game_id", gameID.String()).
			Msg("failed to publish event")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, round.ErrRoundNotFound)
}

// storageError tags collaborator failures so callers can match
// round.ErrStorageFailure. Not-found results and constraint conflicts keep
// their own identity.
func storageError(err error) error {
	if err == nil ||
		errors.Is(err, round.ErrStorageFailure) ||
		errors.Is(err, round.ErrRoundNotFound) ||
		errors.Is(err, round.ErrRoundAlreadyActive) ||
		errors.Is(err, round.ErrDuplicateOutcome) ||
		errors.Is(err, round.ErrStaleRound) ||
		errors.Is(err, round.ErrGameNotFound) ||
		errors.Is(err, round.ErrParticipantNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", round.ErrStorageFailure, err)
}
