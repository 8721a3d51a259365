package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/models"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/mcdev12/reflex/go/internal/round/events"
	"github.com/rs/zerolog/log"
)

func (c *Coordinator) createRound(ctx context.Context, cmd CreateRound) (*models.Round, error) {
	if err := round.ValidateRoster(cmd.Roster); err != nil {
		return nil, err
	}

	unlock := c.lockGame(cmd.GameID)
	defer unlock()

	if err := c.ensureNoActiveRound(ctx, cmd.GameID); err != nil {
		return nil, err
	}
	if err := c.checkMembership(ctx, cmd.GameID, cmd.Roster); err != nil {
		return nil, err
	}

	r, err := c.store.CreateRound(ctx, cmd.GameID, cmd.Roster)
	if err != nil {
		return nil, storageError(fmt.Errorf("create round: %w", err))
	}
	m, err := round.FromModel(*r)
	if err != nil {
		return nil, err
	}

	e := &roundEntry{machine: m}
	e.mu.Lock()
	defer e.mu.Unlock()

	c.mu.Lock()
	c.rounds[r.ID] = e
	c.active[cmd.GameID] = r.ID
	c.mu.Unlock()

	c.metrics.RecordTransition(string(models.RoundStatusWaiting))
	c.emitCreated(ctx, m)

	log.Info().
		Str("round_id", r.ID.String()).
		Str("game_id", cmd.GameID.String()).
		Int("participants", len(r.Roster)).
		Msg("round created")

	snap := m.Snapshot()
	return &snap, nil
}

// ensureNoActiveRound checks memory first, then the store, so a round left
// active by a previous process or another instance still blocks a second one.
func (c *Coordinator) ensureNoActiveRound(ctx context.Context, gameID uuid.UUID) error {
	c.mu.Lock()
	id, ok := c.active[gameID]
	c.mu.Unlock()
	if ok {
		e, err := c.acquire(ctx, id)
		switch {
		case isNotFound(err):
			c.release(gameID, id)
		case err != nil:
			return err
		default:
			status := e.machine.Status()
			e.mu.Unlock()
			if status.Active() {
				return fmt.Errorf("%w: round %s", round.ErrRoundAlreadyActive, id)
			}
		}
	}

	r, err := c.store.GetActiveRound(ctx, gameID)
	switch {
	case err == nil:
		if _, err := c.adopt(*r); err != nil {
			return err
		}
		return fmt.Errorf("%w: round %s", round.ErrRoundAlreadyActive, r.ID)
	case isNotFound(err):
		return nil
	default:
		return storageError(fmt.Errorf("get active round: %w", err))
	}
}

// checkMembership verifies that every roster id belongs to the game.
func (c *Coordinator) checkMembership(ctx context.Context, gameID uuid.UUID, roster []uuid.UUID) error {
	participants, err := c.store.ListParticipants(ctx, gameID)
	if err != nil {
		return storageError(fmt.Errorf("list participants: %w", err))
	}

	members := make(map[uuid.UUID]struct{}, len(participants))
	for _, p := range participants {
		members[p.ID] = struct{}{}
	}
	for _, id := range roster {
		if _, ok := members[id]; !ok {
			return fmt.Errorf("%w: %s is not in game %s", round.ErrParticipantNotFound, id, gameID)
		}
	}
	return nil
}

func (c *Coordinator) replaceRoster(ctx context.Context, cmd ReplaceRoster) (*models.Round, error) {
	if err := round.ValidateRoster(cmd.Roster); err != nil {
		return nil, err
	}
	e, err := c.acquireOwned(ctx, cmd.GameID, cmd.RoundID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	next := e.machine.Clone()
	if err := next.ReplaceRoster(cmd.Roster); err != nil {
		return nil, err
	}
	if err := c.checkMembership(ctx, next.GameID(), cmd.Roster); err != nil {
		return nil, err
	}
	if err := c.store.ReplaceRoster(ctx, cmd.RoundID, cmd.Roster); err != nil {
		return nil, storageError(fmt.Errorf("replace roster: %w", err))
	}
	e.machine = next

	// clients learn the new roster the same way they learn a new round
	c.emitCreated(ctx, next)

	log.Info().
		Str("round_id", cmd.RoundID.String()).
		Int("participants", len(cmd.Roster)).
		Msg("round roster replaced")

	snap := next.Snapshot()
	return &snap, nil
}

func (c *Coordinator) startRound(ctx context.Context, cmd StartRound) (*models.Round, error) {
	e, err := c.acquireOwned(ctx, cmd.GameID, cmd.RoundID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	countdown := c.draw()
	if err := round.ValidateCountdown(countdown, c.cfg.CountdownMinMs, c.cfg.CountdownMaxMs); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	next := e.machine.Clone()
	if err := next.Start(countdown, now); err != nil {
		return nil, err
	}

	snap := next.Snapshot()
	err = c.store.UpdateRoundStatus(ctx, models.RoundUpdate{
		RoundID:       cmd.RoundID,
		Status:        snap.Status,
		CountdownMs:   snap.CountdownMs,
		StartedAt:     snap.StartedAt,
		ClearOutcomes: true,
	})
	if err != nil {
		return nil, storageError(fmt.Errorf("start round: %w", err))
	}
	e.machine = next

	c.metrics.RecordTransition(string(models.RoundStatusInProgress))
	c.emit(ctx, next.GameID(), events.TypeRoundStarted, events.RoundStartedPayload{
		RoundID:         cmd.RoundID.String(),
		CountdownMs:     countdown,
		ServerTimestamp: now.UnixMilli(),
	})
	c.scheduleButtonActive(e, countdown)

	log.Info().
		Str("round_id", cmd.RoundID.String()).
		Int("countdown_ms", countdown).
		Msg("round started")

	c.eliminateOffline(ctx, e)

	snap = e.machine.Snapshot()
	return &snap, nil
}

// eliminateOffline records an elimination for every roster member the
// presence tracker knows to be offline. Caller holds e.mu.
func (c *Coordinator) eliminateOffline(ctx context.Context, e *roundEntry) {
	if c.presence == nil {
		return
	}
	for _, id := range e.machine.Pending() {
		online, known := c.presence.IsOnline(id)
		if !known || online {
			continue
		}
		if err := c.recordLocked(ctx, e, models.NewElimination(id, c.clock.Now())); err != nil {
			log.Error().
				Err(err).
				Str("round_id", e.machine.ID().String()).
				Str("participant_id", id.String()).
				Msg("failed to eliminate offline participant")
			continue
		}
		log.Info().
			Str("round_id", e.machine.ID().String()).
			Str("participant_id", id.String()).
			Msg("offline participant eliminated at start")
	}
}

func (c *Coordinator) stopRound(ctx context.Context, cmd StopRound) (*models.Round, error) {
	e, err := c.acquireOwned(ctx, cmd.GameID, cmd.RoundID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	next := e.machine.Clone()
	if err := next.Stop(); err != nil {
		return nil, err
	}
	err = c.store.UpdateRoundStatus(ctx, models.RoundUpdate{
		RoundID:       cmd.RoundID,
		Status:        models.RoundStatusWaiting,
		ClearOutcomes: true,
	})
	if err != nil {
		return nil, storageError(fmt.Errorf("stop round: %w", err))
	}
	e.machine = next
	c.cancelButtonActive(e)

	c.metrics.RecordTransition(string(models.RoundStatusWaiting))
	c.emit(ctx, next.GameID(), events.TypeRoundCancelled, events.RoundCancelledPayload{
		RoundID: cmd.RoundID.String(),
		Reason:  events.ReasonAdminStop,
	})

	log.Info().Str("round_id", cmd.RoundID.String()).Msg("round stopped")

	snap := next.Snapshot()
	return &snap, nil
}

func (c *Coordinator) discardRound(ctx context.Context, cmd DiscardRound) (*models.Round, error) {
	e, err := c.acquireOwned(ctx, cmd.GameID, cmd.RoundID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	next := e.machine.Clone()
	if err := next.Cancel(c.clock.Now()); err != nil {
		return nil, err
	}
	snap := next.Snapshot()
	err = c.store.UpdateRoundStatus(ctx, models.RoundUpdate{
		RoundID:       cmd.RoundID,
		Status:        models.RoundStatusCancelled,
		CompletedAt:   snap.CompletedAt,
		ClearOutcomes: true,
	})
	if err != nil {
		return nil, storageError(fmt.Errorf("discard round: %w", err))
	}
	e.machine = next
	c.cancelButtonActive(e)
	c.release(next.GameID(), cmd.RoundID)

	c.metrics.RecordTransition(string(models.RoundStatusCancelled))
	c.emit(ctx, next.GameID(), events.TypeRoundCancelled, events.RoundCancelledPayload{
		RoundID: cmd.RoundID.String(),
		Reason:  events.ReasonDiscarded,
	})

	log.Info().Str("round_id", cmd.RoundID.String()).Msg("round discarded")
	return &snap, nil
}

func (c *Coordinator) submitReaction(ctx context.Context, cmd SubmitReaction) (*models.Round, error) {
	if err := round.ValidateReactionTime(cmd.ReactionTimeMs, c.cfg.MaxReactionTimeMs); err != nil {
		return nil, err
	}
	return c.record(ctx, cmd.RoundID, models.NewReaction(cmd.ParticipantID, cmd.ReactionTimeMs, c.clock.Now()))
}

func (c *Coordinator) submitElimination(ctx context.Context, cmd SubmitElimination) (*models.Round, error) {
	return c.record(ctx, cmd.RoundID, models.NewElimination(cmd.ParticipantID, c.clock.Now()))
}

func (c *Coordinator) record(ctx context.Context, roundID uuid.UUID, o models.Outcome) (*models.Round, error) {
	e, err := c.acquire(ctx, roundID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if err := c.recordLocked(ctx, e, o); err != nil {
		return nil, err
	}
	snap := e.machine.Snapshot()
	return &snap, nil
}

// OnPresenceOffline eliminates the participant from every in-progress round
// still waiting on their outcome.
func (c *Coordinator) OnPresenceOffline(ctx context.Context, participantID uuid.UUID) {
	c.mu.Lock()
	entries := make([]*roundEntry, 0, len(c.active))
	for _, id := range c.active {
		if e, ok := c.rounds[id]; ok {
			entries = append(entries, e)
		}
	}
	c.mu.Unlock()

	for _, e := range entries {
		c.eliminateIfPending(ctx, e, participantID)
	}
}

func (c *Coordinator) eliminateIfPending(ctx context.Context, e *roundEntry, participantID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.refreshLocked(ctx, e); err != nil {
		log.Error().
			Err(err).
			Str("round_id", e.machine.ID().String()).
			Msg("failed to reload round for offline participant")
		return
	}
	m := e.machine
	if m.Status() != models.RoundStatusInProgress || !m.InRoster(participantID) || m.HasOutcome(participantID) {
		return
	}
	if err := c.recordLocked(ctx, e, models.NewElimination(participantID, c.clock.Now())); err != nil {
		log.Error().
			Err(err).
			Str("round_id", m.ID().String()).
			Str("participant_id", participantID.String()).
			Msg("failed to eliminate disconnected participant")
		return
	}
	log.Info().
		Str("round_id", m.ID().String()).
		Str("participant_id", participantID.String()).
		Msg("disconnected participant eliminated")
}

// recordLocked records one outcome and, if it was the last one missing,
// resolves and completes the round in the same step. When another instance
// changed the round first, it reloads and tries again. Caller holds e.mu.
func (c *Coordinator) recordLocked(ctx context.Context, e *roundEntry, o models.Outcome) error {
	for attempt := 1; ; attempt++ {
		err := c.applyOutcomeLocked(ctx, e, o)
		if !errors.Is(err, round.ErrStaleRound) || attempt == staleRetries {
			return err
		}
		log.Debug().
			Str("round_id", e.machine.ID().String()).
			Int("attempt", attempt).
			Msg("round changed concurrently, reloading")
		if err := c.refreshLocked(ctx, e); err != nil {
			return err
		}
	}
}

func (c *Coordinator) applyOutcomeLocked(ctx context.Context, e *roundEntry, o models.Outcome) error {
	next := e.machine.Clone()
	if err := next.RecordOutcome(o); err != nil {
		return err
	}

	var completion *models.RoundUpdate
	if next.IsComplete() {
		winners := round.ResolveWinners(next.Outcomes())
		if err := next.Complete(winners, c.clock.Now()); err != nil {
			return err
		}
		snap := next.Snapshot()
		completion = &models.RoundUpdate{
			RoundID:     snap.ID,
			Status:      snap.Status,
			CompletedAt: snap.CompletedAt,
			Winners:     winners,
		}
	}

	if err := c.store.SaveOutcome(ctx, next.ID(), o, completion); err != nil {
		return storageError(fmt.Errorf("save outcome: %w", err))
	}
	e.machine = next

	kind := "reaction"
	if o.Eliminated {
		kind = "eliminated"
	}
	c.metrics.RecordOutcome(kind)

	l := log.Info().
		Str("round_id", next.ID().String()).
		Str("participant_id", o.ParticipantID.String()).
		Str("kind", kind)
	if o.ReactionTimeMs != nil {
		l = l.Int("reaction_time_ms", *o.ReactionTimeMs)
		if round.IsSuspiciouslyFast(*o.ReactionTimeMs, c.cfg.SuspiciousBelowMs) {
			log.Warn().
				Str("round_id", next.ID().String()).
				Str("participant_id", o.ParticipantID.String()).
				Int("reaction_time_ms", *o.ReactionTimeMs).
				Msg("suspiciously fast reaction")
		}
	}
	l.Msg("outcome recorded")

	if completion != nil {
		c.finishLocked(ctx, e)
	}
	return nil
}

// finishLocked publishes the result of a just-completed round.
func (c *Coordinator) finishLocked(ctx context.Context, e *roundEntry) {
	c.cancelButtonActive(e)
	snap := e.machine.Snapshot()
	c.release(snap.GameID, snap.ID)
	c.metrics.RecordTransition(string(models.RoundStatusCompleted))

	payload := events.RoundResultPayload{
		RoundID:  snap.ID.String(),
		Outcomes: make([]events.OutcomePayload, 0, len(snap.Outcomes)),
		Winners:  []string{},
	}
	for _, o := range round.RankOutcomes(snap.Outcomes, snap.Roster) {
		op := events.OutcomePayload{
			ParticipantID:  o.ParticipantID.String(),
			ReactionTimeMs: o.ReactionTimeMs,
			Eliminated:     o.Eliminated,
			IsWinner:       o.IsWinner,
		}
		if o.ReactionTimeMs != nil {
			op.Suspicious = round.IsSuspiciouslyFast(*o.ReactionTimeMs, c.cfg.SuspiciousBelowMs)
		}
		if o.IsWinner {
			payload.Winners = append(payload.Winners, op.ParticipantID)
		}
		payload.Outcomes = append(payload.Outcomes, op)
	}
	c.emit(ctx, snap.GameID, events.TypeRoundResult, payload)

	log.Info().
		Str("round_id", snap.ID.String()).
		Strs("winners", payload.Winners).
		Msg("round completed")
}

func (c *Coordinator) emitCreated(ctx context.Context, m *round.Machine) {
	roster := m.Roster()
	ids := make([]string, len(roster))
	for i, id := range roster {
		ids[i] = id.String()
	}
	c.emit(ctx, m.GameID(), events.TypeRoundCreated, events.RoundCreatedPayload{
		RoundID: m.ID().String(),
		Roster:  ids,
	})
}
