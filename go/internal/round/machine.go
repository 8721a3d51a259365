// Package round owns a single round's lifecycle and the winner resolution
// rules. A Machine is not safe for concurrent use; callers serialize access
// per round.
package round

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/models"
)

var allowedTransitions = map[models.RoundStatus][]models.RoundStatus{
	models.RoundStatusWaiting:    {models.RoundStatusInProgress, models.RoundStatusCancelled},
	models.RoundStatusInProgress: {models.RoundStatusWaiting, models.RoundStatusCompleted, models.RoundStatusCancelled},
	models.RoundStatusCompleted:  {},
	models.RoundStatusCancelled:  {},
}

// validateTransition validates if a status transition is allowed.
func validateTransition(from, to models.RoundStatus) error {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidState, from)
	}
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, from, to)
	}
	return nil
}

// Machine holds one round and enforces its lifecycle.
type Machine struct {
	round    models.Round
	outcomes map[uuid.UUID]int // participant -> index into round.Outcomes
}

// New creates a round in waiting.
func New(id, gameID uuid.UUID, roster []uuid.UUID, now time.Time) (*Machine, error) {
	if err := ValidateRoster(roster); err != nil {
		return nil, err
	}
	return &Machine{
		round: models.Round{
			ID:        id,
			GameID:    gameID,
			Status:    models.RoundStatusWaiting,
			Roster:    slices.Clone(roster),
			CreatedAt: now,
		},
		outcomes: make(map[uuid.UUID]int),
	}, nil
}

// FromModel rebuilds a machine from a persisted round.
func FromModel(r models.Round) (*Machine, error) {
	if !r.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidState, r.Status)
	}
	if r.Status.Active() {
		if err := ValidateRoster(r.Roster); err != nil {
			return nil, err
		}
	}

	m := &Machine{round: cloneRound(r), outcomes: make(map[uuid.UUID]int, len(r.Outcomes))}
	for i, o := range m.round.Outcomes {
		if _, dup := m.outcomes[o.ParticipantID]; dup {
			return nil, fmt.Errorf("%w: participant %s", ErrDuplicateOutcome, o.ParticipantID)
		}
		m.outcomes[o.ParticipantID] = i
	}
	return m, nil
}

func (m *Machine) ID() uuid.UUID              { return m.round.ID }
func (m *Machine) GameID() uuid.UUID          { return m.round.GameID }
func (m *Machine) Status() models.RoundStatus { return m.round.Status }

// Roster returns a copy of the roster.
func (m *Machine) Roster() []uuid.UUID { return slices.Clone(m.round.Roster) }

// Outcomes returns a copy of the recorded outcomes in recording order.
func (m *Machine) Outcomes() []models.Outcome { return cloneOutcomes(m.round.Outcomes) }

// Snapshot returns a deep copy of the round.
func (m *Machine) Snapshot() models.Round { return cloneRound(m.round) }

// Clone returns an independent copy, so a transition can be tried and
// discarded if persisting it fails.
func (m *Machine) Clone() *Machine {
	c := &Machine{round: cloneRound(m.round), outcomes: make(map[uuid.UUID]int, len(m.outcomes))}
	for k, v := range m.outcomes {
		c.outcomes[k] = v
	}
	return c
}

// InRoster reports whether participantID is assigned to the round.
func (m *Machine) InRoster(participantID uuid.UUID) bool {
	return slices.Contains(m.round.Roster, participantID)
}

// HasOutcome reports whether participantID already has an outcome.
func (m *Machine) HasOutcome(participantID uuid.UUID) bool {
	_, ok := m.outcomes[participantID]
	return ok
}

// Pending returns roster members without an outcome, in roster order.
func (m *Machine) Pending() []uuid.UUID {
	var pending []uuid.UUID
	for _, id := range m.round.Roster {
		if !m.HasOutcome(id) {
			pending = append(pending, id)
		}
	}
	return pending
}

// ReplaceRoster swaps the roster of a waiting round.
func (m *Machine) ReplaceRoster(roster []uuid.UUID) error {
	if m.round.Status != models.RoundStatusWaiting {
		return fmt.Errorf("%w: roster can only change while waiting, round is %s", ErrInvalidState, m.round.Status)
	}
	if err := ValidateRoster(roster); err != nil {
		return err
	}
	m.round.Roster = slices.Clone(roster)
	return nil
}

// Start moves a waiting round to in_progress, dropping outcomes left over
// from a previous attempt.
func (m *Machine) Start(countdownMs int, now time.Time) error {
	if err := validateTransition(m.round.Status, models.RoundStatusInProgress); err != nil {
		return err
	}
	if countdownMs < 0 {
		return fmt.Errorf("%w: %dms", ErrInvalidCountdown, countdownMs)
	}
	if err := ValidateRoster(m.round.Roster); err != nil {
		return err
	}

	m.clearOutcomes()
	cd := countdownMs
	started := now
	m.round.Status = models.RoundStatusInProgress
	m.round.CountdownMs = &cd
	m.round.StartedAt = &started
	m.round.CompletedAt = nil
	return nil
}

// Stop abandons the current attempt and returns the round to waiting.
func (m *Machine) Stop() error {
	if m.round.Status != models.RoundStatusInProgress {
		return fmt.Errorf("%w: can only stop a round in progress, round is %s", ErrInvalidState, m.round.Status)
	}
	m.clearOutcomes()
	m.round.Status = models.RoundStatusWaiting
	m.round.CountdownMs = nil
	m.round.StartedAt = nil
	return nil
}

// Cancel discards the round for good.
func (m *Machine) Cancel(now time.Time) error {
	if err := validateTransition(m.round.Status, models.RoundStatusCancelled); err != nil {
		return err
	}
	m.clearOutcomes()
	completed := now
	m.round.Status = models.RoundStatusCancelled
	m.round.CompletedAt = &completed
	return nil
}

// RecordOutcome stores the single outcome of a roster member.
func (m *Machine) RecordOutcome(o models.Outcome) error {
	if m.round.Status != models.RoundStatusInProgress {
		return fmt.Errorf("%w: round is %s", ErrInvalidState, m.round.Status)
	}
	if !m.InRoster(o.ParticipantID) {
		return fmt.Errorf("%w: %s", ErrNotInRoster, o.ParticipantID)
	}
	if m.HasOutcome(o.ParticipantID) {
		return fmt.Errorf("%w: %s", ErrDuplicateOutcome, o.ParticipantID)
	}
	if o.Eliminated == (o.ReactionTimeMs != nil) {
		return fmt.Errorf("%w: outcome must be either a reaction or an elimination", ErrInvalidState)
	}

	o.IsWinner = false
	if o.ReactionTimeMs != nil {
		ms := *o.ReactionTimeMs
		o.ReactionTimeMs = &ms
	}
	m.outcomes[o.ParticipantID] = len(m.round.Outcomes)
	m.round.Outcomes = append(m.round.Outcomes, o)
	return nil
}

// IsComplete reports whether every roster member has an outcome.
func (m *Machine) IsComplete() bool {
	for _, id := range m.round.Roster {
		if !m.HasOutcome(id) {
			return false
		}
	}
	return true
}

// Complete marks the winners and finishes the round.
func (m *Machine) Complete(winners []uuid.UUID, now time.Time) error {
	if err := validateTransition(m.round.Status, models.RoundStatusCompleted); err != nil {
		return err
	}
	if !m.IsComplete() {
		return fmt.Errorf("%w: %d participants have no outcome", ErrInvalidState, len(m.Pending()))
	}
	for _, id := range winners {
		idx, ok := m.outcomes[id]
		if !ok || !m.round.Outcomes[idx].IsReaction() {
			return fmt.Errorf("%w: winner %s has no reaction", ErrInvalidState, id)
		}
	}

	for _, id := range winners {
		m.round.Outcomes[m.outcomes[id]].IsWinner = true
	}
	completed := now
	m.round.Status = models.RoundStatusCompleted
	m.round.CompletedAt = &completed
	return nil
}

func (m *Machine) clearOutcomes() {
	m.round.Outcomes = nil
	m.outcomes = make(map[uuid.UUID]int)
}

func cloneRound(r models.Round) models.Round {
	c := r
	c.Roster = slices.Clone(r.Roster)
	c.Outcomes = cloneOutcomes(r.Outcomes)
	if r.CountdownMs != nil {
		v := *r.CountdownMs
		c.CountdownMs = &v
	}
	if r.StartedAt != nil {
		v := *r.StartedAt
		c.StartedAt = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		c.CompletedAt = &v
	}
	return c
}

func cloneOutcomes(in []models.Outcome) []models.Outcome {
	if in == nil {
		return nil
	}
	out := make([]models.Outcome, len(in))
	for i, o := range in {
		out[i] = o
		if o.ReactionTimeMs != nil {
			v := *o.ReactionTimeMs
			out[i].ReactionTimeMs = &v
		}
	}
	return out
}
