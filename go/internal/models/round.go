package models

import (
	"time"

	"github.com/google/uuid"
)

// RoundStatus defines the status of a round.
type RoundStatus string

const (
	RoundStatusWaiting    RoundStatus = "waiting"
	RoundStatusInProgress RoundStatus = "in_progress"
	RoundStatusCompleted  RoundStatus = "completed"
	RoundStatusCancelled  RoundStatus = "cancelled"
)

// Valid reports whether s is one of the four persisted status tokens.
func (s RoundStatus) Valid() bool {
	switch s {
	case RoundStatusWaiting, RoundStatusInProgress, RoundStatusCompleted, RoundStatusCancelled:
		return true
	}
	return false
}

// Active reports whether a round in this status occupies its game's round slot.
func (s RoundStatus) Active() bool {
	return s == RoundStatusWaiting || s == RoundStatusInProgress
}

// Terminal reports whether no further transitions are allowed.
func (s RoundStatus) Terminal() bool {
	return s == RoundStatusCompleted || s == RoundStatusCancelled
}

// Round represents one round of a game.
type Round struct {
	ID          uuid.UUID   `json:"id"`
	GameID      uuid.UUID   `json:"game_id"`
	Status      RoundStatus `json:"status"`
	Roster      []uuid.UUID `json:"roster"`
	CountdownMs *int        `json:"countdown_duration,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Outcomes    []Outcome   `json:"outcomes"`
}

// Outcome is the single recorded result of one participant in one round.
// A reaction carries ReactionTimeMs; an elimination has it nil.
type Outcome struct {
	ParticipantID  uuid.UUID `json:"participant_id"`
	ReactionTimeMs *int      `json:"reaction_time"`
	Eliminated     bool      `json:"was_eliminated"`
	IsWinner       bool      `json:"is_winner"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// NewReaction builds a reaction outcome.
func NewReaction(participantID uuid.UUID, reactionTimeMs int, at time.Time) Outcome {
	ms := reactionTimeMs
	return Outcome{
		ParticipantID:  participantID,
		ReactionTimeMs: &ms,
		RecordedAt:     at,
	}
}

// NewElimination builds an elimination outcome.
func NewElimination(participantID uuid.UUID, at time.Time) Outcome {
	return Outcome{
		ParticipantID: participantID,
		Eliminated:    true,
		RecordedAt:    at,
	}
}

// IsReaction reports whether the outcome is a non-eliminated reaction.
func (o Outcome) IsReaction() bool {
	return !o.Eliminated && o.ReactionTimeMs != nil
}

// RoundUpdate describes a status transition to persist.
type RoundUpdate struct {
	RoundID       uuid.UUID
	Status        RoundStatus
	CountdownMs   *int
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ClearOutcomes bool
	Winners       []uuid.UUID
}
