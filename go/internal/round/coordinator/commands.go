package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/models"
	"github.com/mcdev12/reflex/go/internal/presence"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/rs/zerolog/log"
)

// Command is one of the closed set of inbound messages below.
type Command interface {
	command() string
}

type CreateRound struct {
	GameID uuid.UUID
	Roster []uuid.UUID
}

// The admin commands below carry the sender's game. A round that belongs to
// another game is reported as round.ErrRoundNotFound.

type ReplaceRoster struct {
	GameID  uuid.UUID
	RoundID uuid.UUID
	Roster  []uuid.UUID
}

type StartRound struct {
	GameID  uuid.UUID
	RoundID uuid.UUID
}

// StopRound abandons the current attempt; the round returns to waiting.
type StopRound struct {
	GameID  uuid.UUID
	RoundID uuid.UUID
}

// DiscardRound cancels the round for good, freeing the game for a new one.
type DiscardRound struct {
	GameID  uuid.UUID
	RoundID uuid.UUID
}

type SubmitReaction struct {
	RoundID        uuid.UUID
	ParticipantID  uuid.UUID
	ReactionTimeMs int
}

type SubmitElimination struct {
	RoundID       uuid.UUID
	ParticipantID uuid.UUID
}

type Heartbeat struct {
	GameID        uuid.UUID
	ParticipantID uuid.UUID
	ClientTime    *time.Time
}

type Connect struct {
	GameID        uuid.UUID
	ParticipantID uuid.UUID
}

type Disconnect struct {
	ParticipantID uuid.UUID
}

func (CreateRound) command() string       { return "create_round" }
func (ReplaceRoster) command() string     { return "replace_roster" }
func (StartRound) command() string        { return "start_round" }
func (StopRound) command() string         { return "stop_round" }
func (DiscardRound) command() string      { return "discard_round" }
func (SubmitReaction) command() string    { return "submit_reaction" }
func (SubmitElimination) command() string { return "submit_elimination" }
func (Heartbeat) command() string         { return "heartbeat" }
func (Connect) command() string           { return "connect" }
func (Disconnect) command() string        { return "disconnect" }

// Result is what a command produced. Round is set by round commands,
// Presence by presence commands.
type Result struct {
	Round    *models.Round
	Presence *presence.Status
}

// Dispatch runs a command. A failed command leaves round and presence state
// unchanged and publishes nothing.
func (c *Coordinator) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	var (
		res Result
		err error
	)

	switch cmd := cmd.(type) {
	case CreateRound:
		res.Round, err = c.createRound(ctx, cmd)
	case ReplaceRoster:
		res.Round, err = c.replaceRoster(ctx, cmd)
	case StartRound:
		res.Round, err = c.startRound(ctx, cmd)
	case StopRound:
		res.Round, err = c.stopRound(ctx, cmd)
	case DiscardRound:
		res.Round, err = c.discardRound(ctx, cmd)
	case SubmitReaction:
		res.Round, err = c.submitReaction(ctx, cmd)
	case SubmitElimination:
		res.Round, err = c.submitElimination(ctx, cmd)
	case Heartbeat:
		st := c.presence.Heartbeat(ctx, cmd.GameID, cmd.ParticipantID, cmd.ClientTime)
		res.Presence = &st
	case Connect:
		st := c.presence.Connect(ctx, cmd.GameID, cmd.ParticipantID)
		res.Presence = &st
	case Disconnect:
		c.presence.Disconnect(ctx, cmd.ParticipantID)
	default:
		err = fmt.Errorf("%w: unsupported command %T", round.ErrInvalidState, cmd)
	}

	if err != nil {
		c.metrics.RecordRejection(round.Code(err))
		log.Debug().
			Err(err).
			Str("command", commandName(cmd)).
			Msg("command rejected")
		return Result{}, err
	}
	return res, nil
}

func commandName(cmd Command) string {
	if cmd == nil {
		return "nil"
	}
	return cmd.command()
}
