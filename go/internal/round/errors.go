package round

import "errors"

var (
	ErrInvalidRoster       = errors.New("invalid roster")
	ErrRoundAlreadyActive  = errors.New("round already active")
	ErrInvalidState        = errors.New("invalid round state")
	ErrNotInRoster         = errors.New("participant not in roster")
	ErrDuplicateOutcome    = errors.New("duplicate outcome")
	ErrInvalidReactionTime = errors.New("invalid reaction time")
	ErrInvalidCountdown    = errors.New("invalid countdown duration")
	ErrStorageFailure      = errors.New("storage failure")
	// ErrStaleRound means the stored round changed after the caller loaded it.
	ErrStaleRound = errors.New("round changed concurrently")

	ErrRoundNotFound       = errors.New("round not found")
	ErrGameNotFound        = errors.New("game not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidToken        = errors.New("invalid game token")
)

// Code maps an error to the client-facing code carried in error replies
// and rejection metrics.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidToken):
		return "INVALID_TOKEN"
	case errors.Is(err, ErrGameNotFound):
		return "GAME_NOT_FOUND"
	case errors.Is(err, ErrParticipantNotFound):
		return "PARTICIPANT_NOT_FOUND"
	case errors.Is(err, ErrRoundNotFound):
		return "ROUND_NOT_FOUND"
	case errors.Is(err, ErrInvalidRoster):
		return "INVALID_ROSTER"
	case errors.Is(err, ErrRoundAlreadyActive):
		return "ROUND_ALREADY_ACTIVE"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidCountdown):
		return "INVALID_ROUND_STATE"
	case errors.Is(err, ErrNotInRoster):
		return "NOT_IN_ROUND"
	case errors.Is(err, ErrDuplicateOutcome):
		return "ALREADY_CLICKED"
	case errors.Is(err, ErrInvalidReactionTime):
		return "INVALID_REACTION_TIME"
	default:
		return "SERVER_ERROR"
	}
}
