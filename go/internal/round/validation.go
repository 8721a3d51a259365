package round

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	MinRosterSize = 2

	// MaxReactionTimeMs is the largest plausible reaction time.
	MaxReactionTimeMs = 10000

	// SuspiciousReactionMs marks reactions faster than humanly likely.
	SuspiciousReactionMs = 100

	MinCountdownMs = 1000
	MaxCountdownMs = 5000
)

var gameTokenPattern = regexp.MustCompile(`^[A-Z0-9]{6,8}$`)

// ValidateRoster checks size and uniqueness.
func ValidateRoster(roster []uuid.UUID) error {
	if len(roster) < MinRosterSize {
		return fmt.Errorf("%w: at least %d participants are required, got %d", ErrInvalidRoster, MinRosterSize, len(roster))
	}
	seen := make(map[uuid.UUID]struct{}, len(roster))
	for _, id := range roster {
		if id == uuid.Nil {
			return fmt.Errorf("%w: empty participant id", ErrInvalidRoster)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate participant %s", ErrInvalidRoster, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ValidateReactionTime checks 0 <= ms <= maxMs.
func ValidateReactionTime(ms, maxMs int) error {
	if ms < 0 || ms > maxMs {
		return fmt.Errorf("%w: %dms must be between 0 and %dms", ErrInvalidReactionTime, ms, maxMs)
	}
	return nil
}

// ReactionTimeFromFloat floors a client-reported reaction time and checks its range.
func ReactionTimeFromFloat(v float64, maxMs int) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: not a number", ErrInvalidReactionTime)
	}
	if v < 0 || v > float64(maxMs) {
		return 0, fmt.Errorf("%w: %vms must be between 0 and %dms", ErrInvalidReactionTime, v, maxMs)
	}
	return int(math.Floor(v)), nil
}

// ValidateCountdown checks that a countdown lies in [minMs, maxMs].
func ValidateCountdown(ms, minMs, maxMs int) error {
	if ms < minMs || ms > maxMs {
		return fmt.Errorf("%w: %dms must be between %dms and %dms", ErrInvalidCountdown, ms, minMs, maxMs)
	}
	return nil
}

// IsSuspiciouslyFast reports reactions below the threshold.
func IsSuspiciouslyFast(ms, threshold int) bool {
	return ms < threshold
}

// NormalizeGameToken upper-cases and validates a game token.
func NormalizeGameToken(token string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(token))
	if !gameTokenPattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	return normalized, nil
}
