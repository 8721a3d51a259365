package round

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/models"
)

// ResolveWinners returns every participant whose reaction time equals the
// fastest reaction. Eliminations never win; if nobody reacted the result is
// empty. Winners keep the order they appear in outcomes.
func ResolveWinners(outcomes []models.Outcome) []uuid.UUID {
	best := -1
	for _, o := range outcomes {
		if !o.IsReaction() {
			continue
		}
		if best < 0 || *o.ReactionTimeMs < best {
			best = *o.ReactionTimeMs
		}
	}
	if best < 0 {
		return []uuid.UUID{}
	}

	winners := []uuid.UUID{}
	for _, o := range outcomes {
		if o.IsReaction() && *o.ReactionTimeMs == best {
			winners = append(winners, o.ParticipantID)
		}
	}
	return winners
}

// RankOutcomes orders outcomes fastest first with eliminations last. Ties
// keep roster order.
func RankOutcomes(outcomes []models.Outcome, roster []uuid.UUID) []models.Outcome {
	position := make(map[uuid.UUID]int, len(roster))
	for i, id := range roster {
		position[id] = i
	}

	ranked := cloneOutcomes(outcomes)
	slices.SortStableFunc(ranked, func(a, b models.Outcome) int {
		switch {
		case a.IsReaction() && !b.IsReaction():
			return -1
		case !a.IsReaction() && b.IsReaction():
			return 1
		case a.IsReaction() && b.IsReaction():
			if c := cmp.Compare(*a.ReactionTimeMs, *b.ReactionTimeMs); c != 0 {
				return c
			}
		}
		return cmp.Compare(position[a.ParticipantID], position[b.ParticipantID])
	})
	return ranked
}
