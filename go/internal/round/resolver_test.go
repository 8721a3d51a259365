package round_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/models"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/stretchr/testify/assert"
)

func TestResolveWinners(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	react := func(id uuid.UUID, ms int) models.Outcome { return models.NewReaction(id, ms, t0) }
	elim := func(id uuid.UUID) models.Outcome { return models.NewElimination(id, t0) }

	tests := []struct {
		name     string
		outcomes []models.Outcome
		want     []uuid.UUID
	}{
		{"tie at the minimum", []models.Outcome{react(a, 250), react(b, 250), elim(c)}, []uuid.UUID{a, b}},
		{"everyone eliminated", []models.Outcome{elim(a), elim(b)}, []uuid.UUID{}},
		{"single fastest", []models.Outcome{react(a, 300), react(b, 200)}, []uuid.UUID{b}},
		{"zero is a valid reaction", []models.Outcome{react(a, 0), react(b, 1)}, []uuid.UUID{a}},
		{"no outcomes", nil, []uuid.UUID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := round.ResolveWinners(tt.outcomes)
			assert.ElementsMatch(t, tt.want, got)
			assert.NotNil(t, got)
		})
	}
}

func TestRankOutcomes(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	roster := []uuid.UUID{a, b, c, d}
	outcomes := []models.Outcome{
		models.NewElimination(b, t0),
		models.NewReaction(d, 180, t0),
		models.NewReaction(c, 240, t0),
		models.NewReaction(a, 180, t0),
	}

	ranked := round.RankOutcomes(outcomes, roster)

	got := make([]uuid.UUID, len(ranked))
	for i, o := range ranked {
		got[i] = o.ParticipantID
	}
	assert.Equal(t, []uuid.UUID{a, d, c, b}, got)
	assert.Equal(t, d, outcomes[1].ParticipantID)
}
