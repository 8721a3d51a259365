package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/models"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/mcdev12/reflex/go/internal/round/events"
	"github.com/stretchr/testify/require"
)

var errDiskFull = errors.New("disk full")

// memStore mirrors the repository's contract, including the stale-view
// check SaveOutcome makes under its row lock.
type memStore struct {
	mu           sync.Mutex
	rounds       map[uuid.UUID]models.Round
	created      []uuid.UUID
	participants map[uuid.UUID][]models.Participant

	failSave   error
	failUpdate error
	saves      int

	// beforeSave runs once, under the store lock, ahead of the next save.
	beforeSave func(r *models.Round)
}

func newMemStore() *memStore {
	return &memStore{
		rounds:       make(map[uuid.UUID]models.Round),
		participants: make(map[uuid.UUID][]models.Participant),
	}
}

// addGame registers n participants for a new game.
func (s *memStore) addGame(n int) (uuid.UUID, []uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gameID := uuid.New()
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		s.participants[gameID] = append(s.participants[gameID], models.Participant{
			ID:     ids[i],
			GameID: gameID,
			Name:   "player",
		})
	}
	return gameID, ids
}

func (s *memStore) setFailSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = err
}

func (s *memStore) setFailUpdate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdate = err
}

func (s *memStore) interleave(fn func(r *models.Round)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSave = fn
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) stored(id uuid.UUID) models.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[id]
}

func (s *memStore) CreateRound(_ context.Context, gameID uuid.UUID, roster []uuid.UUID) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := models.Round{
		ID:        uuid.New(),
		GameID:    gameID,
		Status:    models.RoundStatusWaiting,
		Roster:    slices.Clone(roster),
		CreatedAt: time.Now(),
	}
	s.rounds[r.ID] = r
	s.created = append(s.created, r.ID)
	return &r, nil
}

func (s *memStore) GetRound(_ context.Context, roundID uuid.UUID) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[roundID]
	if !ok {
		return nil, round.ErrRoundNotFound
	}
	r.Outcomes = slices.Clone(r.Outcomes)
	return &r, nil
}

func (s *memStore) GetActiveRound(_ context.Context, gameID uuid.UUID) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rounds {
		if r.GameID == gameID && r.Status.Active() {
			r.Outcomes = slices.Clone(r.Outcomes)
			return &r, nil
		}
	}
	return nil, round.ErrRoundNotFound
}

func (s *memStore) GetLatestRound(_ context.Context, gameID uuid.UUID) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.created) - 1; i >= 0; i-- {
		r := s.rounds[s.created[i]]
		if r.GameID == gameID {
			r.Outcomes = slices.Clone(r.Outcomes)
			return &r, nil
		}
	}
	return nil, round.ErrRoundNotFound
}

func (s *memStore) ReplaceRoster(_ context.Context, roundID uuid.UUID, roster []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[roundID]
	if !ok {
		return round.ErrRoundNotFound
	}
	r.Roster = slices.Clone(roster)
	s.rounds[roundID] = r
	return nil
}

func (s *memStore) SaveOutcome(_ context.Context, roundID uuid.UUID, o models.Outcome, completion *models.RoundUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	r, ok := s.rounds[roundID]
	if !ok {
		return round.ErrRoundNotFound
	}
	if fn := s.beforeSave; fn != nil {
		s.beforeSave = nil
		r.Outcomes = slices.Clone(r.Outcomes)
		fn(&r)
		s.rounds[roundID] = r
	}
	if r.Status != models.RoundStatusInProgress {
		return fmt.Errorf("%w: round is %s", round.ErrStaleRound, r.Status)
	}
	for _, prev := range r.Outcomes {
		if prev.ParticipantID == o.ParticipantID {
			return round.ErrDuplicateOutcome
		}
	}
	if complete := len(r.Outcomes)+1 >= len(r.Roster); complete != (completion != nil) {
		return fmt.Errorf("%w: %d of %d outcomes", round.ErrStaleRound, len(r.Outcomes)+1, len(r.Roster))
	}
	s.saves++
	r.Outcomes = append(slices.Clone(r.Outcomes), o)
	if completion != nil {
		r.Status = completion.Status
		r.CompletedAt = completion.CompletedAt
		for i := range r.Outcomes {
			r.Outcomes[i].IsWinner = slices.Contains(completion.Winners, r.Outcomes[i].ParticipantID)
		}
	}
	s.rounds[roundID] = r
	return nil
}

func (s *memStore) UpdateRoundStatus(_ context.Context, u models.RoundUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate != nil {
		return s.failUpdate
	}
	r, ok := s.rounds[u.RoundID]
	if !ok {
		return round.ErrRoundNotFound
	}
	r.Status = u.Status
	r.CountdownMs = u.CountdownMs
	r.StartedAt = u.StartedAt
	r.CompletedAt = u.CompletedAt
	if u.ClearOutcomes {
		r.Outcomes = nil
	}
	s.rounds[u.RoundID] = r
	return nil
}

func (s *memStore) ListParticipants(_ context.Context, gameID uuid.UUID) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.participants[gameID]), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.Event
}

func (e *recordingEmitter) Publish(_ context.Context, ev *events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

// roundTypes returns the round event types in publish order, skipping
// presence events.
func (e *recordingEmitter) roundTypes() []events.Type {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Type
	for _, ev := range e.events {
		if ev.Type == events.TypePresenceOnline || ev.Type == events.TypePresenceOffline {
			continue
		}
		out = append(out, ev.Type)
	}
	return out
}

func (e *recordingEmitter) ofType(typ events.Type) []*events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*events.Event
	for _, ev := range e.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (e *recordingEmitter) lastResult(t *testing.T) *events.RoundResultPayload {
	t.Helper()
	results := e.ofType(events.TypeRoundResult)
	require.NotEmpty(t, results)
	p, err := events.ParsePayload(results[len(results)-1])
	require.NoError(t, err)
	return p.(*events.RoundResultPayload)
}
