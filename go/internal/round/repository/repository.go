// Package repository persists games, participants, rounds and their
// results in Postgres.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mcdev12/reflex/go/internal/models"
	"github.com/mcdev12/reflex/go/internal/presence"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/mcdev12/reflex/go/internal/round/repository/db"
	"github.com/mcdev12/reflex/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"

	oneActiveRoundConstraint = "rounds_one_active_per_game"
)

type Repository struct {
	db      *sql.DB
	queries *db.Queries
}

func NewRepository(database *sql.DB) *Repository {
	return &Repository{
		db:      database,
		queries: db.New(database),
	}
}

// Migrate creates any missing tables and indexes.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := db.Migrate(ctx, r.db); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type CreateGameRequest struct {
	AdminID  uuid.UUID       `json:"admin_id"`
	Token    string          `json:"token"`
	Settings json.RawMessage `json:"settings"`
}

type CreateParticipantRequest struct {
	GameID     uuid.UUID  `json:"game_id"`
	TeamID     *uuid.UUID `json:"team_id"`
	Name       string     `json:"name"`
	AvatarSeed string     `json:"avatar_seed"`
}

func (r *Repository) CreateGame(ctx context.Context, req CreateGameRequest) (*models.Game, error) {
	token, err := round.NormalizeGameToken(req.Token)
	if err != nil {
		return nil, err
	}
	settings := pqtype.NullRawMessage{RawMessage: req.Settings, Valid: len(req.Settings) > 0}

	g, err := r.queries.CreateGame(ctx, db.CreateGameParams{
		ID:       uuid.New(),
		AdminID:  req.AdminID,
		Token:    token,
		Settings: settings,
	})
	if err != nil {
		return nil, storageErr("failed to create game", err)
	}
	return dbGameToModel(g), nil
}

// GetGameByToken returns round.ErrGameNotFound for an unknown token.
func (r *Repository) GetGameByToken(ctx context.Context, token string) (*models.Game, error) {
	g, err := r.queries.GetGameByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: token %q", round.ErrGameNotFound, token)
	}
	if err != nil {
		return nil, storageErr("failed to get game", err)
	}
	return dbGameToModel(g), nil
}

func (r *Repository) CreateParticipant(ctx context.Context, req CreateParticipantRequest) (*models.Participant, error) {
	p, err := r.queries.CreateParticipant(ctx, db.CreateParticipantParams{
		ID:         uuid.New(),
		GameID:     req.GameID,
		TeamID:     sqlutil.ToNullUUID(req.TeamID),
		Name:       req.Name,
		AvatarSeed: sqlutil.ToSqlString(req.AvatarSeed),
	})
	if isPQError(err, pqForeignKeyViolation) {
		return nil, fmt.Errorf("%w: %s", round.ErrGameNotFound, req.GameID)
	}
	if err != nil {
		return nil, storageErr("failed to create participant", err)
	}
	return dbParticipantToModel(p), nil
}

// GetParticipant returns round.ErrParticipantNotFound for an unknown id.
func (r *Repository) GetParticipant(ctx context.Context, participantID uuid.UUID) (*models.Participant, error) {
	p, err := r.queries.GetParticipant(ctx, participantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", round.ErrParticipantNotFound, participantID)
	}
	if err != nil {
		return nil, storageErr("failed to get participant", err)
	}
	return dbParticipantToModel(p), nil
}

func (r *Repository) ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.queries.ListParticipantsByGame(ctx, gameID)
	if err != nil {
		return nil, storageErr("failed to list participants", err)
	}
	out := make([]models.Participant, 0, len(rows))
	for _, p := range rows {
		out = append(out, *dbParticipantToModel(p))
	}
	return out, nil
}

// MirrorPresence records the participant's last known presence.
func (r *Repository) MirrorPresence(ctx context.Context, status presence.Status) error {
	lastSeen := status.LastSeen
	err := r.queries.UpdateParticipantPresence(ctx, db.UpdateParticipantPresenceParams{
		ID:       status.ParticipantID,
		IsOnline: status.Online,
		LastSeen: sqlutil.ToSqlTime(&lastSeen),
	})
	if err != nil {
		return storageErr("failed to update participant presence", err)
	}
	return nil
}

// CreateRound inserts a waiting round. A second waiting or in-progress round
// for the same game is rejected with round.ErrRoundAlreadyActive.
func (r *Repository) CreateRound(ctx context.Context, gameID uuid.UUID, roster []uuid.UUID) (*models.Round, error) {
	row, err := r.queries.CreateRound(ctx, db.CreateRoundParams{
		ID:     uuid.New(),
		GameID: gameID,
		Roster: roster,
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation && pqErr.Constraint == oneActiveRoundConstraint {
			return nil, fmt.Errorf("%w: game %s", round.ErrRoundAlreadyActive, gameID)
		}
		if isPQError(err, pqForeignKeyViolation) {
			return nil, fmt.Errorf("%w: %s", round.ErrGameNotFound, gameID)
		}
		return nil, storageErr("failed to create round", err)
	}
	return dbRoundToModel(row, nil), nil
}

// GetRound loads a round with its recorded outcomes.
func (r *Repository) GetRound(ctx context.Context, roundID uuid.UUID) (*models.Round, error) {
	row, err := r.queries.GetRound(ctx, roundID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", round.ErrRoundNotFound, roundID)
	}
	if err != nil {
		return nil, storageErr("failed to get round", err)
	}
	return r.withResults(ctx, row)
}

// GetActiveRound returns round.ErrRoundNotFound when the game has no waiting
// or in-progress round.
func (r *Repository) GetActiveRound(ctx context.Context, gameID uuid.UUID) (*models.Round, error) {
	row, err := r.queries.GetActiveRoundByGame(ctx, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active round for game %s", round.ErrRoundNotFound, gameID)
	}
	if err != nil {
		return nil, storageErr("failed to get active round", err)
	}
	return r.withResults(ctx, row)
}

// GetLatestRound returns the game's most recently created round in any
// status.
func (r *Repository) GetLatestRound(ctx context.Context, gameID uuid.UUID) (*models.Round, error) {
	row, err := r.queries.GetLatestRoundByGame(ctx, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no rounds for game %s", round.ErrRoundNotFound, gameID)
	}
	if err != nil {
		return nil, storageErr("failed to get latest round", err)
	}
	return r.withResults(ctx, row)
}

func (r *Repository) withResults(ctx context.Context, row db.Round) (*models.Round, error) {
	results, err := r.queries.ListRoundResults(ctx, row.ID)
	if err != nil {
		return nil, storageErr("failed to list round results", err)
	}
	return dbRoundToModel(row, results), nil
}

func (r *Repository) ReplaceRoster(ctx context.Context, roundID uuid.UUID, roster []uuid.UUID) error {
	n, err := r.queries.UpdateRoundRoster(ctx, db.UpdateRoundRosterParams{ID: roundID, Roster: roster})
	if err != nil {
		return storageErr("failed to replace roster", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", round.ErrRoundNotFound, roundID)
	}
	return nil
}

// SaveOutcome writes the outcome and, when completion is set, the completing
// status update and winner flags in one transaction. The round row is locked
// first. If the stored round is no longer in progress, or the number of stored
// outcomes disagrees with the caller's completion decision, nothing is written
// and round.ErrStaleRound is returned.
func (r *Repository) SaveOutcome(ctx context.Context, roundID uuid.UUID, outcome models.Outcome, completion *models.RoundUpdate) error {
	// each statement must see rows committed while waiting on the lock
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	return r.inTx(ctx, opts, "failed to save outcome", func(q *db.Queries) error {
		locked, err := q.LockRound(ctx, roundID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", round.ErrRoundNotFound, roundID)
		}
		if err != nil {
			return err
		}
		if models.RoundStatus(locked.Status) != models.RoundStatusInProgress {
			return fmt.Errorf("%w: round %s is %s", round.ErrStaleRound, roundID, locked.Status)
		}

		err = q.InsertRoundResult(ctx, db.InsertRoundResultParams{
			RoundID:       roundID,
			ParticipantID: outcome.ParticipantID,
			ReactionTime:  sqlutil.ToSqlInt32(outcome.ReactionTimeMs),
			WasEliminated: outcome.Eliminated,
			RecordedAt:    outcome.RecordedAt,
		})
		if isPQError(err, pqUniqueViolation) {
			return fmt.Errorf("%w: participant %s", round.ErrDuplicateOutcome, outcome.ParticipantID)
		}
		if err != nil {
			return err
		}

		recorded, err := q.CountRoundResults(ctx, roundID)
		if err != nil {
			return err
		}
		if complete := recorded >= int64(len(locked.Roster)); complete != (completion != nil) {
			return fmt.Errorf("%w: round %s has %d of %d outcomes", round.ErrStaleRound, roundID, recorded, len(locked.Roster))
		}
		if completion == nil {
			return nil
		}
		return applyUpdate(ctx, q, *completion)
	})
}

// UpdateRoundStatus persists a transition. Returning to waiting clears the
// countdown and start time.
func (r *Repository) UpdateRoundStatus(ctx context.Context, update models.RoundUpdate) error {
	return r.inTx(ctx, nil, "failed to update round status", func(q *db.Queries) error {
		if update.ClearOutcomes {
			if err := q.DeleteRoundResults(ctx, update.RoundID); err != nil {
				return err
			}
		}
		return applyUpdate(ctx, q, update)
	})
}

func applyUpdate(ctx context.Context, q *db.Queries, update models.RoundUpdate) error {
	n, err := q.UpdateRoundStatus(ctx, db.UpdateRoundStatusParams{
		ID:                update.RoundID,
		Status:            string(update.Status),
		CountdownDuration: sqlutil.ToSqlInt32(update.CountdownMs),
		StartedAt:         sqlutil.ToSqlTime(update.StartedAt),
		CompletedAt:       sqlutil.ToSqlTime(update.CompletedAt),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", round.ErrRoundNotFound, update.RoundID)
	}
	if update.Status != models.RoundStatusCompleted {
		return nil
	}
	return q.MarkRoundWinners(ctx, db.MarkRoundWinnersParams{
		RoundID: update.RoundID,
		Winners: update.Winners,
	})
}

// inTx runs fn in a transaction. Domain errors pass through, anything else
// is reported as a storage failure.
func (r *Repository) inTx(ctx context.Context, opts *sql.TxOptions, op string, fn func(q *db.Queries) error) error {
	err := sqlutil.Run(ctx, r.db, opts, r.queries.WithTx, fn)
	if err == nil ||
		errors.Is(err, round.ErrDuplicateOutcome) ||
		errors.Is(err, round.ErrStaleRound) ||
		errors.Is(err, round.ErrRoundNotFound) {
		return err
	}
	return storageErr(op, err)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", round.ErrStorageFailure, op, err)
}

func isPQError(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

func dbGameToModel(g db.Game) *models.Game {
	game := &models.Game{
		ID:        g.ID,
		AdminID:   g.AdminID,
		Token:     g.Token,
		CreatedAt: g.CreatedAt.UTC(),
	}
	if g.Settings.Valid {
		game.Settings = g.Settings.RawMessage
	}
	return game
}

func dbParticipantToModel(p db.Participant) *models.Participant {
	return &models.Participant{
		ID:         p.ID,
		GameID:     p.GameID,
		TeamID:     sqlutil.FromNullUUID(p.TeamID),
		Name:       p.Name,
		AvatarSeed: sqlutil.FromSqlString(p.AvatarSeed, ""),
		IsOnline:   p.IsOnline,
		LastSeen:   sqlutil.FromSqlTime(p.LastSeen),
		JoinedAt:   p.JoinedAt.UTC(),
	}
}

func dbRoundToModel(row db.Round, results []db.RoundResult) *models.Round {
	r := &models.Round{
		ID:          row.ID,
		GameID:      row.GameID,
		Status:      models.RoundStatus(row.Status),
		Roster:      row.Roster,
		CountdownMs: sqlutil.FromSqlInt32(row.CountdownDuration),
		StartedAt:   sqlutil.FromSqlTime(row.StartedAt),
		CompletedAt: sqlutil.FromSqlTime(row.CompletedAt),
		CreatedAt:   row.CreatedAt.UTC(),
		Outcomes:    make([]models.Outcome, 0, len(results)),
	}
	for _, res := range results {
		r.Outcomes = append(r.Outcomes, models.Outcome{
			ParticipantID:  res.ParticipantID,
			ReactionTimeMs: sqlutil.FromSqlInt32(res.ReactionTime),
			Eliminated:     res.WasEliminated,
			IsWinner:       res.IsWinner,
			RecordedAt:     res.RecordedAt.UTC(),
		})
	}
	return r
}
