package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const createGame = `-- name: CreateGame :one
INSERT INTO games (id, admin_id, token, settings)
VALUES ($1, $2, $3, $4)
RETURNING id, admin_id, token, settings, created_at
`

type CreateGameParams struct {
	ID       uuid.UUID
	AdminID  uuid.UUID
	Token    string
	Settings pqtype.NullRawMessage
}

func (q *Queries) CreateGame(ctx context.Context, arg CreateGameParams) (Game, error) {
	row := q.db.QueryRowContext(ctx, createGame,
		arg.ID,
		arg.AdminID,
		arg.Token,
		arg.Settings,
	)
	var i Game
	err := row.Scan(
		&i.ID,
		&i.AdminID,
		&i.Token,
		&i.Settings,
		&i.CreatedAt,
	)
	return i, err
}

const getGameByToken = `-- name: GetGameByToken :one
SELECT id, admin_id, token, settings, created_at
FROM games
WHERE token = $1
`

func (q *Queries) GetGameByToken(ctx context.Context, token string) (Game, error) {
	row := q.db.QueryRowContext(ctx, getGameByToken, token)
	var i Game
	err := row.Scan(
		&i.ID,
		&i.AdminID,
		&i.Token,
		&i.Settings,
		&i.CreatedAt,
	)
	return i, err
}

const createParticipant = `-- name: CreateParticipant :one
INSERT INTO participants (id, game_id, team_id, name, avatar_seed)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, game_id, team_id, name, avatar_seed, is_online, last_seen, joined_at
`

type CreateParticipantParams struct {
	ID         uuid.UUID
	GameID     uuid.UUID
	TeamID     uuid.NullUUID
	Name       string
	AvatarSeed sql.NullString
}

func (q *Queries) CreateParticipant(ctx context.Context, arg CreateParticipantParams) (Participant, error) {
	row := q.db.QueryRowContext(ctx, createParticipant,
		arg.ID,
		arg.GameID,
		arg.TeamID,
		arg.Name,
		arg.AvatarSeed,
	)
	return scanParticipant(row)
}

const getParticipant = `-- name: GetParticipant :one
SELECT id, game_id, team_id, name, avatar_seed, is_online, last_seen, joined_at
FROM participants
WHERE id = $1
`

func (q *Queries) GetParticipant(ctx context.Context, id uuid.UUID) (Participant, error) {
	row := q.db.QueryRowContext(ctx, getParticipant, id)
	return scanParticipant(row)
}

const listParticipantsByGame = `-- name: ListParticipantsByGame :many
SELECT id, game_id, team_id, name, avatar_seed, is_online, last_seen, joined_at
FROM participants
WHERE game_id = $1
ORDER BY joined_at, id
`

func (q *Queries) ListParticipantsByGame(ctx context.Context, gameID uuid.UUID) ([]Participant, error) {
	rows, err := q.db.QueryContext(ctx, listParticipantsByGame, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Participant
	for rows.Next() {
		i, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateParticipantPresence = `-- name: UpdateParticipantPresence :exec
UPDATE participants
SET is_online = $2, last_seen = $3
WHERE id = $1
`

type UpdateParticipantPresenceParams struct {
	ID       uuid.UUID
	IsOnline bool
	LastSeen sql.NullTime
}

func (q *Queries) UpdateParticipantPresence(ctx context.Context, arg UpdateParticipantPresenceParams) error {
	_, err := q.db.ExecContext(ctx, updateParticipantPresence, arg.ID, arg.IsOnline, arg.LastSeen)
	return err
}

const createRound = `-- name: CreateRound :one
INSERT INTO rounds (id, game_id, status, roster)
VALUES ($1, $2, 'waiting', $3)
RETURNING id, game_id, status, roster, countdown_duration, started_at, completed_at, created_at
`

type CreateRoundParams struct {
	ID     uuid.UUID
	GameID uuid.UUID
	Roster []uuid.UUID
}

func (q *Queries) CreateRound(ctx context.Context, arg CreateRoundParams) (Round, error) {
	row := q.db.QueryRowContext(ctx, createRound, arg.ID, arg.GameID, pq.Array(uuidStrings(arg.Roster)))
	return scanRound(row)
}

const getRound = `-- name: GetRound :one
SELECT id, game_id, status, roster, countdown_duration, started_at, completed_at, created_at
FROM rounds
WHERE id = $1
`

func (q *Queries) GetRound(ctx context.Context, id uuid.UUID) (Round, error) {
	row := q.db.QueryRowContext(ctx, getRound, id)
	return scanRound(row)
}

const lockRound = `-- name: LockRound :one
SELECT id, game_id, status, roster, countdown_duration, started_at, completed_at, created_at
FROM rounds
WHERE id = $1
FOR UPDATE
`

// LockRound holds the round row until the surrounding transaction ends.
func (q *Queries) LockRound(ctx context.Context, id uuid.UUID) (Round, error) {
	row := q.db.QueryRowContext(ctx, lockRound, id)
	return scanRound(row)
}

const getActiveRoundByGame = `-- name: GetActiveRoundByGame :one
SELECT id, game_id, status, roster, countdown_duration, started_at, completed_at, created_at
FROM rounds
WHERE game_id = $1 AND status IN ('waiting', 'in_progress')
ORDER BY created_at DESC
LIMIT 1
`

func (q *Queries) GetActiveRoundByGame(ctx context.Context, gameID uuid.UUID) (Round, error) {
	row := q.db.QueryRowContext(ctx, getActiveRoundByGame, gameID)
	return scanRound(row)
}

const getLatestRoundByGame = `-- name: GetLatestRoundByGame :one
SELECT id, game_id, status, roster, countdown_duration, started_at, completed_at, created_at
FROM rounds
WHERE game_id = $1
ORDER BY created_at DESC
LIMIT 1
`

func (q *Queries) GetLatestRoundByGame(ctx context.Context, gameID uuid.UUID) (Round, error) {
	row := q.db.QueryRowContext(ctx, getLatestRoundByGame, gameID)
	return scanRound(row)
}

const updateRoundRoster = `-- name: UpdateRoundRoster :execrows
UPDATE rounds
SET roster = $2
WHERE id = $1
`

type UpdateRoundRosterParams struct {
	ID     uuid.UUID
	Roster []uuid.UUID
}

func (q *Queries) UpdateRoundRoster(ctx context.Context, arg UpdateRoundRosterParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateRoundRoster, arg.ID, pq.Array(uuidStrings(arg.Roster)))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateRoundStatus = `-- name: UpdateRoundStatus :execrows
UPDATE rounds
SET status = $2,
    countdown_duration = CASE WHEN $2 = 'waiting' THEN NULL ELSE COALESCE($3, countdown_duration) END,
    started_at = CASE WHEN $2 = 'waiting' THEN NULL ELSE COALESCE($4, started_at) END,
    completed_at = COALESCE($5, completed_at)
WHERE id = $1
`

type UpdateRoundStatusParams struct {
	ID                uuid.UUID
	Status            string
	CountdownDuration sql.NullInt32
	StartedAt         sql.NullTime
	CompletedAt       sql.NullTime
}

func (q *Queries) UpdateRoundStatus(ctx context.Context, arg UpdateRoundStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateRoundStatus,
		arg.ID,
		arg.Status,
		arg.CountdownDuration,
		arg.StartedAt,
		arg.CompletedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const insertRoundResult = `-- name: InsertRoundResult :exec
INSERT INTO round_results (round_id, participant_id, reaction_time, was_eliminated, recorded_at)
VALUES ($1, $2, $3, $4, $5)
`

type InsertRoundResultParams struct {
	RoundID       uuid.UUID
	ParticipantID uuid.UUID
	ReactionTime  sql.NullInt32
	WasEliminated bool
	RecordedAt    time.Time
}

func (q *Queries) InsertRoundResult(ctx context.Context, arg InsertRoundResultParams) error {
	_, err := q.db.ExecContext(ctx, insertRoundResult,
		arg.RoundID,
		arg.ParticipantID,
		arg.ReactionTime,
		arg.WasEliminated,
		arg.RecordedAt,
	)
	return err
}

const listRoundResults = `-- name: ListRoundResults :many
SELECT round_id, participant_id, reaction_time, was_eliminated, is_winner, recorded_at
FROM round_results
WHERE round_id = $1
ORDER BY recorded_at, participant_id
`

func (q *Queries) ListRoundResults(ctx context.Context, roundID uuid.UUID) ([]RoundResult, error) {
	rows, err := q.db.QueryContext(ctx, listRoundResults, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RoundResult
	for rows.Next() {
		var i RoundResult
		if err := rows.Scan(
			&i.RoundID,
			&i.ParticipantID,
			&i.ReactionTime,
			&i.WasEliminated,
			&i.IsWinner,
			&i.RecordedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countRoundResults = `-- name: CountRoundResults :one
SELECT count(*)
FROM round_results
WHERE round_id = $1
`

func (q *Queries) CountRoundResults(ctx context.Context, roundID uuid.UUID) (int64, error) {
	row := q.db.QueryRowContext(ctx, countRoundResults, roundID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const deleteRoundResults = `-- name: DeleteRoundResults :exec
DELETE FROM round_results
WHERE round_id = $1
`

func (q *Queries) DeleteRoundResults(ctx context.Context, roundID uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, deleteRoundResults, roundID)
	return err
}

const markRoundWinners = `-- name: MarkRoundWinners :exec
UPDATE round_results
SET is_winner = (participant_id = ANY($2::uuid[]))
WHERE round_id = $1
`

type MarkRoundWinnersParams struct {
	RoundID uuid.UUID
	Winners []uuid.UUID
}

func (q *Queries) MarkRoundWinners(ctx context.Context, arg MarkRoundWinnersParams) error {
	_, err := q.db.ExecContext(ctx, markRoundWinners, arg.RoundID, pq.Array(uuidStrings(arg.Winners)))
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanParticipant(row scanner) (Participant, error) {
	var i Participant
	err := row.Scan(
		&i.ID,
		&i.GameID,
		&i.TeamID,
		&i.Name,
		&i.AvatarSeed,
		&i.IsOnline,
		&i.LastSeen,
		&i.JoinedAt,
	)
	return i, err
}

func scanRound(row scanner) (Round, error) {
	var i Round
	var roster []string
	if err := row.Scan(
		&i.ID,
		&i.GameID,
		&i.Status,
		pq.Array(&roster),
		&i.CountdownDuration,
		&i.StartedAt,
		&i.CompletedAt,
		&i.CreatedAt,
	); err != nil {
		return i, err
	}
	ids, err := parseUUIDs(roster)
	if err != nil {
		return i, err
	}
	i.Roster = ids
	return i, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(ss []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(ss))
	for i, s := range ss {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
