package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Game struct {
	ID        uuid.UUID
	AdminID   uuid.UUID
	Token     string
	Settings  pqtype.NullRawMessage
	CreatedAt time.Time
}

type Participant struct {
	ID         uuid.UUID
	GameID     uuid.UUID
	TeamID     uuid.NullUUID
	Name       string
	AvatarSeed sql.NullString
	IsOnline   bool
	LastSeen   sql.NullTime
	JoinedAt   time.Time
}

type Round struct {
	ID                uuid.UUID
	GameID            uuid.UUID
	Status            string
	Roster            []uuid.UUID
	CountdownDuration sql.NullInt32
	StartedAt         sql.NullTime
	CompletedAt       sql.NullTime
	CreatedAt         time.Time
}

type RoundResult struct {
	RoundID       uuid.UUID
	ParticipantID uuid.UUID
	ReactionTime  sql.NullInt32
	WasEliminated bool
	IsWinner      bool
	RecordedAt    time.Time
}
