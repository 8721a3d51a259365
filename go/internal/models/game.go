package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Game is identified externally by its token.
type Game struct {
	ID        uuid.UUID       `json:"id"`
	AdminID   uuid.UUID       `json:"admin_id"`
	Token     string          `json:"token"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Participant is a player who joined a game.
type Participant struct {
	ID         uuid.UUID  `json:"id"`
	GameID     uuid.UUID  `json:"game_id"`
	TeamID     *uuid.UUID `json:"team_id,omitempty"`
	Name       string     `json:"name"`
	AvatarSeed string     `json:"avatar_seed,omitempty"`
	IsOnline   bool       `json:"is_online"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	JoinedAt   time.Time  `json:"joined_at"`
}
