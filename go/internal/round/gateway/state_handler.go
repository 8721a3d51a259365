package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/models"
	"github.com/mcdev12/reflex/go/internal/presence"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/rs/zerolog/log"
)

// RoundReader returns the round a game is playing.
type RoundReader interface {
	CurrentRound(ctx context.Context, gameID uuid.UUID) (models.Round, error)
}

// PresenceReader lists the presence of a game's participants.
type PresenceReader interface {
	Snapshot(gameID uuid.UUID) []presence.Status
}

// GameStateResponse lets a reconnecting client rebuild its view.
type GameStateResponse struct {
	GameID   string            `json:"game_id"`
	Token    string            `json:"token"`
	Round    *models.Round     `json:"round"`
	Presence []presence.Status `json:"presence"`
}

// StateHandler handles HTTP requests for game state
type StateHandler struct {
	games    GameDirectory
	rounds   RoundReader
	presence PresenceReader
}

// NewStateHandler creates a new state handler
func NewStateHandler(games GameDirectory, rounds RoundReader, p PresenceReader) *StateHandler {
	return &StateHandler{
		games:    games,
		rounds:   rounds,
		presence: p,
	}
}

// HandleGetRoundState handles GET /api/games/{token}/round
func (h *StateHandler) HandleGetRoundState(w http.ResponseWriter, r *http.Request) {
	game, status, err := resolveGame(r.Context(), h.games, r.PathValue("token"))
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	resp := GameStateResponse{
		GameID:   game.ID.String(),
		Token:    game.Token,
		Presence: []presence.Status{},
	}

	current, err := h.rounds.CurrentRound(r.Context(), game.ID)
	switch {
	case err == nil:
		resp.Round = &current
	case errors.Is(err, round.ErrRoundNotFound):
	default:
		log.Error().Err(err).Str("game_id", game.ID.String()).Msg("failed to get current round")
		http.Error(w, "failed to get round state", http.StatusInternalServerError)
		return
	}

	if h.presence != nil {
		if snap := h.presence.Snapshot(game.ID); snap != nil {
			resp.Presence = snap
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode round state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/games/{token}/round", h.HandleGetRoundState)
}
