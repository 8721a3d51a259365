package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/models"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/rs/zerolog/log"
)

// GameDirectory resolves games and their participants.
type GameDirectory interface {
	GetGameByToken(ctx context.Context, token string) (*models.Game, error)
	GetParticipant(ctx context.Context, participantID uuid.UUID) (*models.Participant, error)
}

// WebSocketHandler handles WebSocket upgrade requests for game connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	games             GameDirectory
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, games GameDirectory) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		games:             games,
	}
}

// HandleGameConnection handles GET /ws/game?token=&role=&participant_id=
func (h *WebSocketHandler) HandleGameConnection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	game, status, err := resolveGame(r.Context(), h.games, q.Get("token"))
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	role := Role(q.Get("role"))
	if role == "" {
		role = RoleParticipant
	}

	participantID := uuid.Nil
	switch role {
	case RoleAdmin:
	case RoleParticipant:
		participantID, err = uuid.Parse(q.Get("participant_id"))
		if err != nil {
			http.Error(w, "invalid participant_id format", http.StatusBadRequest)
			return
		}
		p, err := h.games.GetParticipant(r.Context(), participantID)
		switch {
		case errors.Is(err, round.ErrParticipantNotFound):
			http.Error(w, "participant not found", http.StatusNotFound)
			return
		case err != nil:
			log.Error().Err(err).Str("participant_id", participantID.String()).Msg("failed to get participant")
			http.Error(w, "failed to get participant", http.StatusInternalServerError)
			return
		case p.GameID != game.ID:
			http.Error(w, "participant not found", http.StatusNotFound)
			return
		}
	default:
		http.Error(w, "role must be admin or participant", http.StatusBadRequest)
		return
	}

	// the upgrader has already written an HTTP error on failure
	if err := h.connectionManager.UpgradeConnection(w, r, game.ID, participantID, role); err != nil {
		log.Error().
			Err(err).
			Str("game_id", game.ID.String()).
			Str("participant_id", participantID.String()).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/game", h.HandleGameConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

// resolveGame looks a game up by its join token, returning the HTTP status
// to use on failure.
func resolveGame(ctx context.Context, games GameDirectory, rawToken string) (*models.Game, int, error) {
	token, err := round.NormalizeGameToken(rawToken)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	game, err := games.GetGameByToken(ctx, token)
	switch {
	case errors.Is(err, round.ErrGameNotFound):
		return nil, http.StatusNotFound, err
	case err != nil:
		log.Error().Err(err).Str("token", token).Msg("failed to get game")
		return nil, http.StatusInternalServerError, errors.New("failed to get game")
	}
	return game, http.StatusOK, nil
}
