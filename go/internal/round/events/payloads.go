package events

import "time"

// Cancel reasons
const (
	ReasonAdminStop = "admin_stop"
	ReasonDiscarded = "discarded"
)

// Offline reasons
const (
	ReasonDisconnect = "disconnect"
	ReasonTimeout    = "timeout"
)

type RoundCreatedPayload struct {
	RoundID string   `json:"round_id"`
	Roster  []string `json:"participant_ids"`
}

// RoundStartedPayload lets clients run their own countdown display.
type RoundStartedPayload struct {
	RoundID         string `json:"round_id"`
	CountdownMs     int    `json:"countdown_duration"`
	ServerTimestamp int64  `json:"server_timestamp"` // unix ms
}

type ButtonActivePayload struct {
	RoundID     string    `json:"round_id"`
	ActivatedAt time.Time `json:"activated_at"`
}

type RoundCancelledPayload struct {
	RoundID string `json:"round_id"`
	Reason  string `json:"reason"`
}

type OutcomePayload struct {
	ParticipantID  string `json:"participant_id"`
	ReactionTimeMs *int   `json:"reaction_time"`
	Eliminated     bool   `json:"was_eliminated"`
	IsWinner       bool   `json:"is_winner"`
	Suspicious     bool   `json:"suspicious,omitempty"`
}

type RoundResultPayload struct {
	RoundID  string           `json:"round_id"`
	Outcomes []OutcomePayload `json:"results"`
	Winners  []string         `json:"winners"`
}

type PresencePayload struct {
	ParticipantID string `json:"participant_id"`
	Reason        string `json:"reason,omitempty"`
	LatencyMs     *int   `json:"latency_ms,omitempty"`
}
