// Package events defines the round and presence events pushed to every
// subscriber of a game's channel.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type represents the type of event
type Type string

const (
	TypeRoundCreated      Type = "round.created"
	TypeRoundStarted      Type = "round.started"
	TypeRoundButtonActive Type = "round.button_active"
	TypeRoundCancelled    Type = "round.cancelled"
	TypeRoundResult       Type = "round.result"
	TypePresenceOnline    Type = "presence.online"
	TypePresenceOffline   Type = "presence.offline"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeRoundCreated, TypeRoundStarted, TypeRoundButtonActive, TypeRoundCancelled,
		TypeRoundResult, TypePresenceOnline, TypePresenceOffline:
		return true
	}
	return false
}

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string          `json:"id"`
	GameID    string          `json:"game_id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New marshals payload into an event for gameID.
func New(gameID uuid.UUID, typ Type, payload any, at time.Time) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		GameID:    gameID.String(),
		Type:      typ,
		Timestamp: at.UTC(),
		Data:      data,
	}, nil
}

// ParsePayload decodes the event data into its typed payload.
func ParsePayload(event *Event) (any, error) {
	var target any
	switch event.Type {
	case TypeRoundCreated:
		target = &RoundCreatedPayload{}
	case TypeRoundStarted:
		target = &RoundStartedPayload{}
	case TypeRoundButtonActive:
		target = &ButtonActivePayload{}
	case TypeRoundCancelled:
		target = &RoundCancelledPayload{}
	case TypeRoundResult:
		target = &RoundResultPayload{}
	case TypePresenceOnline, TypePresenceOffline:
		target = &PresencePayload{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}

	if err := json.Unmarshal(event.Data, target); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", event.Type, err)
	}
	return target, nil
}
