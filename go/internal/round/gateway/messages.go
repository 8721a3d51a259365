package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/mcdev12/reflex/go/internal/round/coordinator"
	"github.com/rs/zerolog/log"
)

// Client frame types
const (
	MsgHeartbeat     = "participant:heartbeat"
	MsgButtonClick   = "round:button-click"
	MsgEliminate     = "round:eliminate"
	MsgCreateRound   = "admin:create-round"
	MsgReplaceRoster = "admin:replace-roster"
	MsgStartRound    = "admin:start-round"
	MsgStopRound     = "admin:stop-round"
	MsgDiscardRound  = "admin:discard-round"
)

// Server reply types
const (
	MsgError = "error"
	MsgAck   = "ack"
)

var (
	errInvalidMessage = errors.New("invalid message")
	errForbidden      = errors.New("not allowed for this role")
)

// ClientMessage is a frame sent by a client.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ServerMessage is a direct reply to one client.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AckData struct {
	Command string `json:"command"`
	RoundID string `json:"round_id,omitempty"`
}

type heartbeatData struct {
	Timestamp *int64 `json:"timestamp"` // unix ms
}

type buttonClickData struct {
	RoundID      uuid.UUID `json:"round_id"`
	ReactionTime *float64  `json:"reaction_time"`
}

type roundRefData struct {
	RoundID uuid.UUID `json:"round_id"`
}

type rosterData struct {
	RoundID uuid.UUID   `json:"round_id"`
	Roster  []uuid.UUID `json:"participant_ids"`
}

// errorCode maps a command failure to the code sent to the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errInvalidMessage):
		return "INVALID_MESSAGE"
	case errors.Is(err, errForbidden):
		return "FORBIDDEN"
	default:
		return round.Code(err)
	}
}

// handleClientMessage decodes one frame, runs it and replies with an ack or
// an error. The client learns about state changes from the broadcast events.
func (cm *ConnectionManager) handleClientMessage(c *Connection, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		cm.replyError(c, "", fmt.Errorf("%w: %v", errInvalidMessage, err))
		return
	}

	cmd, err := decodeCommand(c, msg, cm.maxReactionTimeMs())
	if err != nil {
		cm.replyError(c, msg.Type, err)
		return
	}

	res, err := cm.dispatcher.Dispatch(cm.ctx, cmd)
	if err != nil {
		cm.replyError(c, msg.Type, err)
		return
	}

	ack := AckData{Command: msg.Type}
	if res.Round != nil {
		ack.RoundID = res.Round.ID.String()
	}
	cm.reply(c, ServerMessage{Type: MsgAck, Data: ack})
}

func (cm *ConnectionManager) replyError(c *Connection, msgType string, err error) {
	code := errorCode(err)
	log.Debug().
		Err(err).
		Str("connection_id", c.ID).
		Str("message_type", msgType).
		Str("code", code).
		Msg("client message rejected")

	message := err.Error()
	if code == "SERVER_ERROR" {
		message = "internal server error"
	}
	cm.reply(c, ServerMessage{Type: MsgError, Data: ErrorData{Code: code, Message: message}})
}

func (cm *ConnectionManager) maxReactionTimeMs() int {
	if cm.config.MaxReactionTimeMs > 0 {
		return cm.config.MaxReactionTimeMs
	}
	return round.MaxReactionTimeMs
}

// decodeCommand turns a frame into a coordinator command, enforcing the
// sender's role. Participants act only as themselves.
func decodeCommand(c *Connection, msg ClientMessage, maxReactionMs int) (coordinator.Command, error) {
	switch msg.Type {
	case MsgHeartbeat, MsgButtonClick, MsgEliminate:
		if c.Role != RoleParticipant {
			return nil, fmt.Errorf("%w: %s", errForbidden, msg.Type)
		}
	case MsgCreateRound, MsgReplaceRoster, MsgStartRound, MsgStopRound, MsgDiscardRound:
		if c.Role != RoleAdmin {
			return nil, fmt.Errorf("%w: %s", errForbidden, msg.Type)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errInvalidMessage, msg.Type)
	}

	switch msg.Type {
	case MsgHeartbeat:
		var d heartbeatData
		if err := decodeData(msg, &d); err != nil {
			return nil, err
		}
		cmd := coordinator.Heartbeat{GameID: c.GameID, ParticipantID: c.ParticipantID}
		if d.Timestamp != nil {
			t := time.UnixMilli(*d.Timestamp)
			cmd.ClientTime = &t
		}
		return cmd, nil

	case MsgButtonClick:
		var d buttonClickData
		if err := decodeData(msg, &d); err != nil {
			return nil, err
		}
		if d.ReactionTime == nil {
			return nil, fmt.Errorf("%w: reaction_time is required", round.ErrInvalidReactionTime)
		}
		ms, err := round.ReactionTimeFromFloat(*d.ReactionTime, maxReactionMs)
		if err != nil {
			return nil, err
		}
		return coordinator.SubmitReaction{RoundID: d.RoundID, ParticipantID: c.ParticipantID, ReactionTimeMs: ms}, nil

	case MsgEliminate:
		var d roundRefData
		if err := decodeData(msg, &d); err != nil {
			return nil, err
		}
		return coordinator.SubmitElimination{RoundID: d.RoundID, ParticipantID: c.ParticipantID}, nil

	case MsgCreateRound:
		var d rosterData
		if err := decodeData(msg, &d); err != nil {
			return nil, err
		}
		return coordinator.CreateRound{GameID: c.GameID, Roster: d.Roster}, nil

	case MsgReplaceRoster:
		var d rosterData
		if err := decodeData(msg, &d); err != nil {
			return nil, err
		}
		return coordinator.ReplaceRoster{GameID: c.GameID, RoundID: d.RoundID, Roster: d.Roster}, nil

	case MsgStartRound:
		var d roundRefData
		if err := decodeData(msg, &d); err != nil {
			return nil, err
		}
		return coordinator.StartRound{GameID: c.GameID, RoundID: d.RoundID}, nil

	case MsgStopRound:
		var d roundRefData
		if err := decodeData(msg, &d); err != nil {
			return nil, err
		}
		return coordinator.StopRound{GameID: c.GameID, RoundID: d.RoundID}, nil

	default: // MsgDiscardRound
		var d roundRefData
		if err := decodeData(msg, &d); err != nil {
			return nil, err
		}
		return coordinator.DiscardRound{GameID: c.GameID, RoundID: d.RoundID}, nil
	}
}

func decodeData(msg ClientMessage, v any) error {
	if len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", errInvalidMessage, msg.Type, err)
	}
	return nil
}
