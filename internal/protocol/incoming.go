package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/thisisrandy/igo/internal/game"
)

// IncomingType enumerates the client-to-server frame types.
type IncomingType string

const (
	IncomingNewGame     IncomingType = "new_game"
	IncomingJoinGame    IncomingType = "join_game"
	IncomingGameAction  IncomingType = "game_action"
	IncomingChatMessage IncomingType = "chat_message"
)

// OpponentType is the "vs" field of a new_game frame.
type OpponentType string

const (
	OpponentHuman    OpponentType = "human"
	OpponentComputer OpponentType = "computer"
)

// Incoming is a parsed and validated client frame. Only the fields
// relevant to Type are populated. Timestamp is stamped by the caller at
// receipt.
type Incoming struct {
	Type      IncomingType
	Timestamp float64

	// new_game
	Vs    OpponentType
	Color game.Color
	Size  int
	Komi  float64

	// join_game, game_action, chat_message
	Key string

	// join_game
	AISecret string

	// game_action
	ActionType game.ActionType
	Coords     *game.Coords

	// chat_message
	Message string
}

// rawIncoming mirrors the frame shape with pointer fields so that
// missing required keys are distinguishable from zero values.
type rawIncoming struct {
	Type       *string      `json:"type"`
	Vs         *string      `json:"vs"`
	Color      *string      `json:"color"`
	Size       *int         `json:"size"`
	Komi       *float64     `json:"komi"`
	Key        *string      `json:"key"`
	AISecret   *string      `json:"ai_secret"`
	ActionType *string      `json:"action_type"`
	Coords     *game.Coords `json:"coords"`
	Message    *string      `json:"message"`
}

// ParseIncoming decodes and validates a single incoming frame.
func ParseIncoming(data []byte, timestamp float64) (*Incoming, error) {
	var raw rawIncoming
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding incoming message: %w", err)
	}
	if raw.Type == nil {
		return nil, fmt.Errorf("incoming message is missing required key \"type\"")
	}

	msg := &Incoming{Type: IncomingType(*raw.Type), Timestamp: timestamp}

	required := func(keys ...string) error {
		present := map[string]bool{
			"vs":          raw.Vs != nil,
			"color":       raw.Color != nil,
			"size":        raw.Size != nil,
			"komi":        raw.Komi != nil,
			"key":         raw.Key != nil,
			"action_type": raw.ActionType != nil,
			"message":     raw.Message != nil,
		}
		for _, k := range keys {
			if !present[k] {
				return fmt.Errorf("required key %q not found in incoming %s message", k, msg.Type)
			}
		}
		return nil
	}

	switch msg.Type {
	case IncomingNewGame:
		if err := required("vs", "color", "size", "komi"); err != nil {
			return nil, err
		}
		switch OpponentType(*raw.Vs) {
		case OpponentHuman, OpponentComputer:
			msg.Vs = OpponentType(*raw.Vs)
		default:
			return nil, fmt.Errorf("%q is not a valid opponent type", *raw.Vs)
		}
		color, err := game.ParseColor(*raw.Color)
		if err != nil {
			return nil, err
		}
		msg.Color = color
		msg.Size = *raw.Size
		msg.Komi = *raw.Komi

	case IncomingJoinGame:
		if err := required("key"); err != nil {
			return nil, err
		}
		msg.Key = *raw.Key
		if raw.AISecret != nil {
			msg.AISecret = *raw.AISecret
		}

	case IncomingGameAction:
		if err := required("key", "action_type"); err != nil {
			return nil, err
		}
		msg.Key = *raw.Key
		actionType, err := game.ParseActionType(*raw.ActionType)
		if err != nil {
			return nil, err
		}
		msg.ActionType = actionType
		msg.Coords = raw.Coords

	case IncomingChatMessage:
		if err := required("key", "message"); err != nil {
			return nil, err
		}
		msg.Key = *raw.Key
		msg.Message = *raw.Message

	default:
		return nil, fmt.Errorf("unknown incoming message type %q", msg.Type)
	}

	return msg, nil
}
