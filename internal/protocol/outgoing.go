package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/thisisrandy/igo/internal/chat"
	"github.com/thisisrandy/igo/internal/game"
)

// OutgoingType enumerates the server-to-client frame types.
type OutgoingType string

const (
	OutgoingNewGameResponse    OutgoingType = "new_game_response"
	OutgoingJoinGameResponse   OutgoingType = "join_game_response"
	OutgoingGameActionResponse OutgoingType = "game_action_response"
	OutgoingGameStatus         OutgoingType = "game_status"
	OutgoingChat               OutgoingType = "chat"
	OutgoingOpponentConnected  OutgoingType = "opponent_connected"
	OutgoingError              OutgoingType = "error"
)

// Outgoing is a single server-to-client frame: a tagged payload.
type Outgoing struct {
	Type OutgoingType `json:"messageType"`
	Data any          `json:"data"`
}

// GameResponse is the payload of new_game_response and
// join_game_response frames. Keys and YourColor are null on failure.
type GameResponse struct {
	Success     bool          `json:"success"`
	Explanation string        `json:"explanation"`
	Keys        *KeyContainer `json:"keys"`
	YourColor   *game.Color   `json:"yourColor"`
}

// ActionResponse is the payload of game_action_response frames.
type ActionResponse struct {
	Success     bool   `json:"success"`
	Explanation string `json:"explanation"`
}

// OpponentConnected is the payload of opponent_connected frames.
type OpponentConnected struct {
	OpponentConnected bool `json:"opponentConnected"`
}

// ErrorPayload is the payload of error frames. Only the message string
// survives serialization.
type ErrorPayload struct {
	ErrorMessage string `json:"errorMessage"`
}

// UnmarshalJSON decodes a frame into its concrete payload type based on
// the messageType tag. Used by the AI worker and by client-side tests;
// the server itself only ever marshals.
func (o *Outgoing) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type OutgoingType    `json:"messageType"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Type = raw.Type

	switch raw.Type {
	case OutgoingNewGameResponse, OutgoingJoinGameResponse:
		var payload GameResponse
		if err := json.Unmarshal(raw.Data, &payload); err != nil {
			return err
		}
		o.Data = &payload
	case OutgoingGameActionResponse:
		var payload ActionResponse
		if err := json.Unmarshal(raw.Data, &payload); err != nil {
			return err
		}
		o.Data = &payload
	case OutgoingGameStatus:
		var payload GameStatus
		if err := json.Unmarshal(raw.Data, &payload); err != nil {
			return err
		}
		o.Data = &payload
	case OutgoingChat:
		var payload chat.Thread
		if err := json.Unmarshal(raw.Data, &payload); err != nil {
			return err
		}
		o.Data = &payload
	case OutgoingOpponentConnected:
		var payload OpponentConnected
		if err := json.Unmarshal(raw.Data, &payload); err != nil {
			return err
		}
		o.Data = &payload
	case OutgoingError:
		var payload ErrorPayload
		if err := json.Unmarshal(raw.Data, &payload); err != nil {
			return err
		}
		o.Data = &payload
	default:
		return fmt.Errorf("unrecognized outgoing message type %q", raw.Type)
	}

	return nil
}
