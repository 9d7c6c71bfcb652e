package game

import "fmt"

// ActionType enumerates every kind of move a player can submit.
type ActionType string

const (
	ActionPlaceStone        ActionType = "place_stone"
	ActionPassTurn          ActionType = "pass_turn"
	ActionMarkDead          ActionType = "mark_dead"
	ActionRequestDraw       ActionType = "request_draw"
	ActionResign            ActionType = "resign"
	ActionRequestTallyScore ActionType = "request_tally_score"
	ActionAccept            ActionType = "accept"
	ActionReject            ActionType = "reject"
)

// ParseActionType validates an incoming action type string.
func ParseActionType(name string) (ActionType, error) {
	switch ActionType(name) {
	case ActionPlaceStone, ActionPassTurn, ActionMarkDead, ActionRequestDraw,
		ActionResign, ActionRequestTallyScore, ActionAccept, ActionReject:
		return ActionType(name), nil
	}
	return "", fmt.Errorf("%q is not a valid action type", name)
}

// Coords addresses a point on the board as (row, column).
type Coords [2]int

// Action is a single move taken by one player. Timestamp is the server
// time, in unix seconds, at which the action was received.
type Action struct {
	Type      ActionType `json:"actionType"`
	Color     Color      `json:"color"`
	Timestamp float64    `json:"timestamp"`
	Coords    *Coords    `json:"coords,omitempty"`
}

// RequestType enumerates the requests that pause play awaiting a
// response from the opponent.
type RequestType string

const (
	RequestMarkDead   RequestType = "mark_dead"
	RequestDraw       RequestType = "draw"
	RequestTallyScore RequestType = "tally_score"
)

// Request is a pending request awaiting response. Initiator is waiting
// for Initiator.Inverse() to respond.
type Request struct {
	Type      RequestType `json:"requestType"`
	Initiator Color       `json:"initiator"`
}

// ResultType enumerates the ways a game can end.
type ResultType string

const (
	ResultStandardWin ResultType = "standard_win"
	ResultDraw        ResultType = "draw"
	ResultResignation ResultType = "resignation"
)

// Result is the final outcome of a game. Winner is empty for draws.
type Result struct {
	Type   ResultType `json:"resultType"`
	Winner Color      `json:"winner,omitempty"`
}
