package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/thisisrandy/igo/internal/game"
)

// GameStatus is the payload of game_status frames: the wire form of a
// game combined with its time played value.
//
// The wire form strips the action stack and the previous board. A
// deserialized game is therefore suitable for display and for move
// selection, but not for ko detection; if lastMove is present, a single
// placement action with a zero timestamp is pushed onto the stack so
// that LastMove and Version behave sensibly for fresh updates.
type GameStatus struct {
	Game       *game.Game
	TimePlayed float64
}

type wireRequest struct {
	RequestType game.RequestType `json:"requestType"`
	Initiator   game.Color       `json:"initiator"`
}

type wireResult struct {
	ResultType game.ResultType `json:"resultType"`
	Winner     *game.Color     `json:"winner"`
}

type wireBoard struct {
	Size   int             `json:"size"`
	Points [][]wirePoint   `json:"points"`
}

type wireGameStatus struct {
	Board          wireBoard           `json:"board"`
	Status         game.Status         `json:"status"`
	Komi           float64             `json:"komi"`
	Prisoners      map[game.Color]int  `json:"prisoners"`
	Turn           game.Color          `json:"turn"`
	Territory      map[game.Color]int  `json:"territory"`
	PendingRequest *wireRequest        `json:"pendingRequest"`
	Result         *wireResult         `json:"result"`
	LastMove       *game.Coords        `json:"lastMove"`
	TimePlayed     float64             `json:"timePlayed"`
}

// wirePoint serializes as the 4-tuple
// [colorShort, markedDead, counted, countsForShort].
type wirePoint game.Point

func (p wirePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		game.Point(p).Color.Short(),
		p.MarkedDead,
		p.Counted,
		game.Point(p).CountsFor.Short(),
	})
}

func (p *wirePoint) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 4 {
		return fmt.Errorf("point must be a 4-tuple, got %d elements", len(tuple))
	}
	var colorShort, countsForShort string
	if err := json.Unmarshal(tuple[0], &colorShort); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[1], &p.MarkedDead); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[2], &p.Counted); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[3], &countsForShort); err != nil {
		return err
	}
	color, err := game.ColorFromShort(colorShort)
	if err != nil {
		return err
	}
	countsFor, err := game.ColorFromShort(countsForShort)
	if err != nil {
		return err
	}
	p.Color = color
	p.CountsFor = countsFor
	return nil
}

func (s GameStatus) MarshalJSON() ([]byte, error) {
	g := s.Game
	wire := wireGameStatus{
		Board:      wireBoard{Size: g.Board.Size, Points: make([][]wirePoint, g.Board.Size)},
		Status:     g.Status,
		Komi:       g.Komi,
		Prisoners:  g.Prisoners,
		Turn:       g.Turn,
		Territory:  g.Territory,
		LastMove:   g.LastMove(),
		TimePlayed: s.TimePlayed,
	}
	for i, row := range g.Board.Points {
		wire.Board.Points[i] = make([]wirePoint, len(row))
		for j, p := range row {
			wire.Board.Points[i][j] = wirePoint(p)
		}
	}
	if g.PendingRequest != nil {
		wire.PendingRequest = &wireRequest{
			RequestType: g.PendingRequest.Type,
			Initiator:   g.PendingRequest.Initiator,
		}
	}
	if g.Result != nil {
		wire.Result = &wireResult{ResultType: g.Result.Type}
		if g.Result.Winner != "" {
			winner := g.Result.Winner
			wire.Result.Winner = &winner
		}
	}
	return json.Marshal(wire)
}

func (s *GameStatus) UnmarshalJSON(data []byte) error {
	var wire wireGameStatus
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	g := &game.Game{
		Status:    wire.Status,
		Turn:      wire.Turn,
		Board:     game.NewBoard(wire.Board.Size),
		Komi:      wire.Komi,
		Prisoners: wire.Prisoners,
		Territory: wire.Territory,
	}
	for i, row := range wire.Board.Points {
		for j, p := range row {
			*g.Board.At(i, j) = game.Point(p)
		}
	}
	if wire.PendingRequest != nil {
		g.PendingRequest = &game.Request{
			Type:      wire.PendingRequest.RequestType,
			Initiator: wire.PendingRequest.Initiator,
		}
	}
	if wire.Result != nil {
		g.Result = &game.Result{Type: wire.Result.ResultType}
		if wire.Result.Winner != nil {
			g.Result.Winner = *wire.Result.Winner
		}
	}
	if wire.LastMove != nil {
		g.ActionStack = []game.Action{{
			Type:   game.ActionPlaceStone,
			Color:  wire.Turn.Inverse(),
			Coords: wire.LastMove,
		}}
	}

	s.Game = g
	s.TimePlayed = wire.TimePlayed
	return nil
}
