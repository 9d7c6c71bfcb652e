package aiserver

import (
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/thisisrandy/igo/internal/game"
)

// Policy selects the AI's next action given the latest game state, or
// nil to take no action. Moves in exclude were already rejected by the
// game server for this position and must not be proposed again.
type Policy interface {
	Play(g *game.Game, color game.Color, timestamp float64, exclude []game.Coords) *game.Action
}

// RandomPolicy plays random legal moves until there are none left and
// accepts all of the opponent's requests.
type RandomPolicy struct{}

func (RandomPolicy) Play(g *game.Game, color game.Color, timestamp float64, exclude []game.Coords) *game.Action {
	if g.PendingRequest != nil {
		if g.PendingRequest.Initiator != color {
			slog.Info("accepting opponent's request",
				"initiator", g.PendingRequest.Initiator,
				"request", g.PendingRequest.Type)
			return &game.Action{Type: game.ActionAccept, Color: color, Timestamp: timestamp}
		}
		return nil
	}

	if g.Turn != color {
		return nil
	}

	choices := g.LegalMoves(color)
	if len(exclude) > 0 {
		choices = slices.DeleteFunc(choices, func(move game.Coords) bool {
			return slices.Contains(exclude, move)
		})
	}
	if len(choices) == 0 {
		slog.Info("no legal moves found, passing instead", "color", color)
		return &game.Action{Type: game.ActionPassTurn, Color: color, Timestamp: timestamp}
	}

	move := choices[rand.IntN(len(choices))]
	slog.Info("placing stone", "color", color, "coords", move)
	return &game.Action{
		Type:      game.ActionPlaceStone,
		Color:     color,
		Timestamp: timestamp,
		Coords:    &move,
	}
}
