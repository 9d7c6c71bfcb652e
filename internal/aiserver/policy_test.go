package aiserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisisrandy/igo/internal/game"
)

func TestRandomPolicy_PlacesLegalStone(t *testing.T) {
	g := game.New(9, 6.5)

	action := RandomPolicy{}.Play(g, game.Black, 1, nil)

	require.NotNil(t, action)
	assert.Equal(t, game.ActionPlaceStone, action.Type)
	require.NotNil(t, action.Coords)
	ok, explanation := g.TakeAction(*action)
	assert.True(t, ok, explanation)
}

func TestRandomPolicy_WaitsForTurn(t *testing.T) {
	g := game.New(9, 6.5)

	assert.Nil(t, RandomPolicy{}.Play(g, game.White, 1, nil))
}

func TestRandomPolicy_PassesWithoutLegalMoves(t *testing.T) {
	// On a 1x1 board the only point is suicide, so black must pass.
	g := game.New(1, 0.5)

	action := RandomPolicy{}.Play(g, game.Black, 1, nil)

	require.NotNil(t, action)
	assert.Equal(t, game.ActionPassTurn, action.Type)
}

func TestRandomPolicy_SkipsRejectedMoves(t *testing.T) {
	g := game.New(2, 0.5)
	all := g.LegalMoves(game.Black)
	require.Greater(t, len(all), 1)

	// With every point but one rejected, the survivor is forced.
	action := RandomPolicy{}.Play(g, game.Black, 1, all[1:])
	require.NotNil(t, action)
	assert.Equal(t, game.ActionPlaceStone, action.Type)
	require.NotNil(t, action.Coords)
	assert.Equal(t, all[0], *action.Coords)

	// With everything rejected, passing is all that's left.
	action = RandomPolicy{}.Play(g, game.Black, 1, all)
	require.NotNil(t, action)
	assert.Equal(t, game.ActionPassTurn, action.Type)
}

func TestRandomPolicy_AcceptsOpponentRequests(t *testing.T) {
	g := game.New(9, 6.5)
	ok, explanation := g.TakeAction(game.Action{Type: game.ActionRequestDraw, Color: game.Black})
	require.True(t, ok, explanation)

	action := RandomPolicy{}.Play(g, game.White, 1, nil)

	require.NotNil(t, action)
	assert.Equal(t, game.ActionAccept, action.Type)
}

func TestRandomPolicy_NeverAnswersOwnRequest(t *testing.T) {
	g := game.New(9, 6.5)
	ok, explanation := g.TakeAction(game.Action{Type: game.ActionRequestDraw, Color: game.Black})
	require.True(t, ok, explanation)

	assert.Nil(t, RandomPolicy{}.Play(g, game.Black, 1, nil))
}
