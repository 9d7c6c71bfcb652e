package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisisrandy/igo/internal/chat"
	"github.com/thisisrandy/igo/internal/game"
)

func placeAction(c game.Color, i, j int) game.Action {
	return game.Action{Type: game.ActionPlaceStone, Color: c, Coords: &game.Coords{i, j}}
}

func TestParseIncoming_NewGame(t *testing.T) {
	raw := `{"type":"new_game","vs":"human","color":"black","size":19,"komi":6.5}`

	msg, err := ParseIncoming([]byte(raw), 123.5)

	require.NoError(t, err)
	assert.Equal(t, IncomingNewGame, msg.Type)
	assert.Equal(t, OpponentHuman, msg.Vs)
	assert.Equal(t, game.Black, msg.Color)
	assert.Equal(t, 19, msg.Size)
	assert.Equal(t, 6.5, msg.Komi)
	assert.Equal(t, 123.5, msg.Timestamp)
}

func TestParseIncoming_MissingRequiredKey(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"new_game without komi", `{"type":"new_game","vs":"human","color":"black","size":19}`},
		{"join_game without key", `{"type":"join_game"}`},
		{"game_action without action_type", `{"type":"game_action","key":"0123456789"}`},
		{"chat_message without message", `{"type":"chat_message","key":"0123456789"}`},
		{"no type at all", `{"key":"0123456789"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseIncoming([]byte(tt.raw), 0)
			assert.Error(t, err)
		})
	}
}

func TestParseIncoming_GameAction(t *testing.T) {
	raw := `{"type":"game_action","key":"abcDEF1234","action_type":"place_stone","coords":[3,4]}`

	msg, err := ParseIncoming([]byte(raw), 0)

	require.NoError(t, err)
	assert.Equal(t, game.ActionPlaceStone, msg.ActionType)
	require.NotNil(t, msg.Coords)
	assert.Equal(t, game.Coords{3, 4}, *msg.Coords)
}

func TestParseIncoming_UnknownType(t *testing.T) {
	_, err := ParseIncoming([]byte(`{"type":"launch_missiles"}`), 0)
	assert.ErrorContains(t, err, "unknown incoming message type")
}

func TestKeyContainer_OmitsSecrets(t *testing.T) {
	keys := KeyContainer{
		White: KeyPair{PlayerKey: "wwwwwwwwww", AISecret: "secretsecre"},
		Black: KeyPair{PlayerKey: "bbbbbbbbbb"},
	}

	data, err := json.Marshal(keys)

	require.NoError(t, err)
	assert.JSONEq(t, `{"white":"wwwwwwwwww","black":"bbbbbbbbbb"}`, string(data))
	assert.NotContains(t, string(data), "secret")
}

func TestGameStatus_RoundTrip(t *testing.T) {
	g := game.New(9, 6.5)
	ok, msg := g.TakeAction(placeAction(game.Black, 2, 3))
	require.True(t, ok, msg)
	status := GameStatus{Game: g, TimePlayed: 42.5}

	data, err := json.Marshal(Outgoing{Type: OutgoingGameStatus, Data: status})
	require.NoError(t, err)

	var decoded Outgoing
	require.NoError(t, json.Unmarshal(data, &decoded))
	got, isStatus := decoded.Data.(*GameStatus)
	require.True(t, isStatus)

	assert.Equal(t, 42.5, got.TimePlayed)
	assert.Equal(t, game.StatusPlay, got.Game.Status)
	assert.Equal(t, game.White, got.Game.Turn)
	assert.Equal(t, game.Black, got.Game.Board.At(2, 3).Color)
	require.NotNil(t, got.Game.LastMove())
	assert.Equal(t, game.Coords{2, 3}, *got.Game.LastMove())
	assert.True(t, g.Board.ColorsEqual(got.Game.Board))
}

func TestGameStatus_WireShape(t *testing.T) {
	g := game.New(3, 0.5)
	ok, _ := g.TakeAction(placeAction(game.Black, 0, 0))
	require.True(t, ok)

	data, err := json.Marshal(GameStatus{Game: g, TimePlayed: 0})
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	board := wire["board"].(map[string]any)
	points := board["points"].([]any)
	row0 := points[0].([]any)
	point00 := row0[0].([]any)

	assert.Equal(t, []any{"b", false, false, ""}, point00)
	assert.Equal(t, "white", wire["turn"])
	assert.Equal(t, []any{float64(0), float64(0)}, wire["lastMove"].([]any))
	assert.Nil(t, wire["pendingRequest"])
	assert.Nil(t, wire["result"])
}

func TestGameResponse_RoundTrip(t *testing.T) {
	yourColor := game.White
	payload := &GameResponse{
		Success:     true,
		Explanation: "Successfully (re)joined the game as white",
		Keys: &KeyContainer{
			White: KeyPair{PlayerKey: "wwwwwwwwww"},
			Black: KeyPair{PlayerKey: "bbbbbbbbbb"},
		},
		YourColor: &yourColor,
	}

	data, err := json.Marshal(Outgoing{Type: OutgoingJoinGameResponse, Data: payload})
	require.NoError(t, err)

	var decoded Outgoing
	require.NoError(t, json.Unmarshal(data, &decoded))
	got := decoded.Data.(*GameResponse)

	assert.Equal(t, payload.Success, got.Success)
	assert.Equal(t, payload.Explanation, got.Explanation)
	assert.Equal(t, "wwwwwwwwww", got.Keys.White.PlayerKey)
	assert.Equal(t, game.White, *got.YourColor)
}

func TestChatAndErrorPayloads_RoundTrip(t *testing.T) {
	thread := chat.NewThread(true)
	thread.Append(chat.Message{Timestamp: 1.5, Color: game.Black, Message: "hello", ID: 1})

	data, err := json.Marshal(Outgoing{Type: OutgoingChat, Data: thread})
	require.NoError(t, err)
	var decoded Outgoing
	require.NoError(t, json.Unmarshal(data, &decoded))
	gotThread := decoded.Data.(*chat.Thread)
	assert.True(t, gotThread.IsComplete)
	require.Len(t, gotThread.Messages, 1)
	assert.Equal(t, "hello", gotThread.Messages[0].Message)

	data, err = json.Marshal(Outgoing{Type: OutgoingError, Data: ErrorPayload{ErrorMessage: "boom"}})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "boom", decoded.Data.(*ErrorPayload).ErrorMessage)
}
