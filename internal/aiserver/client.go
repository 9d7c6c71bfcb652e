package aiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thisisrandy/igo/internal/game"
	"github.com/thisisrandy/igo/internal/protocol"
)

// errorSleep is how long to wait after the game server reports an
// error before resending the last action.
const errorSleep = 2 * time.Second

// Client plays one game as the AI side. To the game server it looks
// like any other player: it joins over a websocket with its key and
// secret, receives updates, and acts when allowed to.
type Client struct {
	gameServerURL string
	playerKey     string
	aiSecret      string
	policy        Policy

	lastMessage []byte
	lastAction  *game.Action
	lastGame    *game.Game
	rejected    []game.Coords
}

func NewClient(gameServerURL, playerKey, aiSecret string, policy Policy) *Client {
	return &Client{
		gameServerURL: gameServerURL,
		playerKey:     playerKey,
		aiSecret:      aiSecret,
		policy:        policy,
	}
}

type joinFrame struct {
	Type     string `json:"type"`
	Key      string `json:"key"`
	AISecret string `json:"ai_secret"`
}

type actionFrame struct {
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	ActionType game.ActionType `json:"action_type"`
	Coords     *game.Coords    `json:"coords,omitempty"`
}

// Run joins the game and plays until it completes, the opponent
// disconnects, or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.gameServerURL, nil)
	if err != nil {
		return fmt.Errorf("dialing game server: %w", err)
	}
	defer conn.Close()

	// Unblock reads when the caller gives up on us.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	color, err := c.join(conn)
	if err != nil || color == nil {
		return err
	}

	err = c.play(ctx, conn, *color)
	slog.Info("shutting down connection", "key", c.playerKey)
	return err
}

// join sends the join frame and parses the response. A nil color with
// a nil error means the join was refused, which is not retryable from
// here.
func (c *Client) join(conn *websocket.Conn) (*game.Color, error) {
	join, err := json.Marshal(joinFrame{Type: "join_game", Key: c.playerKey, AISecret: c.aiSecret})
	if err != nil {
		return nil, fmt.Errorf("encoding join frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		return nil, fmt.Errorf("sending join frame: %w", err)
	}

	var msg protocol.Outgoing
	if err := c.readFrame(conn, &msg); err != nil {
		return nil, err
	}
	resp, ok := msg.Data.(*protocol.GameResponse)
	if msg.Type != protocol.OutgoingJoinGameResponse || !ok {
		return nil, fmt.Errorf("expected a join response, got %s", msg.Type)
	}
	if !resp.Success {
		slog.Warn("failed to join game",
			"key", c.playerKey, "explanation", resp.Explanation)
		return nil, nil
	}
	return resp.YourColor, nil
}

func (c *Client) play(ctx context.Context, conn *websocket.Conn, color game.Color) error {
	for {
		var msg protocol.Outgoing
		if err := c.readFrame(conn, &msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch msg.Type {
		case protocol.OutgoingGameActionResponse:
			resp := msg.Data.(*protocol.ActionResponse)
			if !resp.Success {
				// A rejection leaves the game unchanged, so no status
				// update follows and nothing else will prompt us to
				// move. LegalMoves can offer a ko-violating point, for
				// example, which the server only rejects on write.
				// Propose something else instead of stalling.
				slog.Warn("action was rejected, trying another",
					"key", c.playerKey, "explanation", resp.Explanation)
				action := c.retry(color)
				if action == nil {
					continue
				}
				if err := c.sendAction(conn, action); err != nil {
					return err
				}
			}

		case protocol.OutgoingGameStatus:
			status := msg.Data.(*protocol.GameStatus)
			if status.Game.Status == game.StatusComplete {
				return nil
			}
			c.lastGame = status.Game
			c.rejected = nil
			action := c.policy.Play(status.Game, color, unixSeconds(time.Now()), nil)
			if action == nil {
				continue
			}
			if err := c.sendAction(conn, action); err != nil {
				return err
			}

		case protocol.OutgoingChat:
			// Nothing to say.

		case protocol.OutgoingOpponentConnected:
			if !msg.Data.(*protocol.OpponentConnected).OpponentConnected {
				return nil
			}

		case protocol.OutgoingError:
			payload := msg.Data.(*protocol.ErrorPayload)
			slog.Warn("game server reported an error, resending last action",
				"key", c.playerKey, "error", payload.ErrorMessage)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(errorSleep):
			}
			if c.lastMessage != nil {
				if err := conn.WriteMessage(websocket.TextMessage, c.lastMessage); err != nil {
					return fmt.Errorf("resending last action: %w", err)
				}
			}

		default:
			slog.Warn("ignoring unexpected frame", "type", msg.Type)
		}
	}
}

// retry picks a replacement after the server rejected the last action.
// Rejected placements accumulate in c.rejected until the next status
// update, so the policy eventually runs out of bad candidates and
// passes. A rejected pass is not retried; whatever state made it
// illegal will arrive as a fresh status shortly.
func (c *Client) retry(color game.Color) *game.Action {
	if c.lastGame == nil || c.lastAction == nil || c.lastAction.Coords == nil {
		return nil
	}
	c.rejected = append(c.rejected, *c.lastAction.Coords)
	return c.policy.Play(c.lastGame, color, unixSeconds(time.Now()), c.rejected)
}

func (c *Client) sendAction(conn *websocket.Conn, action *game.Action) error {
	data, err := json.Marshal(actionFrame{
		Type:       "game_action",
		Key:        c.playerKey,
		ActionType: action.Type,
		Coords:     action.Coords,
	})
	if err != nil {
		return fmt.Errorf("encoding action frame: %w", err)
	}
	c.lastMessage = data
	c.lastAction = action
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sending action frame: %w", err)
	}
	return nil
}

func (c *Client) readFrame(conn *websocket.Conn, msg *protocol.Outgoing) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading frame: %w", err)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
