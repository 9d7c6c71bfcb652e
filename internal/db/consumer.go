package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/thisisrandy/igo/internal/chat"
	"github.com/thisisrandy/igo/internal/game"
)

// consume drains the update queue, reading authoritative state for
// each notification and invoking the matching callback. Notification
// payloads are hints only; the database remains the source of truth.
func (s *Store) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-s.updates:
			if err := s.handleUpdate(ctx, u); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("failed to process update",
					"type", u.typ, "key", u.key, "error", err)
			}
		}
	}
}

func (s *Store) handleUpdate(ctx context.Context, u update) error {
	switch u.typ {
	case updateGameStatus:
		return s.consumeGameStatus(ctx, u.key)
	case updateChat:
		return s.consumeChat(ctx, u.key, u.payload)
	case updateOpponentConnected:
		return s.consumeOpponentConnected(ctx, u.key, u.payload)
	default:
		return fmt.Errorf("unknown update type %v", u.typ)
	}
}

func (s *Store) consumeGameStatus(ctx context.Context, key string) error {
	var (
		blob       []byte
		timePlayed float64
		version    int
	)
	err := s.pool.QueryRow(ctx,
		`SELECT * FROM get_game_status($1)`, key,
	).Scan(&blob, &timePlayed, &version)
	if err != nil {
		return fmt.Errorf("reading game status for key %s: %w", key, err)
	}

	g := new(game.Game)
	if err := json.Unmarshal(blob, g); err != nil {
		return fmt.Errorf("decoding stored game for key %s: %w", key, err)
	}

	s.cb.GameStatus(key, g, timePlayed)
	return nil
}

// consumeChat reads the messages identified by the notification
// payload. An empty payload means the full thread was requested, e.g.
// on join or after pub/sub recovery; otherwise the payload is the id
// of the newly written message and only the tail from that id on is
// fetched.
func (s *Store) consumeChat(ctx context.Context, key, payload string) error {
	complete := payload == ""
	var afterID int64
	if !complete {
		newID, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return fmt.Errorf("bad chat notification payload %q for key %s: %w",
				payload, key, err)
		}
		afterID = newID - 1
	}

	rows, err := s.pool.Query(ctx,
		`SELECT * FROM get_chat_updates($1, $2)`, key, afterID)
	if err != nil {
		return fmt.Errorf("reading chat updates for key %s: %w", key, err)
	}
	defer rows.Close()

	thread := chat.NewThread(complete)
	for rows.Next() {
		var (
			m     chat.Message
			color string
		)
		if err := rows.Scan(&m.ID, &m.Timestamp, &color, &m.Message); err != nil {
			return fmt.Errorf("scanning chat row for key %s: %w", key, err)
		}
		m.Color = game.Color(color)
		thread.Append(m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading chat updates for key %s: %w", key, err)
	}

	s.cb.Chat(key, thread)
	return nil
}

func (s *Store) consumeOpponentConnected(ctx context.Context, key, payload string) error {
	var connected bool
	switch payload {
	case "true":
		connected = true
	case "false":
		connected = false
	default:
		// Empty or unrecognized payload: ask the database.
		err := s.pool.QueryRow(ctx,
			`SELECT get_opponent_connected($1)`, key,
		).Scan(&connected)
		if err != nil {
			return fmt.Errorf("reading opponent connection for key %s: %w", key, err)
		}
	}

	s.cb.OpponentConnected(key, connected)
	return nil
}
