// Package gameserver is the session layer: it accepts websocket
// connections, maps each live socket to a player key and its cached
// state, translates client frames into store operations, and fans
// store notifications back out to sockets.
package gameserver

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/thisisrandy/igo/internal/ailauncher"
	"github.com/thisisrandy/igo/internal/chat"
	"github.com/thisisrandy/igo/internal/db"
	"github.com/thisisrandy/igo/internal/game"
	"github.com/thisisrandy/igo/internal/protocol"
)

// Store is the gateway surface the session layer depends on.
type Store interface {
	WriteNewGame(ctx context.Context, g *game.Game, creatorColor *game.Color,
		aiColors map[game.Color]bool, unsubscribeKey string) (*protocol.KeyContainer, error)
	JoinGame(ctx context.Context, key, aiSecret, unsubscribeKey string) (db.JoinResult, *protocol.KeyContainer, error)
	WriteGame(ctx context.Context, key string, g *game.Game) (*float64, error)
	WriteChat(ctx context.Context, key string, m chat.Message) (bool, error)
	TriggerUpdateAll(ctx context.Context, key string) error
	Unsubscribe(ctx context.Context, key string, listenersOnly bool) bool
}

// AILauncher asks the AI service to take over a key pair. Restart is
// the rejoin variant: the hint about the previous session lets the
// launcher skip games that no longer need a computer player.
type AILauncher interface {
	Start(ctx context.Context, pair protocol.KeyPair) error
	Restart(ctx context.Context, pair protocol.KeyPair, prev *ailauncher.PreviousSession) error
}

// conn is the client surface the manager needs; tests substitute a
// recording fake.
type conn interface {
	ID() string
	Send(protocol.Outgoing) error
	Close()
}

// session is the per-connection cached state. The cached game and chat
// thread track the authoritative store via update callbacks; they may
// briefly lag it but never lead it.
type session struct {
	key               string
	color             game.Color
	game              *game.Game
	timePlayed        float64
	chatThread        *chat.Thread
	opponentConnected bool
	// pendingAI, when set, is the computer opponent to restart once the
	// first status update reveals whether the game is still live.
	pendingAI *protocol.KeyPair
}

// Manager holds the socket ↔ session bidirectional map and all message
// handling. A single mutex guards both maps and all session fields,
// since handlers and update callbacks run on different goroutines.
type Manager struct {
	store    Store
	launcher AILauncher

	mu       sync.Mutex
	sessions map[conn]*session
	byKey    map[string]conn
}

func NewManager(store Store, launcher AILauncher) *Manager {
	return &Manager{
		store:    store,
		launcher: launcher,
		sessions: make(map[conn]*session),
		byKey:    make(map[string]conn),
	}
}

// Callbacks returns the update callbacks to install on the store.
func (m *Manager) Callbacks() db.Callbacks {
	return db.Callbacks{
		GameStatus:        m.onGameStatus,
		Chat:              m.onChat,
		OpponentConnected: m.onOpponentConnected,
	}
}

// HandleMessage processes one incoming frame. Failures that are not
// already expressed as response frames are reported to the client as
// an error frame; the connection stays open either way. A panic while
// processing is contained the same way: one bad frame must never take
// the process down with it.
func (m *Manager) HandleMessage(c conn, data []byte, timestamp float64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing message",
				"client", c.ID(), "panic", r, "stack", string(debug.Stack()))
			m.sendError(c, fmt.Errorf("internal error while processing message"))
		}
	}()

	msg, err := protocol.ParseIncoming(data, timestamp)
	if err != nil {
		slog.Warn("rejecting malformed frame", "client", c.ID(), "error", err)
		m.sendError(c, err)
		return
	}

	ctx := context.Background()
	switch msg.Type {
	case protocol.IncomingNewGame:
		err = m.newGame(ctx, c, msg)
	case protocol.IncomingJoinGame:
		err = m.joinGame(ctx, c, msg)
	case protocol.IncomingGameAction:
		err = m.gameAction(ctx, c, msg)
	case protocol.IncomingChatMessage:
		err = m.chatMessage(ctx, c, msg)
	}
	if err != nil {
		slog.Error("failed to process message",
			"client", c.ID(), "type", msg.Type, "error", err)
		m.sendError(c, err)
	}
}

// Disconnect tears down c's session, if any, and releases its key.
// The release retries internally until it succeeds, so it runs off the
// socket's goroutine.
func (m *Manager) Disconnect(c conn) {
	m.mu.Lock()
	sess, ok := m.sessions[c]
	if ok {
		delete(m.sessions, c)
		delete(m.byKey, sess.key)
	}
	m.mu.Unlock()

	if !ok {
		slog.Info("client with no active subscription dropped", "client", c.ID())
		return
	}
	slog.Info("unsubscribing disconnected client", "client", c.ID(), "key", sess.key)
	go m.store.Unsubscribe(context.Background(), sess.key, false)
}

func (m *Manager) newGame(ctx context.Context, c conn, msg *protocol.Incoming) error {
	oldKey := m.currentKey(c)

	g := game.New(msg.Size, msg.Komi)
	color := msg.Color
	var aiColors map[game.Color]bool
	if msg.Vs == protocol.OpponentComputer {
		aiColors = map[game.Color]bool{color.Inverse(): true}
	}

	keys, err := m.store.WriteNewGame(ctx, g, &color, aiColors, oldKey)
	if err != nil {
		return fmt.Errorf("creating new game: %w", err)
	}

	if oldKey != "" {
		slog.Info("client requesting new game already subscribed",
			"client", c.ID(), "key", oldKey)
		m.removeByKey(oldKey)
		m.store.Unsubscribe(ctx, oldKey, true)
	}

	sess := &session{
		key:        keys.Get(color).PlayerKey,
		color:      color,
		game:       g,
		chatThread: chat.NewThread(true),
	}
	m.install(c, sess)

	aiWillOppose := keys.Get(color.Inverse()).AISecret != ""
	if err := c.Send(protocol.Outgoing{
		Type: protocol.OutgoingNewGameResponse,
		Data: &protocol.GameResponse{
			Success:     true,
			Explanation: newGameExplanation(keys, color, aiWillOppose),
			Keys:        keys,
			YourColor:   &color,
		},
	}); err != nil {
		return err
	}
	if err := c.Send(protocol.Outgoing{
		Type: protocol.OutgoingGameStatus,
		Data: protocol.GameStatus{Game: g, TimePlayed: 0},
	}); err != nil {
		return err
	}
	if err := c.Send(protocol.Outgoing{
		Type: protocol.OutgoingChat,
		Data: sess.chatThread,
	}); err != nil {
		return err
	}
	if err := c.Send(protocol.Outgoing{
		Type: protocol.OutgoingOpponentConnected,
		Data: protocol.OpponentConnected{OpponentConnected: false},
	}); err != nil {
		return err
	}

	if aiWillOppose {
		m.launchAI(keys.Get(color.Inverse()))
	}
	return nil
}

func newGameExplanation(keys *protocol.KeyContainer, color game.Color, aiWillOppose bool) string {
	var b strings.Builder
	b.WriteString("Successfully created new game.")
	if !aiWillOppose {
		fmt.Fprintf(&b,
			" Make sure to give the %s player key (%s) to your opponent so that they can join the game. ",
			color.Inverse(), keys.Get(color.Inverse()).PlayerKey)
	}
	fmt.Fprintf(&b,
		" Your key is %s. Make sure to write it down in case you want to pause the game and resume it later, or if you want to view it once complete",
		keys.Get(color).PlayerKey)
	if aiWillOppose {
		b.WriteString(". The AI player will join the game shortly")
	}
	return b.String()
}

func (m *Manager) joinGame(ctx context.Context, c conn, msg *protocol.Incoming) error {
	oldKey := m.currentKey(c)
	if oldKey == msg.Key {
		return c.Send(joinFailure(fmt.Sprintf(
			"You are already playing using that key (%s)", msg.Key)))
	}

	res, keys, err := m.store.JoinGame(ctx, msg.Key, msg.AISecret, oldKey)
	if err != nil {
		return fmt.Errorf("joining game: %w", err)
	}

	switch res {
	case db.JoinDNE:
		return c.Send(joinFailure(fmt.Sprintf(
			"A game corresponding to key %s was not found. Please double-check and try again",
			msg.Key)))
	case db.JoinInUse:
		return c.Send(joinFailure(fmt.Sprintf(
			"Someone else is already playing using that key (%s)", msg.Key)))
	case db.JoinAIOnly:
		return c.Send(joinFailure(fmt.Sprintf(
			"Key %s is designated as a computer player and cannot be joined without the correct secret",
			msg.Key)))
	case db.JoinSuccess:
	default:
		return fmt.Errorf("unknown join result %q", res)
	}

	if oldKey != "" {
		slog.Info("client requesting join already subscribed",
			"client", c.ID(), "key", oldKey)
		m.removeByKey(oldKey)
		m.store.Unsubscribe(ctx, oldKey, true)
	}

	color := game.Black
	if keys.White.PlayerKey == msg.Key {
		color = game.White
	}
	sess := &session{
		key:        msg.Key,
		color:      color,
		chatThread: chat.NewThread(true),
	}
	aiWillOppose := keys.Get(color.Inverse()).AISecret != ""
	if aiWillOppose {
		pair := keys.Get(color.Inverse())
		sess.pendingAI = &pair
	}
	m.install(c, sess)

	explanation := fmt.Sprintf("Successfully (re)joined the game as %s", color)
	if aiWillOppose {
		explanation += ". The computer player will join shortly"
	}
	if err := c.Send(protocol.Outgoing{
		Type: protocol.OutgoingJoinGameResponse,
		Data: &protocol.GameResponse{
			Success:     true,
			Explanation: explanation,
			Keys:        keys,
			YourColor:   &color,
		},
	}); err != nil {
		return err
	}

	// The three cached fields arrive via the update callbacks. The
	// first game status also decides whether the computer opponent is
	// restarted (see onGameStatus).
	return m.store.TriggerUpdateAll(ctx, msg.Key)
}

func joinFailure(explanation string) protocol.Outgoing {
	return protocol.Outgoing{
		Type: protocol.OutgoingJoinGameResponse,
		Data: &protocol.GameResponse{Success: false, Explanation: explanation},
	}
}

func (m *Manager) gameAction(ctx context.Context, c conn, msg *protocol.Incoming) error {
	m.mu.Lock()
	sess, ok := m.sessions[c]
	if !ok || sess.key != msg.Key {
		m.mu.Unlock()
		// A key the socket doesn't own indicates a client bug; drop it.
		slog.Error("game action for key not owned by client",
			"client", c.ID(), "key", msg.Key)
		return nil
	}
	if sess.game == nil {
		m.mu.Unlock()
		return fmt.Errorf("no game state for key %s yet", msg.Key)
	}

	g := sess.game
	success, explanation := g.TakeAction(game.Action{
		Type:      msg.ActionType,
		Color:     sess.color,
		Timestamp: msg.Timestamp,
		Coords:    msg.Coords,
	})
	m.mu.Unlock()
	slog.Info("took action",
		"key", msg.Key, "success", success, "explanation", explanation)

	var timePlayed float64
	if success {
		tp, err := m.store.WriteGame(ctx, msg.Key, g)
		if err != nil {
			return fmt.Errorf("writing game: %w", err)
		}
		if tp == nil {
			success = false
			explanation = "Game action was preempted by other player"
		} else {
			timePlayed = *tp
			m.mu.Lock()
			sess.timePlayed = timePlayed
			m.mu.Unlock()
		}
	}

	if err := c.Send(protocol.Outgoing{
		Type: protocol.OutgoingGameActionResponse,
		Data: &protocol.ActionResponse{Success: success, Explanation: explanation},
	}); err != nil {
		return err
	}
	if success {
		return c.Send(protocol.Outgoing{
			Type: protocol.OutgoingGameStatus,
			Data: protocol.GameStatus{Game: g, TimePlayed: timePlayed},
		})
	}
	return nil
}

func (m *Manager) chatMessage(ctx context.Context, c conn, msg *protocol.Incoming) error {
	m.mu.Lock()
	sess, ok := m.sessions[c]
	if !ok || sess.key != msg.Key {
		m.mu.Unlock()
		slog.Error("chat message for key not owned by client",
			"client", c.ID(), "key", msg.Key)
		return nil
	}
	color := sess.color
	m.mu.Unlock()

	written, err := m.store.WriteChat(ctx, msg.Key, chat.Message{
		Timestamp: msg.Timestamp,
		Color:     color,
		Message:   msg.Message,
	})
	if err != nil {
		return fmt.Errorf("writing chat: %w", err)
	}
	if !written {
		slog.Warn("chat write found no game", "key", msg.Key)
	}
	// Delivery back to both players flows through the chat
	// notification channel.
	return nil
}

func (m *Manager) onGameStatus(key string, g *game.Game, timePlayed float64) {
	m.mu.Lock()
	c, ok := m.byKey[key]
	if !ok {
		m.mu.Unlock()
		slog.Warn("game status for unmanaged key", "key", key)
		return
	}
	sess := m.sessions[c]
	if sess.game != nil && sess.game.Version() > g.Version() {
		m.mu.Unlock()
		// A local write has already superseded this snapshot.
		slog.Info("dropping stale game status",
			"key", key, "version", g.Version())
		return
	}
	sess.game = g
	sess.timePlayed = timePlayed
	var restartAI *protocol.KeyPair
	if sess.pendingAI != nil {
		restartAI = sess.pendingAI
		sess.pendingAI = nil
	}
	m.mu.Unlock()

	if restartAI != nil {
		m.relaunchAI(*restartAI, &ailauncher.PreviousSession{
			OpponentConnected: true,
			GameComplete:      g.Status == game.StatusComplete,
		})
	}

	m.trySend(c, protocol.Outgoing{
		Type: protocol.OutgoingGameStatus,
		Data: protocol.GameStatus{Game: g, TimePlayed: timePlayed},
	})
}

func (m *Manager) onChat(key string, thread *chat.Thread) {
	m.mu.Lock()
	c, ok := m.byKey[key]
	if !ok {
		m.mu.Unlock()
		slog.Warn("chat update for unmanaged key", "key", key)
		return
	}
	sess := m.sessions[c]
	if thread.IsComplete {
		// Complete threads replace the cache wholesale; this is how
		// post-reconnect retransmissions avoid duplicating messages.
		sess.chatThread = thread
	} else {
		sess.chatThread.Extend(thread)
	}
	m.mu.Unlock()

	m.trySend(c, protocol.Outgoing{Type: protocol.OutgoingChat, Data: thread})
}

func (m *Manager) onOpponentConnected(key string, connected bool) {
	m.mu.Lock()
	c, ok := m.byKey[key]
	if !ok {
		m.mu.Unlock()
		slog.Warn("opponent connection update for unmanaged key", "key", key)
		return
	}
	m.sessions[c].opponentConnected = connected
	m.mu.Unlock()

	m.trySend(c, protocol.Outgoing{
		Type: protocol.OutgoingOpponentConnected,
		Data: protocol.OpponentConnected{OpponentConnected: connected},
	})
}

func (m *Manager) launchAI(pair protocol.KeyPair) {
	go func() {
		if err := m.launcher.Start(context.Background(), pair); err != nil {
			slog.Error("failed to start AI player",
				"key", pair.PlayerKey, "error", err)
		}
	}()
}

// relaunchAI restarts the computer player for a rejoined game. The
// launcher uses prev to skip games that already ended.
func (m *Manager) relaunchAI(pair protocol.KeyPair, prev *ailauncher.PreviousSession) {
	go func() {
		if err := m.launcher.Restart(context.Background(), pair, prev); err != nil {
			slog.Error("failed to restart AI player",
				"key", pair.PlayerKey, "error", err)
		}
	}()
}

func (m *Manager) currentKey(c conn) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[c]; ok {
		return sess.key
	}
	return ""
}

func (m *Manager) install(c conn, sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[c] = sess
	m.byKey[sess.key] = c
}

func (m *Manager) removeByKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byKey[key]; ok {
		delete(m.byKey, key)
		delete(m.sessions, c)
	}
}

func (m *Manager) sendError(c conn, err error) {
	m.trySend(c, protocol.Outgoing{
		Type: protocol.OutgoingError,
		Data: protocol.ErrorPayload{ErrorMessage: err.Error()},
	})
}

func (m *Manager) trySend(c conn, msg protocol.Outgoing) {
	if err := c.Send(msg); err != nil {
		slog.Warn("failed to send frame",
			"client", c.ID(), "type", msg.Type, "error", err)
	}
}
