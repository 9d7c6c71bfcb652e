package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbUnavailableSleep is how long to wait between attempts whenever the
// database is unreachable.
const dbUnavailableSleep = 2 * time.Second

const (
	chanPrefixGameStatus        = "game_status_"
	chanPrefixChat              = "chat_"
	chanPrefixOpponentConnected = "opponent_connected_"
)

type updateType int

const (
	updateGameStatus updateType = iota
	updateChat
	updateOpponentConnected
)

func (t updateType) String() string {
	switch t {
	case updateGameStatus:
		return "game_status"
	case updateChat:
		return "chat"
	case updateOpponentConnected:
		return "opponent_connected"
	default:
		return fmt.Sprintf("updateType(%d)", int(t))
	}
}

// update is a single received notification, queued for the consumer.
type update struct {
	typ     updateType
	key     string
	payload string
}

type listenCmd struct {
	sql  string
	done chan error
}

// listener owns the dedicated pub/sub connection. A single goroutine
// (run) blocks in WaitForNotification; LISTEN/UNLISTEN statements are
// applied by queueing a command and cancelling the wait, since the
// connection cannot be shared while a wait is in flight. If the
// connection dies, run re-acquires one from the pool, re-registers
// every subscribed key, and reports the recovery so that stale client
// state can be refreshed.
type listener struct {
	pool    *pgxpool.Pool
	updates chan<- update

	// onRecovered is called with all registered keys after the pub/sub
	// connection has been re-established.
	onRecovered func(keys []string)

	cmds chan listenCmd

	mu     sync.Mutex
	conn   *pgxpool.Conn
	connUp bool
	keys   map[string]struct{}
	wake   context.CancelFunc
}

func newListener(pool *pgxpool.Pool, updates chan<- update, onRecovered func([]string)) *listener {
	return &listener{
		pool:        pool,
		updates:     updates,
		onRecovered: onRecovered,
		cmds:        make(chan listenCmd, 16),
		keys:        make(map[string]struct{}),
	}
}

// start acquires the initial pub/sub connection so that startup fails
// fast when the database is unreachable.
func (l *listener) start(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring pub/sub connection: %w", err)
	}
	l.mu.Lock()
	l.conn = conn
	l.connUp = true
	l.mu.Unlock()
	return nil
}

// run is the listener loop. It returns when ctx is cancelled.
func (l *listener) run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		if l.conn != nil {
			l.conn.Release()
			l.conn = nil
		}
		l.connUp = false
		l.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()
		if conn == nil {
			var err error
			if conn, err = l.recover(ctx); err != nil {
				return err
			}
		}

		waitCtx, cancel := context.WithCancel(ctx)
		l.mu.Lock()
		l.wake = cancel
		l.mu.Unlock()
		l.drainCommands(ctx, conn)

		n, err := conn.Conn().WaitForNotification(waitCtx)
		cancel()

		switch {
		case err == nil:
			l.dispatch(ctx, n.Channel, n.Payload)
		case ctx.Err() != nil:
			return ctx.Err()
		case waitCtx.Err() != nil:
			// Woken to apply subscription changes; handled at the top
			// of the next iteration.
		default:
			slog.Error("pub/sub connection lost", "error", err)
			l.mu.Lock()
			l.conn.Release()
			l.conn = nil
			l.connUp = false
			l.mu.Unlock()
		}
	}
}

// recover loops until a fresh pub/sub connection is listening on every
// registered key's channels, then triggers a full refresh for those
// keys.
func (l *listener) recover(ctx context.Context) (*pgxpool.Conn, error) {
	for {
		conn, err := l.pool.Acquire(ctx)
		if err == nil {
			if err = l.relisten(ctx, conn); err == nil {
				l.mu.Lock()
				l.conn = conn
				l.connUp = true
				keys := l.registeredKeys()
				l.mu.Unlock()

				slog.Info("pub/sub connection recovered", "keys", len(keys))
				if l.onRecovered != nil && len(keys) > 0 {
					l.onRecovered(keys)
				}
				return conn, nil
			}
			conn.Release()
		}
		slog.Error("pub/sub recovery attempt failed", "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dbUnavailableSleep):
		}
	}
}

func (l *listener) relisten(ctx context.Context, conn *pgxpool.Conn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.keys {
		for _, ch := range channelsFor(key) {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				return fmt.Errorf("re-listening on %s: %w", ch, err)
			}
		}
	}
	return nil
}

func (l *listener) registeredKeys() []string {
	keys := make([]string, 0, len(l.keys))
	for key := range l.keys {
		keys = append(keys, key)
	}
	return keys
}

func (l *listener) drainCommands(ctx context.Context, conn *pgxpool.Conn) {
	for {
		select {
		case cmd := <-l.cmds:
			_, err := conn.Exec(ctx, cmd.sql)
			cmd.done <- err
		default:
			return
		}
	}
}

func (l *listener) dispatch(ctx context.Context, channel, payload string) {
	var typ updateType
	var key string
	switch {
	case strings.HasPrefix(channel, chanPrefixGameStatus):
		typ, key = updateGameStatus, channel[len(chanPrefixGameStatus):]
	case strings.HasPrefix(channel, chanPrefixChat):
		typ, key = updateChat, channel[len(chanPrefixChat):]
	case strings.HasPrefix(channel, chanPrefixOpponentConnected):
		typ, key = updateOpponentConnected, channel[len(chanPrefixOpponentConnected):]
	default:
		slog.Warn("notification on unrecognized channel", "channel", channel)
		return
	}

	l.mu.Lock()
	_, registered := l.keys[key]
	l.mu.Unlock()
	if !registered {
		// Subscriptions can be removed while a notification is in
		// flight; the client is gone, so there is no one to tell.
		slog.Warn("dropping notification for unregistered key",
			"key", key, "type", typ)
		return
	}

	select {
	case l.updates <- update{typ: typ, key: key, payload: payload}:
	case <-ctx.Done():
	}
}

// subscribe registers key and begins listening on its three channels.
// If the pub/sub connection is currently down, registration still
// succeeds; the recovery path will LISTEN and refresh once the
// connection returns.
func (l *listener) subscribe(ctx context.Context, key string) error {
	l.mu.Lock()
	if _, ok := l.keys[key]; ok {
		l.mu.Unlock()
		return nil
	}
	l.keys[key] = struct{}{}
	connUp := l.connUp
	l.mu.Unlock()

	if !connUp {
		return nil
	}

	for _, ch := range channelsFor(key) {
		if err := l.exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			l.mu.Lock()
			delete(l.keys, key)
			l.mu.Unlock()
			return fmt.Errorf("subscribing to %s: %w", ch, err)
		}
	}
	return nil
}

// unsubscribe removes key's registration. UNLISTEN failures are not
// fatal: any stray notifications for an unregistered key are dropped
// by dispatch.
func (l *listener) unsubscribe(ctx context.Context, key string) {
	l.mu.Lock()
	_, ok := l.keys[key]
	delete(l.keys, key)
	connUp := l.connUp
	l.mu.Unlock()

	if !ok || !connUp {
		return
	}
	for _, ch := range channelsFor(key) {
		if err := l.exec(ctx, "UNLISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			slog.Warn("failed to unlisten", "channel", ch, "error", err)
		}
	}
}

// exec runs a LISTEN/UNLISTEN statement on the pub/sub connection by
// handing it to the listener loop and interrupting its wait.
func (l *listener) exec(ctx context.Context, sql string) error {
	cmd := listenCmd{sql: sql, done: make(chan error, 1)}
	select {
	case l.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	wake := l.wake
	l.mu.Unlock()
	if wake != nil {
		wake()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func channelsFor(key string) [3]string {
	return [3]string{
		chanPrefixGameStatus + key,
		chanPrefixChat + key,
		chanPrefixOpponentConnected + key,
	}
}
