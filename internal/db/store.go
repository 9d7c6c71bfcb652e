// Package db is the store gateway: it owns all persistent game state
// in PostgreSQL and fans database notifications back out to the
// session layer. All multi-step invariants live in stored functions so
// that concurrent servers sharing one database stay consistent; this
// package supplies the calling conventions, the pub/sub plumbing, and
// connection ownership via the managed_by lease.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/thisisrandy/igo/internal/chat"
	"github.com/thisisrandy/igo/internal/game"
	"github.com/thisisrandy/igo/internal/protocol"
)

// ErrInvalidArgument reports a caller mistake, such as requesting an
// AI seat for the creator's own color.
var ErrInvalidArgument = errors.New("invalid argument")

// JoinResult is the outcome of a join attempt.
type JoinResult string

const (
	// JoinDNE: no such key exists.
	JoinDNE JoinResult = "dne"
	// JoinInUse: the key is currently managed by some server.
	JoinInUse JoinResult = "in_use"
	// JoinAIOnly: the key is reserved for an AI player and the correct
	// secret was not supplied.
	JoinAIOnly JoinResult = "ai_only"
	// JoinSuccess: management of the key was taken.
	JoinSuccess JoinResult = "success"
)

// Callbacks receive asynchronous state updates. They are invoked from
// the consumer goroutine and must not block for long.
type Callbacks struct {
	GameStatus        func(key string, g *game.Game, timePlayed float64)
	Chat              func(key string, thread *chat.Thread)
	OpponentConnected func(key string, connected bool)
}

// Store is the gateway to the game database.
type Store struct {
	pool     *pgxpool.Pool
	identity string
	cb       Callbacks
	listener *listener
	updates  chan update
}

// Open connects to the database, acquires the dedicated pub/sub
// connection, and releases any keys this server still held from a
// previous run. The returned Store delivers no updates until Run is
// called.
func Open(ctx context.Context, dsn, identity string, cb Callbacks) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{
		pool:     pool,
		identity: identity,
		cb:       cb,
		updates:  make(chan update, 256),
	}
	s.listener = newListener(pool, s.updates, s.refreshAll)

	if err := s.listener.start(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	var released int
	if err := pool.QueryRow(ctx,
		`SELECT do_cleanup($1)`, identity,
	).Scan(&released); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cleaning up orphaned keys: %w", err)
	}
	if released > 0 {
		slog.Info("released orphaned keys from previous run", "count", released)
	}

	return s, nil
}

// Run drives the pub/sub listener and the update consumer until ctx is
// cancelled.
func (s *Store) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.listener.run(ctx) })
	g.Go(func() error { return s.consume(ctx) })
	return g.Wait()
}

// Close releases the connection pool. Call after Run has returned.
func (s *Store) Close() {
	s.pool.Close()
}

// WriteNewGame creates a new game with fresh keys for both colors.
// creatorColor, when non-nil, is the color the calling client will
// play; its key is immediately managed by this server and subscribed.
// Colors in aiColors get an AI secret minted so that only the AI
// service can join them. unsubscribeKey, when non-empty, is released
// in the same transaction, so a client abandoning one game for another
// never holds two keys at once.
func (s *Store) WriteNewGame(
	ctx context.Context,
	g *game.Game,
	creatorColor *game.Color,
	aiColors map[game.Color]bool,
	unsubscribeKey string,
) (*protocol.KeyContainer, error) {
	if creatorColor != nil && aiColors[*creatorColor] {
		return nil, fmt.Errorf("%w: creator color %s cannot be an AI seat",
			ErrInvalidArgument, *creatorColor)
	}

	blob, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encoding new game: %w", err)
	}

	keys := &protocol.KeyContainer{
		White: protocol.KeyPair{PlayerKey: newKey()},
		Black: protocol.KeyPair{PlayerKey: newKey()},
	}
	if aiColors[game.White] {
		keys.White.AISecret = newKey()
	}
	if aiColors[game.Black] {
		keys.Black.AISecret = newKey()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning new game transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`SELECT new_game($1, $2, $3, $4, $5, $6, $7)`,
		blob,
		keys.White.PlayerKey,
		keys.Black.PlayerKey,
		colorOrNil(creatorColor),
		s.identity,
		textOrNil(keys.White.AISecret),
		textOrNil(keys.Black.AISecret),
	)
	if err != nil {
		return nil, fmt.Errorf("creating new game: %w", err)
	}

	if unsubscribeKey != "" {
		var released bool
		if err := tx.QueryRow(ctx,
			`SELECT unsubscribe($1, $2)`, unsubscribeKey, s.identity,
		).Scan(&released); err != nil {
			return nil, fmt.Errorf("releasing old key %s: %w", unsubscribeKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing new game: %w", err)
	}

	if creatorColor != nil {
		key := keys.Get(*creatorColor).PlayerKey
		if err := s.listener.subscribe(ctx, key); err != nil {
			return nil, fmt.Errorf("subscribing to new game updates: %w", err)
		}
	}

	return keys, nil
}

// JoinGame attempts to take management of key. On JoinSuccess, the
// returned container holds both players' keys and the caller is
// subscribed to updates for key; otherwise the container is nil.
// aiSecret must match the key's stored secret if the key is reserved
// for an AI player. unsubscribeKey, when non-empty, is released in the
// same transaction.
func (s *Store) JoinGame(
	ctx context.Context,
	key, aiSecret, unsubscribeKey string,
) (JoinResult, *protocol.KeyContainer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("beginning join transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		result                   string
		whiteKey, blackKey       *string
		whiteSecret, blackSecret *string
	)
	err = tx.QueryRow(ctx,
		`SELECT * FROM join_game($1, $2, $3)`,
		key, s.identity, textOrNil(aiSecret),
	).Scan(&result, &whiteKey, &blackKey, &whiteSecret, &blackSecret)
	if err != nil {
		return "", nil, fmt.Errorf("joining game with key %s: %w", key, err)
	}

	if JoinResult(result) == JoinSuccess && unsubscribeKey != "" {
		var released bool
		if err := tx.QueryRow(ctx,
			`SELECT unsubscribe($1, $2)`, unsubscribeKey, s.identity,
		).Scan(&released); err != nil {
			return "", nil, fmt.Errorf("releasing old key %s: %w", unsubscribeKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", nil, fmt.Errorf("committing join: %w", err)
	}

	if JoinResult(result) != JoinSuccess {
		return JoinResult(result), nil, nil
	}

	if err := s.listener.subscribe(ctx, key); err != nil {
		return "", nil, fmt.Errorf("subscribing to game updates: %w", err)
	}

	keys := &protocol.KeyContainer{
		White: protocol.KeyPair{PlayerKey: deref(whiteKey), AISecret: deref(whiteSecret)},
		Black: protocol.KeyPair{PlayerKey: deref(blackKey), AISecret: deref(blackSecret)},
	}
	return JoinSuccess, keys, nil
}

// WriteGame persists g under optimistic concurrency: the write
// succeeds only if g's version is exactly one greater than the stored
// version. On success the updated time played is returned; nil means
// the write was preempted and the caller should wait for the
// game_status update carrying the winning state.
func (s *Store) WriteGame(ctx context.Context, key string, g *game.Game) (*float64, error) {
	blob, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encoding game: %w", err)
	}

	var timePlayed *float64
	err = s.pool.QueryRow(ctx,
		`SELECT write_game($1, $2, $3)`, key, blob, g.Version(),
	).Scan(&timePlayed)
	if err != nil {
		return nil, fmt.Errorf("writing game for key %s: %w", key, err)
	}
	return timePlayed, nil
}

// WriteChat persists m for key's game. Returns false when no game is
// associated with key. Delivery back to both players flows through the
// chat notification channel.
func (s *Store) WriteChat(ctx context.Context, key string, m chat.Message) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT write_chat($1, $2, $3, $4)`,
		key, m.Timestamp, string(m.Color), m.Message,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("writing chat for key %s: %w", key, err)
	}
	return ok, nil
}

// TriggerUpdateAll prompts a refresh of all three update types for
// key, typically after a join or a reconnection.
func (s *Store) TriggerUpdateAll(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx,
		`SELECT trigger_update_all($1)`, key,
	); err != nil {
		return fmt.Errorf("triggering updates for key %s: %w", key, err)
	}
	return nil
}

// Unsubscribe releases management of key and removes its pub/sub
// subscriptions. When listenersOnly is true the database is left
// untouched, which is correct when the row release already happened
// inside another operation's transaction.
//
// The database release must not be lost to a transient outage, so it
// is retried indefinitely; losing it would strand the key as managed
// until the next server restart. Returns true only if this server
// actually released the key.
func (s *Store) Unsubscribe(ctx context.Context, key string, listenersOnly bool) bool {
	released := false
	if !listenersOnly {
		for {
			err := s.pool.QueryRow(ctx,
				`SELECT unsubscribe($1, $2)`, key, s.identity,
			).Scan(&released)
			if err == nil {
				break
			}
			slog.Error("failed to release key, will retry",
				"key", key, "error", err)
			select {
			case <-ctx.Done():
				return false
			case <-time.After(dbUnavailableSleep):
			}
		}
	}
	s.listener.unsubscribe(ctx, key)
	return released
}

// refreshAll is invoked by the listener after pub/sub recovery. Every
// registered key gets a full refresh, since notifications may have
// been missed while the connection was down.
func (s *Store) refreshAll(keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := s.TriggerUpdateAll(ctx, key); err != nil {
			slog.Error("failed to refresh key after recovery",
				"key", key, "error", err)
		}
	}
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func colorOrNil(c *game.Color) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
