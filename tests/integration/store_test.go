package integration

import (
	"sync"
	"time"

	"github.com/thisisrandy/igo/internal/chat"
	"github.com/thisisrandy/igo/internal/db"
	"github.com/thisisrandy/igo/internal/game"
	"github.com/thisisrandy/igo/internal/protocol"
)

// newGame creates a 9x9 game through store with the given creator
// color and AI seats.
func (s *StoreSuite) newGame(
	store *db.Store, creator game.Color, aiColors map[game.Color]bool,
) (*game.Game, *protocol.KeyContainer) {
	g := game.New(9, 6.5)
	keys, err := store.WriteNewGame(s.ctx, g, &creator, aiColors, "")
	s.Require().NoError(err)
	return g, keys
}

func (s *StoreSuite) TestWriteNewGame_CreatorManagesKey() {
	store, _ := s.openStore("server-a")
	_, keys := s.newGame(store, game.Black, nil)

	var managedBy *string
	var connected int
	err := s.pool.QueryRow(s.ctx, `
		SELECT pk.managed_by, g.players_connected
		FROM player_keys pk JOIN games g ON g.id = pk.game_id
		WHERE pk.key = $1`, keys.Black.PlayerKey,
	).Scan(&managedBy, &connected)
	s.Require().NoError(err)

	s.Require().NotNil(managedBy)
	s.Equal("server-a", *managedBy)
	s.Equal(1, connected)

	// The play clock starts with the first connection.
	var clockRunning bool
	err = s.pool.QueryRow(s.ctx, `
		SELECT g.write_load_timestamp IS NOT NULL
		FROM games g JOIN player_keys pk ON pk.game_id = g.id
		WHERE pk.key = $1`, keys.Black.PlayerKey,
	).Scan(&clockRunning)
	s.Require().NoError(err)
	s.True(clockRunning)
}

func (s *StoreSuite) TestWriteNewGame_CreatorCannotBeAISeat() {
	store, _ := s.openStore("server-a")
	creator := game.Black

	_, err := store.WriteNewGame(s.ctx, game.New(9, 6.5), &creator,
		map[game.Color]bool{game.Black: true}, "")

	s.Require().ErrorIs(err, db.ErrInvalidArgument)
}

func (s *StoreSuite) TestWriteNewGame_ReleasesOldKeyInSameTransaction() {
	store, _ := s.openStore("server-a")
	_, first := s.newGame(store, game.Black, nil)

	creator := game.Black
	_, err := store.WriteNewGame(s.ctx, game.New(9, 6.5), &creator, nil,
		first.Black.PlayerKey)
	s.Require().NoError(err)

	// The abandoned key is joinable again.
	other, _ := s.openStore("server-b")
	result, _, err := other.JoinGame(s.ctx, first.Black.PlayerKey, "", "")
	s.Require().NoError(err)
	s.Equal(db.JoinSuccess, result)
}

func (s *StoreSuite) TestJoinGame_Lifecycle() {
	storeA, recA := s.openStore("server-a")
	storeB, _ := s.openStore("server-b")
	_, keys := s.newGame(storeA, game.Black, nil)

	result, joined, err := storeB.JoinGame(s.ctx, keys.White.PlayerKey, "", "")
	s.Require().NoError(err)
	s.Equal(db.JoinSuccess, result)
	s.Equal(keys.White.PlayerKey, joined.White.PlayerKey)
	s.Equal(keys.Black.PlayerKey, joined.Black.PlayerKey)

	// The creator hears that their opponent arrived.
	update := waitOn(s.T(), recA.opponent, "opponent connected update")
	s.Equal(keys.Black.PlayerKey, update.key)
	s.True(update.connected)

	// A key in use cannot be joined again, even by its manager.
	result, _, err = storeB.JoinGame(s.ctx, keys.White.PlayerKey, "", "")
	s.Require().NoError(err)
	s.Equal(db.JoinInUse, result)

	result, _, err = storeA.JoinGame(s.ctx, keys.White.PlayerKey, "", "")
	s.Require().NoError(err)
	s.Equal(db.JoinInUse, result)

	// An unknown key does not exist.
	result, _, err = storeB.JoinGame(s.ctx, "ZZZZZZZZZZ", "", "")
	s.Require().NoError(err)
	s.Equal(db.JoinDNE, result)
}

func (s *StoreSuite) TestJoinGame_AISeatRequiresSecret() {
	storeA, _ := s.openStore("server-a")
	storeB, _ := s.openStore("server-b")
	_, keys := s.newGame(storeA, game.Black, map[game.Color]bool{game.White: true})
	s.Require().NotEmpty(keys.White.AISecret)

	result, _, err := storeB.JoinGame(s.ctx, keys.White.PlayerKey, "", "")
	s.Require().NoError(err)
	s.Equal(db.JoinAIOnly, result)

	result, _, err = storeB.JoinGame(s.ctx, keys.White.PlayerKey, "WRONGWRONG", "")
	s.Require().NoError(err)
	s.Equal(db.JoinAIOnly, result)

	result, joined, err := storeB.JoinGame(s.ctx,
		keys.White.PlayerKey, keys.White.AISecret, "")
	s.Require().NoError(err)
	s.Equal(db.JoinSuccess, result)
	s.Equal(keys.White.AISecret, joined.White.AISecret)
}

func (s *StoreSuite) TestWriteGame_OptimisticVersioning() {
	store, rec := s.openStore("server-a")
	g, keys := s.newGame(store, game.Black, nil)

	ok, explanation := g.TakeAction(game.Action{
		Type: game.ActionPlaceStone, Color: game.Black, Coords: &game.Coords{2, 2},
	})
	s.Require().True(ok, explanation)

	timePlayed, err := store.WriteGame(s.ctx, keys.Black.PlayerKey, g)
	s.Require().NoError(err)
	s.Require().NotNil(timePlayed)

	update := waitOn(s.T(), rec.status, "game status update")
	s.Equal(keys.Black.PlayerKey, update.key)
	s.Equal(1, update.game.Version())
	s.Equal(game.Black, update.game.Board.At(2, 2).Color)

	// Writing the same version again is a preempted write.
	timePlayed, err = store.WriteGame(s.ctx, keys.Black.PlayerKey, g)
	s.Require().NoError(err)
	s.Nil(timePlayed)
}

func (s *StoreSuite) TestWriteGame_UnknownKeyIsPreempted() {
	store, _ := s.openStore("server-a")

	timePlayed, err := store.WriteGame(s.ctx, "ZZZZZZZZZZ", game.New(9, 6.5))

	s.Require().NoError(err)
	s.Nil(timePlayed)
}

func (s *StoreSuite) TestWriteGame_ConcurrentWritersOnePreempted() {
	storeA, _ := s.openStore("server-a")
	storeB, _ := s.openStore("server-b")
	gBlack, keys := s.newGame(storeA, game.Black, nil)

	result, _, err := storeB.JoinGame(s.ctx, keys.White.PlayerKey, "", "")
	s.Require().NoError(err)
	s.Equal(db.JoinSuccess, result)

	// Both servers act on version 0 at once. Exactly one write may win.
	gWhite := game.New(9, 6.5)
	ok, explanation := gBlack.TakeAction(game.Action{
		Type: game.ActionPlaceStone, Color: game.Black, Coords: &game.Coords{0, 0},
	})
	s.Require().True(ok, explanation)
	ok, explanation = gWhite.TakeAction(game.Action{
		Type: game.ActionResign, Color: game.White,
	})
	s.Require().True(ok, explanation)

	var (
		wg         sync.WaitGroup
		tpA, tpB   *float64
		errA, errB error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tpA, errA = storeA.WriteGame(s.ctx, keys.Black.PlayerKey, gBlack)
	}()
	go func() {
		defer wg.Done()
		tpB, errB = storeB.WriteGame(s.ctx, keys.White.PlayerKey, gWhite)
	}()
	wg.Wait()

	s.Require().NoError(errA)
	s.Require().NoError(errB)
	s.True((tpA == nil) != (tpB == nil),
		"exactly one of the concurrent writes must win")

	var version int
	err = s.pool.QueryRow(s.ctx, `
		SELECT g.version FROM games g
		JOIN player_keys pk ON pk.game_id = g.id
		WHERE pk.key = $1`, keys.Black.PlayerKey,
	).Scan(&version)
	s.Require().NoError(err)
	s.Equal(1, version)
}

func (s *StoreSuite) TestWriteGame_TimePlayedAccrues() {
	store, _ := s.openStore("server-a")
	g, keys := s.newGame(store, game.Black, nil)

	time.Sleep(200 * time.Millisecond)
	ok, explanation := g.TakeAction(game.Action{
		Type: game.ActionPlaceStone, Color: game.Black, Coords: &game.Coords{0, 0},
	})
	s.Require().True(ok, explanation)
	first, err := store.WriteGame(s.ctx, keys.Black.PlayerKey, g)
	s.Require().NoError(err)
	s.Require().NotNil(first)
	s.GreaterOrEqual(*first, 0.15)

	time.Sleep(200 * time.Millisecond)
	ok, explanation = g.TakeAction(game.Action{
		Type: game.ActionPassTurn, Color: game.White,
	})
	s.Require().True(ok, explanation)
	second, err := store.WriteGame(s.ctx, keys.Black.PlayerKey, g)
	s.Require().NoError(err)
	s.Require().NotNil(second)
	s.Greater(*second, *first)
}

func (s *StoreSuite) TestWriteChat_IncrementalAndFullDelivery() {
	store, rec := s.openStore("server-a")
	_, keys := s.newGame(store, game.Black, nil)
	key := keys.Black.PlayerKey

	ok, err := store.WriteChat(s.ctx, key,
		chat.Message{Timestamp: 1000, Color: game.Black, Message: "hello"})
	s.Require().NoError(err)
	s.True(ok)

	update := waitOn(s.T(), rec.chats, "first chat update")
	s.Equal(key, update.key)
	s.False(update.thread.IsComplete)
	s.Require().Equal(1, update.thread.Len())
	s.Equal(int64(1), update.thread.Messages[0].ID)
	s.Equal("hello", update.thread.Messages[0].Message)

	ok, err = store.WriteChat(s.ctx, key,
		chat.Message{Timestamp: 1001, Color: game.Black, Message: "anyone?"})
	s.Require().NoError(err)
	s.True(ok)

	update = waitOn(s.T(), rec.chats, "second chat update")
	s.Require().Equal(1, update.thread.Len())
	s.Equal(int64(2), update.thread.Messages[0].ID)

	// A full refresh delivers the complete thread in id order.
	s.Require().NoError(store.TriggerUpdateAll(s.ctx, key))
	update = waitOn(s.T(), rec.chats, "full chat refresh")
	s.True(update.thread.IsComplete)
	s.Require().Equal(2, update.thread.Len())
	s.Equal(int64(1), update.thread.Messages[0].ID)
	s.Equal(int64(2), update.thread.Messages[1].ID)
}

func (s *StoreSuite) TestWriteChat_UnknownKey() {
	store, _ := s.openStore("server-a")

	ok, err := store.WriteChat(s.ctx, "ZZZZZZZZZZ",
		chat.Message{Timestamp: 1000, Color: game.Black, Message: "hello"})

	s.Require().NoError(err)
	s.False(ok)
}

func (s *StoreSuite) TestUnsubscribe_ReleasesOnceAndNotifiesOpponent() {
	storeA, _ := s.openStore("server-a")
	storeB, recB := s.openStore("server-b")
	_, keys := s.newGame(storeA, game.Black, nil)

	result, _, err := storeB.JoinGame(s.ctx, keys.White.PlayerKey, "", "")
	s.Require().NoError(err)
	s.Equal(db.JoinSuccess, result)
	update := waitOn(s.T(), recB.opponent, "initial opponent state")
	s.True(update.connected)

	s.True(storeA.Unsubscribe(s.ctx, keys.Black.PlayerKey, false))

	update = waitOn(s.T(), recB.opponent, "opponent departure")
	s.Equal(keys.White.PlayerKey, update.key)
	s.False(update.connected)

	// Releasing an already released key reports false.
	s.False(storeA.Unsubscribe(s.ctx, keys.Black.PlayerKey, false))

	var connected int
	err = s.pool.QueryRow(s.ctx, `
		SELECT g.players_connected FROM games g
		JOIN player_keys pk ON pk.game_id = g.id
		WHERE pk.key = $1`, keys.White.PlayerKey,
	).Scan(&connected)
	s.Require().NoError(err)
	s.Equal(1, connected)
}

func (s *StoreSuite) TestOpen_CleansUpOrphanedKeys() {
	storeA, _ := s.openStore("server-a")
	_, keys := s.newGame(storeA, game.Black, nil)

	// A second store with the same identity models a restart after a
	// crash: keys the dead process held must be released at startup.
	s.openStore("server-a")

	var orphaned int
	err := s.pool.QueryRow(s.ctx,
		`SELECT COUNT(*) FROM player_keys WHERE managed_by IS NOT NULL`,
	).Scan(&orphaned)
	s.Require().NoError(err)
	s.Equal(0, orphaned)

	storeB, _ := s.openStore("server-b")
	result, _, err := storeB.JoinGame(s.ctx, keys.Black.PlayerKey, "", "")
	s.Require().NoError(err)
	s.Equal(db.JoinSuccess, result)
}
