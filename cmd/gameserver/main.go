package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/thisisrandy/igo/internal/ailauncher"
	"github.com/thisisrandy/igo/internal/chat"
	"github.com/thisisrandy/igo/internal/config"
	"github.com/thisisrandy/igo/internal/db"
	"github.com/thisisrandy/igo/internal/game"
	"github.com/thisisrandy/igo/internal/gameserver"
)

const ConfigPath = "config/gameserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfgPath := ConfigPath
	if p := os.Getenv("IGO_GAME_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadGameServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("game server starting",
		"bind", cfg.BindAddress,
		"port", cfg.Port,
		"log_level", cfg.LogLevel)

	identity, err := db.ServerIdentity(cfg.MachineIDPath)
	if err != nil {
		return fmt.Errorf("deriving server identity: %w", err)
	}

	if cfg.RunMigrations {
		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}

	// The store needs its callbacks at open time and the manager needs
	// the store, so the callbacks close over a manager assigned just
	// below. No updates flow until store.Run, which starts later.
	var manager *gameserver.Manager
	store, err := db.Open(ctx, cfg.Database.DSN(), identity, db.Callbacks{
		GameStatus: func(key string, g *game.Game, timePlayed float64) {
			manager.Callbacks().GameStatus(key, g, timePlayed)
		},
		Chat: func(key string, thread *chat.Thread) {
			manager.Callbacks().Chat(key, thread)
		},
		OpponentConnected: func(key string, connected bool) {
			manager.Callbacks().OpponentConnected(key, connected)
		},
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()
	slog.Info("database connected")

	launcher := ailauncher.New(cfg.AIServerURL)
	manager = gameserver.NewManager(store, launcher)

	wsServer, err := gameserver.NewServer(manager, cfg.OriginSuffix)
	if err != nil {
		return fmt.Errorf("creating websocket server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/websocket", wsServer)

	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port)),
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := store.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("store: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("listening for websocket connections", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
