package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/thisisrandy/igo/internal/db/migrations"
)

// RunMigrations brings the schema on dsn up to date from the embedded
// migration files. The whole game/key/chat contract lives in SQL, so
// this must run before any Store is opened against a fresh database.
func RunMigrations(ctx context.Context, dsn string) error {
	// goose drives database/sql, not pgx directly, hence the stdlib
	// adapter rather than the Store's pool.
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configuring goose: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	slog.Info("schema is up to date", "version", version)
	return nil
}
