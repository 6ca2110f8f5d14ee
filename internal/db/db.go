// Package db implements the kvs store: one composite-key table in a
// WAL-mode SQLite database, behind insert/update/delete/select operations.
// Every persistent record in the system lives here.
package db

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// acquireTimeout bounds how long Open waits for the first connection.
const acquireTimeout = 10 * time.Second

// Store owns the connection pool and exposes the kvs table.
type Store struct {
	db  *sqlx.DB
	Kvs *KvsSet
}

// Open connects to the SQLite database at url, tunes the pool, applies the
// embedded migrations in ascending numeric order, and returns the store.
// The url accepts the "sqlite://<path>?<params>" form or a bare file path.
func Open(ctx context.Context, url string, log *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn(url))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(3)

	pingCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA cache_size = -2000;",
		"PRAGMA temp_store = MEMORY;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating: %w", err)
	}

	log.Info("sql init success", "url", url)
	return &Store{db: db, Kvs: &KvsSet{db: db}}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// dsn converts a sqlite:// URL into the driver DSN.
func dsn(url string) string {
	if rest, ok := strings.CutPrefix(url, "sqlite://"); ok {
		return "file:" + rest
	}
	return url
}
