// Package storage persists option quotes, freshness markers, spot prices and
// cached Greeks.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

const schema = `
CREATE TABLE IF NOT EXISTS option_quotes (
  symbol           TEXT PRIMARY KEY,
  ticker           TEXT NOT NULL,
  kind             TEXT NOT NULL,
  strike           REAL NOT NULL,
  bid              REAL NOT NULL DEFAULT 0,
  ask              REAL NOT NULL DEFAULT 0,
  last             REAL NOT NULL DEFAULT 0,
  close            REAL NOT NULL DEFAULT 0,
  open_interest    INTEGER NOT NULL DEFAULT 0,
  volume           INTEGER NOT NULL DEFAULT 0,
  contract_size    INTEGER NOT NULL DEFAULT 100,
  days_to_maturity INTEGER NOT NULL DEFAULT 0,
  due_date         TEXT NOT NULL,
  spot_price       REAL NOT NULL DEFAULT 0,
  implied_vol      REAL NOT NULL DEFAULT 0,
  updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_option_quotes_ticker_due ON option_quotes(ticker, due_date);

CREATE TABLE IF NOT EXISTS freshness (
  ticker       TEXT NOT NULL,
  due_date     TEXT NOT NULL DEFAULT '',
  consulted_at INTEGER NOT NULL,
  PRIMARY KEY (ticker, due_date)
);

CREATE TABLE IF NOT EXISTS spots (
  ticker     TEXT PRIMARY KEY,
  price      REAL NOT NULL,
  source     TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS greeks_cache (
  cache_key  TEXT PRIMARY KEY,
  symbol     TEXT NOT NULL,
  due_date   TEXT NOT NULL,
  kind       TEXT NOT NULL,
  spot       REAL NOT NULL,
  strike     REAL NOT NULL,
  premium    REAL NOT NULL,
  dtm        INTEGER NOT NULL,
  vol        REAL NOT NULL,
  irate      REAL NOT NULL,
  amount     INTEGER NOT NULL,
  price      REAL NOT NULL,
  delta      REAL NOT NULL,
  gamma      REAL NOT NULL,
  vega       REAL NOT NULL,
  theta      REAL NOT NULL,
  rho        REAL NOT NULL,
  created_at INTEGER NOT NULL
);
`

// Open opens (or creates) the SQLite database at path and applies the schema.
// ":memory:" is supported and pinned to a single connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	dsn := path
	if !memory && !strings.Contains(path, "?") {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
