package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwaldner/atmscreen/internal/greeks"
	"github.com/jwaldner/atmscreen/internal/models"
)

// GreeksStore is the SQLite greeks.Cache. One row per canonical key; an
// upsert refreshes every field and created_at.
type GreeksStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewGreeksStore wraps an opened database.
func NewGreeksStore(db *sql.DB) *GreeksStore {
	return &GreeksStore{db: db, now: time.Now}
}

func (s *GreeksStore) Get(ctx context.Context, key greeks.Key, ttl time.Duration) (models.GreeksCacheEntry, bool, error) {
	if ttl <= 0 {
		ttl = greeks.DefaultCacheTTL
	}
	cutoff := toMillis(s.now().Add(-ttl))

	var e models.GreeksCacheEntry
	var created int64
	err := s.db.QueryRowContext(ctx, `
SELECT price, delta, gamma, vega, theta, rho, created_at
FROM greeks_cache WHERE cache_key = ? AND created_at >= ?`,
		key.String(), cutoff,
	).Scan(&e.Price, &e.Delta, &e.Gamma, &e.Vega, &e.Theta, &e.Rho, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GreeksCacheEntry{}, false, nil
	}
	if err != nil {
		return models.GreeksCacheEntry{}, false, fmt.Errorf("read greeks %s: %w", key.Symbol, err)
	}
	e.CreatedAt = fromMillis(created)
	return e, true, nil
}

func (s *GreeksStore) Upsert(ctx context.Context, key greeks.Key, g models.Greeks) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO greeks_cache (cache_key, symbol, due_date, kind, spot, strike, premium, dtm, vol, irate, amount,
  price, delta, gamma, vega, theta, rho, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(cache_key) DO UPDATE SET
  price = excluded.price,
  delta = excluded.delta,
  gamma = excluded.gamma,
  vega = excluded.vega,
  theta = excluded.theta,
  rho = excluded.rho,
  created_at = excluded.created_at`,
		key.String(), key.Symbol, key.DueDate, string(key.Kind), key.Spot, key.Strike, key.Premium,
		key.DaysToMaturity, key.Vol, key.RiskFreeRate, key.Amount,
		g.Price, g.Delta, g.Gamma, g.Vega, g.Theta, g.Rho, toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert greeks %s: %w", key.Symbol, err)
	}
	return nil
}

// Purge deletes entries older than ttl and reports how many were removed.
func (s *GreeksStore) Purge(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM greeks_cache WHERE created_at < ?`, toMillis(s.now().Add(-ttl)))
	if err != nil {
		return 0, fmt.Errorf("purge greeks: %w", err)
	}
	return res.RowsAffected()
}
