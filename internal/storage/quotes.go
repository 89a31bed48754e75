package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwaldner/atmscreen/internal/logger"
	"github.com/jwaldner/atmscreen/internal/models"
)

// QuoteStore keeps the latest chain per ticker (upsert by option symbol, rows
// missing from the newest fetch are pruned), the freshness markers and the last
// known spot price.
type QuoteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewQuoteStore wraps an opened database.
func NewQuoteStore(db *sql.DB) *QuoteStore {
	return &QuoteStore{db: db, now: time.Now}
}

const upsertQuote = `
INSERT INTO option_quotes (symbol, ticker, kind, strike, bid, ask, last, close, open_interest, volume,
  contract_size, days_to_maturity, due_date, spot_price, implied_vol, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol) DO UPDATE SET
  ticker = excluded.ticker,
  kind = excluded.kind,
  strike = excluded.strike,
  bid = excluded.bid,
  ask = excluded.ask,
  last = excluded.last,
  close = excluded.close,
  open_interest = excluded.open_interest,
  volume = excluded.volume,
  contract_size = excluded.contract_size,
  days_to_maturity = excluded.days_to_maturity,
  due_date = excluded.due_date,
  spot_price = excluded.spot_price,
  implied_vol = excluded.implied_vol,
  updated_at = excluded.updated_at`

const upsertMarker = `
INSERT INTO freshness (ticker, due_date, consulted_at) VALUES (?, ?, ?)
ON CONFLICT(ticker, due_date) DO UPDATE SET consulted_at = excluded.consulted_at`

// UpsertQuotes writes a fetched chain in one transaction and stamps the ticker
// marker plus one marker per due date present in the chain. A non-empty chain
// replaces the ticker's rows: symbols it no longer lists are deleted.
func (s *QuoteStore) UpsertQuotes(ctx context.Context, ticker string, quotes []models.OptionQuote) error {
	ticker = normalizeTicker(ticker)
	now := toMillis(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert %s: %w", ticker, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertQuote)
	if err != nil {
		return fmt.Errorf("prepare upsert %s: %w", ticker, err)
	}
	defer stmt.Close()

	dues := make(map[string]bool)
	for _, q := range quotes {
		if q.Symbol == "" || q.DueDate.IsZero() {
			continue
		}
		due := q.DueDate.Format(models.DateLayout)
		dues[due] = true
		if _, err := stmt.ExecContext(ctx,
			q.Symbol, ticker, string(q.Kind), q.Strike, q.Bid, q.Ask, q.Last, q.Close,
			q.OpenInterest, q.Volume, q.Size(), q.DaysToMaturity, due, q.SpotPrice, q.ImpliedVol, now,
		); err != nil {
			return fmt.Errorf("upsert quote %s: %w", q.Symbol, err)
		}
	}

	var pruned int64
	if len(dues) > 0 {
		res, err := tx.ExecContext(ctx, `DELETE FROM option_quotes WHERE ticker = ? AND updated_at < ?`, ticker, now)
		if err != nil {
			return fmt.Errorf("prune %s: %w", ticker, err)
		}
		pruned, _ = res.RowsAffected()
	}

	if _, err := tx.ExecContext(ctx, upsertMarker, ticker, "", now); err != nil {
		return fmt.Errorf("mark %s: %w", ticker, err)
	}
	for due := range dues {
		if _, err := tx.ExecContext(ctx, upsertMarker, ticker, due, now); err != nil {
			return fmt.Errorf("mark %s %s: %w", ticker, due, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert %s: %w", ticker, err)
	}
	logger.Debug.Printf("🐛 Stored %d quotes for %s across %d due dates (%d pruned)", len(quotes), ticker, len(dues), pruned)
	return nil
}

// Touch stamps markers for the given due dates without writing quotes.
func (s *QuoteStore) Touch(ctx context.Context, ticker string, dues []time.Time) error {
	ticker = normalizeTicker(ticker)
	now := toMillis(s.now())
	for _, d := range dues {
		if _, err := s.db.ExecContext(ctx, upsertMarker, ticker, d.Format(models.DateLayout), now); err != nil {
			return fmt.Errorf("touch %s: %w", ticker, err)
		}
	}
	return nil
}

// LastConsulted returns the marker for the ticker (due nil) or for one due date.
// ErrNotFound means no refresh was ever recorded.
func (s *QuoteStore) LastConsulted(ctx context.Context, ticker string, due *time.Time) (time.Time, error) {
	key := ""
	if due != nil {
		key = due.Format(models.DateLayout)
	}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT consulted_at FROM freshness WHERE ticker = ? AND due_date = ?`,
		normalizeTicker(ticker), key,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read marker %s: %w", ticker, err)
	}
	return fromMillis(ms), nil
}

const selectQuotes = `
SELECT symbol, ticker, kind, strike, bid, ask, last, close, open_interest, volume,
  contract_size, days_to_maturity, due_date, spot_price, implied_vol
FROM option_quotes`

// Snapshot returns every stored quote of the ticker.
func (s *QuoteStore) Snapshot(ctx context.Context, ticker string) ([]models.OptionQuote, error) {
	rows, err := s.db.QueryContext(ctx, selectQuotes+` WHERE ticker = ? ORDER BY due_date, strike, symbol`, normalizeTicker(ticker))
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", ticker, err)
	}
	return scanQuotes(rows)
}

// QuotesByDueDate returns the quotes of one expiry.
func (s *QuoteStore) QuotesByDueDate(ctx context.Context, ticker string, due time.Time) ([]models.OptionQuote, error) {
	rows, err := s.db.QueryContext(ctx, selectQuotes+` WHERE ticker = ? AND due_date = ? ORDER BY strike, symbol`,
		normalizeTicker(ticker), due.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("read quotes %s %s: %w", ticker, due.Format(models.DateLayout), err)
	}
	return scanQuotes(rows)
}

func scanQuotes(rows *sql.Rows) ([]models.OptionQuote, error) {
	defer rows.Close()

	quotes := make([]models.OptionQuote, 0)
	for rows.Next() {
		var q models.OptionQuote
		var kind, due string
		if err := rows.Scan(
			&q.Symbol, &q.Ticker, &kind, &q.Strike, &q.Bid, &q.Ask, &q.Last, &q.Close,
			&q.OpenInterest, &q.Volume, &q.ContractSize, &q.DaysToMaturity, &due, &q.SpotPrice, &q.ImpliedVol,
		); err != nil {
			return nil, err
		}
		q.Kind = models.Kind(kind)
		d, err := models.ParseDate(due)
		if err != nil {
			return nil, fmt.Errorf("bad due date %q for %s: %w", due, q.Symbol, err)
		}
		q.DueDate = d
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// SaveSpot records the current spot price and where it came from.
func (s *QuoteStore) SaveSpot(ctx context.Context, ticker string, price float64, source string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO spots (ticker, price, source, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(ticker) DO UPDATE SET price = excluded.price, source = excluded.source, updated_at = excluded.updated_at`,
		normalizeTicker(ticker), price, source, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("save spot %s: %w", ticker, err)
	}
	return nil
}

// Spot returns the stored spot price, or ErrNotFound.
func (s *QuoteStore) Spot(ctx context.Context, ticker string) (float64, error) {
	var price float64
	err := s.db.QueryRowContext(ctx, `SELECT price FROM spots WHERE ticker = ?`, normalizeTicker(ticker)).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read spot %s: %w", ticker, err)
	}
	return price, nil
}
