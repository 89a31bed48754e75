// Package refresh decides when a ticker's stored snapshot must be reloaded
// and makes sure only one actor reloads it at a time.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jwaldner/atmscreen/internal/lock"
	"github.com/jwaldner/atmscreen/internal/logger"
	"github.com/jwaldner/atmscreen/internal/models"
	"github.com/jwaldner/atmscreen/internal/providers"
	"github.com/jwaldner/atmscreen/internal/storage"
)

// DefaultTTL is the freshness window of a snapshot.
const DefaultTTL = 15 * time.Minute

// Granularity selects which freshness markers are checked.
type Granularity string

const (
	// PerDueDate checks one marker per target expiry.
	PerDueDate Granularity = "due_date"
	// PerTicker checks the single ticker-wide marker.
	PerTicker Granularity = "ticker"
)

// ParseGranularity accepts "due_date" or "ticker"; anything else is PerDueDate.
func ParseGranularity(s string) Granularity {
	if strings.EqualFold(strings.TrimSpace(s), string(PerTicker)) {
		return PerTicker
	}
	return PerDueDate
}

// Spot sources recorded alongside a persisted spot price.
const (
	SpotOfficial  = "official"
	SpotConsensus = "consensus"
)

// Outcome reports what EnsureFresh did.
type Outcome int

const (
	// OutcomeFresh means nothing was stale.
	OutcomeFresh Outcome = iota
	// OutcomeRefreshed means the chain was fetched and stored.
	OutcomeRefreshed
	// OutcomeBusy means another actor holds the refresh lock.
	OutcomeBusy
	// OutcomeFetchFailed means the provider failed and old data was kept.
	OutcomeFetchFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFresh:
		return "fresh"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeBusy:
		return "busy"
	case OutcomeFetchFailed:
		return "fetch_failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Store is the part of the quote store the coordinator writes to.
type Store interface {
	UpsertQuotes(ctx context.Context, ticker string, quotes []models.OptionQuote) error
	Touch(ctx context.Context, ticker string, dues []time.Time) error
	LastConsulted(ctx context.Context, ticker string, due *time.Time) (time.Time, error)
	SaveSpot(ctx context.Context, ticker string, price float64, source string) error
}

// Coordinator serializes snapshot refreshes per ticker.
type Coordinator struct {
	store       Store
	quotes      providers.QuoteProvider
	spots       providers.SpotProvider
	locker      lock.Locker
	granularity Granularity
	now         func() time.Time
}

// NewCoordinator wires a coordinator. spots may be nil, in which case the
// consensus spot of the chain is persisted.
func NewCoordinator(store Store, quotes providers.QuoteProvider, spots providers.SpotProvider, locker lock.Locker, granularity Granularity) *Coordinator {
	if granularity == "" {
		granularity = PerDueDate
	}
	return &Coordinator{
		store:       store,
		quotes:      quotes,
		spots:       spots,
		locker:      locker,
		granularity: granularity,
		now:         time.Now,
	}
}

// EnsureFresh refreshes the ticker when any checked marker is older than ttl
// (or missing), or when force is set. Lock contention yields OutcomeBusy and a
// provider failure OutcomeFetchFailed; only store failures are returned as errors.
func (c *Coordinator) EnsureFresh(ctx context.Context, ticker string, expiries []time.Time, ttl time.Duration, force bool) (Outcome, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if !force {
		stale, err := c.stale(ctx, ticker, expiries, ttl)
		if err != nil {
			return OutcomeFresh, err
		}
		if !stale {
			return OutcomeFresh, nil
		}
	}

	return c.refresh(ctx, ticker, expiries)
}

// ForceRefresh unconditionally reloads the whole ticker under the same lock.
func (c *Coordinator) ForceRefresh(ctx context.Context, ticker string) (Outcome, error) {
	return c.EnsureFresh(ctx, ticker, nil, 0, true)
}

func (c *Coordinator) stale(ctx context.Context, ticker string, expiries []time.Time, ttl time.Duration) (bool, error) {
	var targets []*time.Time
	if c.granularity == PerDueDate && len(expiries) > 0 {
		for i := range expiries {
			targets = append(targets, &expiries[i])
		}
	} else {
		targets = []*time.Time{nil}
	}

	now := c.now()
	for _, due := range targets {
		last, err := c.store.LastConsulted(ctx, ticker, due)
		if errors.Is(err, storage.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("freshness of %s: %w", ticker, err)
		}
		if now.Sub(last) > ttl {
			return true, nil
		}
	}
	return false, nil
}

func (c *Coordinator) refresh(ctx context.Context, ticker string, expiries []time.Time) (Outcome, error) {
	key := lock.Key(ticker)
	acquired, err := c.locker.TryAcquire(ctx, key)
	if err != nil {
		logger.Warn.Printf("⚠️ Refresh lock for %s unavailable, reading stored data: %v", ticker, err)
		return OutcomeBusy, nil
	}
	if !acquired {
		logger.Info.Printf("🔒 Refresh of %s already in progress, reading stored data", ticker)
		return OutcomeBusy, nil
	}
	defer func() {
		if err := c.locker.Release(context.WithoutCancel(ctx), key); err != nil {
			logger.Warn.Printf("⚠️ Failed to release refresh lock for %s: %v", ticker, err)
		}
	}()

	start := time.Now()
	quotes, err := c.quotes.FetchChain(ctx, ticker)
	if err != nil {
		logger.Warn.Printf("⚠️ Refresh of %s failed, keeping stored data: %v", ticker, err)
		return OutcomeFetchFailed, nil
	}

	if err := c.store.UpsertQuotes(ctx, ticker, quotes); err != nil {
		return OutcomeRefreshed, fmt.Errorf("store chain of %s: %w", ticker, err)
	}
	if len(expiries) > 0 {
		if err := c.store.Touch(ctx, ticker, expiries); err != nil {
			return OutcomeRefreshed, fmt.Errorf("mark %s: %w", ticker, err)
		}
	}

	spot, source := c.resolveSpot(ctx, ticker, quotes)
	if spot > 0 {
		if err := c.store.SaveSpot(ctx, ticker, spot, source); err != nil {
			return OutcomeRefreshed, fmt.Errorf("store spot of %s: %w", ticker, err)
		}
	}

	logger.Info.Printf("🔄 Refreshed %s: %d options, spot %.2f (%s) in %v",
		ticker, len(quotes), spot, source, time.Since(start).Round(time.Millisecond))
	return OutcomeRefreshed, nil
}

func (c *Coordinator) resolveSpot(ctx context.Context, ticker string, quotes []models.OptionQuote) (float64, string) {
	if c.spots != nil {
		spot, err := c.spots.FetchSpot(ctx, ticker)
		if err != nil {
			logger.Warn.Printf("⚠️ Official spot for %s unavailable: %v", ticker, err)
		} else if spot > 0 {
			return spot, SpotOfficial
		}
	}
	return ConsensusSpot(quotes), SpotConsensus
}

// ConsensusSpot derives a spot from a chain: the most common positive
// spot_price (earliest on ties), else the median of the distinct strikes.
func ConsensusSpot(quotes []models.OptionQuote) float64 {
	counts := make(map[string]int)
	values := make(map[string]float64)
	var order []string
	for _, q := range quotes {
		if q.SpotPrice <= 0 {
			continue
		}
		k := models.RoundString(q.SpotPrice, 2)
		if counts[k] == 0 {
			order = append(order, k)
			values[k] = models.Round(q.SpotPrice, 2)
		}
		counts[k]++
	}
	if len(order) > 0 {
		best := order[0]
		for _, k := range order[1:] {
			if counts[k] > counts[best] {
				best = k
			}
		}
		return values[best]
	}

	seen := make(map[float64]bool)
	var strikes []float64
	for _, q := range quotes {
		k := models.Round(q.Strike, 2)
		if k > 0 && !seen[k] {
			seen[k] = true
			strikes = append(strikes, k)
		}
	}
	if len(strikes) == 0 {
		return 0
	}
	sort.Float64s(strikes)
	return strikes[len(strikes)/2]
}
