// Package screener composes refresh, expiry selection, ATM pairing and
// Greeks resolution into the ranked ATM result of a ticker.
package screener

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwaldner/atmscreen/internal/atm"
	"github.com/jwaldner/atmscreen/internal/expiry"
	"github.com/jwaldner/atmscreen/internal/greeks"
	"github.com/jwaldner/atmscreen/internal/logger"
	"github.com/jwaldner/atmscreen/internal/models"
	"github.com/jwaldner/atmscreen/internal/refresh"
	"github.com/jwaldner/atmscreen/internal/storage"
	"github.com/jwaldner/atmscreen/internal/treasury"
)

// DefaultLegTimeout bounds the resolution of one leg's delta.
const DefaultLegTimeout = 5 * time.Second

// QuoteReader reads stored snapshots, single expiries and spot prices.
type QuoteReader interface {
	Snapshot(ctx context.Context, ticker string) ([]models.OptionQuote, error)
	QuotesByDueDate(ctx context.Context, ticker string, due time.Time) ([]models.OptionQuote, error)
	Spot(ctx context.Context, ticker string) (float64, error)
}

// Refresher keeps the stored snapshot fresh.
type Refresher interface {
	EnsureFresh(ctx context.Context, ticker string, expiries []time.Time, ttl time.Duration, force bool) (refresh.Outcome, error)
	ForceRefresh(ctx context.Context, ticker string) (refresh.Outcome, error)
}

// DeltaResolver resolves one leg's delta.
type DeltaResolver interface {
	ResolveDelta(ctx context.Context, req greeks.LegRequest) (greeks.Resolution, error)
}

// Options tunes a screener run.
type Options struct {
	ExpiryCount     int
	LookaheadMonths int
	RefreshTTL      time.Duration
	LegTimeout      time.Duration
	Policy          atm.LegPolicy
	Workers         int

	// pricing inputs of the straddle view
	DayCount      float64
	DividendYield float64
}

// Screener is safe for concurrent use.
type Screener struct {
	quotes    QuoteReader
	refresher Refresher
	resolver  DeltaResolver
	rates     treasury.RateSource
	opts      Options
}

// New creates a screener. rates may be nil for a zero risk-free rate.
func New(quotes QuoteReader, refresher Refresher, resolver DeltaResolver, rates treasury.RateSource, opts Options) *Screener {
	if opts.ExpiryCount <= 0 {
		opts.ExpiryCount = 2
	}
	if opts.LookaheadMonths <= 0 {
		opts.LookaheadMonths = expiry.DefaultLookaheadMonths
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = refresh.DefaultTTL
	}
	if opts.LegTimeout <= 0 {
		opts.LegTimeout = DefaultLegTimeout
	}
	if len(opts.Policy.Order) == 0 {
		opts.Policy = atm.DefaultPolicy()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.DayCount <= 0 {
		opts.DayCount = 252
	}
	if rates == nil {
		rates = treasury.FixedRate(0)
	}
	return &Screener{quotes: quotes, refresher: refresher, resolver: resolver, rates: rates, opts: opts}
}

// NewRunID returns a short tag used to correlate the log lines of one run.
func NewRunID() string {
	return "SC-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// ScreenATM returns the ATM pairs of the next standard expiries of ticker,
// sorted by due date then distance from spot. "No data" is an empty result;
// only store failures are errors.
func (s *Screener) ScreenATM(ctx context.Context, ticker string, ref time.Time) (*models.ScreenResult, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	runID := NewRunID()
	start := time.Now()
	logger.Info.Printf("▶ [%s] START screener ticker=%s ref=%s", runID, ticker, ref.Format(models.DateLayout))

	snap, err := s.quotes.Snapshot(ctx, ticker)
	if err != nil {
		return nil, err
	}
	expiries := expiry.NextValidExpiriesWithin(snap, ref, s.opts.ExpiryCount, s.opts.LookaheadMonths)

	outcome, err := s.refresher.EnsureFresh(ctx, ticker, expiries, s.opts.RefreshTTL, false)
	if err != nil {
		return nil, err
	}
	logger.Debug.Printf("🐛 [%s] refresh %s: %s", runID, ticker, outcome)
	if outcome == refresh.OutcomeRefreshed {
		if snap, err = s.quotes.Snapshot(ctx, ticker); err != nil {
			return nil, err
		}
	}

	result, err := s.build(ctx, runID, ticker, snap, ref)
	if err != nil {
		return nil, err
	}

	if len(result.Pairs) == 0 {
		logger.Info.Printf("🔁 [%s] no ATM pairs for %s, forcing one full refresh", runID, ticker)
		outcome, err := s.refresher.ForceRefresh(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if outcome == refresh.OutcomeRefreshed {
			if snap, err = s.quotes.Snapshot(ctx, ticker); err != nil {
				return nil, err
			}
			if result, err = s.build(ctx, runID, ticker, snap, ref); err != nil {
				return nil, err
			}
		}
	}

	logger.Info.Printf("✔ [%s] END screener ticker=%s pairs=%d expiries=%v in %v",
		runID, ticker, len(result.Pairs), result.Expiries, time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (s *Screener) build(ctx context.Context, runID, ticker string, snap []models.OptionQuote, ref time.Time) (*models.ScreenResult, error) {
	result := models.Empty()
	if len(snap) == 0 {
		return result, nil
	}

	expiries := expiry.NextValidExpiriesWithin(snap, ref, s.opts.ExpiryCount, s.opts.LookaheadMonths)
	result.Expiries = expiry.Format(expiries)
	if len(expiries) == 0 {
		return result, nil
	}

	spot, err := s.spot(ctx, ticker, snap)
	if err != nil {
		return nil, err
	}
	rate := s.rates.RiskFreeRate(ctx)
	logger.Info.Printf("💰 [%s] SPOT=%.2f rate=%.4f expiries=%v", runID, spot, rate, result.Expiries)

	for _, due := range expiries {
		legs, err := s.quotes.QuotesByDueDate(ctx, ticker, due)
		if err != nil {
			return nil, err
		}
		result.Pairs = append(result.Pairs, atm.Select(legs, due, spot, s.opts.Policy)...)
	}
	s.resolveDeltas(ctx, runID, result.Pairs, rate)

	sort.SliceStable(result.Pairs, func(i, j int) bool {
		a, b := result.Pairs[i], result.Pairs[j]
		if a.DueDate != b.DueDate {
			return a.DueDate < b.DueDate
		}
		return math.Abs(a.Strike-spot) < math.Abs(b.Strike-spot)
	})
	return result, nil
}

// spot prefers the stored official spot and falls back to the chain consensus.
func (s *Screener) spot(ctx context.Context, ticker string, snap []models.OptionQuote) (float64, error) {
	spot, err := s.quotes.Spot(ctx, ticker)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("spot of %s: %w", ticker, err)
	}
	if spot > 0 {
		return spot, nil
	}
	return refresh.ConsensusSpot(snap), nil
}

type legResult struct {
	delta *float64
	src   string
}

// resolveDeltas prices every leg concurrently; a leg that errors or exceeds
// LegTimeout gets a nil delta.
func (s *Screener) resolveDeltas(ctx context.Context, runID string, pairs []models.ATMPair, rate float64) {
	var wg sync.WaitGroup
	for i := range pairs {
		p := &pairs[i]
		due, _ := models.ParseDate(p.DueDate)
		days := p.CallLeg.DaysToMaturity
		if days <= 0 {
			days = p.PutLeg.DaysToMaturity
		}

		legs := []struct {
			quote   models.OptionQuote
			premium float64
			delta   **float64
			src     *string
		}{
			{p.CallLeg, p.CallPremium, &p.CallDelta, &p.SrcCall},
			{p.PutLeg, p.PutPremium, &p.PutDelta, &p.SrcPut},
		}
		for _, leg := range legs {
			req := greeks.LegRequest{
				Symbol:         leg.quote.Symbol,
				Kind:           leg.quote.Kind,
				Spot:           p.Spot,
				Strike:         leg.quote.Strike,
				DaysToMaturity: days,
				Vol:            leg.quote.ImpliedVol,
				Premium:        leg.premium,
				RiskFreeRate:   rate,
				Amount:         p.ContractSize,
				DueDate:        due,
			}
			wg.Add(1)
			go func(req greeks.LegRequest, delta **float64, src *string) {
				defer wg.Done()
				r := s.resolveLeg(ctx, runID, req)
				*delta, *src = r.delta, r.src
			}(req, leg.delta, leg.src)
		}
	}
	wg.Wait()
}

func (s *Screener) resolveLeg(ctx context.Context, runID string, req greeks.LegRequest) legResult {
	legCtx, cancel := context.WithTimeout(ctx, s.opts.LegTimeout)
	defer cancel()

	done := make(chan legResult, 1)
	go func() {
		res, err := s.resolver.ResolveDelta(legCtx, req)
		if err != nil {
			var remoteErr *greeks.RemoteError
			if errors.As(err, &remoteErr) {
				logger.Warn.Printf("⚠️ [%s] %s delta unavailable: %v", runID, req.Symbol, err)
			} else {
				logger.Debug.Printf("🐛 [%s] %s delta unresolved", runID, req.Symbol)
			}
			done <- legResult{src: greeks.SourceMiss}
			return
		}
		done <- legResult{delta: models.Float(models.Round(res.Delta, 4)), src: res.Source}
	}()

	select {
	case r := <-done:
		return r
	case <-legCtx.Done():
		logger.Warn.Printf("⚠️ [%s] %s delta timed out after %v", runID, req.Symbol, s.opts.LegTimeout)
		return legResult{src: greeks.SourceMiss}
	}
}

// TickerResult is the outcome of one ticker in a multi-ticker run.
type TickerResult struct {
	Result *models.ScreenResult
	Err    error
}

// ScreenMany screens tickers concurrently, at most Workers at a time. A failed
// ticker contributes an empty result and its error.
func (s *Screener) ScreenMany(ctx context.Context, tickers []string, ref time.Time) map[string]TickerResult {
	results := make(map[string]TickerResult, len(tickers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.opts.Workers)

	for _, t := range tickers {
		ticker := strings.ToUpper(strings.TrimSpace(t))
		if ticker == "" {
			continue
		}
		mu.Lock()
		_, dup := results[ticker]
		if !dup {
			results[ticker] = TickerResult{Result: models.Empty()}
		}
		mu.Unlock()
		if dup {
			continue
		}

		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				results[ticker] = TickerResult{Result: models.Empty(), Err: ctx.Err()}
				mu.Unlock()
				return
			}

			res, err := s.ScreenATM(ctx, ticker, ref)
			if err != nil {
				logger.Error.Printf("❌ Screener failed for %s: %v", ticker, err)
				res = models.Empty()
			}
			mu.Lock()
			results[ticker] = TickerResult{Result: res, Err: err}
			mu.Unlock()
		}(ticker)
	}

	wg.Wait()
	return results
}
