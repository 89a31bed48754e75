// Package greeks resolves a leg's delta locally, then from the cache, then
// from a remote pricing service.
package greeks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwaldner/atmscreen/internal/logger"
	"github.com/jwaldner/atmscreen/internal/models"
	"github.com/jwaldner/atmscreen/internal/pricing"
)

// Sources reported with a resolution.
const (
	SourceLocal = "LOCAL"
	SourceCache = "CACHE"
	SourceAPI   = "API"
	SourceMiss  = "MISS"
)

// DefaultRemoteTimeout bounds a single remote pricing call.
const DefaultRemoteTimeout = 3 * time.Second

// ErrUnresolved means no source had data for the leg. PricingService
// implementations wrap it when a response carries no delta.
var ErrUnresolved = errors.New("greeks: delta unresolved")

// RemoteError is a transport, status or decoding failure of the pricing service.
type RemoteError struct {
	Symbol string
	Err    error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("greeks: remote pricing for %s: %v", e.Symbol, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// LegRequest carries everything needed to value one leg.
type LegRequest struct {
	Symbol         string
	Kind           models.Kind
	Spot           float64
	Strike         float64
	DaysToMaturity int
	Vol            float64
	Premium        float64
	RiskFreeRate   float64
	Amount         int
	DueDate        time.Time
}

// RemoteRequest is the canonicalized query sent to the pricing service.
type RemoteRequest struct {
	Symbol         string
	Kind           models.Kind
	Spot           float64
	Strike         float64
	Premium        float64
	DaysToMaturity int
	Vol            float64
	DueDate        string
	RiskFreeRate   float64
	Amount         int
}

// PricingService values an option remotely.
type PricingService interface {
	Greeks(ctx context.Context, req RemoteRequest) (models.Greeks, error)
}

// Resolution is a resolved delta and where it came from.
type Resolution struct {
	Delta  float64
	Source string
}

// Options tunes the resolver.
type Options struct {
	DayCount      float64
	DividendYield float64
	CacheTTL      time.Duration
	RemoteTimeout time.Duration
	// DeriveVol solves implied vol from the premium when a quote has none.
	DeriveVol bool
}

// Resolver chains local pricing, the cache and the remote service. Cache and
// remote may be nil.
type Resolver struct {
	cache  Cache
	remote PricingService
	opts   Options
}

// NewResolver creates a resolver, filling zero options with defaults.
func NewResolver(cache Cache, remote PricingService, opts Options) *Resolver {
	if opts.DayCount <= 0 {
		opts.DayCount = 252
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	return &Resolver{cache: cache, remote: remote, opts: opts}
}

// ResolveDelta returns the first delta found. The error is ErrUnresolved when
// nothing had data and *RemoteError when the remote call failed.
func (r *Resolver) ResolveDelta(ctx context.Context, req LegRequest) (Resolution, error) {
	if d, ok := r.localDelta(req); ok {
		return Resolution{Delta: d, Source: SourceLocal}, nil
	}

	key := CacheKey(req)
	if r.cache != nil {
		entry, found, err := r.cache.Get(ctx, key, r.opts.CacheTTL)
		if err != nil {
			logger.Warn.Printf("⚠️ Greeks cache read failed for %s: %v", req.Symbol, err)
		} else if found {
			logger.Verbose.Printf("🔍 Greeks cache hit for %s", req.Symbol)
			return Resolution{Delta: entry.Delta, Source: SourceCache}, nil
		}
	}

	if r.remote == nil {
		return Resolution{Source: SourceMiss}, ErrUnresolved
	}

	callCtx, cancel := context.WithTimeout(ctx, r.opts.RemoteTimeout)
	defer cancel()

	g, err := r.remote.Greeks(callCtx, key.Request())
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return Resolution{Source: SourceMiss}, ErrUnresolved
		}
		return Resolution{Source: SourceMiss}, &RemoteError{Symbol: req.Symbol, Err: err}
	}

	if r.cache != nil {
		if err := r.cache.Upsert(ctx, key, g); err != nil {
			logger.Warn.Printf("⚠️ Greeks cache write failed for %s: %v", req.Symbol, err)
		}
	}
	return Resolution{Delta: g.Delta, Source: SourceAPI}, nil
}

func (r *Resolver) localDelta(req LegRequest) (float64, bool) {
	if req.Spot <= 0 || req.Strike <= 0 || req.DaysToMaturity <= 0 {
		return 0, false
	}
	T := pricing.YearFraction(req.DaysToMaturity, r.opts.DayCount)

	vol := req.Vol
	if vol <= 0 && r.opts.DeriveVol && req.Premium > 0 {
		iv, ok := pricing.ImpliedVolDefault(req.Premium, req.Spot, req.Strike, req.RiskFreeRate, r.opts.DividendYield, T, req.Kind)
		if ok && iv > 0 {
			logger.Debug.Printf("🐛 Derived vol %.4f for %s from premium %.4f", iv, req.Symbol, req.Premium)
			vol = iv
		}
	}
	if vol <= 0 {
		return 0, false
	}

	res := pricing.Price(req.Spot, req.Strike, req.RiskFreeRate, r.opts.DividendYield, vol, T, req.Kind)
	return res.Delta, true
}
