package greeks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwaldner/atmscreen/internal/models"
)

// DefaultCacheTTL is how long a stored valuation stays live.
const DefaultCacheTTL = 60 * time.Minute

// Key is the canonical identity of a valuation. Every float is already rounded
// (spot and strike 2dp, premium and vol 4dp, rate 6dp).
type Key struct {
	Symbol         string
	DueDate        string
	Kind           models.Kind
	Spot           float64
	Strike         float64
	Premium        float64
	DaysToMaturity int
	Vol            float64
	RiskFreeRate   float64
	Amount         int
}

// CacheKey canonicalizes a leg request.
func CacheKey(req LegRequest) Key {
	due := ""
	if !req.DueDate.IsZero() {
		due = req.DueDate.Format(models.DateLayout)
	}
	amount := req.Amount
	if amount <= 0 {
		amount = models.DefaultContractSize
	}
	return Key{
		Symbol:         req.Symbol,
		DueDate:        due,
		Kind:           req.Kind,
		Spot:           models.Round(req.Spot, 2),
		Strike:         models.Round(req.Strike, 2),
		Premium:        models.Round(req.Premium, 4),
		DaysToMaturity: req.DaysToMaturity,
		Vol:            models.Round(req.Vol, 4),
		RiskFreeRate:   models.Round(req.RiskFreeRate, 6),
		Amount:         amount,
	}
}

// String is the stable text form of the key, used as the storage identity.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%s|%s|%d",
		k.Symbol, k.DueDate, k.Kind,
		models.RoundString(k.Spot, 2),
		models.RoundString(k.Strike, 2),
		models.RoundString(k.Premium, 4),
		k.DaysToMaturity,
		models.RoundString(k.Vol, 4),
		models.RoundString(k.RiskFreeRate, 6),
		k.Amount)
}

// Request converts the key to the remote pricing parameters.
func (k Key) Request() RemoteRequest {
	return RemoteRequest{
		Symbol:         k.Symbol,
		Kind:           k.Kind,
		Spot:           k.Spot,
		Strike:         k.Strike,
		Premium:        k.Premium,
		DaysToMaturity: k.DaysToMaturity,
		Vol:            k.Vol,
		DueDate:        k.DueDate,
		RiskFreeRate:   k.RiskFreeRate,
		Amount:         k.Amount,
	}
}

// Cache stores valuations by canonical key. Get reports found=false for a
// missing or expired entry.
type Cache interface {
	Get(ctx context.Context, key Key, ttl time.Duration) (entry models.GreeksCacheEntry, found bool, err error)
	Upsert(ctx context.Context, key Key, g models.Greeks) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]models.GreeksCacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]models.GreeksCacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key Key, ttl time.Duration) (models.GreeksCacheEntry, bool, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c.mu.RLock()
	entry, ok := c.entries[key.String()]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.CreatedAt) > ttl {
		return models.GreeksCacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (c *MemoryCache) Upsert(ctx context.Context, key Key, g models.Greeks) error {
	c.mu.Lock()
	c.entries[key.String()] = models.GreeksCacheEntry{Greeks: g, CreatedAt: c.now()}
	c.mu.Unlock()
	return nil
}

// Len reports how many entries are held, live or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
