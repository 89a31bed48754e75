package treasury

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jwaldner/atmscreen/internal/logger"
)

const (
	// DefaultBaseURL is the US Treasury fiscal data service
	DefaultBaseURL = "https://api.fiscaldata.treasury.gov/services/api/fiscal_service"

	// DefaultMaxAge is how long a fetched rate is reused before asking again
	DefaultMaxAge = 6 * time.Hour

	// DefaultRetryAfter spaces out attempts while the API is failing
	DefaultRetryAfter = time.Minute
)

// RateSource supplies the annualized risk-free rate used for pricing.
type RateSource interface {
	RiskFreeRate(ctx context.Context) float64
}

// FixedRate is a constant RateSource
type FixedRate float64

func (r FixedRate) RiskFreeRate(context.Context) float64 { return float64(r) }

type TreasuryClient struct {
	httpClient *http.Client
	baseURL    string
	maxAge     time.Duration
	retryAfter time.Duration
	fetches    singleflight.Group

	mu            sync.Mutex
	lastKnownRate float64
	lastFetchTime time.Time
	nextFetch     time.Time
}

type TreasuryResponse struct {
	Data []TreasuryRate `json:"data"`
	Meta struct {
		Count int `json:"count"`
	} `json:"meta"`
}

type TreasuryRate struct {
	RecordDate            string `json:"record_date"`
	SecurityDesc          string `json:"security_desc"`
	AvgInterestRateAmount string `json:"avg_interest_rate_amt"`
}

// NewTreasuryClient creates a client that falls back to fallbackRate until the
// first successful fetch. An empty baseURL uses the public service.
func NewTreasuryClient(baseURL string, fallbackRate float64) *TreasuryClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &TreasuryClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:       baseURL,
		maxAge:        DefaultMaxAge,
		retryAfter:    DefaultRetryAfter,
		lastKnownRate: fallbackRate,
	}
}

// fetchRiskFreeRate does the actual API call (internal method)
func (tc *TreasuryClient) fetchRiskFreeRate(ctx context.Context) (float64, error) {
	url := fmt.Sprintf("%s/v2/accounting/od/avg_interest_rates?fields=avg_interest_rate_amt,record_date&filter=security_desc:eq:Treasury%%20Bills&sort=-record_date&page[size]=1", tc.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch Treasury rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("Treasury API returned status %d", resp.StatusCode)
	}

	var treasuryResp TreasuryResponse
	if err := json.NewDecoder(resp.Body).Decode(&treasuryResp); err != nil {
		return 0, fmt.Errorf("failed to decode Treasury response: %w", err)
	}

	if len(treasuryResp.Data) == 0 {
		return 0, fmt.Errorf("no Treasury rate data returned")
	}

	// "3.983" -> 0.03983
	rateStr := treasuryResp.Data[0].AvgInterestRateAmount
	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse rate %s: %w", rateStr, err)
	}
	return rate / 100.0, nil
}

// GetRiskFreeRate fetches the most recent Treasury Bill rate and caches it
func (tc *TreasuryClient) GetRiskFreeRate(ctx context.Context) (float64, error) {
	rate, err := tc.fetchRiskFreeRate(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	tc.mu.Lock()
	tc.lastKnownRate = rate
	tc.lastFetchTime = now
	tc.nextFetch = now.Add(tc.maxAge)
	tc.mu.Unlock()

	logger.Info.Printf("📈 Fetched Treasury Bill rate: %.3f%% (%.6f decimal)", rate*100, rate)
	return rate, nil
}

// RiskFreeRate returns the cached rate while it is younger than maxAge, otherwise
// refetches and falls back to the last known rate on failure. A failure holds
// further attempts off for retryAfter and concurrent callers share one fetch.
func (tc *TreasuryClient) RiskFreeRate(ctx context.Context) float64 {
	if rate, ok := tc.cached(); ok {
		return rate
	}

	v, _, _ := tc.fetches.Do("rate", func() (interface{}, error) {
		// another caller may have finished a fetch in the meantime
		if rate, ok := tc.cached(); ok {
			return rate, nil
		}

		fresh, err := tc.GetRiskFreeRate(ctx)
		if err == nil {
			return fresh, nil
		}

		tc.mu.Lock()
		tc.nextFetch = time.Now().Add(tc.retryAfter)
		rate := tc.lastKnownRate
		tc.mu.Unlock()
		logger.Warn.Printf("⚠️ Treasury API failed (%v), using last known rate: %.6f (retry in %v)", err, rate, tc.retryAfter)
		return rate, nil
	})
	return v.(float64)
}

func (tc *TreasuryClient) cached() (float64, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.lastKnownRate, time.Now().Before(tc.nextFetch)
}

// GetCacheInfo returns information about the cached rate
func (tc *TreasuryClient) GetCacheInfo() (rate float64, age time.Duration, isInitialized bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.lastFetchTime.IsZero() {
		return tc.lastKnownRate, 0, false
	}
	return tc.lastKnownRate, time.Since(tc.lastFetchTime), true
}
