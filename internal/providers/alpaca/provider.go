package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jwaldner/atmscreen/internal/logger"
	"github.com/jwaldner/atmscreen/internal/models"
	"github.com/jwaldner/atmscreen/internal/providers"
)

const (
	// DefaultDataURL is the Alpaca market data REST root
	DefaultDataURL = "https://data.alpaca.markets"

	// Rate limiting for Alpaca Basic Plan (200 requests per minute)
	basicPlanDelay = 350 * time.Millisecond

	// HTTP timeout
	defaultTimeout = 30 * time.Second

	// Upper bound on snapshot pages fetched for one chain
	defaultMaxPages = 20
)

// AlpacaProvider implements the MarketProvider interface for US listed options
// through Alpaca's snapshot API. It has no remote pricing service.
type AlpacaProvider struct {
	apiKey     string
	secretKey  string
	dataURL    string
	feed       string
	httpClient *http.Client
	now        func() time.Time
	maxPages   int

	// Rate limiting
	minInterval time.Duration
	lastRequest time.Time
	rateMutex   sync.Mutex

	// Performance tracking
	totalRequests    int64
	totalQueueTime   time.Duration
	totalNetworkTime time.Duration
	totalParseTime   time.Duration
	rateLimitHits    int64
	statsMutex       sync.RWMutex
}

// NewAlpacaProvider creates a new Alpaca market data provider. An empty
// dataURL uses the public API.
func NewAlpacaProvider(apiKey, secretKey, dataURL string) *AlpacaProvider {
	if dataURL == "" {
		dataURL = DefaultDataURL
	}
	return &AlpacaProvider{
		apiKey:      apiKey,
		secretKey:   secretKey,
		dataURL:     strings.TrimRight(dataURL, "/"),
		feed:        "indicative",
		minInterval: basicPlanDelay,
		now:         time.Now,
		maxPages:    defaultMaxPages,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// SetMinInterval changes the spacing enforced between requests
func (a *AlpacaProvider) SetMinInterval(d time.Duration) {
	a.rateMutex.Lock()
	a.minInterval = d
	a.rateMutex.Unlock()
}

// GetProviderName returns the provider name
func (a *AlpacaProvider) GetProviderName() string {
	return "alpaca"
}

// rateLimit enforces Alpaca's rate limiting
func (a *AlpacaProvider) rateLimit(ctx context.Context) (time.Duration, error) {
	a.rateMutex.Lock()
	defer a.rateMutex.Unlock()

	elapsed := time.Since(a.lastRequest)
	if elapsed >= a.minInterval {
		a.lastRequest = time.Now()
		return 0, nil
	}

	waitTime := a.minInterval - elapsed
	select {
	case <-time.After(waitTime):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	a.lastRequest = time.Now()
	return waitTime, nil
}

// makeRequest handles HTTP requests with performance tracking
func (a *AlpacaProvider) makeRequest(ctx context.Context, endpoint string, query url.Values) ([]byte, providers.PerformanceMetrics, error) {
	metrics := providers.PerformanceMetrics{
		RequestCount: 1,
	}
	startTime := time.Now()

	queueTime, err := a.rateLimit(ctx)
	if err != nil {
		return nil, metrics, err
	}
	metrics.QueueTime = queueTime
	metrics.RateLimitHit = queueTime > 0

	target := a.dataURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, metrics, fmt.Errorf("creating request: %w", err)
	}

	// Add auth headers
	req.Header.Set("APCA-API-KEY-ID", a.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.secretKey)

	networkStart := time.Now()
	resp, err := a.httpClient.Do(req)
	metrics.NetworkTime = time.Since(networkStart)
	if err != nil {
		return nil, metrics, fmt.Errorf("network request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, metrics, fmt.Errorf("reading response: %w", err)
	}

	metrics.BytesReceived = int64(len(body))
	metrics.RequestDuration = time.Since(startTime)

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.RateLimitHit = true
		a.updateStats(metrics)
		return nil, metrics, fmt.Errorf("rate limited by API")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, metrics, fmt.Errorf("API error: %d - %s", resp.StatusCode, string(body))
	}

	a.updateStats(metrics)
	return body, metrics, nil
}

// updateStats updates cumulative performance statistics
func (a *AlpacaProvider) updateStats(metrics providers.PerformanceMetrics) {
	a.statsMutex.Lock()
	defer a.statsMutex.Unlock()

	a.totalRequests++
	a.totalQueueTime += metrics.QueueTime
	a.totalNetworkTime += metrics.NetworkTime
	if metrics.RateLimitHit {
		a.rateLimitHits++
	}
}

func (a *AlpacaProvider) addParseTime(d time.Duration) {
	a.statsMutex.Lock()
	a.totalParseTime += d
	a.statsMutex.Unlock()
}

// GetPerformanceStats returns cumulative performance statistics
func (a *AlpacaProvider) GetPerformanceStats() providers.PerformanceMetrics {
	a.statsMutex.RLock()
	defer a.statsMutex.RUnlock()

	if a.totalRequests == 0 {
		return providers.PerformanceMetrics{}
	}
	avgQueueTime := time.Duration(int64(a.totalQueueTime) / a.totalRequests)
	avgNetworkTime := time.Duration(int64(a.totalNetworkTime) / a.totalRequests)

	return providers.PerformanceMetrics{
		RequestDuration: avgNetworkTime + avgQueueTime,
		QueueTime:       avgQueueTime,
		NetworkTime:     avgNetworkTime,
		ParseTime:       time.Duration(int64(a.totalParseTime) / a.totalRequests),
		RequestCount:    int(a.totalRequests),
		RateLimitHit:    a.rateLimitHits > 0,
	}
}

// Close cleans up resources
func (a *AlpacaProvider) Close() error {
	// Nothing to clean up for HTTP client
	return nil
}

// Alpaca API response structures
type alpacaSnapshotsResponse struct {
	Snapshots     map[string]alpacaSnapshot `json:"snapshots"`
	NextPageToken string                    `json:"next_page_token"`
}

type alpacaSnapshot struct {
	LatestQuote struct {
		Ask float64 `json:"ap"`
		Bid float64 `json:"bp"`
	} `json:"latestQuote"`
	LatestTrade struct {
		Price float64 `json:"p"`
	} `json:"latestTrade"`
	DailyBar struct {
		Close  float64 `json:"c"`
		Volume int64   `json:"v"`
	} `json:"dailyBar"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
}

type alpacaBarResponse struct {
	Bars map[string]alpacaBar `json:"bars"`
}

type alpacaBar struct {
	Close     float64   `json:"c"`
	Timestamp time.Time `json:"t"`
	Volume    int64     `json:"v"`
}

// GetOptionChain fetches every option snapshot of an underlying, following
// next_page_token.
func (a *AlpacaProvider) GetOptionChain(ctx context.Context, ticker string) (*providers.ChainResult, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	result := &providers.ChainResult{Ticker: ticker, Data: []models.OptionQuote{}}
	today := models.DateOf(a.now())

	query := url.Values{"feed": {a.feed}, "limit": {"1000"}}
	more := false
	for page := 0; page < a.maxPages; page++ {
		body, metrics, err := a.makeRequest(ctx, "/v1beta1/options/snapshots/"+url.PathEscape(ticker), query)
		accumulate(&result.Metrics, metrics)
		if err != nil {
			return nil, fmt.Errorf("option snapshots request: %w", err)
		}

		parseStart := time.Now()
		var resp alpacaSnapshotsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("parsing option snapshots response: %w", err)
		}
		for symbol, snap := range resp.Snapshots {
			q, ok := snap.toQuote(ticker, symbol, today)
			if !ok {
				logger.Verbose.Printf("🔍 Skipping unparseable contract %s", symbol)
				continue
			}
			result.Data = append(result.Data, q)
		}
		parse := time.Since(parseStart)
		result.Metrics.ParseTime += parse
		a.addParseTime(parse)

		more = resp.NextPageToken != ""
		if !more {
			break
		}
		query.Set("page_token", resp.NextPageToken)
	}
	if more {
		logger.Warn.Printf("⚠️ Alpaca chain %s truncated at %d pages (%d options), more pages remain", ticker, a.maxPages, len(result.Data))
	}

	logger.Verbose.Printf("📡 Alpaca chain %s: %d options in %v", ticker, len(result.Data), result.Metrics.RequestDuration)
	return result, nil
}

// GetSpot fetches the close of the underlying's latest bar
func (a *AlpacaProvider) GetSpot(ctx context.Context, ticker string) (*providers.SpotResult, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	body, metrics, err := a.makeRequest(ctx, "/v2/stocks/bars/latest", url.Values{"symbols": {ticker}})
	if err != nil {
		return nil, fmt.Errorf("stock price request: %w", err)
	}

	var resp alpacaBarResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing stock price response: %w", err)
	}
	return &providers.SpotResult{Ticker: ticker, Price: resp.Bars[ticker].Close, Metrics: metrics}, nil
}

func (s alpacaSnapshot) toQuote(ticker, symbol string, today time.Time) (models.OptionQuote, bool) {
	due, kind, strike, ok := ParseOCC(symbol)
	if !ok {
		return models.OptionQuote{}, false
	}
	return models.OptionQuote{
		Symbol:         symbol,
		Ticker:         ticker,
		Kind:           kind,
		Strike:         strike,
		Bid:            s.LatestQuote.Bid,
		Ask:            s.LatestQuote.Ask,
		Last:           s.LatestTrade.Price,
		Close:          s.DailyBar.Close,
		Volume:         s.DailyBar.Volume,
		ContractSize:   models.DefaultContractSize,
		DaysToMaturity: BusinessDays(today, due),
		DueDate:        due,
		ImpliedVol:     s.ImpliedVolatility,
	}, true
}

// ParseOCC splits an OCC option symbol (root, YYMMDD, C/P, strike x1000 in
// eight digits), e.g. AAPL250321C00150000.
func ParseOCC(symbol string) (due time.Time, kind models.Kind, strike float64, ok bool) {
	n := len(symbol)
	if n < 16 {
		return time.Time{}, "", 0, false
	}
	due, err := time.Parse("060102", symbol[n-15:n-9])
	if err != nil {
		return time.Time{}, "", 0, false
	}
	switch symbol[n-9] {
	case 'C':
		kind = models.Call
	case 'P':
		kind = models.Put
	default:
		return time.Time{}, "", 0, false
	}
	milli, err := strconv.ParseInt(symbol[n-8:], 10, 64)
	if err != nil || milli <= 0 {
		return time.Time{}, "", 0, false
	}
	return due, kind, float64(milli) / 1000, true
}

// BusinessDays counts weekdays in (from, to]; zero when to is not after from.
func BusinessDays(from, to time.Time) int {
	from, to = models.DateOf(from), models.DateOf(to)
	days := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days++
		}
	}
	return days
}

func accumulate(total *providers.PerformanceMetrics, m providers.PerformanceMetrics) {
	total.RequestCount += m.RequestCount
	total.QueueTime += m.QueueTime
	total.NetworkTime += m.NetworkTime
	total.RequestDuration += m.RequestDuration
	total.BytesReceived += m.BytesReceived
	total.RateLimitHit = total.RateLimitHit || m.RateLimitHit
}
