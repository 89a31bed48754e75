package oplab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jwaldner/atmscreen/internal/greeks"
	"github.com/jwaldner/atmscreen/internal/logger"
	"github.com/jwaldner/atmscreen/internal/models"
	"github.com/jwaldner/atmscreen/internal/providers"
)

const (
	// DefaultBaseURL is the OpLab v3 REST root
	DefaultBaseURL = "https://api.oplab.com.br/v3"

	// Minimum spacing between requests
	defaultMinInterval = 100 * time.Millisecond

	// HTTP timeout
	defaultTimeout = 15 * time.Second

	maxRetries   = 3
	retryBackoff = 500 * time.Millisecond
)

// errRetryable marks responses worth another attempt (429 and 5xx)
var errRetryable = errors.New("retryable status")

// OplabProvider implements MarketProvider and greeks.PricingService for OpLab
type OplabProvider struct {
	token      string
	baseURL    string
	httpClient *http.Client

	// Rate limiting
	minInterval time.Duration
	lastRequest time.Time
	rateMutex   sync.Mutex

	// Performance tracking
	totalRequests    int64
	totalQueueTime   time.Duration
	totalNetworkTime time.Duration
	totalParseTime   time.Duration
	totalRetries     int64
	totalBytes       int64
	rateLimitHits    int64
	statsMutex       sync.RWMutex
}

// NewOplabProvider creates a new OpLab provider. An empty baseURL uses the public API.
func NewOplabProvider(token, baseURL string) *OplabProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OplabProvider{
		token:       token,
		baseURL:     strings.TrimRight(baseURL, "/"),
		minInterval: defaultMinInterval,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// SetMinInterval changes the spacing enforced between requests
func (o *OplabProvider) SetMinInterval(d time.Duration) {
	o.rateMutex.Lock()
	o.minInterval = d
	o.rateMutex.Unlock()
}

// GetProviderName returns the provider name
func (o *OplabProvider) GetProviderName() string {
	return "oplab"
}

// rateLimit waits until minInterval has passed since the previous request
func (o *OplabProvider) rateLimit(ctx context.Context) (time.Duration, error) {
	o.rateMutex.Lock()
	defer o.rateMutex.Unlock()

	elapsed := time.Since(o.lastRequest)
	if elapsed >= o.minInterval {
		o.lastRequest = time.Now()
		return 0, nil
	}

	waitTime := o.minInterval - elapsed
	timer := time.NewTimer(waitTime)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	o.lastRequest = time.Now()
	return waitTime, nil
}

// makeRequest performs a GET with rate limiting, retries and performance tracking
func (o *OplabProvider) makeRequest(ctx context.Context, endpoint string, query url.Values) ([]byte, providers.PerformanceMetrics, error) {
	metrics := providers.PerformanceMetrics{}
	startTime := time.Now()

	target := o.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body []byte
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			metrics.RetryAttempts++
			backoff := retryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, metrics, ctx.Err()
			}
		}

		body, err = o.do(ctx, target, &metrics)
		if err == nil || !errors.Is(err, errRetryable) {
			break
		}
		logger.Debug.Printf("🐛 %s attempt %d failed: %v", endpoint, attempt+1, err)
	}

	metrics.RequestDuration = time.Since(startTime)
	o.updateStats(metrics)

	if err != nil {
		return nil, metrics, err
	}
	return body, metrics, nil
}

func (o *OplabProvider) do(ctx context.Context, target string, metrics *providers.PerformanceMetrics) ([]byte, error) {
	queueTime, err := o.rateLimit(ctx)
	if err != nil {
		return nil, err
	}
	metrics.QueueTime += queueTime
	if queueTime > 0 {
		metrics.RateLimitHit = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Access-Token", o.token)
	req.Header.Set("Accept", "application/json")

	metrics.RequestCount++
	networkStart := time.Now()
	resp, err := o.httpClient.Do(req)
	metrics.NetworkTime += time.Since(networkStart)
	if err != nil {
		return nil, fmt.Errorf("network request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	metrics.BytesReceived += int64(len(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RateLimitHit = true
		return nil, fmt.Errorf("rate limited by API: %w", errRetryable)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("API error: %d - %s: %w", resp.StatusCode, truncate(body), errRetryable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("API error: %d - %s", resp.StatusCode, truncate(body))
	}
	return body, nil
}

func truncate(body []byte) string {
	const limit = 200
	s := string(bytes.TrimSpace(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// updateStats updates cumulative performance statistics
func (o *OplabProvider) updateStats(metrics providers.PerformanceMetrics) {
	o.statsMutex.Lock()
	defer o.statsMutex.Unlock()

	o.totalRequests += int64(metrics.RequestCount)
	o.totalQueueTime += metrics.QueueTime
	o.totalNetworkTime += metrics.NetworkTime
	o.totalParseTime += metrics.ParseTime
	o.totalRetries += int64(metrics.RetryAttempts)
	o.totalBytes += metrics.BytesReceived
	if metrics.RateLimitHit {
		o.rateLimitHits++
	}
}

func (o *OplabProvider) addParseTime(d time.Duration) {
	o.statsMutex.Lock()
	o.totalParseTime += d
	o.statsMutex.Unlock()
}

// GetPerformanceStats returns cumulative performance statistics
func (o *OplabProvider) GetPerformanceStats() providers.PerformanceMetrics {
	o.statsMutex.RLock()
	defer o.statsMutex.RUnlock()

	n := o.totalRequests
	if n == 0 {
		return providers.PerformanceMetrics{}
	}
	avgQueueTime := time.Duration(int64(o.totalQueueTime) / n)
	avgNetworkTime := time.Duration(int64(o.totalNetworkTime) / n)

	return providers.PerformanceMetrics{
		RequestDuration: avgNetworkTime + avgQueueTime,
		QueueTime:       avgQueueTime,
		NetworkTime:     avgNetworkTime,
		ParseTime:       time.Duration(int64(o.totalParseTime) / n),
		RequestCount:    int(n),
		BytesReceived:   o.totalBytes,
		RetryAttempts:   int(o.totalRetries),
		RateLimitHit:    o.rateLimitHits > 0,
	}
}

// Close cleans up resources
func (o *OplabProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// GetOptionChain fetches GET /market/options/{ticker}
func (o *OplabProvider) GetOptionChain(ctx context.Context, ticker string) (*providers.ChainResult, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	body, metrics, err := o.makeRequest(ctx, "/market/options/"+url.PathEscape(ticker), nil)
	if err != nil {
		return nil, fmt.Errorf("option chain request: %w", err)
	}

	parseStart := time.Now()
	var raw []oplabOption
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing option chain response: %w", err)
	}

	quotes := make([]models.OptionQuote, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		q, ok := r.toQuote(ticker)
		if !ok {
			skipped++
			continue
		}
		quotes = append(quotes, q)
	}
	metrics.ParseTime = time.Since(parseStart)
	o.addParseTime(metrics.ParseTime)

	if skipped > 0 {
		logger.Verbose.Printf("🔍 Skipped %d unusable option records for %s", skipped, ticker)
	}
	return &providers.ChainResult{Ticker: ticker, Data: quotes, Metrics: metrics}, nil
}

// GetSpot fetches GET /market/stocks/{ticker}
func (o *OplabProvider) GetSpot(ctx context.Context, ticker string) (*providers.SpotResult, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	body, metrics, err := o.makeRequest(ctx, "/market/stocks/"+url.PathEscape(ticker), nil)
	if err != nil {
		return nil, fmt.Errorf("spot request: %w", err)
	}

	var raw oplabStock
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing spot response: %w", err)
	}
	return &providers.SpotResult{Ticker: ticker, Price: raw.price(), Metrics: metrics}, nil
}

// Greeks calls GET /market/options/bs. A response without delta wraps greeks.ErrUnresolved.
func (o *OplabProvider) Greeks(ctx context.Context, req greeks.RemoteRequest) (models.Greeks, error) {
	q := url.Values{}
	q.Set("symbol", req.Symbol)
	q.Set("irate", strconv.FormatFloat(req.RiskFreeRate, 'f', -1, 64))
	q.Set("type", string(req.Kind))
	q.Set("spotprice", strconv.FormatFloat(req.Spot, 'f', -1, 64))
	q.Set("strike", strconv.FormatFloat(req.Strike, 'f', -1, 64))
	q.Set("premium", strconv.FormatFloat(req.Premium, 'f', -1, 64))
	q.Set("dtm", strconv.Itoa(req.DaysToMaturity))
	q.Set("vol", strconv.FormatFloat(req.Vol, 'f', -1, 64))
	q.Set("duedate", req.DueDate)
	q.Set("amount", strconv.Itoa(req.Amount))

	body, _, err := o.makeRequest(ctx, "/market/options/bs", q)
	if err != nil {
		return models.Greeks{}, err
	}

	var raw oplabGreeks
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.Greeks{}, fmt.Errorf("parsing bs response: %w", err)
	}
	if raw.Delta == nil {
		return models.Greeks{}, fmt.Errorf("bs response for %s has no delta: %w", req.Symbol, greeks.ErrUnresolved)
	}
	return models.Greeks{
		Price: float64(raw.Price),
		Delta: float64(*raw.Delta),
		Gamma: float64(raw.Gamma),
		Vega:  float64(raw.Vega),
		Theta: float64(raw.Theta),
		Rho:   float64(raw.Rho),
	}, nil
}
