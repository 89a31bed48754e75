package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/jwaldner/atmscreen/internal/logger"
	"github.com/jwaldner/atmscreen/internal/models"
)

// slowRequest is the duration above which a request is logged as slow
const slowRequest = 5 * time.Second

// ProviderManager wraps a market data provider with logging and exposes it as
// a QuoteProvider and SpotProvider
type ProviderManager struct {
	provider MarketProvider
}

// NewProviderManager creates a new provider manager
func NewProviderManager(provider MarketProvider) *ProviderManager {
	return &ProviderManager{
		provider: provider,
	}
}

// FetchChain returns the chain of ticker, logging slow requests
func (pm *ProviderManager) FetchChain(ctx context.Context, ticker string) ([]models.OptionQuote, error) {
	result, err := pm.provider.GetOptionChain(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("provider %s failed to get option chain for %s: %w",
			pm.provider.GetProviderName(), ticker, err)
	}

	pm.logIfSlow("option chain "+ticker, result.Metrics)
	logger.Info.Printf("📥 %s returned %d options for %s in %v",
		pm.provider.GetProviderName(), len(result.Data), ticker, result.Metrics.RequestDuration)
	return result.Data, nil
}

// FetchSpot returns the official spot of ticker
func (pm *ProviderManager) FetchSpot(ctx context.Context, ticker string) (float64, error) {
	result, err := pm.provider.GetSpot(ctx, ticker)
	if err != nil {
		return 0, fmt.Errorf("provider %s failed to get spot for %s: %w",
			pm.provider.GetProviderName(), ticker, err)
	}

	pm.logIfSlow("spot "+ticker, result.Metrics)
	return result.Price, nil
}

func (pm *ProviderManager) logIfSlow(what string, m PerformanceMetrics) {
	if m.RequestDuration > slowRequest {
		logger.Warn.Printf("⚠️  SLOW REQUEST: %s %s took %v (queue: %v, network: %v, retries: %d)",
			pm.provider.GetProviderName(),
			what,
			m.RequestDuration,
			m.QueueTime,
			m.NetworkTime,
			m.RetryAttempts)
	}
}

// GetProvider returns the underlying provider
func (pm *ProviderManager) GetProvider() MarketProvider {
	return pm.provider
}

// GetPerformanceReport returns a detailed performance report
func (pm *ProviderManager) GetPerformanceReport() string {
	stats := pm.provider.GetPerformanceStats()

	report := fmt.Sprintf(`
📊 Provider Performance Report (%s)
=====================================
Requests Made:     %d
Average Queue Time: %v
Average Network:   %v
Average Parse:     %v
Total Duration:    %v
Rate Limit Hits:   %v
Retry Attempts:    %d
Bytes Received:    %d
`,
		pm.provider.GetProviderName(),
		stats.RequestCount,
		stats.QueueTime,
		stats.NetworkTime,
		stats.ParseTime,
		stats.RequestDuration,
		stats.RateLimitHit,
		stats.RetryAttempts,
		stats.BytesReceived,
	)

	return report
}

// Close cleans up the provider
func (pm *ProviderManager) Close() error {
	return pm.provider.Close()
}
