package providers

import (
	"context"
	"time"

	"github.com/jwaldner/atmscreen/internal/models"
)

// PerformanceMetrics tracks timing and performance data for provider operations
type PerformanceMetrics struct {
	RequestDuration time.Duration `json:"request_duration"`
	QueueTime       time.Duration `json:"queue_time"`   // Time waiting for rate limiter
	NetworkTime     time.Duration `json:"network_time"` // Actual HTTP request time
	ParseTime       time.Duration `json:"parse_time"`   // JSON parsing time
	RequestCount    int           `json:"request_count"`
	BytesReceived   int64         `json:"bytes_received"`
	RateLimitHit    bool          `json:"rate_limit_hit"`
	RetryAttempts   int           `json:"retry_attempts"`
}

// ChainResult contains an underlying's option chain with performance metrics
type ChainResult struct {
	Ticker  string               `json:"ticker"`
	Data    []models.OptionQuote `json:"data"`
	Metrics PerformanceMetrics   `json:"metrics"`
}

// SpotResult contains the official spot price with performance metrics
type SpotResult struct {
	Ticker  string             `json:"ticker"`
	Price   float64            `json:"price"`
	Metrics PerformanceMetrics `json:"metrics"`
}

// MarketProvider defines the interface for market data providers
type MarketProvider interface {
	// GetOptionChain fetches every listed option of an underlying
	GetOptionChain(ctx context.Context, ticker string) (*ChainResult, error)

	// GetSpot fetches the underlying's official last price
	GetSpot(ctx context.Context, ticker string) (*SpotResult, error)

	// GetProviderName returns the name of the provider (e.g., "oplab")
	GetProviderName() string

	// GetPerformanceStats returns cumulative performance statistics
	GetPerformanceStats() PerformanceMetrics

	// Close cleans up any resources
	Close() error
}

// QuoteProvider is what the refresh coordinator needs to reload a snapshot.
type QuoteProvider interface {
	FetchChain(ctx context.Context, ticker string) ([]models.OptionQuote, error)
}

// SpotProvider returns an official spot price; zero means unknown.
type SpotProvider interface {
	FetchSpot(ctx context.Context, ticker string) (float64, error)
}
