package services

import (
	"fmt"

	"github.com/jwaldner/atmscreen/internal/config"
)

// TickerService handles ticker selection for multi-ticker runs
type TickerService struct {
	config *config.Config
}

// NewTickerService creates a new ticker service
func NewTickerService(cfg *config.Config) *TickerService {
	return &TickerService{config: cfg}
}

// Tickers returns the requested tickers, or the configured defaults when none
// were requested.
func (s *TickerService) Tickers(requested []string) ([]string, error) {
	if len(requested) > 0 {
		return requested, nil
	}
	if len(s.config.Screener.DefaultTickers) > 0 {
		return s.config.Screener.DefaultTickers, nil
	}
	return nil, fmt.Errorf("tickers are required (no default_tickers configured)")
}

// Source returns a description of where the tickers came from
func (s *TickerService) Source(requested []string) string {
	if len(requested) > 0 {
		return fmt.Sprintf("%d requested", len(requested))
	}
	return fmt.Sprintf("%d configured: %v", len(s.config.Screener.DefaultTickers), s.config.Screener.DefaultTickers)
}
