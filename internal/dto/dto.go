package dto

import "github.com/jwaldner/atmscreen/internal/models"

// ScreenRequest represents a multi-ticker screener request
type ScreenRequest struct {
	Tickers []string `json:"tickers"`
	// Date is the reference date (YYYY-MM-DD); empty means today
	Date string `json:"date"`
}

// TickerResponse is one ticker's entry of a multi-ticker response
type TickerResponse struct {
	Pairs    []models.ATMPair `json:"pairs"`
	Expiries []string         `json:"expiries"`
	Error    string           `json:"error,omitempty"`
}

// ScreenManyResponse represents the response of a multi-ticker run
type ScreenManyResponse struct {
	Date         string                    `json:"date"`
	TickerSource string                    `json:"ticker_source"`
	Results      map[string]TickerResponse `json:"results"`
}

// ExpirationResponse echoes the next standard expiration
type ExpirationResponse struct {
	Date string `json:"date"`
}

// HealthResponse represents the health endpoint body
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Provider  string `json:"provider,omitempty"`
}
