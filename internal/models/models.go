package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for every calendar date in the service.
const DateLayout = "2006-01-02"

// DefaultContractSize is used when a quote does not carry a contract size.
const DefaultContractSize = 100

// Kind is the option side
type Kind string

const (
	Call Kind = "CALL"
	Put  Kind = "PUT"
)

// ParseKind maps provider categories ("CALL", "call", "PUT_EUROPEAN", ...) to a Kind.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "CALL"):
		return Call, true
	case strings.HasPrefix(s, "PUT"):
		return Put, true
	}
	return "", false
}

// OptionQuote is one option record of an underlying's chain. Absent prices and
// volatility are zero.
type OptionQuote struct {
	Symbol         string    `json:"symbol"`
	Ticker         string    `json:"ticker"`
	Kind           Kind      `json:"kind"`
	Strike         float64   `json:"strike"`
	Bid            float64   `json:"bid"`
	Ask            float64   `json:"ask"`
	Last           float64   `json:"last"`
	Close          float64   `json:"close"`
	OpenInterest   int64     `json:"open_interest"`
	Volume         int64     `json:"volume"`
	ContractSize   int       `json:"contract_size"`
	DaysToMaturity int       `json:"days_to_maturity"`
	DueDate        time.Time `json:"due_date"`
	SpotPrice      float64   `json:"spot_price"`
	ImpliedVol     float64   `json:"implied_vol"`
}

// Size returns the contract size, defaulting to 100.
func (q OptionQuote) Size() int {
	if q.ContractSize > 0 {
		return q.ContractSize
	}
	return DefaultContractSize
}

// Greeks holds a full valuation of one leg.
type Greeks struct {
	Price float64 `json:"price"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

// GreeksCacheEntry is a stored valuation and the time it was written.
type GreeksCacheEntry struct {
	Greeks
	CreatedAt time.Time `json:"created_at"`
}

// ATMPair is a CALL and a PUT sharing one strike near spot.
type ATMPair struct {
	DueDate      string   `json:"due_date"`
	Strike       float64  `json:"strike"`
	Spot         float64  `json:"spot"`
	Call         string   `json:"call"`
	Put          string   `json:"put"`
	CallPremium  float64  `json:"call_premium"`
	PutPremium   float64  `json:"put_premium"`
	PremiumTotal float64  `json:"premium_total"`
	ContractSize int      `json:"contract_size"`
	BreakEvenDn  float64  `json:"be_down"`
	BreakEvenUp  float64  `json:"be_up"`
	BreakEvenPct *float64 `json:"be_pct"`
	CallDelta    *float64 `json:"call_delta"`
	PutDelta     *float64 `json:"put_delta"`
	SrcCall      string   `json:"src_call,omitempty"`
	SrcPut       string   `json:"src_put,omitempty"`

	// Legs are kept for Greeks resolution and never serialized.
	CallLeg OptionQuote `json:"-"`
	PutLeg  OptionQuote `json:"-"`
}

// ScreenResult is the screener output consumed by the web layer.
type ScreenResult struct {
	Pairs    []ATMPair `json:"pairs"`
	Expiries []string  `json:"expiries"`
}

// Empty returns a result with non-nil slices so it encodes as [] rather than null.
func Empty() *ScreenResult {
	return &ScreenResult{Pairs: []ATMPair{}, Expiries: []string{}}
}

// DateOf truncates t to its calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date (a longer timestamp is cut to its date part).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	return time.Parse(DateLayout, s)
}

// Round rounds half away from zero at the given number of decimal places.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// RoundString is Round rendered with a fixed number of places, used for stable keys.
func RoundString(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
