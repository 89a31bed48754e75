package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jwaldner/atmscreen/internal/dto"
	"github.com/jwaldner/atmscreen/internal/models"
	"github.com/jwaldner/atmscreen/internal/screener"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,12}$`)

// RequestService handles HTTP request parsing
type RequestService struct {
	now func() time.Time
}

// NewRequestService creates a new request service
func NewRequestService() *RequestService {
	return &RequestService{now: time.Now}
}

// ParseScreenRequest parses a POST body into a ScreenRequest with clean tickers
// and returns its reference date. An empty ticker list is allowed; the caller
// substitutes the defaults.
func (s *RequestService) ParseScreenRequest(r *http.Request) (*dto.ScreenRequest, time.Time, error) {
	if r.Method != http.MethodPost {
		return nil, time.Time{}, fmt.Errorf("method not allowed: %s", r.Method)
	}

	var req dto.ScreenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode request: %w", err)
	}

	var clean []string
	for _, t := range req.Tickers {
		ticker, err := s.ParseTicker(t)
		if err != nil {
			if strings.TrimSpace(t) == "" {
				continue
			}
			return nil, time.Time{}, err
		}
		clean = append(clean, ticker)
	}
	req.Tickers = clean

	ref, err := s.ReferenceDate(req.Date)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &req, ref, nil
}

// ParseTicker upper-cases and validates a ticker.
func (s *RequestService) ParseTicker(raw string) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw))
	if !tickerPattern.MatchString(ticker) {
		return "", fmt.Errorf("invalid ticker %q", raw)
	}
	return ticker, nil
}

// ReferenceDate parses YYYY-MM-DD; an empty string is today's date.
func (s *RequestService) ReferenceDate(dateStr string) (time.Time, error) {
	if strings.TrimSpace(dateStr) == "" {
		return models.DateOf(s.now()), nil
	}
	d, err := time.Parse(models.DateLayout, strings.TrimSpace(dateStr))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format: %w", err)
	}
	return d, nil
}

// ParseStraddleParams reads lot, horizon (expiry or d1), crush, be_max and
// expiries from the query string. Absent values take the screener defaults.
func (s *RequestService) ParseStraddleParams(q url.Values) (screener.StraddleParams, error) {
	p := screener.StraddleParams{TotalLot: screener.DefaultTotalLot, CrushPct: screener.DefaultCrushPct}

	if v := q.Get("lot"); v != "" {
		lot, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid lot %q", v)
		}
		p.TotalLot = screener.RoundTotalLot(lot)
	}

	// "d+1" arrives as "d 1" when the plus is not escaped
	switch h := strings.ToLower(strings.TrimSpace(q.Get("horizon"))); h {
	case "", screener.HorizonExpiry:
		p.Horizon = screener.HorizonExpiry
	case screener.HorizonNextDay, "d+1", "d 1":
		p.Horizon = screener.HorizonNextDay
	default:
		return p, fmt.Errorf("invalid horizon %q", h)
	}

	if v := q.Get("crush"); v != "" {
		crush, err := strconv.ParseFloat(v, 64)
		if err != nil || crush < 0 || crush > 100 {
			return p, fmt.Errorf("invalid crush %q, want 0-100", v)
		}
		p.CrushPct = crush
	}

	if v := q.Get("be_max"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil || limit < 0 {
			return p, fmt.Errorf("invalid be_max %q", v)
		}
		p.MaxBEPct = &limit
	}

	if v := q.Get("expiries"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid expiries %q", v)
		}
		p.Expiries = n
	}
	return p, nil
}
