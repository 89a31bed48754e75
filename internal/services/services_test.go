package services

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jwaldner/atmscreen/internal/config"
	"github.com/jwaldner/atmscreen/internal/screener"
)

func TestParseScreenRequest(t *testing.T) {
	s := NewRequestService()
	r := httptest.NewRequest("POST", "/api/screener", strings.NewReader(`{"tickers":[" petr4 ","","VALE3"],"date":"2025-03-03"}`))

	req, ref, err := s.ParseScreenRequest(r)
	if err != nil {
		t.Fatalf("ParseScreenRequest failed: %v", err)
	}
	if len(req.Tickers) != 2 || req.Tickers[0] != "PETR4" || req.Tickers[1] != "VALE3" {
		t.Errorf("Unexpected tickers %v", req.Tickers)
	}
	if !ref.Equal(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected reference date %v", ref)
	}

	s.now = func() time.Time { return time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC) }
	r = httptest.NewRequest("POST", "/api/screener", strings.NewReader(`{"tickers":["PETR4"]}`))
	if _, ref, err := s.ParseScreenRequest(r); err != nil || ref.Day() != 5 {
		t.Errorf("Missing date should be today, got %v (%v)", ref, err)
	}
}

func TestParseScreenRequestRejects(t *testing.T) {
	s := NewRequestService()
	bodies := map[string]string{
		"bad json":   `{"tickers":`,
		"bad ticker": `{"tickers":["PETR4; DROP"]}`,
		"bad date":   `{"tickers":["PETR4"],"date":"03/03/2025"}`,
	}
	for name, body := range bodies {
		r := httptest.NewRequest("POST", "/api/screener", strings.NewReader(body))
		if _, _, err := s.ParseScreenRequest(r); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}

	r := httptest.NewRequest("GET", "/api/screener", nil)
	if _, _, err := s.ParseScreenRequest(r); err == nil {
		t.Errorf("GET should be rejected")
	}
}

func TestReferenceDate(t *testing.T) {
	s := NewRequestService()
	s.now = func() time.Time { return time.Date(2025, 3, 3, 15, 4, 5, 0, time.UTC) }

	d, err := s.ReferenceDate("")
	if err != nil || !d.Equal(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Empty date should be today, got %v (%v)", d, err)
	}
	d, err = s.ReferenceDate("2025-04-18")
	if err != nil || d.Day() != 18 {
		t.Errorf("Unexpected date %v (%v)", d, err)
	}
}

func TestParseStraddleParams(t *testing.T) {
	s := NewRequestService()

	p, err := s.ParseStraddleParams(url.Values{})
	if err != nil || p.TotalLot != screener.DefaultTotalLot || p.Horizon != screener.HorizonExpiry || p.MaxBEPct != nil {
		t.Errorf("Unexpected defaults %+v (%v)", p, err)
	}

	q, _ := url.ParseQuery("lot=1049&horizon=d+1&crush=25&be_max=4.5&expiries=1")
	p, err = s.ParseStraddleParams(q)
	if err != nil {
		t.Fatalf("ParseStraddleParams failed: %v", err)
	}
	if p.TotalLot != 1000 || p.Horizon != screener.HorizonNextDay || p.CrushPct != 25 || p.Expiries != 1 {
		t.Errorf("Unexpected params %+v", p)
	}
	if p.MaxBEPct == nil || *p.MaxBEPct != 4.5 {
		t.Errorf("Expected be_max 4.5, got %v", p.MaxBEPct)
	}

	for _, raw := range []string{"lot=many", "horizon=week", "crush=120", "be_max=-1", "expiries=x"} {
		q, _ := url.ParseQuery(raw)
		if _, err := s.ParseStraddleParams(q); err == nil {
			t.Errorf("%s: expected an error", raw)
		}
	}
}

func TestTickerService(t *testing.T) {
	cfg := &config.Config{}
	s := NewTickerService(cfg)
	if _, err := s.Tickers(nil); err == nil {
		t.Errorf("Expected error without defaults")
	}

	cfg.Screener.DefaultTickers = []string{"BOVA11"}
	got, err := s.Tickers(nil)
	if err != nil || len(got) != 1 || got[0] != "BOVA11" {
		t.Errorf("Expected defaults, got %v (%v)", got, err)
	}
	if got, _ := s.Tickers([]string{"PETR4"}); got[0] != "PETR4" {
		t.Errorf("Requested tickers should win, got %v", got)
	}
}
