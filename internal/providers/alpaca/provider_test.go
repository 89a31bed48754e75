package alpaca

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jwaldner/atmscreen/internal/logger"
	"github.com/jwaldner/atmscreen/internal/models"
	"github.com/jwaldner/atmscreen/internal/providers"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *AlpacaProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewAlpacaProvider("key", "secret", srv.URL)
	p.SetMinInterval(0)
	p.now = func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) }
	return p
}

func TestParseOCC(t *testing.T) {
	due, kind, strike, ok := ParseOCC("AAPL250321C00150000")
	if !ok || kind != models.Call || strike != 150 || due.Format(models.DateLayout) != "2025-03-21" {
		t.Errorf("Unexpected parse %v %s %v %v", due, kind, strike, ok)
	}
	if _, kind, strike, ok := ParseOCC("F250418P00012500"); !ok || kind != models.Put || strike != 12.5 {
		t.Errorf("Unexpected put parse %s %v %v", kind, strike, ok)
	}
	for _, bad := range []string{"", "AAPL", "AAPL251321C00150000", "AAPL250321X00150000", "AAPL250321C0015000A"} {
		if _, _, _, ok := ParseOCC(bad); ok {
			t.Errorf("%q should not parse", bad)
		}
	}
}

func TestBusinessDays(t *testing.T) {
	fri := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	if got := BusinessDays(fri, fri.AddDate(0, 0, 7)); got != 5 {
		t.Errorf("Expected 5 business days in a week, got %d", got)
	}
	if got := BusinessDays(fri, fri.AddDate(0, 0, -1)); got != 0 {
		t.Errorf("Expected 0 for a past date, got %d", got)
	}
}

func TestGetOptionChainPaginates(t *testing.T) {
	pages := 0
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("APCA-API-KEY-ID") != "key" || r.Header.Get("APCA-API-SECRET-KEY") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1beta1/options/snapshots/AAPL" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		pages++
		if r.URL.Query().Get("page_token") == "" {
			fmt.Fprint(w, `{"snapshots":{
				"AAPL250321C00150000":{"latestQuote":{"ap":2.5,"bp":2.4},"latestTrade":{"p":2.45},"dailyBar":{"c":2.44,"v":812},"impliedVolatility":0.31},
				"BROKEN":{}
			},"next_page_token":"p2"}`)
			return
		}
		fmt.Fprint(w, `{"snapshots":{"AAPL250321P00150000":{"latestQuote":{"ap":1.9,"bp":1.8}}},"next_page_token":null}`)
	})

	res, err := p.GetOptionChain(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("GetOptionChain failed: %v", err)
	}
	if pages != 2 || len(res.Data) != 2 {
		t.Fatalf("Expected 2 quotes over 2 pages, got %d over %d", len(res.Data), pages)
	}
	if res.Metrics.RequestCount != 2 {
		t.Errorf("Expected 2 requests in metrics, got %d", res.Metrics.RequestCount)
	}

	var call models.OptionQuote
	for _, q := range res.Data {
		if q.Kind == models.Call {
			call = q
		}
	}
	if call.Ask != 2.5 || call.Bid != 2.4 || call.Last != 2.45 || call.Volume != 812 || call.ImpliedVol != 0.31 {
		t.Errorf("Unexpected call mapping %+v", call)
	}
	if call.Ticker != "AAPL" || call.DaysToMaturity != 5 || call.Size() != 100 {
		t.Errorf("Unexpected call metadata %+v", call)
	}
}

func TestGetOptionChainWarnsWhenTruncated(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter("warn", &buf)
	defer logger.InitWithWriter("error", &bytes.Buffer{})

	pages := 0
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		pages++
		fmt.Fprintf(w, `{"snapshots":{"AAPL250321C0015%d000":{"latestQuote":{"ap":2.5,"bp":2.4}}},"next_page_token":"p%d"}`, pages, pages+1)
	})
	p.maxPages = 3

	res, err := p.GetOptionChain(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetOptionChain failed: %v", err)
	}
	if pages != 3 || len(res.Data) != 3 {
		t.Errorf("Expected 3 quotes over 3 pages, got %d over %d", len(res.Data), pages)
	}
	if !strings.Contains(buf.String(), "truncated") {
		t.Errorf("Expected a truncation warning, got %q", buf.String())
	}
}

func TestGetOptionChainError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := p.GetOptionChain(context.Background(), "AAPL"); err == nil {
		t.Errorf("Expected an error on 401")
	}
}

func TestGetSpotThroughManager(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbols") != "AAPL" {
			t.Errorf("Unexpected symbols %q", r.URL.Query().Get("symbols"))
		}
		fmt.Fprint(w, `{"bars":{"AAPL":{"c":151.25,"t":"2025-03-14T19:59:00Z","v":1200}}}`)
	})

	pm := providers.NewProviderManager(p)
	spot, err := pm.FetchSpot(context.Background(), "AAPL")
	if err != nil || spot != 151.25 {
		t.Errorf("Expected 151.25, got %v (%v)", spot, err)
	}
	if p.GetPerformanceStats().RequestCount != 1 {
		t.Errorf("Expected one tracked request")
	}
}
