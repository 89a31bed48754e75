package screener

import (
	"context"
	"math"
	"testing"

	"github.com/jwaldner/atmscreen/internal/atm"
	"github.com/jwaldner/atmscreen/internal/models"
	"github.com/jwaldner/atmscreen/internal/pricing"
	"github.com/jwaldner/atmscreen/internal/treasury"
)

// pricedPair builds an ATM pair whose premiums are Black-Scholes prices at sigma.
func pricedPair(due string, spot, strike, sigma float64, days int) models.ATMPair {
	T := float64(days) / 252
	call := pricing.Price(spot, strike, 0, 0, sigma, T, models.Call).Price
	put := pricing.Price(spot, strike, 0, 0, sigma, T, models.Put).Price
	down, up, pct := atm.BreakEvens(strike, strike, call+put, spot)
	return models.ATMPair{
		DueDate: due, Strike: strike, Spot: spot,
		Call: "C" + models.RoundString(strike, 0), Put: "P" + models.RoundString(strike, 0),
		CallPremium: call, PutPremium: put, PremiumTotal: call + put,
		BreakEvenDn: down, BreakEvenUp: up, BreakEvenPct: pct,
		CallLeg: models.OptionQuote{Kind: models.Call, Strike: strike, DaysToMaturity: days},
		PutLeg:  models.OptionQuote{Kind: models.Put, Strike: strike, DaysToMaturity: days},
	}
}

func TestRoundTotalLot(t *testing.T) {
	tests := []struct{ in, want int }{
		{10000, 10000}, {1049, 1000}, {1050, 1100}, {30, 100}, {-5, 100},
	}
	for _, tt := range tests {
		if got := RoundTotalLot(tt.in); got != tt.want {
			t.Errorf("RoundTotalLot(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSplitLots(t *testing.T) {
	tests := []struct {
		name            string
		callD, putD     *float64
		total           int
		wantCall, wantP int
	}{
		{"no deltas", nil, nil, 10000, 5000, 5000},
		{"weighted by opposite delta", models.Float(0.7), models.Float(-0.3), 10000, 3000, 7000},
		{"leftover lot", models.Float(0.6), models.Float(-0.4), 1000, 400, 600},
		{"missing put delta weighs 1", models.Float(1.0), nil, 1000, 500, 500},
	}
	for _, tt := range tests {
		c, p := SplitLots(tt.callD, tt.putD, tt.total)
		if c != tt.wantCall || p != tt.wantP {
			t.Errorf("%s: got %d/%d, want %d/%d", tt.name, c, p, tt.wantCall, tt.wantP)
		}
		if c+p != tt.total || c%LotSize != 0 || p%LotSize != 0 {
			t.Errorf("%s: %d/%d should be whole lots summing to %d", tt.name, c, p, tt.total)
		}
	}
}

func TestATMImpliedVol(t *testing.T) {
	pairs := []models.ATMPair{
		pricedPair("2025-03-21", 30, 30, 0.32, 14),
		pricedPair("2025-03-21", 30, 29, 0.50, 14),
	}

	v := ATMImpliedVol(pairs, 0, 0, 252)
	if v.Reason != "" || v.IVCall == nil || v.IVPut == nil || v.IVMean == nil {
		t.Fatalf("Expected a solved ATM vol, got %+v", v)
	}
	if math.Abs(*v.IVCall-0.32) > 1e-3 || math.Abs(*v.IVPut-0.32) > 1e-3 || math.Abs(*v.IVMean-0.32) > 1e-3 {
		t.Errorf("Expected ~0.32 from the first pair, got %v/%v/%v", *v.IVCall, *v.IVPut, *v.IVMean)
	}
	if v.Strike != 30 || v.DaysToMaturity != 14 || v.Call != "C30" {
		t.Errorf("Unexpected reference pair %+v", v)
	}

	if v := ATMImpliedVol(nil, 0, 0, 252); v.Reason == "" || v.IVMean != nil {
		t.Errorf("No pairs should report a reason, got %+v", v)
	}
	noDays := pricedPair("2025-03-21", 30, 30, 0.32, 14)
	noDays.CallLeg.DaysToMaturity, noDays.PutLeg.DaysToMaturity = 0, 0
	if v := ATMImpliedVol([]models.ATMPair{noDays}, 0, 0, 252); v.Reason == "" || v.IVCall != nil {
		t.Errorf("Zero days to maturity should not be solved, got %+v", v)
	}
}

func TestRepriceNextDay(t *testing.T) {
	p := pricedPair("2025-03-21", 30, 30, 0.32, 14)

	flat := RepriceNextDay(p, 0, 0, 252, 0)
	crushed := RepriceNextDay(p, 0, 0, 252, 10)

	if !(flat.PremiumTotal < p.PremiumTotal) {
		t.Errorf("One day of decay should lower the premium: %v -> %v", p.PremiumTotal, flat.PremiumTotal)
	}
	if !(crushed.PremiumTotal < flat.PremiumTotal) {
		t.Errorf("IV crush should lower it further: %v vs %v", crushed.PremiumTotal, flat.PremiumTotal)
	}

	// the flat reprice is Black-Scholes at the same vol one day closer to expiry
	T1 := 13.0 / 252
	want := pricing.Price(30, 30, 0, 0, 0.32, T1, models.Call).Price + pricing.Price(30, 30, 0, 0, 0.32, T1, models.Put).Price
	if math.Abs(flat.PremiumTotal-want) > 1e-3 {
		t.Errorf("Flat D+1 premium = %v, want %v", flat.PremiumTotal, want)
	}
	if crushed.BreakEvenUp != models.Round(30+crushed.PremiumTotal, 2) || crushed.BreakEvenDn != models.Round(30-crushed.PremiumTotal, 2) {
		t.Errorf("Break-evens not recomputed: %+v", crushed)
	}
	if p.CallPremium == crushed.CallPremium {
		t.Errorf("Input pair must not be modified")
	}
}

func TestBuildStraddles(t *testing.T) {
	// break-evens about 3.8% and 4.4% away; the 150% vol pair about 28%
	near := pricedPair("2025-03-21", 30, 30, 0.20, 14)
	near.CallDelta, near.PutDelta = models.Float(0.7), models.Float(-0.3)
	wide := pricedPair("2025-03-21", 30, 30, 1.5, 14)
	april := pricedPair("2025-04-18", 30, 30, 0.15, 34)
	pairs := []models.ATMPair{near, wide, april}

	all := BuildStraddles(pairs, StraddleParams{})
	if len(all) != 3 {
		t.Fatalf("Expected 3 straddles, got %d", len(all))
	}
	st := all[0]
	if st.QtyCall != 3000 || st.QtyPut != 7000 {
		t.Errorf("Expected 3000/7000 on the default lot, got %d/%d", st.QtyCall, st.QtyPut)
	}
	wantCost := models.Round(3000*near.CallPremium+7000*near.PutPremium, 2)
	if st.Cost != wantCost {
		t.Errorf("Cost = %v, want %v", st.Cost, wantCost)
	}
	if st.BEPctUp == nil || *st.BEPctUp != models.Round((near.BreakEvenUp/30-1)*100, 2) || *st.BEPctDown >= 0 {
		t.Errorf("Unexpected break-even moves %v / %v", st.BEPctUp, st.BEPctDown)
	}

	limit := 5.0
	filtered := BuildStraddles(pairs, StraddleParams{MaxBEPct: &limit})
	for _, st := range filtered {
		if st.CallPremium == wide.CallPremium {
			t.Errorf("Pair beyond be_max should be dropped: %+v", st)
		}
	}
	if len(filtered) != 2 {
		t.Errorf("Expected 2 straddles within 5%%, got %d", len(filtered))
	}

	if first := BuildStraddles(pairs, StraddleParams{Expiries: 1}); len(first) != 2 {
		t.Errorf("Expected only the March pairs, got %d", len(first))
	}

	next := BuildStraddles(pairs, StraddleParams{Horizon: HorizonNextDay, CrushPct: 10})
	if next[0].PremiumTotal >= near.PremiumTotal {
		t.Errorf("D+1 horizon should reprice the legs")
	}
}

func TestScreenerStraddles(t *testing.T) {
	quotes := newFakeQuotes()
	quotes.snaps["PETR4"] = fullChain()
	quotes.spots["PETR4"] = 29.98
	s := New(quotes, &fakeRefresher{}, &fakeResolver{}, treasury.FixedRate(0.1), Options{})

	report, err := s.Straddles(context.Background(), "petr4", ref, StraddleParams{TotalLot: 1049})
	if err != nil {
		t.Fatalf("Straddles failed: %v", err)
	}
	if report.Ticker != "PETR4" || report.Date != "2025-03-03" || report.Horizon != HorizonExpiry {
		t.Errorf("Unexpected header %+v", report)
	}
	if len(report.Straddles) != 4 {
		t.Fatalf("Expected 4 straddles, got %d", len(report.Straddles))
	}
	// call delta 0.5123 and put delta -0.48 over 1000 contracts
	if st := report.Straddles[0]; st.QtyCall+st.QtyPut != 1000 || st.QtyCall != 500 {
		t.Errorf("Unexpected lots %d/%d", st.QtyCall, st.QtyPut)
	}
	if report.IV.IVMean == nil || report.IV.Strike != 30 {
		t.Errorf("Expected the ATM vol of strike 30, got %+v", report.IV)
	}
	buckets := len(report.Buckets.LessThan3) + len(report.Buckets.Between3And5) + len(report.Buckets.MoreThan5)
	if buckets != 4 {
		t.Errorf("Every straddle should be bucketed, got %d", buckets)
	}
	if report.Notice != "" {
		t.Errorf("Expiry horizon has no notice")
	}
}
