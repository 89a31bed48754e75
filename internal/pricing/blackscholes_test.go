package pricing

import (
	"math"
	"testing"

	"github.com/jwaldner/atmscreen/internal/models"
)

func TestBlackScholesCalculation(t *testing.T) {
	S, K, T, r, sigma := 100.0, 100.0, 91.0/365.0, 0.05, 0.20

	call := Price(S, K, r, 0, sigma, T, models.Call)
	put := Price(S, K, r, 0, sigma, T, models.Put)

	t.Logf("✅ Call price: %.6f delta: %.6f", call.Price, call.Delta)
	t.Logf("✅ Put price: %.6f delta: %.6f", put.Price, put.Delta)

	if call.Price <= 0 || put.Price <= 0 {
		t.Fatalf("Expected positive prices, got call=%v put=%v", call.Price, put.Price)
	}
	if call.Delta <= 0 || call.Delta >= 1 {
		t.Errorf("Call delta should be between 0 and 1, got %v", call.Delta)
	}
	if put.Delta >= 0 || put.Delta <= -1 {
		t.Errorf("Put delta should be between -1 and 0, got %v", put.Delta)
	}
	if call.Gamma <= 0 || call.Gamma != put.Gamma {
		t.Errorf("Gamma should be positive and shared, got call=%v put=%v", call.Gamma, put.Gamma)
	}
	if call.Vega != put.Vega {
		t.Errorf("Vega should be shared, got call=%v put=%v", call.Vega, put.Vega)
	}
	if call.ThetaPerYear >= 0 {
		t.Errorf("ATM call theta should be negative, got %v", call.ThetaPerYear)
	}
	if call.Rho <= 0 || put.Rho >= 0 {
		t.Errorf("Rho signs wrong: call=%v put=%v", call.Rho, put.Rho)
	}
}

func TestKnownValue(t *testing.T) {
	// Hull's textbook example: S=42, K=40, r=10%, sigma=20%, T=0.5.
	call := Price(42, 40, 0.10, 0, 0.20, 0.5, models.Call)
	put := Price(42, 40, 0.10, 0, 0.20, 0.5, models.Put)

	if math.Abs(call.Price-4.7594) > 1e-3 {
		t.Errorf("Call price = %.4f, want 4.7594", call.Price)
	}
	if math.Abs(put.Price-0.8086) > 1e-3 {
		t.Errorf("Put price = %.4f, want 0.8086", put.Price)
	}
	if math.Abs(call.D1-0.7693) > 1e-3 || math.Abs(call.D2-0.6278) > 1e-3 {
		t.Errorf("d1/d2 = %.4f/%.4f, want 0.7693/0.6278", call.D1, call.D2)
	}
}

func TestPutCallParityWithDividend(t *testing.T) {
	S, K, r, q, sigma, T := 29.98, 30.0, 0.1075, 0.03, 0.35, 40.0/252.0
	call := Price(S, K, r, q, sigma, T, models.Call)
	put := Price(S, K, r, q, sigma, T, models.Put)

	lhs := call.Price - put.Price
	rhs := S*math.Exp(-q*T) - K*math.Exp(-r*T)
	if math.Abs(lhs-rhs) > 1e-9 {
		t.Errorf("Parity violated: C-P=%v, S*e^-qT - K*e^-rT=%v", lhs, rhs)
	}
	if math.Abs((call.Delta-put.Delta)-math.Exp(-q*T)) > 1e-12 {
		t.Errorf("Delta parity violated: %v vs %v", call.Delta-put.Delta, math.Exp(-q*T))
	}
}

func TestDegenerateInputsReturnZero(t *testing.T) {
	cases := []struct {
		name           string
		S, K, sigma, T float64
	}{
		{"zero spot", 0, 100, 0.2, 1},
		{"negative strike", 100, -1, 0.2, 1},
		{"zero vol", 100, 100, 0, 1},
		{"expired", 100, 100, 0.2, 0},
	}
	for _, tc := range cases {
		for _, kind := range []models.Kind{models.Call, models.Put} {
			if got := Price(tc.S, tc.K, 0.05, 0, tc.sigma, tc.T, kind); got != (Result{}) {
				t.Errorf("%s/%s: expected all-zero result, got %+v", tc.name, kind, got)
			}
		}
	}
}

func TestIntrinsicConvergence(t *testing.T) {
	T := 1e-9
	for _, tc := range []struct{ S, K float64 }{{110, 100}, {90, 100}, {100, 100}} {
		call := Price(tc.S, tc.K, 0.05, 0, 0.3, T, models.Call)
		put := Price(tc.S, tc.K, 0.05, 0, 0.3, T, models.Put)
		if want := math.Max(tc.S-tc.K, 0); math.Abs(call.Price-want) > 1e-3 {
			t.Errorf("S=%v K=%v: call %v, want intrinsic %v", tc.S, tc.K, call.Price, want)
		}
		if want := math.Max(tc.K-tc.S, 0); math.Abs(put.Price-want) > 1e-3 {
			t.Errorf("S=%v K=%v: put %v, want intrinsic %v", tc.S, tc.K, put.Price, want)
		}
	}
}

func TestImpliedVolRoundTrip(t *testing.T) {
	S, K, r, q := 100.0, 100.0, 0.03, 0.01
	for _, sigma := range []float64{0.05, 0.2, 0.5, 1.0, 1.5, 2.0} {
		for _, T := range []float64{0.01, 0.1, 0.5, 1.0, 2.0} {
			for _, kind := range []models.Kind{models.Call, models.Put} {
				target := Price(S, K, r, q, sigma, T, kind).Price
				got, ok := ImpliedVolDefault(target, S, K, r, q, T, kind)
				if !ok {
					t.Errorf("sigma=%v T=%v %s: solver did not converge", sigma, T, kind)
					continue
				}
				if math.Abs(got-sigma) > 1e-4 {
					t.Errorf("sigma=%v T=%v %s: recovered %v", sigma, T, kind, got)
				}
			}
		}
	}
}

func TestImpliedVolRoundTripAwayFromMoney(t *testing.T) {
	S, r, q := 100.0, 0.03, 0.01
	checked := 0
	for _, K := range []float64{90, 110} {
		for _, sigma := range []float64{0.05, 0.2, 0.5, 1.0, 2.0} {
			for _, T := range []float64{0.01, 0.1, 0.5, 1.0, 2.0} {
				for _, kind := range []models.Kind{models.Call, models.Put} {
					res := Price(S, K, r, q, sigma, T, kind)
					// with almost no vega the price does not pin sigma down
					if res.Vega < 0.1 {
						continue
					}
					checked++
					got, ok := ImpliedVolDefault(res.Price, S, K, r, q, T, kind)
					if !ok {
						t.Errorf("K=%v sigma=%v T=%v %s: solver did not converge", K, sigma, T, kind)
						continue
					}
					if math.Abs(got-sigma) > 1e-4 {
						t.Errorf("K=%v sigma=%v T=%v %s: recovered %v", K, sigma, T, kind, got)
					}
				}
			}
		}
	}
	if checked < 60 {
		t.Errorf("Expected most ITM/OTM cases to be checked, got %d", checked)
	}
}

func TestImpliedVolOutcomes(t *testing.T) {
	if v, ok := ImpliedVolDefault(0, 100, 100, 0, 0, 0.5, models.Call); !ok || v != 0 {
		t.Errorf("Non-positive target should return (0, true), got (%v, %v)", v, ok)
	}

	// A call can never be worth more than the spot, so no sigma reaches it.
	if _, ok := ImpliedVolDefault(150, 100, 100, 0, 0, 0.5, models.Call); ok {
		t.Errorf("Expected non-convergence for a price above spot")
	}
}

func TestYearFraction(t *testing.T) {
	if got := YearFraction(126, 252); got != 0.5 {
		t.Errorf("YearFraction(126, 252) = %v, want 0.5", got)
	}
	if got := YearFraction(252, 0); got != 1 {
		t.Errorf("Zero day count should default to 252, got %v", got)
	}
}
