// Package pricing implements closed-form Black-Scholes valuation with a
// continuous dividend yield and a bisection implied-volatility solver.
package pricing

import (
	"math"

	"github.com/jwaldner/atmscreen/internal/models"
)

const (
	// DefaultTolerance and DefaultMaxIterations match the solver defaults of the screener.
	DefaultTolerance     = 1e-6
	DefaultMaxIterations = 100

	volFloor   = 1e-6
	volCeiling = 5.0
)

var sqrt2Pi = math.Sqrt(2.0 * math.Pi)

// Result is a full Black-Scholes valuation. Vega is per 1.0 (100%) of volatility
// and theta is annualized.
type Result struct {
	Price        float64 `json:"price"`
	Delta        float64 `json:"delta"`
	Gamma        float64 `json:"gamma"`
	Vega         float64 `json:"vega"`
	ThetaPerYear float64 `json:"theta_per_year"`
	Rho          float64 `json:"rho"`
	D1           float64 `json:"d1"`
	D2           float64 `json:"d2"`
}

// Greeks converts the result to the cached representation.
func (r Result) Greeks() models.Greeks {
	return models.Greeks{
		Price: r.Price,
		Delta: r.Delta,
		Gamma: r.Gamma,
		Vega:  r.Vega,
		Theta: r.ThetaPerYear,
		Rho:   r.Rho,
	}
}

// normCDF is the standard normal cumulative distribution
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// normPDF is the standard normal density
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / sqrt2Pi
}

// Price values an option. Any non-positive S, K, sigma or T yields an all-zero result.
func Price(S, K, r, q, sigma, T float64, kind models.Kind) Result {
	if S <= 0 || K <= 0 || sigma <= 0 || T <= 0 {
		return Result{}
	}

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r-q+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	discR := math.Exp(-r * T)
	discQ := math.Exp(-q * T)
	pdf := normPDF(d1)

	res := Result{
		D1:    d1,
		D2:    d2,
		Gamma: discQ * pdf / (S * sigma * sqrtT),
		Vega:  S * discQ * pdf * sqrtT,
	}

	decay := -(S * discQ * pdf * sigma) / (2.0 * sqrtT)
	if kind == models.Call {
		nd1, nd2 := normCDF(d1), normCDF(d2)
		res.Price = S*discQ*nd1 - K*discR*nd2
		res.Delta = discQ * nd1
		res.ThetaPerYear = decay - r*K*discR*nd2 + q*S*discQ*nd1
		res.Rho = K * T * discR * nd2
	} else {
		nmd1, nmd2 := normCDF(-d1), normCDF(-d2)
		res.Price = K*discR*nmd2 - S*discQ*nmd1
		res.Delta = -discQ * nmd1
		res.ThetaPerYear = decay + r*K*discR*nmd2 - q*S*discQ*nmd1
		res.Rho = -K * T * discR * nmd2
	}

	return res
}

// ImpliedVol finds sigma such that Price(sigma) matches target, by bisection over
// [1e-6, 5.0]. ok is false when the bracket never changes sign. A non-positive
// target returns (0, true).
func ImpliedVol(target, S, K, r, q, T float64, kind models.Kind, tol float64, maxIter int) (float64, bool) {
	if target <= 0 {
		return 0, true
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	f := func(sigma float64) float64 {
		return Price(S, K, r, q, sigma, T, kind).Price - target
	}

	low, high := volFloor, volCeiling
	fLow, fHigh := f(low), f(high)
	if fLow*fHigh > 0 {
		found := false
		for _, h := range []float64{1.0, 2.0, 3.0, 5.0} {
			fHigh = f(h)
			if fLow*fHigh <= 0 {
				high = h
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}

	for i := 0; i < maxIter; i++ {
		mid := (low + high) / 2
		fMid := f(mid)
		if math.Abs(fMid) < tol {
			return mid, true
		}
		if fLow*fMid <= 0 {
			high = mid
		} else {
			low, fLow = mid, fMid
		}
	}

	return (low + high) / 2, true
}

// ImpliedVolDefault is ImpliedVol with the default tolerance and iteration cap.
func ImpliedVolDefault(target, S, K, r, q, T float64, kind models.Kind) (float64, bool) {
	return ImpliedVol(target, S, K, r, q, T, kind, DefaultTolerance, DefaultMaxIterations)
}

// YearFraction converts days to maturity to a year fraction on the given day count.
func YearFraction(days int, dayCount float64) float64 {
	if dayCount <= 0 {
		dayCount = 252
	}
	return float64(days) / dayCount
}
