package screener

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/jwaldner/atmscreen/internal/atm"
	"github.com/jwaldner/atmscreen/internal/logger"
	"github.com/jwaldner/atmscreen/internal/models"
	"github.com/jwaldner/atmscreen/internal/pricing"
)

const (
	// LotSize is the smallest tradable quantity of one leg
	LotSize         = 100
	DefaultTotalLot = 10000
	DefaultCrushPct = 10.0

	HorizonExpiry  = "expiry"
	HorizonNextDay = "d1"

	minVol = 1e-4
)

// StraddleParams tunes the long straddle view. Zero values take the defaults.
type StraddleParams struct {
	TotalLot int
	Horizon  string
	CrushPct float64
	MaxBEPct *float64
	// Expiries keeps the pairs of the first N expiries; 0 keeps all
	Expiries int

	RiskFreeRate  float64
	DividendYield float64
	DayCount      float64
}

// Straddle is an ATM pair sized as a long straddle.
type Straddle struct {
	models.ATMPair
	QtyCall   int      `json:"qty_call"`
	QtyPut    int      `json:"qty_put"`
	Cost      float64  `json:"operation_cost"`
	BEPctDown *float64 `json:"be_pct_down"`
	BEPctUp   *float64 `json:"be_pct_up"`
}

// ATMVol is the implied volatility of the first ATM pair.
type ATMVol struct {
	DueDate        string   `json:"due_date,omitempty"`
	Strike         float64  `json:"strike,omitempty"`
	Spot           float64  `json:"spot,omitempty"`
	DaysToMaturity int      `json:"days_to_maturity,omitempty"`
	Call           string   `json:"call,omitempty"`
	Put            string   `json:"put,omitempty"`
	IVCall         *float64 `json:"iv_call"`
	IVPut          *float64 `json:"iv_put"`
	IVMean         *float64 `json:"iv_mean"`
	Reason         string   `json:"reason,omitempty"`
}

// StraddleReport is the long straddle view of one ticker.
type StraddleReport struct {
	Ticker    string     `json:"ticker"`
	Date      string     `json:"date"`
	Horizon   string     `json:"horizon"`
	Notice    string     `json:"notice,omitempty"`
	IV        ATMVol     `json:"iv_atm"`
	Straddles []Straddle `json:"straddles"`
	Buckets   Buckets    `json:"buckets"`
}

// Straddles screens ticker and sizes its ATM pairs as long straddles.
func (s *Screener) Straddles(ctx context.Context, ticker string, ref time.Time, params StraddleParams) (*StraddleReport, error) {
	result, err := s.ScreenATM(ctx, ticker, ref)
	if err != nil {
		return nil, err
	}

	params.RiskFreeRate = s.rates.RiskFreeRate(ctx)
	params.DividendYield = s.opts.DividendYield
	params.DayCount = s.opts.DayCount
	params = params.withDefaults()

	report := &StraddleReport{
		Ticker:    strings.ToUpper(strings.TrimSpace(ticker)),
		Date:      ref.Format(models.DateLayout),
		Horizon:   params.Horizon,
		IV:        ATMImpliedVol(result.Pairs, params.RiskFreeRate, params.DividendYield, params.DayCount),
		Straddles: BuildStraddles(result.Pairs, params),
	}
	if params.Horizon == HorizonNextDay {
		report.Notice = "D+1 repricing with an IV crush of " + models.RoundString(params.CrushPct, 1) + "%"
	}

	pairs := make([]models.ATMPair, 0, len(report.Straddles))
	for _, st := range report.Straddles {
		pairs = append(pairs, st.ATMPair)
	}
	report.Buckets = Bucketize(pairs)

	logger.Debug.Printf("🐛 Straddles %s: %d of %d pairs kept (horizon %s, lot %d)",
		report.Ticker, len(report.Straddles), len(result.Pairs), params.Horizon, params.TotalLot)
	return report, nil
}

func (p StraddleParams) withDefaults() StraddleParams {
	if p.TotalLot == 0 {
		p.TotalLot = DefaultTotalLot
	}
	p.TotalLot = RoundTotalLot(p.TotalLot)
	if p.Horizon != HorizonNextDay {
		p.Horizon = HorizonExpiry
	}
	if p.DayCount <= 0 {
		p.DayCount = 252
	}
	return p
}

// BuildStraddles applies the horizon, sizes every pair and drops the pairs
// whose break-evens are both farther than MaxBEPct from spot.
func BuildStraddles(pairs []models.ATMPair, params StraddleParams) []Straddle {
	params = params.withDefaults()
	out := make([]Straddle, 0, len(pairs))

	for _, p := range firstExpiries(pairs, params.Expiries) {
		if params.Horizon == HorizonNextDay {
			p = RepriceNextDay(p, params.RiskFreeRate, params.DividendYield, params.DayCount, params.CrushPct)
		}

		qtyCall, qtyPut := SplitLots(p.CallDelta, p.PutDelta, params.TotalLot)
		st := Straddle{
			ATMPair:   p,
			QtyCall:   qtyCall,
			QtyPut:    qtyPut,
			Cost:      models.Round(float64(qtyCall)*p.CallPremium+float64(qtyPut)*p.PutPremium, 2),
			BEPctDown: movePct(p.BreakEvenDn, p.Spot),
			BEPctUp:   movePct(p.BreakEvenUp, p.Spot),
		}

		if params.MaxBEPct != nil && !within(st.BEPctDown, *params.MaxBEPct) && !within(st.BEPctUp, *params.MaxBEPct) {
			continue
		}
		out = append(out, st)
	}
	return out
}

// RoundTotalLot rounds total to the nearest multiple of LotSize, at least one lot.
func RoundTotalLot(total int) int {
	if total < LotSize {
		total = LotSize
	}
	return (total + LotSize/2) / LotSize * LotSize
}

// SplitLots divides total between the legs weighted by the opposite leg's
// |delta|, so the position starts near delta neutral. A missing or zero delta
// weighs 1.
func SplitLots(callDelta, putDelta *float64, total int) (qtyCall, qtyPut int) {
	wCall, wPut := 1.0, 1.0
	if putDelta != nil && *putDelta != 0 {
		wCall = math.Abs(*putDelta)
	}
	if callDelta != nil && *callDelta != 0 {
		wPut = math.Abs(*callDelta)
	}

	rawCall := float64(total) * wCall / (wCall + wPut)
	rawPut := float64(total) - rawCall
	return roundLots(rawCall, rawPut, total)
}

// roundLots floors both legs to whole lots and hands the leftover lots to the
// leg with the larger remainder.
func roundLots(rawCall, rawPut float64, total int) (int, int) {
	c := int(rawCall/LotSize) * LotSize
	p := int(rawPut/LotSize) * LotSize
	for rem := total - c - p; rem >= LotSize; rem -= LotSize {
		if rawCall-float64(c) >= rawPut-float64(p) {
			c += LotSize
		} else {
			p += LotSize
		}
	}
	return c, p
}

// RepriceNextDay values both legs one trading day later at the same spot, with
// the implied vol of today's premium cut by crushPct percent.
func RepriceNextDay(p models.ATMPair, rate, q, dayCount, crushPct float64) models.ATMPair {
	if dayCount <= 0 {
		dayCount = 252
	}
	factor := math.Max(0, 1-crushPct/100)

	reprice := func(leg models.OptionQuote, premium float64) float64 {
		strike := leg.Strike
		if strike <= 0 {
			strike = p.Strike
		}
		days := leg.DaysToMaturity
		if days <= 0 {
			days = max(p.CallLeg.DaysToMaturity, p.PutLeg.DaysToMaturity)
		}
		T := pricing.YearFraction(max(1, days), dayCount)
		next := math.Max(T-1/dayCount, 1e-6)

		sigma, ok := pricing.ImpliedVolDefault(premium, p.Spot, strike, rate, q, T, leg.Kind)
		if !ok || sigma < minVol {
			sigma = minVol
		}
		return pricing.Price(p.Spot, strike, rate, q, math.Max(minVol, sigma*factor), next, leg.Kind).Price
	}

	p.CallPremium = models.Round(reprice(p.CallLeg, p.CallPremium), 4)
	p.PutPremium = models.Round(reprice(p.PutLeg, p.PutPremium), 4)
	p.PremiumTotal = models.Round(p.CallPremium+p.PutPremium, 4)

	strikeCall, strikePut := p.CallLeg.Strike, p.PutLeg.Strike
	if strikeCall <= 0 {
		strikeCall = p.Strike
	}
	if strikePut <= 0 {
		strikePut = p.Strike
	}
	p.BreakEvenDn, p.BreakEvenUp, p.BreakEvenPct = atm.BreakEvens(strikeCall, strikePut, p.PremiumTotal, p.Spot)
	return p
}

// ATMImpliedVol solves the implied vol of both legs of the first pair (the
// nearest expiry and strike) and reports their mean.
func ATMImpliedVol(pairs []models.ATMPair, rate, q, dayCount float64) ATMVol {
	if len(pairs) == 0 {
		return ATMVol{Reason: "no ATM pairs"}
	}
	if dayCount <= 0 {
		dayCount = 252
	}

	p := pairs[0]
	days := max(p.CallLeg.DaysToMaturity, p.PutLeg.DaysToMaturity)
	v := ATMVol{
		DueDate:        p.DueDate,
		Strike:         p.Strike,
		Spot:           p.Spot,
		DaysToMaturity: days,
		Call:           p.Call,
		Put:            p.Put,
	}
	if p.Spot <= 0 || p.Strike <= 0 || days <= 0 {
		v.Reason = "insufficient data for implied vol (spot, strike or days to maturity)"
		return v
	}

	T := pricing.YearFraction(days, dayCount)
	solve := func(premium float64, kind models.Kind) *float64 {
		if premium <= 0 {
			return nil
		}
		sigma, ok := pricing.ImpliedVolDefault(premium, p.Spot, p.Strike, rate, q, T, kind)
		if !ok {
			return nil
		}
		return models.Float(models.Round(sigma, 4))
	}

	v.IVCall = solve(p.CallPremium, models.Call)
	v.IVPut = solve(p.PutPremium, models.Put)
	if v.IVCall != nil && v.IVPut != nil {
		v.IVMean = models.Float(models.Round((*v.IVCall+*v.IVPut)/2, 4))
	} else {
		v.Reason = "implied vol did not converge"
	}
	return v
}

func firstExpiries(pairs []models.ATMPair, n int) []models.ATMPair {
	if n <= 0 {
		return pairs
	}
	seen := make(map[string]bool)
	out := make([]models.ATMPair, 0, len(pairs))
	for _, p := range pairs {
		if !seen[p.DueDate] {
			if len(seen) == n {
				continue
			}
			seen[p.DueDate] = true
		}
		out = append(out, p)
	}
	return out
}

func movePct(level, spot float64) *float64 {
	if level == 0 || spot <= 0 {
		return nil
	}
	return models.Float(models.Round((level/spot-1)*100, 2))
}

func within(pct *float64, limit float64) bool {
	return pct != nil && math.Abs(*pct) <= limit
}
