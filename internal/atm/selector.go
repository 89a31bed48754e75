// Package atm picks the strikes bracketing spot for an expiry and the best
// CALL/PUT leg at each of them.
package atm

import (
	"math"
	"sort"
	"time"

	"github.com/jwaldner/atmscreen/internal/models"
)

// Select returns zero, one or two pairs for dueDate. Strikes are matched at 2dp.
func Select(quotes []models.OptionQuote, dueDate time.Time, spot float64, policy LegPolicy) []models.ATMPair {
	if len(policy.Order) == 0 {
		policy = DefaultPolicy()
	}
	due := models.DateOf(dueDate)

	calls := make(map[string][]models.OptionQuote)
	puts := make(map[string][]models.OptionQuote)
	strikeOf := make(map[string]float64)
	for _, q := range quotes {
		if q.Strike <= 0 || !models.DateOf(q.DueDate).Equal(due) {
			continue
		}
		key := models.RoundString(q.Strike, 2)
		strikeOf[key] = models.Round(q.Strike, 2)
		switch q.Kind {
		case models.Call:
			calls[key] = append(calls[key], q)
		case models.Put:
			puts[key] = append(puts[key], q)
		}
	}

	var common []float64
	for key := range calls {
		if _, ok := puts[key]; ok {
			common = append(common, strikeOf[key])
		}
	}

	pairs := []models.ATMPair{}
	for _, k := range Bracket(common, spot) {
		key := models.RoundString(k, 2)
		call, okC := policy.Best(calls[key])
		put, okP := policy.Best(puts[key])
		if !okC || !okP {
			continue
		}
		pairs = append(pairs, NewPair(call, put, due, spot))
	}
	return pairs
}

// Bracket returns the strike just below spot and the one just above it. When
// spot sits outside the universe (or both picks coincide) the neighbours in the
// sorted universe are used. A single-strike universe yields one strike.
func Bracket(strikes []float64, spot float64) []float64 {
	ks := uniqueSorted(strikes)
	if len(ks) == 0 {
		return nil
	}

	// first index with ks[i] >= spot
	i := sort.SearchFloat64s(ks, spot)

	down := ks[0]
	if i > 0 {
		down = ks[i-1]
	}
	up := ks[len(ks)-1]
	j := i
	if j < len(ks) && ks[j] == spot {
		j++
	}
	if j < len(ks) {
		up = ks[j]
	}

	if down == up {
		idx := sort.SearchFloat64s(ks, up)
		if idx > 0 {
			down = ks[idx-1]
		}
		if idx < len(ks)-1 {
			up = ks[idx+1]
		}
	}
	if down == up {
		return []float64{down}
	}
	return []float64{down, up}
}

func uniqueSorted(strikes []float64) []float64 {
	seen := make(map[float64]bool, len(strikes))
	out := make([]float64, 0, len(strikes))
	for _, k := range strikes {
		if k <= 0 {
			continue
		}
		k = models.Round(k, 2)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Float64s(out)
	return out
}

// BuyPremium is the price paid to buy a leg: ask, else last, else close, else bid.
func BuyPremium(q models.OptionQuote) float64 {
	for _, p := range []float64{q.Ask, q.Last, q.Close, q.Bid} {
		if p > 0 {
			return p
		}
	}
	return 0
}

// BreakEvens returns the downside and upside break-even prices and the
// distance from spot to the nearer one in percent. pct is nil when spot <= 0.
func BreakEvens(strikeCall, strikePut, premiumTotal, spot float64) (down, up float64, pct *float64) {
	down = models.Round(strikePut-premiumTotal, 2)
	up = models.Round(strikeCall+premiumTotal, 2)
	if spot <= 0 {
		return down, up, nil
	}
	dist := math.Min(math.Abs(up-spot), math.Abs(spot-down))
	return down, up, models.Float(models.Round(dist/spot*100, 2))
}

// NewPair builds the rounded pair for one call and one put leg.
func NewPair(call, put models.OptionQuote, due time.Time, spot float64) models.ATMPair {
	premCall := BuyPremium(call)
	premPut := BuyPremium(put)
	total := models.Round(premCall+premPut, 4)
	strike := models.Round(call.Strike, 2)
	down, up, pct := BreakEvens(strike, models.Round(put.Strike, 2), total, spot)

	return models.ATMPair{
		DueDate:      due.Format(models.DateLayout),
		Strike:       strike,
		Spot:         models.Round(spot, 2),
		Call:         call.Symbol,
		Put:          put.Symbol,
		CallPremium:  models.Round(premCall, 4),
		PutPremium:   models.Round(premPut, 4),
		PremiumTotal: total,
		ContractSize: call.Size(),
		BreakEvenDn:  down,
		BreakEvenUp:  up,
		BreakEvenPct: pct,
		CallLeg:      call,
		PutLeg:       put,
	}
}
