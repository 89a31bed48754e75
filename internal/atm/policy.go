package atm

import (
	"fmt"
	"strings"

	"github.com/jwaldner/atmscreen/internal/models"
)

// Criterion is one ranking rule for duplicate legs at a strike.
type Criterion string

const (
	// CriterionQuote ranks a positive ask above bid-only above neither.
	CriterionQuote Criterion = "quote"
	// CriterionOpenInterest prefers higher open interest.
	CriterionOpenInterest Criterion = "open_interest"
	// CriterionVolume prefers higher traded volume.
	CriterionVolume Criterion = "volume"
	// CriterionSpread prefers a narrower bid/ask spread; a missing side is worst.
	CriterionSpread Criterion = "spread"
)

// LegPolicy orders the criteria used to pick the most tradeable leg.
type LegPolicy struct {
	Order []Criterion
}

// DefaultPolicy ranks by quote, then open interest, then volume, then spread.
func DefaultPolicy() LegPolicy {
	return LegPolicy{Order: []Criterion{CriterionQuote, CriterionOpenInterest, CriterionVolume, CriterionSpread}}
}

// ParsePolicy reads a comma separated criteria list such as "quote,volume".
// An empty string yields the default policy.
func ParsePolicy(s string) (LegPolicy, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultPolicy(), nil
	}

	seen := make(map[Criterion]bool)
	var order []Criterion
	for _, part := range strings.Split(s, ",") {
		c := Criterion(strings.ToLower(strings.TrimSpace(part)))
		switch c {
		case CriterionQuote, CriterionOpenInterest, CriterionVolume, CriterionSpread:
		default:
			return LegPolicy{}, fmt.Errorf("unknown leg criterion %q", part)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		order = append(order, c)
	}
	return LegPolicy{Order: order}, nil
}

// String renders the policy in the form ParsePolicy accepts.
func (p LegPolicy) String() string {
	parts := make([]string, len(p.Order))
	for i, c := range p.Order {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

// Best returns the highest ranked leg. Ties keep the earliest record.
func (p LegPolicy) Best(legs []models.OptionQuote) (models.OptionQuote, bool) {
	if len(legs) == 0 {
		return models.OptionQuote{}, false
	}
	best := legs[0]
	for _, leg := range legs[1:] {
		if p.better(leg, best) {
			best = leg
		}
	}
	return best, true
}

// better reports whether a strictly outranks b.
func (p LegPolicy) better(a, b models.OptionQuote) bool {
	for _, c := range p.Order {
		var ka, kb float64
		switch c {
		case CriterionQuote:
			ka, kb = float64(quoteRank(a)), float64(quoteRank(b))
		case CriterionOpenInterest:
			ka, kb = -float64(a.OpenInterest), -float64(b.OpenInterest)
		case CriterionVolume:
			ka, kb = -float64(a.Volume), -float64(b.Volume)
		case CriterionSpread:
			ka, kb = spread(a), spread(b)
		}
		if ka != kb {
			return ka < kb
		}
	}
	return false
}

func quoteRank(q models.OptionQuote) int {
	switch {
	case q.Ask > 0:
		return 0
	case q.Bid > 0:
		return 1
	}
	return 2
}

const missingSpread = 9e9

func spread(q models.OptionQuote) float64 {
	if q.Ask > 0 && q.Bid > 0 {
		return q.Ask - q.Bid
	}
	return missingSpread
}
