package oplab

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/jwaldner/atmscreen/internal/models"
)

// number decodes JSON numbers, numeric strings and null. Anything unparseable
// or non-finite is zero.
type number float64

func finite(v float64) number {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return number(v)
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*n = 0
			return nil
		}
		*n = finite(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		*n = 0
		return nil
	}
	*n = finite(v)
	return nil
}

// OpLab API response structures
type oplabOption struct {
	Symbol         string `json:"symbol"`
	ParentSymbol   string `json:"parent_symbol"`
	Category       string `json:"category"`
	Strike         number `json:"strike"`
	Bid            number `json:"bid"`
	Ask            number `json:"ask"`
	Last           number `json:"last"`
	Close          number `json:"close"`
	OpenInterest   number `json:"open_interest"`
	Volume         number `json:"volume"`
	ContractSize   number `json:"contract_size"`
	DaysToMaturity number `json:"days_to_maturity"`
	DueDate        string `json:"due_date"`
	SpotPrice      number `json:"spot_price"`

	// volatility appears under several names
	IV                number `json:"iv"`
	ImpliedVol        number `json:"implied_vol"`
	ImpliedVolatility number `json:"implied_volatility"`
	Sigma             number `json:"sigma"`
}

// toQuote maps a raw record; ok is false for records without symbol, side,
// strike or due date.
func (r oplabOption) toQuote(ticker string) (models.OptionQuote, bool) {
	kind, ok := models.ParseKind(r.Category)
	if !ok || r.Symbol == "" || !(r.Strike > 0) || math.IsInf(float64(r.Strike), 1) {
		return models.OptionQuote{}, false
	}
	due, err := models.ParseDate(r.DueDate)
	if err != nil {
		return models.OptionQuote{}, false
	}
	if ticker == "" {
		ticker = strings.ToUpper(r.ParentSymbol)
	}

	vol := 0.0
	for _, v := range []number{r.IV, r.ImpliedVol, r.ImpliedVolatility, r.Sigma} {
		if v > 0 {
			vol = float64(v)
			break
		}
	}

	return models.OptionQuote{
		Symbol:         r.Symbol,
		Ticker:         ticker,
		Kind:           kind,
		Strike:         float64(r.Strike),
		Bid:            positive(r.Bid),
		Ask:            positive(r.Ask),
		Last:           positive(r.Last),
		Close:          positive(r.Close),
		OpenInterest:   int64(r.OpenInterest),
		Volume:         int64(r.Volume),
		ContractSize:   int(r.ContractSize),
		DaysToMaturity: int(r.DaysToMaturity),
		DueDate:        due,
		SpotPrice:      positive(r.SpotPrice),
		ImpliedVol:     vol,
	}, true
}

func positive(n number) float64 {
	if n > 0 {
		return float64(n)
	}
	return 0
}

type oplabStock struct {
	Symbol string `json:"symbol"`
	Close  number `json:"close"`
	Last   number `json:"last"`
	Bid    number `json:"bid"`
	Ask    number `json:"ask"`
}

// price prefers close, then last, then the bid/ask midpoint.
func (s oplabStock) price() float64 {
	switch {
	case s.Close > 0:
		return float64(s.Close)
	case s.Last > 0:
		return float64(s.Last)
	case s.Bid > 0 && s.Ask > 0:
		return float64(s.Bid+s.Ask) / 2
	}
	return 0
}

type oplabGreeks struct {
	Price number  `json:"price"`
	Delta *number `json:"delta"`
	Gamma number  `json:"gamma"`
	Vega  number  `json:"vega"`
	Theta number  `json:"theta"`
	Rho   number  `json:"rho"`
}
