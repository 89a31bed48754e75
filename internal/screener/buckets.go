package screener

import (
	"sort"

	"github.com/jwaldner/atmscreen/internal/models"
)

// Buckets groups pairs (long straddle candidates) by how far spot must move
// to reach the nearer break-even.
type Buckets struct {
	LessThan3    []models.ATMPair `json:"lt_3"`
	Between3And5 []models.ATMPair `json:"btw_3_5"`
	MoreThan5    []models.ATMPair `json:"gt_5"`
}

// Bucketize splits pairs at 3% and 5% of be_pct, each bucket sorted by
// be_pct ascending. Pairs without be_pct are left out.
func Bucketize(pairs []models.ATMPair) Buckets {
	b := Buckets{
		LessThan3:    []models.ATMPair{},
		Between3And5: []models.ATMPair{},
		MoreThan5:    []models.ATMPair{},
	}
	for _, p := range pairs {
		if p.BreakEvenPct == nil {
			continue
		}
		switch pct := *p.BreakEvenPct; {
		case pct <= 3:
			b.LessThan3 = append(b.LessThan3, p)
		case pct <= 5:
			b.Between3And5 = append(b.Between3And5, p)
		default:
			b.MoreThan5 = append(b.MoreThan5, p)
		}
	}
	for _, bucket := range [][]models.ATMPair{b.LessThan3, b.Between3And5, b.MoreThan5} {
		sort.SliceStable(bucket, func(i, j int) bool {
			return *bucket[i].BreakEvenPct < *bucket[j].BreakEvenPct
		})
	}
	return b
}
