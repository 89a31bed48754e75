// Package expiry finds standard monthly option expirations (third Friday).
package expiry

import (
	"time"

	"github.com/jwaldner/atmscreen/internal/models"
)

// DefaultLookaheadMonths bounds how far NextValidExpiries scans.
const DefaultLookaheadMonths = 12

// ThirdFriday returns the third Friday of the month at UTC midnight.
func ThirdFriday(year int, month time.Month) time.Time {
	firstDay := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	firstFriday := firstDay.AddDate(0, 0, (int(time.Friday)-int(firstDay.Weekday())+7)%7)
	return firstFriday.AddDate(0, 0, 14)
}

// NextValidExpiries returns up to count third-Friday dates, starting from the
// reference month, on which the snapshot lists at least one CALL and one PUT.
// When the reference month's third Friday has already passed the scan starts
// the following month. Fewer dates are returned when the look-ahead runs out.
func NextValidExpiries(quotes []models.OptionQuote, ref time.Time, count int) []time.Time {
	return NextValidExpiriesWithin(quotes, ref, count, DefaultLookaheadMonths)
}

// NextValidExpiriesWithin is NextValidExpiries with an explicit look-ahead in months.
func NextValidExpiriesWithin(quotes []models.OptionQuote, ref time.Time, count, lookahead int) []time.Time {
	valid := []time.Time{}
	if count <= 0 {
		return valid
	}
	if lookahead <= 0 {
		lookahead = DefaultLookaheadMonths
	}

	sides := coverage(quotes)
	ref = models.DateOf(ref)

	year, month := ref.Year(), ref.Month()
	if ThirdFriday(year, month).Before(ref) {
		year, month = nextMonth(year, month)
	}

	for i := 0; i < lookahead; i++ {
		due := ThirdFriday(year, month)
		if s := sides[due]; s.call && s.put {
			valid = append(valid, due)
			if len(valid) == count {
				break
			}
		}
		year, month = nextMonth(year, month)
	}
	return valid
}

// NextStandardExpiration returns the nearest third Friday on or after now.
func NextStandardExpiration(now time.Time) time.Time {
	today := models.DateOf(now)
	thirdFriday := ThirdFriday(today.Year(), today.Month())
	if today.After(thirdFriday) {
		y, m := nextMonth(today.Year(), today.Month())
		return ThirdFriday(y, m)
	}
	return thirdFriday
}

type sideSet struct {
	call, put bool
}

func coverage(quotes []models.OptionQuote) map[time.Time]sideSet {
	sides := make(map[time.Time]sideSet)
	for _, q := range quotes {
		if q.DueDate.IsZero() {
			continue
		}
		due := models.DateOf(q.DueDate)
		s := sides[due]
		switch q.Kind {
		case models.Call:
			s.call = true
		case models.Put:
			s.put = true
		}
		sides[due] = s
	}
	return sides
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

// Format renders dates in the wire layout.
func Format(dates []time.Time) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(models.DateLayout))
	}
	return out
}
