package cancellation

import (
	"sort"
	"time"
)

const dayInHours = 24

// Evaluate applies rules to a cancellation made at `at` for a stay starting
// on checkIn. The rule with the largest DaysBefore not exceeding the notice
// wins; with no match the refund is zero.
func Evaluate(rules []Rule, checkIn, at time.Time, amount int64) Refund {
	notice := daysBetween(at, checkIn)
	refund := Refund{DaysNotice: notice}
	if len(rules) == 0 || amount <= 0 {
		return refund
	}

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].DaysBefore > ordered[j].DaysBefore })

	for i := range ordered {
		if notice >= ordered[i].DaysBefore {
			matched := ordered[i]
			refund.MatchedRule = &matched
			refund.Percent = matched.RefundPercent
			refund.Amount = amount * int64(matched.RefundPercent) / 100
			return refund
		}
	}
	return refund
}

// daysBetween counts calendar days from `from` to `to`, both taken in UTC.
func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / dayInHours)
}
