// Package period does billing-period date arithmetic.
package period

import (
	"time"

	"subscription-billing-be/internal/entity"

	"github.com/teambition/rrule-go"
)

const Day = 24 * time.Hour

// FallbackDays is the period length assumed when a subscription has no end date.
const FallbackDays = 30

func months(p entity.BillingPeriod) int {
	if p == entity.BillingPeriodYearly {
		return 12
	}
	return 1
}

// Next returns t advanced by one billing period. Days that do not exist in
// the target month clamp to its last day (Jan 31 -> Feb 28).
func Next(t time.Time, p entity.BillingPeriod) time.Time {
	return Add(t, p, 1)
}

// Add advances t by n billing periods.
func Add(t time.Time, p entity.BillingPeriod, n int) time.Time {
	if n <= 0 {
		return t
	}
	interval := months(p) * n
	day := t.Day()
	lo := day
	if lo > 28 {
		lo = 28
	}
	monthDays := make([]int, 0, day-lo+1)
	for d := lo; d <= day; d++ {
		monthDays = append(monthDays, d)
	}

	base := t.Truncate(time.Second)
	subSecond := t.Sub(base)
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:       rrule.MONTHLY,
		Interval:   interval,
		Count:      2,
		Dtstart:    base,
		Bymonthday: monthDays,
		Bysetpos:   []int{-1},
	})
	if err != nil {
		return clampAddMonths(t, interval)
	}
	for _, occ := range rule.All() {
		if occ.After(base) {
			return occ.Add(subSecond)
		}
	}
	return clampAddMonths(t, interval)
}

func clampAddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// WholeDays floors d to whole days; negative durations give 0.
func WholeDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / Day)
}

// DaysBetween is the whole number of days from a to b, floored at zero.
func DaysBetween(a, b time.Time) int {
	return WholeDays(b.Sub(a))
}
