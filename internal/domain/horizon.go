package domain

import (
	"regexp"
	"strconv"
	"time"
)

var horizonDigits = regexp.MustCompile(`(\d+)`)

// ParseHorizonDays extracts a trading-day count from a horizon label such as
// "1", "2d", "h2" or "day3". Returns 0 when no positive count is present.
func ParseHorizonDays(h string) int {
	m := horizonDigits.FindStringSubmatch(h)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// AddTradingDays steps t forward by n calendar days, skipping weekends.
// Exchange holidays are not modelled; the horizon is a coarse bound.
func AddTradingDays(t time.Time, n int) time.Time {
	cur := t
	for added := 0; added < n; {
		cur = cur.AddDate(0, 0, 1)
		if wd := cur.Weekday(); wd != time.Saturday && wd != time.Sunday {
			added++
		}
	}
	return cur
}

// ValidUntilFromHorizon derives the default expiry for a horizon of n trading
// days: 15:15 local time on the day reached by stepping forward n-1
// weekend-skipping days from now. A one-day horizon expires the same day.
func ValidUntilFromHorizon(now time.Time, horizonDays int) time.Time {
	if horizonDays < 1 {
		horizonDays = 1
	}
	target := AddTradingDays(now, horizonDays-1)
	return time.Date(target.Year(), target.Month(), target.Day(), 15, 15, 0, 0, now.Location())
}
