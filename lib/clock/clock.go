package clock

import (
	"fmt"
	"time"
)

// Layout is the storage format for every timestamp in the database:
// RFC3339 in UTC, second precision. It sorts lexicographically, which the
// expiry sweep relies on when comparing access_end_at against "now".
const Layout = "2006-01-02T15:04:05Z"

func Now() string {
	return Format(time.Now())
}

func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a valid time: %s", s)
	}
	return t, nil
}

// WholeDays returns the number of complete 24h periods in d, negative
// values clamped to -1 so callers can distinguish "already past".
func WholeDays(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int(d / (24 * time.Hour))
}

// WholeHours returns the number of complete hours in d beyond full days,
// mirroring how the reminder thresholds are expressed.
func WholeHours(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int((d % (24 * time.Hour)) / time.Hour)
}
