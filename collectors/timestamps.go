package collectors

import (
	"time"
)

// beijing is the zone flash feeds report local times in.
var beijing = time.FixedZone("CST", 8*3600)

// FixTimestamp validates a source-claimed publish time. A time more than a
// day ahead whose previous year lands within the past year is taken as a
// year typo and corrected. Other far-future times are dropped (zero).
// Near-future times are returned as is; the dedup engine treats them as
// untrusted.
func FixTimestamp(t, now time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	if t.Sub(now) <= 24*time.Hour {
		return t
	}
	fixed := t.AddDate(-1, 0, 0)
	d := fixed.Sub(now)
	if d > -365*24*time.Hour && d <= 24*time.Hour {
		return fixed
	}
	return time.Time{}
}

// parseBeijing parses "2006-01-02 15:04:05" in UTC+8.
func parseBeijing(s string) (time.Time, bool) {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, beijing)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
