package notify

import (
	"fmt"
	"time"
)

// timeAgoLabel renders how long ago a marker was reported, for display in
// the validation prompt ("was it still there?").
func timeAgoLabel(reported, now time.Time) string {
	if reported.IsZero() || reported.After(now) {
		return ""
	}
	d := now.Sub(reported)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
