package normalize

import (
	"fmt"
	"time"
)

// RelativeTime buckets t relative to now:
//
//	< 1 minute   "just now"
//	< 1 hour     "12m"
//	< 1 day      "5h"
//	< 7 days     "3d"
//	otherwise    "Jan 2" (same year) or "Jan 2, 2006"
//
// Timestamps in the future (clock skew between device and server) read as
// "just now". The zero time renders as the empty string.
func RelativeTime(now, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
	local := t.In(now.Location())
	if local.Year() == now.Year() {
		return local.Format("Jan 2")
	}
	return local.Format("Jan 2, 2006")
}
