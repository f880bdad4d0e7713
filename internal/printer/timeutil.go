package printer

import (
	"fmt"
	"time"
)

// TimeAgo renders how long ago t happened, using the coarsest unit that
// fits. Timestamps come out of the archive in UTC, so the suffix makes the
// reference zone explicit. Future timestamps (clock skew between the machine
// that archived and the one reading) render as "in the future (UTC)".
func TimeAgo(t time.Time) string {
	diff := time.Now().UTC().Sub(t.UTC())
	if diff < 0 {
		return "in the future (UTC)"
	}

	switch {
	case diff < time.Minute:
		return agoString(int(diff.Seconds()), "second")
	case diff < time.Hour:
		return agoString(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return agoString(int(diff.Hours()), "hour")
	default:
		return agoString(int(diff.Hours()/24), "day")
	}
}

func agoString(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago (UTC)", unit)
	}

	return fmt.Sprintf("%d %ss ago (UTC)", n, unit)
}
