package cif

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ISO-8601 duration of the form P[n]DT[n]H[n]M[n]S. This is the wire
// format tasks carry effort estimates in, shared with the persisted
// sync state.
var iso8601Duration = regexp.MustCompile(
	`^P(?:(\d+)D)?T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// FormatDuration renders a duration as an ISO-8601 string, e.g.
// 26h30m -> "P1DT2H30M0S".
func FormatDuration(d time.Duration) string {
	days := int64(d / (24 * time.Hour))
	rem := d % (24 * time.Hour)
	hours := int64(rem / time.Hour)
	minutes := int64((rem % time.Hour) / time.Minute)
	seconds := int64((rem % time.Minute) / time.Second)
	return fmt.Sprintf("P%dDT%dH%dM%dS", days, hours, minutes, seconds)
}

// ParseDuration parses an ISO-8601 duration string produced by
// FormatDuration (or by other tools emitting the same subset).
func ParseDuration(s string) (time.Duration, error) {
	m := iso8601Duration.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed ISO-8601 duration %q", s)
	}

	var d time.Duration
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed ISO-8601 duration %q: %w", s, err)
		}
		d += time.Duration(n) * unit
	}
	return d, nil
}
