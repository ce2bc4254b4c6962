package clock

import (
	"fmt"
	"strings"
	"time"
)

// ParseStartTime parses the -start-at value. Accepted forms:
//   - "2025-01-15 16:00"
//   - "2025-01-15 16:00:00"
//   - "2025-01-15T16:00:00+08:00" (RFC3339)
//
// Forms without an offset are interpreted in loc.
func ParseStartTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05", "2006/01/02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid time format '%s'. Use YYYY-MM-DD HH:MM (e.g., 2025-01-15 12:00) or RFC3339", s)
}
