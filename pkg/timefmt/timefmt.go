// Package timefmt holds the clock formats shared by schedules and detections:
// 24-hour "HH:MM" times and "YYYY-MM-DD HH:MM:SS" timestamps.
package timefmt

import (
	"fmt"
	"regexp"
	"time"
)

const (
	// TimestampLayout is the detection timestamp layout.
	TimestampLayout = "2006-01-02 15:04:05"

	minutesPerDay = 24 * 60
)

var (
	clockRe     = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)
	timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)
)

// IsValidClock reports whether s is a 24-hour "HH:MM" time.
func IsValidClock(s string) bool {
	return clockRe.MatchString(s)
}

// IsValidTimestamp reports whether v is a string shaped like "YYYY-MM-DD HH:MM:SS".
// Only the shape is checked, not the calendar.
func IsValidTimestamp(v any) bool {
	s, ok := v.(string)
	return ok && timestampRe.MatchString(s)
}

// Timestamp formats t with TimestampLayout in t's location.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// AddMinutes shifts a valid "HH:MM" clock by minutes, wrapping around midnight.
// Negative offsets wrap backwards. Invalid input is treated as "00:00".
func AddMinutes(clock string, minutes int) string {
	total := 0
	if m := clockRe.FindStringSubmatch(clock); m != nil {
		total = atoi2(m[1])*60 + atoi2(m[2])
	}
	total = ((total+minutes)%minutesPerDay + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// atoi2 parses the two-digit groups captured by clockRe.
func atoi2(s string) int {
	return int(s[0]-'0')*10 + int(s[1]-'0')
}
