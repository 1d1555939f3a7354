package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var clockRe = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)

// NormalizeTime converts a user-supplied clock string to canonical 24-hour
// "HH:MM" form. Accepted shapes: "9:00", "09:00", "9am", "9:00am", "9.00 pm".
// Returns "" for anything it cannot parse; it never panics.
func NormalizeTime(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ".", ":")

	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return ""
	}
	minute := 0
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil {
			return ""
		}
	}

	switch m[3] {
	case "am":
		if hour < 1 || hour > 12 {
			return ""
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return ""
		}
		if hour != 12 {
			hour += 12
		}
	}

	if hour > 23 || minute > 59 {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// FormatDate renders a YYYY-MM-DD token as "Today", "Tomorrow", or a short
// weekday label, relative to now's local calendar day. Unparseable input is
// returned unchanged.
func FormatDate(isoDay string, now time.Time) string {
	d, err := time.ParseInLocation("2006-01-02", isoDay, now.Location())
	if err != nil {
		return isoDay
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case d.Equal(today):
		return "Today"
	case d.Equal(today.AddDate(0, 0, 1)):
		return "Tomorrow"
	}
	return d.Format("Mon, Jan 2")
}

// DayOfWeek returns the weekday of a YYYY-MM-DD token, 0 = Sunday.
// Returns -1 for unparseable input.
func DayOfWeek(isoDay string) int {
	d, err := time.Parse("2006-01-02", isoDay)
	if err != nil {
		return -1
	}
	return int(d.Weekday())
}

var dayNames = map[string]int{
	"sunday": 0, "sun": 0,
	"monday": 1, "mon": 1,
	"tuesday": 2, "tue": 2, "tues": 2,
	"wednesday": 3, "wed": 3,
	"thursday": 4, "thu": 4, "thur": 4, "thurs": 4,
	"friday": 5, "fri": 5,
	"saturday": 6, "sat": 6,
}

// ParseDayName matches full weekday names and common abbreviations,
// case-insensitively. Returns -1 when the text is not a weekday.
func ParseDayName(text string) int {
	if d, ok := dayNames[strings.ToLower(strings.TrimSpace(text))]; ok {
		return d
	}
	return -1
}

// WeekdayName renders a 0-6 weekday (0 = Sunday) for display.
func WeekdayName(day int) string {
	names := []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	if day < 0 || day > 6 {
		return "?"
	}
	return names[day]
}

// TimeToMinutes converts canonical "HH:MM" to minutes since midnight for
// interval comparison. Returns -1 for malformed input.
func TimeToMinutes(hhmm string) int {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return -1
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return -1
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return -1
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return -1
	}
	return h*60 + m
}

// EventInstant combines a date token and a start-time token into a naive
// local instant, used for reminder arithmetic. No timezone conversion.
func EventInstant(isoDay, hhmm string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04", isoDay+" "+hhmm, loc)
}
