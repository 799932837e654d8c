package domain

import "time"

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DayOfWeekOrdinal maps a date to Monday=0 .. Sunday=6.
func DayOfWeekOrdinal(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// DayOfWeekName returns the display name for an ordinal, or "" if out of range.
func DayOfWeekName(ordinal int) string {
	if ordinal < 0 || ordinal >= len(weekdayNames) {
		return ""
	}
	return weekdayNames[ordinal]
}
