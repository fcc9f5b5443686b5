package core

import "time"

// Date layouts.
const (
	// ImportDateLayout is the CSV import format: YYYY-MM-DD HH:MM.
	ImportDateLayout = "2006-01-02 15:04"
	// StorageLayout is the stored datetime format.
	StorageLayout = "2006-01-02T15:04:05"
	// ICalLayout is the iCalendar local datetime format.
	ICalLayout = "20060102T150405"
)

// ParseImportDate parses a CSV import date. The value is accepted only when
// re-formatting the parsed time yields the input unchanged.
func ParseImportDate(s string) (time.Time, bool) {
	return parseRoundTrip(ImportDateLayout, s)
}

// ParseICalDate parses an iCalendar DTSTART/DTEND value. A trailing "Z"
// (UTC designator) is stripped before parsing.
func ParseICalDate(s string) (time.Time, bool) {
	if n := len(s); n > 0 && s[n-1] == 'Z' {
		s = s[:n-1]
	}
	return parseRoundTrip(ICalLayout, s)
}

// ParseStorageDate parses a stored datetime.
func ParseStorageDate(s string) (time.Time, bool) {
	return parseRoundTrip(StorageLayout, s)
}

// StorageDate formats a time in the stored datetime format.
func StorageDate(t time.Time) string {
	return t.Format(StorageLayout)
}

func parseRoundTrip(layout, s string) (time.Time, bool) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, false
	}
	if t.Format(layout) != s {
		return time.Time{}, false
	}
	return t, true
}
