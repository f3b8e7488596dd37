package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// CivilDate is a calendar date without time of day or location.
type CivilDate struct {
	Year  int
	Month time.Month
	Day   int
}

const isoDate = "2006-01-02"

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) CivilDate {
	y, m, d := t.Date()
	return CivilDate{Year: y, Month: m, Day: d}
}

// NewDate builds a CivilDate, normalizing out-of-range values like time.Date.
func NewDate(year int, month time.Month, day int) CivilDate {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// Time returns midnight UTC of d.
func (d CivilDate) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d CivilDate) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d CivilDate) String() string {
	return d.Time().Format(isoDate)
}

// Format formats d with a time layout.
func (d CivilDate) Format(layout string) string {
	return d.Time().Format(layout)
}

func (d CivilDate) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *CivilDate) UnmarshalText(b []byte) error {
	t, err := time.Parse(isoDate, string(b))
	if err != nil {
		return fmt.Errorf("schema: parse date %q: %w", b, err)
	}
	*d = DateOf(t)
	return nil
}

func (d CivilDate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *CivilDate) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("schema: date must be a JSON string: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

var (
	errBoolean     = errors.New("boolean is not a date")
	errUnparseable = errors.New("unrecognized date representation")
)

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseFlexibleDate normalizes an ISO date (also with slashes), ISO basic date (20210324), ISO datetime,
// integer epoch seconds (UTC), time.Time or CivilDate to a calendar date.
// Booleans are always rejected.
func ParseFlexibleDate(v any) (CivilDate, error) {
	switch x := v.(type) {
	case bool:
		return CivilDate{}, errBoolean
	case CivilDate:
		return x, nil
	case time.Time:
		return DateOf(x), nil
	case string:
		return parseDateString(strings.TrimSpace(x))
	}
	if secs, ok := epochSeconds(v); ok {
		return DateOf(time.Unix(secs, 0).UTC()), nil
	}
	return CivilDate{}, errUnparseable
}

func parseDateString(s string) (CivilDate, error) {
	for _, layout := range []string{isoDate, "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	if len(s) == 8 && allDigits(s) {
		if t, err := time.Parse("20060102", s); err == nil {
			return DateOf(t), nil
		}
		return CivilDate{}, errUnparseable
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return CivilDate{}, errUnparseable
}

// ParseDateTime normalizes an ISO datetime, ISO date (midnight UTC), epoch
// seconds, time.Time or CivilDate to a time. Naive datetimes are read as UTC.
func ParseDateTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case bool:
		return time.Time{}, errBoolean
	case time.Time:
		return x, nil
	case CivilDate:
		return x.Time(), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		if t, err := time.Parse(isoDate, s); err == nil {
			return t, nil
		}
		return time.Time{}, errUnparseable
	}
	if secs, ok := epochSeconds(v); ok {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, errUnparseable
}

func epochSeconds(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	}
	return 0, false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
