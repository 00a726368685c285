package schema

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericRegex accepts integers, decimals and scientific notation.
// strconv alone would also take hex floats, "Inf" and "NaN".
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// timestampLayouts are tried in order by ParseTimestamp. Layouts without a
// zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	time.RFC1123Z,
	time.RFC1123,
	"Jan 2, 2006 15:04:05",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// periodLayouts are the accepted reporting period forms.
var periodLayouts = []string{"2006-01-02", "2006-01"}

// ParseNumber parses a finite decimal number.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// ParseCount parses a non-negative base-10 integer.
func ParseCount(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ParseTimestamp parses s against the supported date and date-time layouts.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Number accepts finite decimal numbers.
func Number(s string) bool {
	if s == "" {
		return true
	}
	_, ok := ParseNumber(s)
	return ok
}

// Count accepts non-negative integers.
func Count(s string) bool {
	if s == "" {
		return true
	}
	_, ok := ParseCount(s)
	return ok
}

// Between accepts numbers within [min, max].
func Between(min, max float64) Predicate {
	return func(s string) bool {
		if s == "" {
			return true
		}
		f, ok := ParseNumber(s)
		return ok && f >= min && f <= max
	}
}

// OneOf accepts any of values, compared case-insensitively.
func OneOf(values ...string) Predicate {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return func(s string) bool {
		if s == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimSpace(s))]
		return ok
	}
}

// Timestamp accepts anything ParseTimestamp understands.
func Timestamp(s string) bool {
	if s == "" {
		return true
	}
	_, ok := ParseTimestamp(s)
	return ok
}

// Period accepts YYYY-MM and YYYY-MM-DD.
func Period(s string) bool {
	if s == "" {
		return true
	}
	for _, layout := range periodLayouts {
		if _, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return true
		}
	}
	return false
}

// NotBlank rejects values made only of whitespace.
func NotBlank(s string) bool {
	return s == "" || strings.TrimSpace(s) != ""
}
