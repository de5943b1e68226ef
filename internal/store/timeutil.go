package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// timeLayout pads the fractional part to a fixed 9 digits so that
// byte-lexicographic TEXT comparison (what SQLite uses for ORDER BY
// and >=/<= on event_ts) agrees with chronological order. A "999…"
// layout would drop trailing zero digits and let a whole-second
// boundary sort after a fractional timestamp inside that same second.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseStoredTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{timeLayout, "2006-01-02T15:04:05.999999999Z", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse stored timestamp %q", s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

var (
	unixSecondsRe  = regexp.MustCompile(`^\d+$`)
	shorthandRe    = regexp.MustCompile(`^(\d+)(s|mo|m|h|d|w|y)$`)
	humanizedRe    = regexp.MustCompile(`(?i)^(\d+)\s*(second|minute|hour|day|week|month|year)s?\s+ago$`)
	minUnixSeconds = int64(946684800) // 2000-01-01T00:00:00Z
)

// ParseTimeString accepts these time-string forms: unix seconds, a shorthand duration relative to now, a
// humanized "N units ago" phrase, or an ISO-8601 date/datetime. A bare
// date or datetime with no timezone marker is assumed UTC.
func ParseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	if unixSecondsRe.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		if n >= minUnixSeconds {
			return time.Unix(n, 0).UTC(), nil
		}
	}

	if m := shorthandRe.FindStringSubmatch(s); m != nil {
		return applyRelative(m[1], m[2])
	}

	if m := humanizedRe.FindStringSubmatch(s); m != nil {
		unit := strings.ToLower(m[2])
		abbrev := map[string]string{
			"second": "s", "minute": "m", "hour": "h", "day": "d",
			"week": "w", "month": "mo", "year": "y",
		}[unit]
		return applyRelative(m[1], abbrev)
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time string %q", s)
}

func applyRelative(amountStr, unit string) (time.Time, error) {
	amount, err := strconv.Atoi(amountStr)
	if err != nil {
		return time.Time{}, err
	}
	now := time.Now().UTC()
	switch unit {
	case "s":
		return now.Add(-time.Duration(amount) * time.Second), nil
	case "m":
		return now.Add(-time.Duration(amount) * time.Minute), nil
	case "h":
		return now.Add(-time.Duration(amount) * time.Hour), nil
	case "d":
		return now.AddDate(0, 0, -amount), nil
	case "w":
		return now.AddDate(0, 0, -7*amount), nil
	case "mo":
		return now.AddDate(0, -amount, 0), nil
	case "y":
		return now.AddDate(-amount, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unrecognized relative unit %q", unit)
	}
}
