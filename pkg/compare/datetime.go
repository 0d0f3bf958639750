package compare

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds. 1e11 seconds
// is in the year 5138, 1e11 milliseconds is in March 1973.
const epochMillisThreshold = 1e11

const msPerDay = 24 * 60 * 60 * 1000

var (
	ymdPattern = regexp.MustCompile(
		`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})(?:[T ](\d{1,2}):(\d{2})(?::(\d{2})(?:\.(\d{1,9}))?)?)?$`)
	dmyPattern = regexp.MustCompile(
		`^(\d{1,2})[-/](\d{1,2})[-/](\d{4})(?:[T ](\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
	timePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2})(?:\.(\d{1,3}))?)?$`)
)

// ParseDate interprets v as an instant: time.Time values, numeric epoch seconds or
// milliseconds (told apart by magnitude) and date text in ISO, YYYY-MM-DD or
// DD-MM-YYYY form (either separator, optional time).
func ParseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if isNumeric(s) {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return time.Time{}, false
			}

			return fromEpoch(f), true
		}

		return parseDateString(s)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}

		return fromEpoch(f), true
	case bool, nil:
		return time.Time{}, false
	}

	if InferKind(v) == KindNumber {
		return fromEpoch(Coerce(v, KindNumber).(float64)), true
	}

	return time.Time{}, false
}

func fromEpoch(f float64) time.Time {
	if math.Abs(f) >= epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}

	sec, frac := math.Modf(f)

	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func parseDateString(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999Z0700", "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	if m := ymdPattern.FindStringSubmatch(s); m != nil {
		return buildDate(m[1], m[2], m[3], m[4], m[5], m[6], m[7])
	}

	if m := dmyPattern.FindStringSubmatch(s); m != nil {
		return buildDate(m[3], m[2], m[1], m[4], m[5], m[6], "")
	}

	return time.Time{}, false
}

func buildDate(year, month, day, hour, minute, second, fraction string) (time.Time, bool) {
	y, mo, d := atoi(year), atoi(month), atoi(day)
	h, mi, sec := atoi(hour), atoi(minute), atoi(second)

	if mo < 1 || mo > 12 || d < 1 || h > 23 || mi > 59 || sec > 59 {
		return time.Time{}, false
	}

	nsec := 0
	if fraction != "" {
		nsec = atoi((fraction + "000000000")[:9])
	}

	t := time.Date(y, time.Month(mo), d, h, mi, sec, nsec, time.UTC)
	if t.Day() != d {
		// rolled over, e.g. 31/02
		return time.Time{}, false
	}

	return t, true
}

func atoi(s string) int {
	if s == "" {
		return 0
	}

	n, _ := strconv.Atoi(s)

	return n
}

// LooksLikeTime reports whether v is a bare HH:mm[:ss] time-of-day string.
func LooksLikeTime(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}

	_, ok = parseTimeString(strings.TrimSpace(s))

	return ok
}

// TimeOfDay returns the milliseconds since midnight of v. Dates contribute their
// clock time; numbers are taken as already expressed in milliseconds.
func TimeOfDay(v any) (int64, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if ms, ok := parseTimeString(s); ok {
			return ms, true
		}

		if d, ok := parseDateString(s); ok {
			return clockMillis(d), true
		}

		return 0, false
	case time.Time:
		return clockMillis(t), true
	case int64:
		return t, true
	}

	if InferKind(v) == KindNumber {
		return int64(Coerce(v, KindNumber).(float64)), true
	}

	return 0, false
}

func parseTimeString(s string) (int64, bool) {
	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	h, mi, sec := atoi(m[1]), atoi(m[2]), atoi(m[3])
	if h > 23 || mi > 59 || sec > 59 {
		return 0, false
	}

	ms := atoi((m[4] + "000")[:3])

	return int64(((h*60+mi)*60+sec)*1000 + ms), true
}

func clockMillis(t time.Time) int64 {
	h, m, s := t.Clock()

	return int64(((h*60+m)*60+s)*1000+t.Nanosecond()/int(time.Millisecond)) % msPerDay
}
