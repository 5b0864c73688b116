package convert

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ISOLayout renders dates the way the feature-query protocol expects them.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// minuteLayout replaces mapping formats that declare day-of-year (DD) where
// day-of-month was meant, or that carry an epoch alternative.
const minuteLayout = "20060102 15:04"

var minuteFormats = map[string]bool{
	"epoch_millis||yyyyMMDD HH:mm": true,
	"yyyyMMDD HH:mm":               true,
	"yyyyMMdd HH:mm":               true,
}

// ES built-in formats that dateparse handles on its own.
var namedFormats = map[string]bool{
	"date_optional_time":              true,
	"strict_date_optional_time":       true,
	"strict_date_optional_time_nanos": true,
	"date_time":                       true,
	"strict_date_time":                true,
	"date_time_no_millis":             true,
	"strict_date_time_no_millis":      true,
	"date":                            true,
	"strict_date":                     true,
	"basic_date":                      true,
	"basic_date_time":                 true,
	"basic_date_time_no_millis":       true,
}

var errDateFormat = errors.New("unsupported date format")

// ParseDate converts a stored date value to an instant using the mapping's
// declared format, falling back to auto-detection.
func ParseDate(v any, format string) (time.Time, error) {
	if minuteFormats[format] {
		if s, ok := v.(string); ok && strings.Contains(s, ":") {
			return time.ParseInLocation(minuteLayout, s, time.UTC)
		}
		return AutoParseDate(v)
	}
	if format == "" {
		return AutoParseDate(v)
	}
	t, err := parseWithFormat(v, format)
	if err == nil {
		return t, nil
	}
	if t, autoErr := AutoParseDate(v); autoErr == nil {
		return t, nil
	}
	return time.Time{}, err
}

// AutoParseDate reads numbers as epoch milliseconds and strings with
// dateparse.
func AutoParseDate(v any) (time.Time, error) {
	switch x := v.(type) {
	case float64:
		return time.UnixMilli(int64(x)).UTC(), nil
	case int64:
		return time.UnixMilli(x).UTC(), nil
	case string:
		return dateparse.ParseIn(strings.TrimSpace(x), time.UTC)
	}
	return time.Time{}, fmt.Errorf("unsupported date value %T", v)
}

func parseWithFormat(v any, format string) (time.Time, error) {
	var firstErr error
	for _, alt := range strings.Split(format, "||") {
		t, err := parseOne(v, strings.TrimSpace(alt))
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func parseOne(v any, format string) (time.Time, error) {
	switch {
	case format == "epoch_millis" || format == "epoch_second":
		n, ok := epochNumber(v)
		if !ok {
			return time.Time{}, fmt.Errorf("%s: not a number: %v", format, v)
		}
		if format == "epoch_second" {
			return time.Unix(int64(n), 0).UTC(), nil
		}
		return time.UnixMilli(int64(n)).UTC(), nil
	case namedFormats[format]:
		return AutoParseDate(v)
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("format %q: not a string: %v", format, v)
	}
	layout, err := JodaLayout(format)
	if err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation(layout, s, time.UTC)
}

func epochNumber(v any) (float64, bool) {
	if n, ok := number(v); ok {
		return n, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

// jodaTokens maps Joda pattern letters, longest run first, to Go layout
// elements.
var jodaTokens = []struct{ joda, layout string }{
	{"yyyy", "2006"},
	{"uuuu", "2006"},
	{"yy", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"M", "1"},
	{"dd", "02"},
	{"d", "2"},
	{"EEEE", "Monday"},
	{"EEE", "Mon"},
	{"HH", "15"},
	{"H", "15"},
	{"hh", "03"},
	{"h", "3"},
	{"mm", "04"},
	{"m", "4"},
	{"ss", "05"},
	{"s", "5"},
	{"SSSSSSSSS", "000000000"},
	{"SSSSSS", "000000"},
	{"SSS", "000"},
	{"a", "PM"},
	{"XXX", "Z07:00"},
	{"ZZ", "-07:00"},
	{"Z", "-0700"},
}

// JodaLayout translates a Joda-style pattern into a Go time layout. Quoted
// text is copied literally. Pattern letters without a Go equivalent are an
// error.
func JodaLayout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); {
		c := format[i]
		if c == '\'' {
			end := strings.IndexByte(format[i+1:], '\'')
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated quote in %q", errDateFormat, format)
			}
			b.WriteString(format[i+1 : i+1+end])
			i += end + 2
			continue
		}
		if !isLetter(c) {
			b.WriteByte(c)
			i++
			continue
		}
		matched := false
		for _, tok := range jodaTokens {
			if strings.HasPrefix(format[i:], tok.joda) {
				b.WriteString(tok.layout)
				i += len(tok.joda)
				matched = true
				break
			}
		}
		if !matched {
			return "", fmt.Errorf("%w: %q in %q", errDateFormat, string(c), format)
		}
	}
	return b.String(), nil
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// ISO formats an instant for output.
func ISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}
