// Package format renders values for dashboard cells and popups.
package format

import (
	"html"
	"math"
	"net/url"
	"strings"
	"time"
)

// InvalidDate is returned for timestamps that cannot be represented.
const InvalidDate = "Invalid Date"

const (
	timeLayout           = "15:04:05"
	dateTimeLayout       = "2006-01-02 15:04:05"
	dateTimeMillisLayout = "2006-01-02 15:04:05.000"
)

// limits of a valid timestamp in milliseconds since the epoch (±100,000,000 days)
const maxMillis = 8.64e15

// Time formats seconds since the epoch as a wall-clock time in loc.
// A nil loc means [time.Local].
func Time(secs float64, loc *time.Location) string {
	return formatMillis(secs*1000, loc, timeLayout)
}

// DateTime formats seconds since the epoch as a date and time in loc.
func DateTime(secs float64, loc *time.Location) string {
	return formatMillis(secs*1000, loc, dateTimeLayout)
}

// DateTimeMillis formats milliseconds since the epoch as a date and time with
// millisecond precision in loc.
func DateTimeMillis(ms float64, loc *time.Location) string {
	return formatMillis(ms, loc, dateTimeMillisLayout)
}

func formatMillis(ms float64, loc *time.Location, layout string) string {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > maxMillis {
		return InvalidDate
	}
	if loc == nil {
		loc = time.Local
	}
	// fractional milliseconds are dropped
	return time.UnixMilli(int64(ms)).In(loc).Format(layout)
}

// Link renders path as an anchor whose target and text are both path.
func Link(path string) string {
	escaped := html.EscapeString(path)
	return `<a href="` + escaped + `">` + escaped + `</a>`
}

// Query decodes a query string into a flat map. A leading "?" is allowed.
// For repeated keys the first value wins. A pair that does not decode is
// dropped and the rest are kept.
func Query(rawQuery string) map[string]string {
	// ParseQuery keeps going past a bad pair; its error only names the first
	values, _ := url.ParseQuery(strings.TrimPrefix(rawQuery, "?"))
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
