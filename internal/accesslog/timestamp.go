package accesslog

import (
	"regexp"
	"strconv"
	"time"
)

// ISOLayout is the canonical timestamp form produced by NormalizeTimestamp.
// The offset is always written numerically, never as "Z".
const ISOLayout = "2006-01-02T15:04:05-07:00"

var timestampPattern = regexp.MustCompile(
	`^(\d{2})/([A-Za-z]{3})/(\d{4}):(\d{2}):(\d{2}):(\d{2}) ([+-])(\d{2})(\d{2})$`,
)

var months = map[string]time.Month{
	"Jan": time.January,
	"Feb": time.February,
	"Mar": time.March,
	"Apr": time.April,
	"May": time.May,
	"Jun": time.June,
	"Jul": time.July,
	"Aug": time.August,
	"Sep": time.September,
	"Oct": time.October,
	"Nov": time.November,
	"Dec": time.December,
}

// NormalizeTimestamp converts "30/Apr/2024:07:12:09 -0500" into
// "2024-04-30T07:12:09-05:00", keeping the instant and the offset. Anything
// that is not exactly in that form, or that names an impossible date, is
// returned unchanged.
func NormalizeTimestamp(ts string) string {
	t, ok := parseLogTime(ts)
	if !ok {
		return ts
	}
	return t.Format(ISOLayout)
}

// ParseTime reads either form a Record.Timestamp can hold: the canonical ISO
// form or the raw log form. ok is false for anything else.
func ParseTime(ts string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t, true
	}
	return parseLogTime(ts)
}

func parseLogTime(ts string) (time.Time, bool) {
	m := timestampPattern.FindStringSubmatch(ts)
	if m == nil {
		return time.Time{}, false
	}

	month, ok := months[m[2]]
	if !ok {
		return time.Time{}, false
	}

	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	second, _ := strconv.Atoi(m[6])
	offHours, _ := strconv.Atoi(m[8])
	offMinutes, _ := strconv.Atoi(m[9])

	if hour > 23 || minute > 59 || second > 59 || offMinutes > 59 {
		return time.Time{}, false
	}

	offset := offHours*3600 + offMinutes*60
	if m[7] == "-" {
		offset = -offset
	}
	loc := time.FixedZone("", offset)

	t := time.Date(year, month, day, hour, minute, second, 0, loc)
	// time.Date normalises overflow (31 Apr -> 1 May); reject instead.
	if t.Day() != day || t.Month() != month || t.Year() != year {
		return time.Time{}, false
	}
	return t, true
}
