package poll

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var timePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\s+(\d{1,2}:\d{2}(?::\d{2})?)(?:\s+(\S+))?$`)

// ParseTime parses a time given either as milliseconds since the Unix epoch
// or as YYYY-MM-DD HH:MM[:SS] [TZ]. TZ may be an IANA zone name, UTC, Z, or a
// numeric offset like +09:00 or -0500. Without TZ, the time is UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("%q is not a time like 2006-01-02 15:04 or milliseconds since the epoch", s)
	}
	loc, err := zone(m[3])
	if err != nil {
		return time.Time{}, err
	}
	clock := m[2]
	if strings.Count(clock, ":") == 1 {
		clock += ":00"
	}
	if len(clock) == len("1:04:05") {
		clock = "0" + clock
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", m[1]+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("couldn't parse time %q: %w", s, err)
	}
	return t, nil
}

var offsetPattern = regexp.MustCompile(`^([+-])(\d{2}):?(\d{2})$`)

func zone(tz string) (*time.Location, error) {
	switch strings.ToUpper(tz) {
	case "", "UTC", "Z", "GMT":
		return time.UTC, nil
	}
	if m := offsetPattern.FindStringSubmatch(tz); m != nil {
		h, _ := strconv.Atoi(m[2])
		min, _ := strconv.Atoi(m[3])
		off := h*3600 + min*60
		if m[1] == "-" {
			off = -off
		}
		return time.FixedZone(tz, off), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q", tz)
	}
	return loc, nil
}
