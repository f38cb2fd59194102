package devcfg

import (
	"fmt"
	"time"
)

// parseHHMM returns minutes since midnight.
func parseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return h*60 + m, nil
}

// isoWeekday maps time.Weekday to ISO numbering (Mon=1 … Sun=7).
func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

func (r HourRule) matchesDay(day int) bool {
	for _, d := range r.Days {
		if d == day {
			return true
		}
	}
	return false
}

// WithinHours reports whether t (already in the device's zone) falls inside
// any allowed-hours rule. No rules means always allowed. An overnight rule
// (end < start) matches evenings on the rule's day and the early hours of
// the following day.
func (c *Config) WithinHours(t time.Time) bool {
	if len(c.AllowedHours) == 0 {
		return true
	}
	day := isoWeekday(t.Weekday())
	prevDay := day - 1
	if prevDay == 0 {
		prevDay = 7
	}
	minute := t.Hour()*60 + t.Minute()

	for _, r := range c.AllowedHours {
		start, err := parseHHMM(r.Start)
		if err != nil {
			continue
		}
		end, err := parseHHMM(r.End)
		if err != nil {
			continue
		}
		if start <= end {
			if r.matchesDay(day) && minute >= start && minute < end {
				return true
			}
			continue
		}
		// Overnight span: [start, 24:00) on the rule's day plus
		// [00:00, end) on the next.
		if r.matchesDay(day) && minute >= start {
			return true
		}
		if r.matchesDay(prevDay) && minute < end {
			return true
		}
	}
	return false
}
