// Package schedule evaluates the clinic's weekly reservation hours.
package schedule

import (
	"encoding/json"
	"strings"
	"time"
)

type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DayHours struct {
	Morning   *Window `json:"morning,omitempty"`
	Afternoon *Window `json:"afternoon,omitempty"`
}

// WeeklyHours maps lowercase weekday names ("monday" .. "sunday") to
// that day's reservation windows.
type WeeklyHours map[string]DayHours

// Parse decodes the stored weekly hours document. A nil or empty
// document yields an empty map, which evaluates to always closed.
func Parse(raw json.RawMessage) (WeeklyHours, error) {
	if len(raw) == 0 {
		return WeeklyHours{}, nil
	}
	var hours WeeklyHours
	if err := json.Unmarshal(raw, &hours); err != nil {
		return nil, err
	}
	if hours == nil {
		hours = WeeklyHours{}
	}
	return hours, nil
}

// ShouldBeOpen reports whether reservations should be open at the given
// instant. A day counts as configured only when both the morning and the
// afternoon window are present and well formed; anything less evaluates
// to closed rather than an error. Windows are half-open, start inclusive
// and end exclusive.
func ShouldBeOpen(now time.Time, hours WeeklyHours) bool {
	day, ok := hours[weekdayKey(now.Weekday())]
	if !ok {
		return false
	}
	if day.Morning == nil || day.Afternoon == nil {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	return inWindow(minute, *day.Morning) || inWindow(minute, *day.Afternoon)
}

func inWindow(minute int, w Window) bool {
	start, ok := parseClock(w.Start)
	if !ok {
		return false
	}
	end, ok := parseClock(w.End)
	if !ok {
		return false
	}
	if end <= start {
		return false
	}
	return minute >= start && minute < end
}

// parseClock turns "HH:MM" into minutes since midnight.
func parseClock(value string) (int, bool) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, false
	}
	return parsed.Hour()*60 + parsed.Minute(), true
}

func weekdayKey(day time.Weekday) string {
	return strings.ToLower(day.String())
}

// The clinic day splits into two sessions at 14:30.
const sessionCutoverMinute = 14*60 + 30

// Session returns "morning" or "afternoon" for the given local time.
func Session(now time.Time) string {
	if now.Hour()*60+now.Minute() < sessionCutoverMinute {
		return "morning"
	}
	return "afternoon"
}
