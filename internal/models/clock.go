package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the number of distinct Clock values
const MinutesPerDay = 24 * 60

// DateLayout is the wire format of calendar dates (yyyy-MM-dd)
const DateLayout = "2006-01-02"

// Clock is a wall-clock time of day with minute resolution,
// stored as minutes since midnight in [0, MinutesPerDay)
type Clock int

// NewClock builds a Clock from hour and minute
func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock parses a strict "HH:mm" time of day
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time %q: expected HH:mm", s)
	}
	for _, r := range s[:2] + s[3:] {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid time %q: expected HH:mm", s)
		}
	}

	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("time out of range: %q", s)
	}

	return NewClock(h, m), nil
}

// ClockFromSeconds converts seconds past midnight to a Clock.
// Service-day times of 24:00 and later wrap onto the next day.
func ClockFromSeconds(secs int) Clock {
	return Clock((secs / 60) % MinutesPerDay)
}

// ClockOf returns the time of day of t
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

// Hour returns the hour component
func (c Clock) Hour() int { return int(c) / 60 }

// Minute returns the minute component
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Ptr returns a pointer to a copy of c
func (c Clock) Ptr() *Clock {
	return &c
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Date is a calendar day without a time of day
type Date struct {
	t time.Time
}

// NewDate builds a Date from its components
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's location
func DateOf(t time.Time) Date {
	return NewDate(t.Date())
}

// ParseDate parses yyyy-MM-dd
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected yyyy-MM-dd", s)
	}
	return Date{t: t}, nil
}

// ParseGTFSDate parses the compact yyyyMMdd form used by calendar.txt
func ParseGTFSDate(s string) (Date, error) {
	t, err := time.ParseInLocation("20060102", strings.TrimSpace(s), time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("invalid GTFS date %q: expected yyyyMMdd", s)
	}
	return Date{t: t}, nil
}

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }
func (d Date) IsZero() bool { return d.t.IsZero() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) Time() time.Time { return d.t }
func (d Date) String() string { return d.t.Format(DateLayout) }
func (d Date) Ptr() *Date { return &d }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Weekdays is a set of days of the week stored as a bitmask (bit n = time.Weekday(n))
type Weekdays uint8

// weekOrder lists days Monday first, the order used for display
var weekOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// NewWeekdays builds a set from days
func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w = w.With(d)
	}
	return w
}

// AllWeek contains every day
var AllWeek = NewWeekdays(weekOrder...)

// WorkingDays contains Monday to Friday
var WorkingDays = NewWeekdays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)

// With returns the set extended by d
func (w Weekdays) With(d time.Weekday) Weekdays {
	return w | 1<<uint(d)
}

// Union returns the days present in either set
func (w Weekdays) Union(o Weekdays) Weekdays {
	return w | o
}

// Contains reports whether d is in the set
func (w Weekdays) Contains(d time.Weekday) bool {
	return w&(1<<uint(d)) != 0
}

// IsEmpty reports whether no day is set
func (w Weekdays) IsEmpty() bool {
	return w == 0
}

// Days lists the set Monday first
func (w Weekdays) Days() []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for _, d := range weekOrder {
		if w.Contains(d) {
			days = append(days, d)
		}
	}
	return days
}

func (w Weekdays) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 7)
	for _, d := range w.Days() {
		names = append(names, strings.ToUpper(d.String()))
	}
	return json.Marshal(names)
}

func (w *Weekdays) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}

	var parsed Weekdays
	for _, name := range names {
		day, ok := weekdayByName(name)
		if !ok {
			return fmt.Errorf("unknown weekday %q", name)
		}
		parsed = parsed.With(day)
	}
	*w = parsed
	return nil
}

func weekdayByName(name string) (time.Weekday, bool) {
	for _, d := range weekOrder {
		if strings.EqualFold(d.String(), name) {
			return d, true
		}
	}
	return 0, false
}
