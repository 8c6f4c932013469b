package models

import (
	"fmt"
	"strings"
	"time"
)

// DateKeyLayout is the fixed-width layout used for date keys and file names
const DateKeyLayout = "20060102"

// TodayToken is the sentinel accepted in place of a literal date
const TodayToken = "today"

// TradingDate is a calendar date normalised to midnight UTC
type TradingDate struct {
	t time.Time
}

// NewTradingDate builds a TradingDate from the calendar fields of t in its own location
func NewTradingDate(t time.Time) TradingDate {
	y, m, d := t.Date()
	return TradingDate{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseTradingDate parses a YYYYMMDD key
func ParseTradingDate(s string) (TradingDate, error) {
	t, err := time.Parse(DateKeyLayout, s)
	if err != nil {
		return TradingDate{}, fmt.Errorf("invalid date %q, expected YYYYMMDD: %w", s, err)
	}
	return TradingDate{t: t}, nil
}

// ResolveDateToken parses either a literal YYYYMMDD date or the "today" sentinel.
// "today" is evaluated against now in loc.
func ResolveDateToken(token string, now time.Time, loc *time.Location) (TradingDate, error) {
	if strings.EqualFold(strings.TrimSpace(token), TodayToken) {
		if loc != nil {
			now = now.In(loc)
		}
		return NewTradingDate(now), nil
	}
	return ParseTradingDate(strings.TrimSpace(token))
}

// Key returns the canonical YYYYMMDD representation
func (d TradingDate) Key() string {
	return d.t.Format(DateKeyLayout)
}

func (d TradingDate) String() string {
	return d.Key()
}

// Weekday returns the day of the week
func (d TradingDate) Weekday() time.Weekday {
	return d.t.Weekday()
}

// IsWeekend reports whether the date falls on Saturday or Sunday
func (d TradingDate) IsWeekend() bool {
	wd := d.t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Time returns the date as midnight UTC
func (d TradingDate) Time() time.Time {
	return d.t
}

// IsZero reports whether the date was never set
func (d TradingDate) IsZero() bool {
	return d.t.IsZero()
}

// Before reports whether d is strictly earlier than other
func (d TradingDate) Before(other TradingDate) bool {
	return d.t.Before(other.t)
}

// AddDays returns the date n calendar days later (or earlier when n is negative)
func (d TradingDate) AddDays(n int) TradingDate {
	return TradingDate{t: d.t.AddDate(0, 0, n)}
}

// DateRange materialises every date between from and to, inclusive of both
// ends, newest first. The bounds may be given in either order.
func DateRange(from, to TradingDate) []TradingDate {
	if to.Before(from) {
		from, to = to, from
	}
	var dates []TradingDate
	for d := to; !d.Before(from); d = d.AddDays(-1) {
		dates = append(dates, d)
	}
	return dates
}

// HolidaySet holds the date keys of non-trading days
type HolidaySet map[string]struct{}

// NewHolidaySet builds a set from date keys
func NewHolidaySet(keys ...string) HolidaySet {
	s := make(HolidaySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Contains reports whether the date is a holiday
func (s HolidaySet) Contains(d TradingDate) bool {
	_, ok := s[d.Key()]
	return ok
}

// Holiday is a named non-trading day
type Holiday struct {
	Date      time.Time `json:"date"`
	Name      string    `json:"name"`
	Market    string    `json:"market"`
	CreatedAt time.Time `json:"created_at"`
}
