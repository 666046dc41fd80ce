package util

import (
	"fmt"
	"strconv"
	"time"
)

// KRX regular session, local time.
const (
	krxOpenHHMM  = "0900"
	krxCloseHHMM = "1530"
)

// TradingCalendar provides market-hours awareness for the Korean exchange.
// Weekends are closed; additional holidays are supplied by configuration.
type TradingCalendar struct {
	loc      *time.Location
	holidays map[string]struct{} // YYYYMMDD
}

// NewTradingCalendar creates a TradingCalendar in loc with the given extra
// closed dates (YYYYMMDD).
func NewTradingCalendar(loc *time.Location, holidays []string) *TradingCalendar {
	if loc == nil {
		loc = time.UTC
	}
	h := make(map[string]struct{}, len(holidays))
	for _, d := range holidays {
		h[d] = struct{}{}
	}
	return &TradingCalendar{loc: loc, holidays: h}
}

// Location returns the session time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// IsTradingDay reports whether the calendar date of t is a session day.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	t = t.In(tc.loc)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, closed := tc.holidays[t.Format("20060102")]
	return !closed
}

// PrevTradingDay returns the last session day strictly before t's date.
func (tc *TradingCalendar) PrevTradingDay(t time.Time) time.Time {
	d := tc.dayStart(t).AddDate(0, 0, -1)
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// At returns the instant of clock time hhmm on t's session date.
func (tc *TradingCalendar) At(t time.Time, hhmm string) (time.Time, error) {
	if len(hhmm) != 4 {
		return time.Time{}, fmt.Errorf("clock %q: want HHMM", hhmm)
	}
	n, err := strconv.Atoi(hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock %q: %w", hhmm, err)
	}
	h, m := n/100, n%100
	if h > 23 || m > 59 {
		return time.Time{}, fmt.Errorf("clock %q: out of range", hhmm)
	}
	d := tc.dayStart(t)
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, tc.loc), nil
}

// ParseDate parses a YYYYMMDD session date in the calendar's zone.
func (tc *TradingCalendar) ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation("20060102", s, tc.loc)
}

// IsMarketOpen returns whether the regular session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	open, _ := tc.At(t, krxOpenHHMM)
	closeAt, _ := tc.At(t, krxCloseHHMM)
	return !t.Before(open) && t.Before(closeAt)
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	d := t.In(tc.loc)
	for {
		if tc.IsTradingDay(d) {
			open, _ := tc.At(d, krxOpenHHMM)
			if !open.Before(t) {
				return open
			}
		}
		d = tc.dayStart(d).AddDate(0, 0, 1)
	}
}

// NextClose returns the next market close time at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	d := t.In(tc.loc)
	for {
		if tc.IsTradingDay(d) {
			closeAt, _ := tc.At(d, krxCloseHHMM)
			if !closeAt.Before(t) {
				return closeAt
			}
		}
		d = tc.dayStart(d).AddDate(0, 0, 1)
	}
}

func (tc *TradingCalendar) dayStart(t time.Time) time.Time {
	t = t.In(tc.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tc.loc)
}
