// Package solartime resolves day-of-year timestamps and the civil-time
// offset convention used by the shadow runs.
package solartime

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Civil-offset window. Days 80 through 304 are treated as summer time
// (+2h over UTC), the remainder of the year as standard time (+1h).
// The window is fixed by day of year, not by the statutory changeover
// dates, so runs reproduce across years.
const (
	summerStartDay = 80
	summerEndDay   = 304

	summerOffsetHours   = 2
	standardOffsetHours = 1
)

// ErrInvalidTimestamp reports a day of year, hour, or stamp string that
// cannot name a real instant.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// OffsetForDay returns the civil-time offset in hours for a day of year.
func OffsetForDay(doy int) (int, error) {
	if doy < 1 || doy > 366 {
		return 0, fmt.Errorf("%w: day of year %d outside [1,366]", ErrInvalidTimestamp, doy)
	}
	if doy >= summerStartDay && doy <= summerEndDay {
		return summerOffsetHours, nil
	}
	return standardOffsetHours, nil
}

// DateForDay maps a year and day of year to the calendar date at 00:00 UTC.
// Day 366 is only valid in leap years.
func DateForDay(year, doy int) (time.Time, error) {
	if doy < 1 || doy > 366 {
		return time.Time{}, fmt.Errorf("%w: day of year %d outside [1,366]", ErrInvalidTimestamp, doy)
	}
	if doy == 366 && !isLeap(year) {
		return time.Time{}, fmt.Errorf("%w: day 366 in non-leap year %d", ErrInvalidTimestamp, year)
	}
	return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1), nil
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// Stamp is one solar timestamp: a calendar day plus a decimal hour.
// IsUTC says whether Hour is UTC or local civil time under OffsetHours.
// Conversions return new values; a Stamp never mutates.
type Stamp struct {
	Year        int
	DayOfYear   int
	Hour        float64
	OffsetHours int
	IsUTC       bool
}

// UTC returns the stamp with its hour converted to UTC.
func (s Stamp) UTC() Stamp {
	if s.IsUTC {
		return s
	}
	out := s
	out.Hour = s.Hour - float64(s.OffsetHours)
	out.IsUTC = true
	return out
}

// Local returns the stamp with its hour converted to local civil time.
func (s Stamp) Local() Stamp {
	if !s.IsUTC {
		return s
	}
	out := s
	out.Hour = s.Hour + float64(s.OffsetHours)
	out.IsUTC = false
	return out
}

// Time expands the stamp to its UTC instant. An hour that crossed
// midnight during conversion rolls into the adjacent calendar day.
func (s Stamp) Time() (time.Time, error) {
	u := s.UTC()
	base, err := DateForDay(u.Year, u.DayOfYear)
	if err != nil {
		return time.Time{}, err
	}
	ms := math.Round(u.Hour * 3600 * 1000)
	return base.Add(time.Duration(ms) * time.Millisecond), nil
}

// HHMM renders the stamp's hour as a four-digit time-of-day identifier.
// Minutes round half away from zero; minute 60 rolls into the next hour.
// Hours outside [0,24), as produced by offset conversion near midnight,
// wrap around the day.
func (s Stamp) HHMM() string {
	hr := math.Mod(s.Hour, 24)
	if hr < 0 {
		hr += 24
	}
	h := int(hr)
	m := int(math.Round((hr - float64(h)) * 60))
	if m == 60 {
		h++
		m = 0
	}
	return fmt.Sprintf("%02d%02d", h%24, m)
}

// String renders the stamp in the campaign naming, YYYYMMDDtHHMM, always UTC.
func (s Stamp) String() string {
	t, err := s.Time()
	if err != nil {
		return fmt.Sprintf("invalid(year=%d doy=%d)", s.Year, s.DayOfYear)
	}
	return t.Format(stampLayout)
}
