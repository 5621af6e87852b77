// Package driver runs a day's worth of shadow timesteps: it expands the
// configured time window into timestamps, fans the engine out over a
// bounded worker pool, quantizes and exports each result, and accounts
// for every step in the run catalog.
package driver

import (
	"fmt"
	"math"

	"github.com/terrashade/terrashade/pkg/solartime"
)

// lenEpsilon absorbs float error in the step-count quotient so a window
// that divides evenly stays end-exclusive.
const lenEpsilon = 1e-9

// Series is the requested run window: one calendar day swept from
// StartHour (inclusive) to EndHour (exclusive) in IntervalMinutes steps.
// Hours are decimal and follow the run's time convention: UTC when UTC
// is set, otherwise local civil time under OffsetHours.
type Series struct {
	Year            int
	DayOfYear       int
	StartHour       float64
	EndHour         float64
	IntervalMinutes float64
	OffsetHours     int
	UTC             bool
}

// NewSeries validates a run window. The day must exist in the calendar
// year, the window must lie inside one day, and the interval must be
// positive.
func NewSeries(year, doy int, startHour, endHour, intervalMinutes float64, offsetHours int, utc bool) (Series, error) {
	if _, err := solartime.DateForDay(year, doy); err != nil {
		return Series{}, err
	}
	if intervalMinutes <= 0 {
		return Series{}, fmt.Errorf("interval must be positive, got %v minutes", intervalMinutes)
	}
	if startHour < 0 || endHour > 24 {
		return Series{}, fmt.Errorf("window [%v,%v) outside the day [0,24]", startHour, endHour)
	}
	if endHour < startHour {
		return Series{}, fmt.Errorf("window end %v before start %v", endHour, startHour)
	}
	return Series{
		Year:            year,
		DayOfYear:       doy,
		StartHour:       startHour,
		EndHour:         endHour,
		IntervalMinutes: intervalMinutes,
		OffsetHours:     offsetHours,
		UTC:             utc,
	}, nil
}

// Len returns the number of timesteps in the window. The end hour is
// excluded: [10,11) at 2-minute intervals yields 30 steps, the last at
// 10:58.
func (s Series) Len() int {
	span := (s.EndHour - s.StartHour) * 60
	if span <= 0 {
		return 0
	}
	return int(math.Floor(span/s.IntervalMinutes-lenEpsilon)) + 1
}

// At returns the i-th timestamp, computed directly from the index so a
// long series accumulates no floating-point drift.
func (s Series) At(i int) solartime.Stamp {
	return solartime.Stamp{
		Year:        s.Year,
		DayOfYear:   s.DayOfYear,
		Hour:        s.StartHour + float64(i)*s.IntervalMinutes/60.0,
		OffsetHours: s.OffsetHours,
		IsUTC:       s.UTC,
	}
}
