package solartime

import (
	"fmt"
	"time"
)

// stampLayout is the campaign timestamp naming, e.g. 20210602t1005 (UTC).
const stampLayout = "20060102t1504"

// ParseStamp parses a YYYYMMDDtHHMM identifier into a UTC stamp. The
// civil offset is filled in from the day-of-year window so the stamp can
// be rendered in local time without further lookups.
func ParseStamp(v string) (Stamp, error) {
	t, err := time.ParseInLocation(stampLayout, v, time.UTC)
	if err != nil {
		return Stamp{}, fmt.Errorf("%w: %q is not YYYYMMDDtHHMM", ErrInvalidTimestamp, v)
	}

	st := Stamp{
		Year:      t.Year(),
		DayOfYear: t.YearDay(),
		Hour:      float64(t.Hour()) + float64(t.Minute())/60.0,
		IsUTC:     true,
	}
	off, err := OffsetForDay(st.DayOfYear)
	if err != nil {
		return Stamp{}, err
	}
	st.OffsetHours = off
	return st, nil
}
