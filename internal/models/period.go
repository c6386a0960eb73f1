package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPeriod is returned for malformed months or a start after the end.
var ErrInvalidPeriod = errors.New("invalid collection period")

// YearMonth identifies one calendar month.
type YearMonth struct {
	Year  int
	Month time.Month
}

// ParseYearMonth parses "2006-01" (or "2006-1"). Trailing input is rejected.
func ParseYearMonth(s string) (YearMonth, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("2006-1", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("%w: parse %q: %v", ErrInvalidPeriod, s, err)
	}
	ym := MonthOf(t)
	if !ym.Valid() {
		return YearMonth{}, fmt.Errorf("%w: month out of range in %q", ErrInvalidPeriod, s)
	}
	return ym, nil
}

// Valid reports whether the month is 1..12 and the year positive.
func (ym YearMonth) Valid() bool {
	return ym.Year > 0 && ym.Month >= time.January && ym.Month <= time.December
}

// Days returns the number of days in the month.
func (ym YearMonth) Days() int {
	return DaysIn(ym.Year, ym.Month)
}

// Date returns the given day of the month at midnight UTC.
func (ym YearMonth) Date(day int) time.Time {
	return time.Date(ym.Year, ym.Month, day, 0, 0, 0, 0, time.UTC)
}

// Next returns the following month.
func (ym YearMonth) Next() YearMonth {
	if ym.Month == time.December {
		return YearMonth{Year: ym.Year + 1, Month: time.January}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month + 1}
}

// Prev returns the preceding month.
func (ym YearMonth) Prev() YearMonth {
	if ym.Month == time.January {
		return YearMonth{Year: ym.Year - 1, Month: time.December}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month - 1}
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// DaysIn returns the Gregorian number of days in month of year.
func DaysIn(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Period is an inclusive range of months.
type Period struct {
	Start YearMonth
	End   YearMonth
}

// NewPeriod validates start <= end.
func NewPeriod(start, end YearMonth) (Period, error) {
	if !start.Valid() || !end.Valid() {
		return Period{}, fmt.Errorf("%w: %s..%s", ErrInvalidPeriod, start, end)
	}
	if end.Before(start) {
		return Period{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidPeriod, start, end)
	}
	return Period{Start: start, End: end}, nil
}

// ParsePeriod parses two "2006-01" strings.
func ParsePeriod(start, end string) (Period, error) {
	s, err := ParseYearMonth(start)
	if err != nil {
		return Period{}, err
	}
	e, err := ParseYearMonth(end)
	if err != nil {
		return Period{}, err
	}
	return NewPeriod(s, e)
}

// Months expands the period into chronological months, both endpoints included.
func (p Period) Months() []YearMonth {
	if p.End.Before(p.Start) {
		return nil
	}
	var out []YearMonth
	for ym := p.Start; !p.End.Before(ym); ym = ym.Next() {
		out = append(out, ym)
	}
	return out
}

func (p Period) String() string {
	return p.Start.String() + ".." + p.End.String()
}
