package collector

import (
	"fmt"
	"sort"
	"time"

	"github.com/kjstillabower/weather-history-collector/internal/fetch"
	"github.com/kjstillabower/weather-history-collector/internal/models"
)

// ErrAlignmentExhausted is returned when no attempt produced the requested day.
var ErrAlignmentExhausted = fetch.ErrAlignmentExhausted

const dateLayout = "2006-01-02"

// AlignmentMismatch reports a page rendered for a different day than requested.
// PageDay is 0 when the page carried no day label at all.
type AlignmentMismatch struct {
	Date    time.Time
	PageDay int
}

func (e *AlignmentMismatch) Error() string {
	return fmt.Sprintf("alignment mismatch: requested %s, page shows day %d", e.Date.Format(dateLayout), e.PageDay)
}

// DayError is a failure isolated to one day. Date carries year, month and day
// so a run can be resumed from it.
type DayError struct {
	Date time.Time
	Err  error
}

func (e DayError) Error() string {
	return fmt.Sprintf("day %s: %v", e.Date.Format(dateLayout), e.Err)
}

func (e DayError) Unwrap() error {
	return e.Err
}

// CollectionError reports the days a run did not collect. Months with any
// entry in Failures or Interrupted were not persisted and must be rerun whole.
type CollectionError struct {
	Failures []DayError
	// Interrupted lists months cut short by Cause before they finished.
	Interrupted []models.YearMonth
	// Cause is the context error when the run was cancelled, nil otherwise.
	Cause error
}

func (e *CollectionError) Error() string {
	var msg string
	switch {
	case len(e.Failures) > 0:
		msg = fmt.Sprintf("%d day(s) failed, first %v", len(e.Failures), e.Failures[0])
	case len(e.Interrupted) > 0:
		msg = fmt.Sprintf("%d month(s) unfinished, first %s", len(e.Interrupted), e.Interrupted[0])
	default:
		msg = "collection failed"
	}
	if e.Cause != nil {
		return fmt.Sprintf("interrupted: %v: %s", e.Cause, msg)
	}
	return msg
}

func (e *CollectionError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures)+1)
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

// FirstFailedDay is the earliest day that was not collected.
func (e *CollectionError) FirstFailedDay() (time.Time, bool) {
	var first time.Time
	for _, f := range e.Failures {
		if first.IsZero() || f.Date.Before(first) {
			first = f.Date
		}
	}
	for _, ym := range e.Interrupted {
		if d := ym.Date(1); first.IsZero() || d.Before(first) {
			first = d
		}
	}
	return first, !first.IsZero()
}

// RerunPeriods groups the months to rerun into runs of consecutive months,
// in order. Months between two runs were persisted and are left out.
func (e *CollectionError) RerunPeriods() []models.Period {
	seen := make(map[models.YearMonth]bool)
	for _, f := range e.Failures {
		seen[models.MonthOf(f.Date)] = true
	}
	for _, ym := range e.Interrupted {
		seen[ym] = true
	}
	months := make([]models.YearMonth, 0, len(seen))
	for ym := range seen {
		months = append(months, ym)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	var out []models.Period
	for _, ym := range months {
		if n := len(out); n > 0 && out[n-1].End.Next() == ym {
			out[n-1].End = ym
			continue
		}
		out = append(out, models.Period{Start: ym, End: ym})
	}
	return out
}

func failAll(ym models.YearMonth, err error) []DayError {
	return skipped(ym, 1, err)
}

// skipped reports days from..end of ym as not collected because of err.
func skipped(ym models.YearMonth, from int, err error) []DayError {
	out := make([]DayError, 0, ym.Days()-from+1)
	for day := from; day <= ym.Days(); day++ {
		out = append(out, DayError{Date: ym.Date(day), Err: err})
	}
	return out
}
