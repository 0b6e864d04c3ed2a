// Package period resolves "current vs previous" comparison windows
// expressed in whole epi-weeks. Year rollover uses the calendar's
// authoritative weeks-in-year count, so windows crossing into a
// 53-week year keep their exact length.
package period

import (
	"fmt"
	"time"

	"github.com/episurv-server/internal/domain"
	"github.com/episurv-server/internal/epiweek"
)

const (
	// MaxWindowWeeks keeps a window within a single year-rollover step.
	MaxWindowWeeks = 52

	minYear = 2000
	maxYear = 2100
)

// Resolve computes the current period of numWeeks epi-weeks ending at
// (weekRef, yearRef) inclusive, and the immediately preceding period of
// equal length. The two windows are contiguous and non-overlapping.
// All validation happens here, before any storage query is issued.
func Resolve(weekRef, yearRef, numWeeks int) (current, previous domain.PeriodWindow, err error) {
	if numWeeks < 1 || numWeeks > MaxWindowWeeks {
		return current, previous, fmt.Errorf(
			"num_semanas %d outside [1,%d]: %w", numWeeks, MaxWindowWeeks, domain.ErrInvalidWindowSize)
	}
	if err := validateRef(weekRef, yearRef); err != nil {
		return current, previous, err
	}

	current, err = window(weekRef, yearRef, numWeeks)
	if err != nil {
		return current, previous, err
	}

	prevEndWeek, prevEndYear := stepBack(current.WeekFrom, current.YearFrom, 1)
	previous, err = window(prevEndWeek, prevEndYear, numWeeks)
	return current, previous, err
}

// WindowFromDates builds an ad-hoc window from explicit date bounds,
// used when the caller overrides the computed period. The week fields
// reflect the epi-weeks the bounds fall in.
func WindowFromDates(from, to time.Time) (domain.PeriodWindow, error) {
	if to.Before(from) {
		return domain.PeriodWindow{}, domain.NewValidationError(
			"fecha_hasta", "must not precede fecha_desde", to.Format("2006-01-02"))
	}
	fromYear, fromWeek := epiweek.DateToEpiWeek(from)
	toYear, toWeek := epiweek.DateToEpiWeek(to)
	return domain.PeriodWindow{
		DateFrom: from,
		DateTo:   to,
		WeekFrom: fromWeek,
		WeekTo:   toWeek,
		YearFrom: fromYear,
		YearTo:   toYear,
	}, nil
}

// Weeks returns the length of a week-aligned window in epi-weeks.
func Weeks(w domain.PeriodWindow) int {
	return int(w.DateTo.Sub(w.DateFrom)/(24*time.Hour)+1) / 7
}

// window builds the numWeeks-long window ending at (week, year).
func window(week, year, numWeeks int) (domain.PeriodWindow, error) {
	startWeek, startYear := stepBack(week, year, numWeeks-1)

	dateFrom, _, err := epiweek.EpiWeekRange(startYear, startWeek)
	if err != nil {
		return domain.PeriodWindow{}, err
	}
	_, dateTo, err := epiweek.EpiWeekRange(year, week)
	if err != nil {
		return domain.PeriodWindow{}, err
	}

	return domain.PeriodWindow{
		DateFrom: dateFrom,
		DateTo:   dateTo,
		WeekFrom: startWeek,
		WeekTo:   week,
		YearFrom: startYear,
		YearTo:   year,
	}, nil
}

// stepBack moves n epi-weeks back from (week, year), rolling into the
// previous year's final week (52 or 53) as needed.
func stepBack(week, year, n int) (int, int) {
	week -= n
	for week < 1 {
		year--
		week += epiweek.WeeksInYear(year)
	}
	return week, year
}

func validateRef(weekRef, yearRef int) error {
	if yearRef < minYear || yearRef > maxYear {
		return fmt.Errorf("anio_actual %d outside [%d,%d]: %w",
			yearRef, minYear, maxYear, domain.ErrInvalidEpiWeek)
	}
	if weekRef < 1 || weekRef > epiweek.WeeksInYear(yearRef) {
		return fmt.Errorf("semana_actual %d outside [1,%d] for year %d: %w",
			weekRef, epiweek.WeeksInYear(yearRef), yearRef, domain.ErrInvalidEpiWeek)
	}
	return nil
}
