// Package epiweek implements the CDC/PAHO epidemiological week
// calendar: Sunday-start weeks, week 1 being the first week with at
// least four days in the new calendar year. All date arithmetic is done
// on UTC midnights so the results are independent of the input
// location and of daylight-saving transitions.
package epiweek

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/episurv-server/internal/domain"
)

const day = 24 * time.Hour

// week1Starts memoizes per-year week-1 start dates. Values are pure
// derived constants, so a bounded shared cache is safe.
var week1Starts, _ = lru.New[int, time.Time](256)

// Week1Start returns the date epi-week 1 of the given year begins on:
// the Sunday on or before January 4. When the first Sunday of the year
// falls after January 4, week 1 starts within the prior December.
func Week1Start(year int) time.Time {
	if start, ok := week1Starts.Get(year); ok {
		return start
	}
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	start := jan4.AddDate(0, 0, -int(jan4.Weekday()))
	week1Starts.Add(year, start)
	return start
}

// WeeksInYear returns 52 or 53: the number of full 7-day spans between
// the year's week-1 start and the following year's week-1 start.
func WeeksInYear(year int) int {
	return int(Week1Start(year+1).Sub(Week1Start(year)) / (7 * day))
}

// DateToEpiWeek converts a calendar date to its (epi-year, epi-week)
// pair. It is total: every valid date maps to a week in [1,53], with
// early-January dates spilling into the previous year's final week and
// late-December dates reclassified into week 1 of the next year when
// they fall on or after its week-1 start.
func DateToEpiWeek(d time.Time) (epiYear, week int) {
	dd := midnight(d)

	epiYear = dd.Year()
	start := Week1Start(epiYear)
	if dd.Before(start) {
		epiYear--
		start = Week1Start(epiYear)
	}

	week = int(dd.Sub(start)/day)/7 + 1
	if week >= 53 && !dd.Before(Week1Start(epiYear+1)) {
		return epiYear + 1, 1
	}
	return epiYear, week
}

// Bucket returns the derived aggregation key for a date.
func Bucket(d time.Time) domain.EpiWeekBucket {
	y, w := DateToEpiWeek(d)
	return domain.EpiWeekBucket{Year: y, Week: w}
}

// EpiWeekRange returns the first (Sunday) and last (Saturday) date of
// the given epi-week. Weeks outside [1, WeeksInYear(year)] are
// rejected: week 53 only exists in 53-week years.
func EpiWeekRange(epiYear, week int) (start, end time.Time, err error) {
	if week < 1 || week > WeeksInYear(epiYear) {
		return time.Time{}, time.Time{}, fmt.Errorf(
			"week %d of year %d: %w", week, epiYear, domain.ErrInvalidEpiWeek)
	}
	start = Week1Start(epiYear).AddDate(0, 0, (week-1)*7)
	return start, start.AddDate(0, 0, 6), nil
}

func midnight(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
