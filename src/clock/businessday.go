package clock

import "time"

const daysPerWeek = 7

// IsBusinessDay reports whether t falls on a trading day: not a weekend,
// not a configured holiday. The EOD Closer only fires on a business day
// (spec.md §4.6). Adapted from the teacher's NY-session holiday
// calculator; the session-sizing logic that calendar fed into is
// signal/strategy logic and out of scope here (see DESIGN.md), but the
// calendar itself is ambient business-day awareness every deployment
// needs regardless of instrument or venue.
func IsBusinessDay(t time.Time, holidays []time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !isAmong(t, holidays)
}

// USMarketHolidays returns the fixed/floating US market holiday set for a
// given year: New Year's, MLK, Presidents', Memorial, Independence, Labor,
// Thanksgiving, Christmas. This is the default holiday calendar; a
// deployment trading a different venue supplies its own list to
// IsBusinessDay instead.
func USMarketHolidays(year int) []time.Time {
	newYearsDay := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	if newYearsDay.Weekday() == time.Sunday {
		newYearsDay = newYearsDay.AddDate(0, 0, 1)
	}

	mlkDay := nthMonday(year, time.January, 2)
	presidentsDay := nthMonday(year, time.February, 2)

	memorialDay := time.Date(year, time.May, 31, 0, 0, 0, 0, time.UTC)
	for memorialDay.Weekday() != time.Monday {
		memorialDay = memorialDay.AddDate(0, 0, -1)
	}

	independenceDay := time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC)
	if independenceDay.Weekday() == time.Sunday {
		independenceDay = independenceDay.AddDate(0, 0, 1)
	}

	laborDay := nthMonday(year, time.September, 0)
	thanksgivingDay := nthThursday(year, time.November, 3)

	christmasDay := time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)
	if christmasDay.Weekday() == time.Sunday {
		christmasDay = christmasDay.AddDate(0, 0, 1)
	}

	return []time.Time{
		newYearsDay, mlkDay, presidentsDay, memorialDay,
		independenceDay, laborDay, thanksgivingDay, christmasDay,
	}
}

func nthMonday(year int, month time.Month, weeksAfterFirst int) time.Time {
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := int(time.Monday-firstOfMonth.Weekday()+daysPerWeek) % daysPerWeek
	return firstOfMonth.AddDate(0, 0, offset+weeksAfterFirst*daysPerWeek)
}

func nthThursday(year int, month time.Month, weeksAfterFirst int) time.Time {
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := int(time.Thursday-firstOfMonth.Weekday()+daysPerWeek) % daysPerWeek
	return firstOfMonth.AddDate(0, 0, offset+weeksAfterFirst*daysPerWeek)
}

func isAmong(t time.Time, dates []time.Time) bool {
	for _, d := range dates {
		if t.Format("2006-01-02") == d.Format("2006-01-02") {
			return true
		}
	}
	return false
}

// AtWallClock reports whether t's local clock time has reached hh:mm
// ("14:30" style, as stored on BatchJob.EodCloseTime).
func AtWallClock(t time.Time, hhmm string) bool {
	target, err := time.ParseInLocation("15:04", hhmm, t.Location())
	if err != nil {
		return false
	}
	return t.Hour() > target.Hour() || (t.Hour() == target.Hour() && t.Minute() >= target.Minute())
}
