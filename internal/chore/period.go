package chore

import "time"

// Period returns the settlement period containing now as [start, end).
// A period starts at midnight on the settlement day and runs until the same
// day of the next month. Days past the end of a short month clamp to its last
// day, so a settlement day of 31 falls on Feb 28 or 29.
func Period(now time.Time, settlementDay int) (time.Time, time.Time) {
	if settlementDay < 1 {
		settlementDay = 1
	}

	y, m, _ := now.Date()
	start := settlementDate(y, m, settlementDay, now.Location())
	if now.Before(start) {
		start = settlementDate(y, m-1, settlementDay, now.Location())
	}

	sy, sm, _ := start.Date()
	end := settlementDate(sy, sm+1, settlementDay, now.Location())
	return start, end
}

func settlementDate(year int, month time.Month, day int, loc *time.Location) time.Time {
	// time.Date normalizes month overflow, so day 1 of the target month is a
	// safe anchor for finding its length.
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	if last := daysIn(first); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, loc)
}

func daysIn(first time.Time) int {
	return first.AddDate(0, 1, -1).Day()
}
