// Package timerules holds the pure time arithmetic behind attendance sessions.
// All calendar math happens in the schedule's timezone, never on raw UTC offsets.
package timerules

import (
	"math"
	"time"

	"attendance.service/internal/core/model"
)

type CheckInClass struct {
	IsLate      bool
	LateMinutes int
}

type CheckOutClass struct {
	IsEarlyOut      bool
	EarlyOutMinutes int
}

// DateKey is the canonical calendar day of ts in loc.
func DateKey(ts time.Time, loc *time.Location) string {
	return ts.In(loc).Format(model.DateKeyLayout)
}

// PreviousDateKey is the calendar day before dateKey.
func PreviousDateKey(dateKey string) (string, error) {
	day, err := time.Parse(model.DateKeyLayout, dateKey)
	if err != nil {
		return "", model.Invalid("date", "must be YYYY-MM-DD")
	}
	return day.AddDate(0, 0, -1).Format(model.DateKeyLayout), nil
}

// ClassifyCheckIn measures lateness against the scheduled start of ts's local day.
// Late minutes count from the scheduled start; the grace period only decides isLate.
// Nobody is late on a day off.
func ClassifyCheckIn(ts time.Time, schedule model.ScheduleConfig) CheckInClass {
	if !IsWorkDay(ts, schedule) {
		return CheckInClass{}
	}
	loc := schedule.Loc()
	local := ts.In(loc)
	scheduledStart := schedule.StartTime.On(local, loc)
	graceEnd := scheduledStart.Add(time.Duration(schedule.GracePeriodMinutes) * time.Minute)

	return CheckInClass{
		IsLate:      local.After(graceEnd),
		LateMinutes: floorMinutes(local.Sub(scheduledStart)),
	}
}

// ClassifyCheckOut reports how far before the scheduled end of ts's local day the user left.
func ClassifyCheckOut(ts time.Time, schedule model.ScheduleConfig) CheckOutClass {
	if !IsWorkDay(ts, schedule) {
		return CheckOutClass{}
	}
	loc := schedule.Loc()
	local := ts.In(loc)
	scheduledEnd := schedule.EndTime.On(local, loc)

	if !local.Before(scheduledEnd) {
		return CheckOutClass{}
	}
	return CheckOutClass{
		IsEarlyOut:      true,
		EarlyOutMinutes: floorMinutes(scheduledEnd.Sub(local)),
	}
}

// ComputeWorkMinutes returns worked and break minutes between checkIn and end.
// An open break is closed provisionally at end; callers must not persist that as final.
func ComputeWorkMinutes(checkIn, end time.Time, breaks []model.Break) (workMinutes, breakMinutes int) {
	var breakTotal time.Duration
	for _, b := range breaks {
		bEnd := end
		if b.End != nil {
			bEnd = *b.End
		}
		if bEnd.After(b.Start) {
			breakTotal += bEnd.Sub(b.Start)
		}
	}

	breakMinutes = floorMinutes(breakTotal)
	workMinutes = floorMinutes(end.Sub(checkIn)) - breakMinutes
	if workMinutes < 0 {
		workMinutes = 0
	}
	return workMinutes, breakMinutes
}

// IsWorkDay checks the weekday of date, taken in the schedule timezone.
func IsWorkDay(date time.Time, schedule model.ScheduleConfig) bool {
	return schedule.WorkDays[date.In(schedule.Loc()).Weekday()]
}

func floorMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Floor(d.Minutes()))
}
