package model

import (
	"fmt"
	"strings"
	"time"
)

// ClockTime is a time of day in HH:MM form.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(raw string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", raw, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On places the clock time on the calendar day of day, in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// ScheduleConfig is an immutable work-schedule value. Refreshing a schedule replaces the whole value.
type ScheduleConfig struct {
	StartTime            ClockTime
	EndTime              ClockTime
	GracePeriodMinutes   int
	LateThresholdMinutes int
	WorkDays             map[time.Weekday]bool
	BreakDurationMinutes int
	Location             *time.Location
}

// Loc returns the schedule timezone, UTC when unset.
func (c ScheduleConfig) Loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// DefaultSchedule is the org-wide fallback: 09:00-17:00, Monday to Friday.
func DefaultSchedule(loc *time.Location) ScheduleConfig {
	return ScheduleConfig{
		StartTime:            ClockTime{Hour: 9},
		EndTime:              ClockTime{Hour: 17},
		GracePeriodMinutes:   15,
		LateThresholdMinutes: 15,
		WorkDays: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true, time.Thursday: true, time.Friday: true,
		},
		BreakDurationMinutes: 60,
		Location:             loc,
	}
}

func (c ScheduleConfig) Validate() error {
	var errs ValidationErrors
	start := c.StartTime.Hour*60 + c.StartTime.Minute
	end := c.EndTime.Hour*60 + c.EndTime.Minute
	if end <= start {
		errs = append(errs, ValidationError{Field: "endTime", Message: "endTime must be after startTime"})
	}
	if c.GracePeriodMinutes < 0 {
		errs = append(errs, ValidationError{Field: "gracePeriodMinutes", Message: "must not be negative"})
	}
	if c.LateThresholdMinutes < 0 {
		errs = append(errs, ValidationError{Field: "lateThresholdMinutes", Message: "must not be negative"})
	}
	if c.BreakDurationMinutes < 0 {
		errs = append(errs, ValidationError{Field: "breakDurationMinutes", Message: "must not be negative"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
