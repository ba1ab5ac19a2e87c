// Package session implements the attendance day state machine:
//
//	NOT_STARTED -> CHECKED_IN <-> ON_BREAK
//	               CHECKED_IN  -> CHECKED_OUT (terminal)
//
// Every transition is a pure function of the current session, the event and the schedule.
// The input session is never mutated and no I/O happens here.
package session

import (
	"time"

	"attendance.service/internal/core/model"
	"attendance.service/internal/core/timerules"
)

// Transition is the result of applying one event to a session.
type Transition struct {
	Session model.AttendanceSession
	From    model.SessionStatus
	To      model.SessionStatus
}

// CheckIn opens the day. Lateness is fixed here against the schedule in effect now.
func CheckIn(s model.AttendanceSession, punch model.Punch, schedule model.ScheduleConfig) (Transition, error) {
	if s.Status != model.StatusNotStarted {
		return Transition{}, model.ErrAlreadyCheckedIn
	}
	if punch.Timestamp.IsZero() {
		return Transition{}, model.Invalid("timestamp", "timestamp is required")
	}

	next := s.Clone()
	p := punch
	next.CheckIn = &p
	class := timerules.ClassifyCheckIn(punch.Timestamp, schedule)
	next.IsLate = class.IsLate
	next.LateMinutes = class.LateMinutes
	next.Status = model.StatusCheckedIn

	return Transition{Session: next, From: s.Status, To: next.Status}, nil
}

// StartBreak appends an open break.
func StartBreak(s model.AttendanceSession, ts time.Time) (Transition, error) {
	if s.Status != model.StatusCheckedIn {
		return Transition{}, model.ErrInvalidState
	}
	if err := checkOrder(s, ts); err != nil {
		return Transition{}, err
	}

	next := s.Clone()
	next.Breaks = append(next.Breaks, model.Break{Start: ts})
	next.Status = model.StatusOnBreak

	return Transition{Session: next, From: s.Status, To: next.Status}, nil
}

// EndBreak closes the most recent open break.
func EndBreak(s model.AttendanceSession, ts time.Time) (Transition, error) {
	if s.Status != model.StatusOnBreak {
		return Transition{}, model.ErrNoOpenBreak
	}
	idx := s.OpenBreak()
	if idx < 0 {
		return Transition{}, model.ErrNoOpenBreak
	}
	if err := checkOrder(s, ts); err != nil {
		return Transition{}, err
	}

	next := s.Clone()
	end := ts
	next.Breaks[idx].End = &end
	next.Status = model.StatusCheckedIn

	return Transition{Session: next, From: s.Status, To: next.Status}, nil
}

// CheckOut closes the day and computes the final derived minutes.
func CheckOut(s model.AttendanceSession, punch model.Punch, schedule model.ScheduleConfig) (Transition, error) {
	switch s.Status {
	case model.StatusNotStarted:
		return Transition{}, model.ErrNotCheckedIn
	case model.StatusOnBreak:
		return Transition{}, model.ErrOpenBreak
	case model.StatusCheckedOut:
		return Transition{}, model.ErrAlreadyCheckedOut
	}
	if err := checkOrder(s, punch.Timestamp); err != nil {
		return Transition{}, err
	}

	next := s.Clone()
	p := punch
	next.CheckOut = &p
	next.ActualWorkMinutes, next.BreakMinutes = timerules.ComputeWorkMinutes(s.CheckIn.Timestamp, punch.Timestamp, next.Breaks)
	early := classifyCheckOut(s.DateKey, punch.Timestamp, schedule)
	next.IsEarlyOut = early.IsEarlyOut
	next.EarlyOutMinutes = early.EarlyOutMinutes
	next.Status = model.StatusCheckedOut

	return Transition{Session: next, From: s.Status, To: next.Status}, nil
}

// Progress fills provisional work and break minutes for an in-progress session as of now.
// Checked-out and not-started sessions are returned unchanged.
func Progress(s model.AttendanceSession, now time.Time) model.AttendanceSession {
	if s.CheckIn == nil || s.Status == model.StatusCheckedOut || s.Status == model.StatusNotStarted {
		return s
	}
	out := s.Clone()
	out.ActualWorkMinutes, out.BreakMinutes = timerules.ComputeWorkMinutes(s.CheckIn.Timestamp, now, s.Breaks)
	return out
}

// Override applies an administrator edit. The state machine is bypassed but its invariants are not:
// status is derived from the punches and derived fields are recomputed. Lateness recorded at
// check-in is kept unless the check-in time itself was corrected.
func Override(current, desired model.AttendanceSession, schedule model.ScheduleConfig) (model.AttendanceSession, error) {
	next := desired.Clone()
	next.ID = current.ID
	next.UserID = current.UserID
	next.DateKey = current.DateKey
	next.Version = current.Version
	next.CreatedAt = current.CreatedAt
	next.IsManualEntry = true
	if next.Breaks == nil {
		next.Breaks = []model.Break{}
	}

	switch {
	case next.CheckOut != nil:
		next.Status = model.StatusCheckedOut
	case next.OpenBreak() >= 0:
		next.Status = model.StatusOnBreak
	case next.CheckIn != nil:
		next.Status = model.StatusCheckedIn
	default:
		next.Status = model.StatusNotStarted
	}

	if next.CheckIn == nil && (next.CheckOut != nil || len(next.Breaks) > 0) {
		return model.AttendanceSession{}, model.Invalid("checkIn", "checkIn is required when breaks or checkOut are set")
	}
	if next.CheckOut != nil && next.OpenBreak() >= 0 {
		return model.AttendanceSession{}, model.ErrOpenBreak
	}
	if next.CheckIn != nil {
		if timerules.DateKey(next.CheckIn.Timestamp, schedule.Loc()) != next.DateKey {
			return model.AttendanceSession{}, model.Invalid("checkIn", "checkIn must fall on "+next.DateKey)
		}
		for _, b := range next.Breaks {
			if b.Start.Before(next.CheckIn.Timestamp) {
				return model.AttendanceSession{}, model.Invalid("breaks", "a break cannot start before checkIn")
			}
		}
		if next.CheckOut != nil && next.CheckOut.Timestamp.Before(next.LastEventTime()) {
			return model.AttendanceSession{}, model.Invalid("checkOut", "checkOut must be the last event of the day")
		}
	}

	next.IsLate, next.LateMinutes = false, 0
	if current.CheckIn != nil && next.CheckIn != nil && current.CheckIn.Timestamp.Equal(next.CheckIn.Timestamp) {
		next.IsLate, next.LateMinutes = current.IsLate, current.LateMinutes
	} else if next.CheckIn != nil {
		class := timerules.ClassifyCheckIn(next.CheckIn.Timestamp, schedule)
		next.IsLate, next.LateMinutes = class.IsLate, class.LateMinutes
	}

	next.ActualWorkMinutes, next.BreakMinutes = 0, 0
	next.IsEarlyOut, next.EarlyOutMinutes = false, 0
	if next.CheckOut != nil {
		next.ActualWorkMinutes, next.BreakMinutes = timerules.ComputeWorkMinutes(next.CheckIn.Timestamp, next.CheckOut.Timestamp, next.Breaks)
		early := classifyCheckOut(next.DateKey, next.CheckOut.Timestamp, schedule)
		next.IsEarlyOut, next.EarlyOutMinutes = early.IsEarlyOut, early.EarlyOutMinutes
	}

	if err := next.Validate(); err != nil {
		return model.AttendanceSession{}, err
	}
	return next, nil
}

// classifyCheckOut only measures early leave on the session's own day. A check-out after
// midnight closes the previous day's session and is never early.
func classifyCheckOut(dateKey string, ts time.Time, schedule model.ScheduleConfig) timerules.CheckOutClass {
	if timerules.DateKey(ts, schedule.Loc()) != dateKey {
		return timerules.CheckOutClass{}
	}
	return timerules.ClassifyCheckOut(ts, schedule)
}

func checkOrder(s model.AttendanceSession, ts time.Time) error {
	if ts.IsZero() {
		return model.Invalid("timestamp", "timestamp is required")
	}
	if ts.Before(s.LastEventTime()) {
		return model.Invalid("timestamp", "timestamp must not precede the previous event of the day")
	}
	return nil
}
