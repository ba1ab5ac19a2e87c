package model

import (
	"fmt"
	"time"
)

// DateKeyLayout is the canonical calendar-day format used as part of the session key.
const DateKeyLayout = "2006-01-02"

// SessionStatus defines where a user's attendance day currently stands.
type SessionStatus string

const (
	StatusNotStarted SessionStatus = "NOT_STARTED"
	StatusCheckedIn  SessionStatus = "CHECKED_IN"
	StatusOnBreak    SessionStatus = "ON_BREAK"
	StatusCheckedOut SessionStatus = "CHECKED_OUT"
)

// Valid reports whether s is one of the closed set of statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusCheckedIn, StatusOnBreak, StatusCheckedOut:
		return true
	}
	return false
}

// Active reports whether a session in status s is still open.
func (s SessionStatus) Active() bool {
	return s == StatusCheckedIn || s == StatusOnBreak
}

// ParseStatus converts a stored status string, rejecting unknown values.
func ParseStatus(raw string) (SessionStatus, error) {
	s := SessionStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown session status %q", raw)
	}
	return s, nil
}

// PunchMethod is how a check-in or check-out was captured (QR, geofence, manual, ...).
type PunchMethod string

const (
	MethodQR       PunchMethod = "QR"
	MethodGeofence PunchMethod = "GEOFENCE"
	MethodWeb      PunchMethod = "WEB"
	MethodManual   PunchMethod = "MANUAL"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Punch is a single check-in or check-out event.
type Punch struct {
	Timestamp  time.Time   `json:"timestamp"`
	Method     PunchMethod `json:"method"`
	Location   *Location   `json:"location,omitempty"`
	DeviceInfo *string     `json:"deviceInfo,omitempty"`
}

// Break is a pause inside a session. End is nil while the break is open.
type Break struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// Open reports whether the break has not been terminated yet.
func (b Break) Open() bool {
	return b.End == nil
}

// AttendanceSession is one user's attendance record for one calendar day.
type AttendanceSession struct {
	ID                string        `json:"id"`
	UserID            string        `json:"userId"`
	DateKey           string        `json:"dateKey"`
	CheckIn           *Punch        `json:"checkIn,omitempty"`
	Breaks            []Break       `json:"breaks"`
	CheckOut          *Punch        `json:"checkOut,omitempty"`
	Status            SessionStatus `json:"currentStatus"`
	IsLate            bool          `json:"isLate"`
	LateMinutes       int           `json:"lateMinutes"`
	ActualWorkMinutes int           `json:"actualWorkMinutes"`
	BreakMinutes      int           `json:"breakMinutes"`
	IsEarlyOut        bool          `json:"isEarlyOut"`
	EarlyOutMinutes   int           `json:"earlyOutMinutes"`
	IsManualEntry     bool          `json:"isManualEntry"`
	Version           int64         `json:"version"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// NewSession synthesizes the NOT_STARTED state for a user-day that has no stored record yet.
func NewSession(userID, dateKey string) AttendanceSession {
	return AttendanceSession{
		UserID:  userID,
		DateKey: dateKey,
		Breaks:  []Break{},
		Status:  StatusNotStarted,
	}
}

// Clone returns a deep copy so transitions never alias the caller's slices or pointers.
func (s AttendanceSession) Clone() AttendanceSession {
	out := s
	if s.CheckIn != nil {
		p := s.CheckIn.clone()
		out.CheckIn = &p
	}
	if s.CheckOut != nil {
		p := s.CheckOut.clone()
		out.CheckOut = &p
	}
	out.Breaks = make([]Break, len(s.Breaks))
	for i, b := range s.Breaks {
		out.Breaks[i] = Break{Start: b.Start}
		if b.End != nil {
			end := *b.End
			out.Breaks[i].End = &end
		}
	}
	return out
}

func (p Punch) clone() Punch {
	out := p
	if p.Location != nil {
		loc := *p.Location
		out.Location = &loc
	}
	if p.DeviceInfo != nil {
		d := *p.DeviceInfo
		out.DeviceInfo = &d
	}
	return out
}

// OpenBreak returns the index of the open break, or -1.
func (s AttendanceSession) OpenBreak() int {
	for i := len(s.Breaks) - 1; i >= 0; i-- {
		if s.Breaks[i].Open() {
			return i
		}
	}
	return -1
}

// LastEventTime is the latest timestamp recorded on the session, zero if none.
func (s AttendanceSession) LastEventTime() time.Time {
	var last time.Time
	if s.CheckIn != nil {
		last = s.CheckIn.Timestamp
	}
	for _, b := range s.Breaks {
		if b.Start.After(last) {
			last = b.Start
		}
		if b.End != nil && b.End.After(last) {
			last = *b.End
		}
	}
	if s.CheckOut != nil && s.CheckOut.Timestamp.After(last) {
		last = s.CheckOut.Timestamp
	}
	return last
}

// Validate checks the record shape at the store boundary.
func (s AttendanceSession) Validate() error {
	var errs ValidationErrors
	if s.UserID == "" {
		errs = append(errs, ValidationError{Field: "userId", Message: "userId is required"})
	}
	if _, err := time.Parse(DateKeyLayout, s.DateKey); err != nil {
		errs = append(errs, ValidationError{Field: "dateKey", Message: "dateKey must be in YYYY-MM-DD format"})
	}
	if !s.Status.Valid() {
		errs = append(errs, ValidationError{Field: "currentStatus", Message: fmt.Sprintf("unknown status %q", s.Status)})
	}
	if s.Status != StatusNotStarted && s.CheckIn == nil {
		errs = append(errs, ValidationError{Field: "checkIn", Message: "checkIn is required once the session has started"})
	}
	if s.Status == StatusCheckedOut && s.CheckOut == nil {
		errs = append(errs, ValidationError{Field: "checkOut", Message: "checkOut is required for a checked-out session"})
	}
	open := 0
	for i, b := range s.Breaks {
		if b.Open() {
			open++
			continue
		}
		if b.End.Before(b.Start) {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("breaks[%d]", i), Message: "break ends before it starts"})
		}
	}
	if open > 1 {
		errs = append(errs, ValidationError{Field: "breaks", Message: "at most one break may be open"})
	}
	if (open == 1) != (s.Status == StatusOnBreak) {
		errs = append(errs, ValidationError{Field: "breaks", Message: "an open break must match the ON_BREAK status"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// HistoryFilter bounds a GetHistory query. Dates are inclusive date keys.
type HistoryFilter struct {
	StartDate *string
	EndDate   *string
	Limit     int
	Skip      int
}

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Normalize applies defaults and validates the bounds.
func (f *HistoryFilter) Normalize() error {
	var errs ValidationErrors
	if f.Limit < 0 {
		errs = append(errs, ValidationError{Field: "limit", Message: "limit must be a positive number"})
	}
	if f.Limit == 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		errs = append(errs, ValidationError{Field: "limit", Message: fmt.Sprintf("limit must not exceed %d", MaxHistoryLimit)})
	}
	if f.Skip < 0 {
		errs = append(errs, ValidationError{Field: "skip", Message: "skip must not be negative"})
	}
	for field, d := range map[string]*string{"startDate": f.StartDate, "endDate": f.EndDate} {
		if d == nil || *d == "" {
			continue
		}
		if _, err := time.Parse(DateKeyLayout, *d); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: field + " must be in YYYY-MM-DD format"})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
