package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance.service/internal/core/model"
	"attendance.service/internal/core/schedule"
	"attendance.service/internal/core/session"
	"attendance.service/internal/core/timerules"
	"attendance.service/internal/ports/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// maxWriteAttempts bounds the optimistic retry loop when another instance wrote the same user-day.
	maxWriteAttempts = 3
	// maxClockSkew is how far in the future a client timestamp may be.
	maxClockSkew = 5 * time.Minute
)

// MirrorPublisher is the fire-and-forget side of the write-then-mirror protocol.
type MirrorPublisher interface {
	PublishAsync(ctx context.Context, snap model.MirrorSnapshot)
}

type CheckInInput struct {
	UserID     string
	Timestamp  time.Time
	Method     model.PunchMethod
	Location   *model.Location
	DeviceInfo *string
}

type CheckInResult struct {
	SessionID   string              `json:"sessionId"`
	Status      model.SessionStatus `json:"status"`
	IsLate      bool                `json:"isLate"`
	LateMinutes int                 `json:"lateMinutes"`
}

type CheckOutInput struct {
	UserID     string
	Timestamp  time.Time
	Method     model.PunchMethod
	Location   *model.Location
	DeviceInfo *string
}

type CheckOutResult struct {
	Status            model.SessionStatus `json:"status"`
	ActualWorkMinutes int                 `json:"actualWorkMinutes"`
	BreakMinutes      int                 `json:"breakMinutes"`
	IsEarlyOut        bool                `json:"isEarlyOut"`
	EarlyOutMinutes   int                 `json:"earlyOutMinutes"`
}

type StatusResult struct {
	Status model.SessionStatus `json:"status"`
}

// AttendanceService runs every attendance mutation through the write-then-mirror protocol:
// serialize on (user, day), load, transition, write the primary store, then publish to the
// mirror without waiting for it.
type AttendanceService struct {
	repo      repository.Repository
	schedules schedule.Source
	mirror    MirrorPublisher
	locker    *KeyedLocker
	now       func() time.Time
}

func NewAttendanceService(repo repository.Repository, schedules schedule.Source, mirror MirrorPublisher, locker *KeyedLocker) *AttendanceService {
	return &AttendanceService{
		repo:      repo,
		schedules: schedules,
		mirror:    mirror,
		locker:    locker,
		now:       time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (s *AttendanceService) WithClock(now func() time.Time) *AttendanceService {
	s.now = now
	return s
}

func (s *AttendanceService) CheckIn(ctx context.Context, in CheckInInput) (CheckInResult, error) {
	punch := model.Punch{Timestamp: in.Timestamp.UTC(), Method: in.Method, Location: in.Location, DeviceInfo: in.DeviceInfo}
	if err := s.validatePunch(in.UserID, punch); err != nil {
		return CheckInResult{}, err
	}
	sched, err := s.schedules.GetActiveSchedule(ctx, in.UserID)
	if err != nil {
		return CheckInResult{}, fmt.Errorf("failed to load schedule: %w", err)
	}
	dateKey := timerules.DateKey(punch.Timestamp, sched.Loc())

	saved, err := s.mutate(ctx, in.UserID, dateKey, func(cur model.AttendanceSession) (session.Transition, error) {
		return session.CheckIn(cur, punch, sched)
	})
	if err != nil {
		return CheckInResult{}, err
	}
	return CheckInResult{SessionID: saved.ID, Status: saved.Status, IsLate: saved.IsLate, LateMinutes: saved.LateMinutes}, nil
}

func (s *AttendanceService) StartBreak(ctx context.Context, userID string, ts time.Time) (StatusResult, error) {
	return s.breakOp(ctx, userID, ts, session.StartBreak)
}

func (s *AttendanceService) EndBreak(ctx context.Context, userID string, ts time.Time) (StatusResult, error) {
	return s.breakOp(ctx, userID, ts, session.EndBreak)
}

func (s *AttendanceService) breakOp(ctx context.Context, userID string, ts time.Time, op func(model.AttendanceSession, time.Time) (session.Transition, error)) (StatusResult, error) {
	ts = ts.UTC()
	if err := s.validatePunch(userID, model.Punch{Timestamp: ts, Method: model.MethodWeb}); err != nil {
		return StatusResult{}, err
	}
	dateKey, err := s.openDateKey(ctx, userID, ts)
	if err != nil {
		return StatusResult{}, err
	}

	saved, err := s.mutate(ctx, userID, dateKey, func(cur model.AttendanceSession) (session.Transition, error) {
		return op(cur, ts)
	})
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Status: saved.Status}, nil
}

func (s *AttendanceService) CheckOut(ctx context.Context, in CheckOutInput) (CheckOutResult, error) {
	punch := model.Punch{Timestamp: in.Timestamp.UTC(), Method: in.Method, Location: in.Location, DeviceInfo: in.DeviceInfo}
	if err := s.validatePunch(in.UserID, punch); err != nil {
		return CheckOutResult{}, err
	}
	sched, err := s.schedules.GetActiveSchedule(ctx, in.UserID)
	if err != nil {
		return CheckOutResult{}, fmt.Errorf("failed to load schedule: %w", err)
	}
	dateKey, err := s.openDateKey(ctx, in.UserID, punch.Timestamp)
	if err != nil {
		return CheckOutResult{}, err
	}

	saved, err := s.mutate(ctx, in.UserID, dateKey, func(cur model.AttendanceSession) (session.Transition, error) {
		return session.CheckOut(cur, punch, sched)
	})
	if err != nil {
		return CheckOutResult{}, err
	}
	return CheckOutResult{
		Status:            saved.Status,
		ActualWorkMinutes: saved.ActualWorkMinutes,
		BreakMinutes:      saved.BreakMinutes,
		IsEarlyOut:        saved.IsEarlyOut,
		EarlyOutMinutes:   saved.EarlyOutMinutes,
	}, nil
}

// GetStatus returns the user's session for today, with provisional minutes while in progress.
func (s *AttendanceService) GetStatus(ctx context.Context, userID string) (*model.AttendanceSession, error) {
	if userID == "" {
		return nil, model.Invalid("userId", "userId is required")
	}
	now := s.now().UTC()
	dateKey, err := s.openDateKey(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	cur, err := s.repo.Get(ctx, userID, dateKey)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	out := session.Progress(*cur, now)
	return &out, nil
}

// GetHistory pages through the user's sessions, newest day first.
func (s *AttendanceService) GetHistory(ctx context.Context, userID string, filter model.HistoryFilter) ([]model.AttendanceSession, error) {
	if userID == "" {
		return nil, model.Invalid("userId", "userId is required")
	}
	if err := filter.Normalize(); err != nil {
		return nil, err
	}
	sessions, err := s.repo.History(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return sessions, nil
}

// AdminOverride replaces the punches of one user-day on behalf of an administrator.
// The result is flagged as a manual entry and goes through the same write-then-mirror path.
func (s *AttendanceService) AdminOverride(ctx context.Context, userID, dateKey string, desired model.AttendanceSession) (model.AttendanceSession, error) {
	if userID == "" {
		return model.AttendanceSession{}, model.Invalid("userId", "userId is required")
	}
	if _, err := time.Parse(model.DateKeyLayout, dateKey); err != nil {
		return model.AttendanceSession{}, model.Invalid("date", "date must be in YYYY-MM-DD format")
	}
	sched, err := s.schedules.GetActiveSchedule(ctx, userID)
	if err != nil {
		return model.AttendanceSession{}, fmt.Errorf("failed to load schedule: %w", err)
	}

	return s.mutate(ctx, userID, dateKey, func(cur model.AttendanceSession) (session.Transition, error) {
		next, err := session.Override(cur, desired, sched)
		if err != nil {
			return session.Transition{}, err
		}
		return session.Transition{Session: next, From: cur.Status, To: next.Status}, nil
	})
}

// mutate is the write-then-mirror protocol for one user-day.
func (s *AttendanceService) mutate(ctx context.Context, userID, dateKey string, apply func(model.AttendanceSession) (session.Transition, error)) (model.AttendanceSession, error) {
	unlock, err := s.locker.Lock(ctx, userID+"|"+dateKey)
	if err != nil {
		return model.AttendanceSession{}, err
	}
	defer unlock()

	var lastConflict error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, exists, err := s.load(ctx, userID, dateKey)
		if err != nil {
			return model.AttendanceSession{}, err
		}

		tr, err := apply(cur)
		if err != nil {
			return model.AttendanceSession{}, err
		}
		next := tr.Session
		next.UpdatedAt = s.now().UTC()

		if exists {
			next.Version = cur.Version + 1
			err = s.repo.Update(ctx, next, cur.Version)
		} else {
			next.ID = uuid.NewString()
			next.Version = 1
			next.CreatedAt = next.UpdatedAt
			err = s.repo.Create(ctx, next)
		}

		// Another instance wrote this user-day first; reload and re-run the transition on its state.
		if errors.Is(err, model.ErrVersionConflict) || errors.Is(err, model.ErrDuplicateSession) {
			lastConflict = err
			log.Ctx(ctx).Debug().Err(err).Int("attempt", attempt+1).Str("date_key", dateKey).Msg("Concurrent write detected, retrying")
			continue
		}
		if err != nil {
			if errors.Is(err, model.ErrInvalidInput) {
				return model.AttendanceSession{}, err
			}
			return model.AttendanceSession{}, fmt.Errorf("failed to persist attendance session: %w", err)
		}

		log.Ctx(ctx).Info().
			Str("user_id", userID).
			Str("date_key", dateKey).
			Str("from", string(tr.From)).
			Str("to", string(tr.To)).
			Int64("version", next.Version).
			Msg("Attendance session updated")

		s.mirror.PublishAsync(ctx, model.SnapshotFromSession(next))
		return next, nil
	}
	return model.AttendanceSession{}, fmt.Errorf("%w: %v", model.ErrBusy, lastConflict)
}

func (s *AttendanceService) load(ctx context.Context, userID, dateKey string) (model.AttendanceSession, bool, error) {
	cur, err := s.repo.Get(ctx, userID, dateKey)
	if errors.Is(err, model.ErrSessionNotFound) {
		return model.NewSession(userID, dateKey), false, nil
	}
	if err != nil {
		return model.AttendanceSession{}, false, fmt.Errorf("failed to load attendance session: %w", err)
	}
	return *cur, true, nil
}

// openDateKey picks the session a break or check-out at ts belongs to: the local day of ts,
// or the previous day when that session is still open past midnight.
func (s *AttendanceService) openDateKey(ctx context.Context, userID string, ts time.Time) (string, error) {
	sched, err := s.schedules.GetActiveSchedule(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load schedule: %w", err)
	}
	today := timerules.DateKey(ts, sched.Loc())

	if _, err := s.repo.Get(ctx, userID, today); err == nil {
		return today, nil
	} else if !errors.Is(err, model.ErrSessionNotFound) {
		return "", fmt.Errorf("failed to load attendance session: %w", err)
	}

	yesterday := timerules.DateKey(ts.In(sched.Loc()).AddDate(0, 0, -1), sched.Loc())
	prev, err := s.repo.Get(ctx, userID, yesterday)
	if err == nil && prev.Status.Active() {
		return yesterday, nil
	}
	if err != nil && !errors.Is(err, model.ErrSessionNotFound) {
		return "", fmt.Errorf("failed to load attendance session: %w", err)
	}
	return today, nil
}

func (s *AttendanceService) validatePunch(userID string, p model.Punch) error {
	var errs model.ValidationErrors
	if userID == "" {
		errs = append(errs, model.ValidationError{Field: "userId", Message: "userId is required"})
	}
	if p.Timestamp.IsZero() {
		errs = append(errs, model.ValidationError{Field: "timestamp", Message: "timestamp is required"})
	} else if p.Timestamp.After(s.now().Add(maxClockSkew)) {
		errs = append(errs, model.ValidationError{Field: "timestamp", Message: "timestamp is in the future"})
	}
	switch p.Method {
	case model.MethodQR, model.MethodGeofence, model.MethodWeb, model.MethodManual:
	default:
		errs = append(errs, model.ValidationError{Field: "method", Message: fmt.Sprintf("unknown method %q", p.Method)})
	}
	if p.Location != nil && (p.Location.Latitude < -90 || p.Location.Latitude > 90 || p.Location.Longitude < -180 || p.Location.Longitude > 180) {
		errs = append(errs, model.ValidationError{Field: "location", Message: "coordinates out of range"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
