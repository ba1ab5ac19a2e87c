package repository

import (
	"context"

	"attendance.service/internal/core/model"
)

// Repository is the primary store contract: durable and authoritative.
// There is at most one session per (userID, dateKey).
type Repository interface {
	// Get returns model.ErrSessionNotFound when the user has no record for the day.
	Get(ctx context.Context, userID, dateKey string) (*model.AttendanceSession, error)
	// Create inserts a new session; a second session for the same user-day fails with model.ErrDuplicateSession.
	Create(ctx context.Context, s model.AttendanceSession) error
	// Update is a compare-and-swap on version: it succeeds only if the stored version equals expectedVersion.
	Update(ctx context.Context, s model.AttendanceSession, expectedVersion int64) error
	// History lists a user's sessions, newest day first.
	History(ctx context.Context, userID string, filter model.HistoryFilter) ([]model.AttendanceSession, error)
	// ListByDate returns every session of a day, ordered by user.
	ListByDate(ctx context.Context, dateKey string) ([]model.AttendanceSession, error)
}
