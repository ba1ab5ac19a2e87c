package repository

import (
	"context"
	"sort"
	"sync"

	"attendance.service/internal/core/model"
)

// MemoryRepository is an in-process primary store with the same uniqueness and
// compare-and-swap guarantees as the SQL implementation. Records are deep-copied
// on the way in and out.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]model.AttendanceSession
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]model.AttendanceSession)}
}

func memoryKey(userID, dateKey string) string {
	return userID + "|" + dateKey
}

func (r *MemoryRepository) Get(_ context.Context, userID, dateKey string) (*model.AttendanceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[memoryKey(userID, dateKey)]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	out := s.Clone()
	return &out, nil
}

func (r *MemoryRepository) Create(_ context.Context, s model.AttendanceSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memoryKey(s.UserID, s.DateKey)
	if _, exists := r.sessions[key]; exists {
		return model.ErrDuplicateSession
	}
	r.sessions[key] = s.Clone()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, s model.AttendanceSession, expectedVersion int64) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memoryKey(s.UserID, s.DateKey)
	current, ok := r.sessions[key]
	if !ok || current.ID != s.ID || current.Version != expectedVersion {
		return model.ErrVersionConflict
	}
	next := s.Clone()
	next.CreatedAt = current.CreatedAt
	r.sessions[key] = next
	return nil
}

func (r *MemoryRepository) History(_ context.Context, userID string, filter model.HistoryFilter) ([]model.AttendanceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []model.AttendanceSession
	for _, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		if filter.StartDate != nil && *filter.StartDate != "" && s.DateKey < *filter.StartDate {
			continue
		}
		if filter.EndDate != nil && *filter.EndDate != "" && s.DateKey > *filter.EndDate {
			continue
		}
		matched = append(matched, s.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].DateKey > matched[j].DateKey })

	out := []model.AttendanceSession{}
	if filter.Skip >= len(matched) {
		return out, nil
	}
	matched = matched[filter.Skip:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return append(out, matched...), nil
}

func (r *MemoryRepository) ListByDate(_ context.Context, dateKey string) ([]model.AttendanceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []model.AttendanceSession{}
	for _, s := range r.sessions {
		if s.DateKey == dateKey {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Count returns the number of stored sessions.
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

var _ Repository = (*MemoryRepository)(nil)
