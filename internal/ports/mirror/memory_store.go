package mirror

import (
	"context"
	"sort"
	"sync"

	"attendance.service/internal/core/model"
)

// MemoryStore is a process-local mirror. Fail can be set to make every write fail.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]model.MirrorSnapshot
	fail  error
	// writes counts applied Publish and Replace calls.
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]model.MirrorSnapshot)}
}

// Fail makes subsequent writes return err. Passing nil restores normal operation.
func (m *MemoryStore) Fail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *MemoryStore) Publish(_ context.Context, snap model.MirrorSnapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return false, m.fail
	}
	if cur, ok := m.snaps[snap.UserID]; ok && !snap.Supersedes(cur) {
		return false, nil
	}
	m.snaps[snap.UserID] = copySnapshot(snap)
	m.writes++
	return true, nil
}

func (m *MemoryStore) Replace(_ context.Context, snap model.MirrorSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.snaps[snap.UserID] = copySnapshot(snap)
	m.writes++
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*model.MirrorSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[userID]
	if !ok {
		return nil, model.ErrSnapshotNotFound
	}
	out := copySnapshot(snap)
	return &out, nil
}

func (m *MemoryStore) List(_ context.Context) ([]model.MirrorSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.MirrorSnapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		out = append(out, copySnapshot(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) Summary(ctx context.Context, dateKey string) (model.StatusSummary, error) {
	snaps, err := m.List(ctx)
	if err != nil {
		return model.StatusSummary{}, err
	}
	return model.Summarize(dateKey, snaps), nil
}

// Delete removes a snapshot, simulating a lost mirror entry.
func (m *MemoryStore) Delete(userID string) {
	m.mu.Lock()
	delete(m.snaps, userID)
	m.mu.Unlock()
}

// Writes returns how many writes took effect.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func copySnapshot(s model.MirrorSnapshot) model.MirrorSnapshot {
	out := s
	if s.CheckInTime != nil {
		t := *s.CheckInTime
		out.CheckInTime = &t
	}
	if s.CheckOutTime != nil {
		t := *s.CheckOutTime
		out.CheckOutTime = &t
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
