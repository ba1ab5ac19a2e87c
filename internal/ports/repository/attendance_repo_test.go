package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"attendance.service/internal/core/model"
	"attendance.service/pkg/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRepo(t *testing.T) *AttendanceRepository {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "attendance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewAttendanceRepository(db, DialectSQLite)
	require.NoError(t, repo.Migrate(context.Background()))
	// Migrate is idempotent.
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func stores(t *testing.T) map[string]Repository {
	return map[string]Repository{
		"sqlite": newSQLiteRepo(t),
		"memory": NewMemoryRepository(),
	}
}

func checkedInSession(userID, dateKey string, at time.Time) model.AttendanceSession {
	device := "pixel-8"
	return model.AttendanceSession{
		ID:      uuid.NewString(),
		UserID:  userID,
		DateKey: dateKey,
		CheckIn: &model.Punch{
			Timestamp:  at,
			Method:     model.MethodGeofence,
			Location:   &model.Location{Latitude: -6.2, Longitude: 106.8},
			DeviceInfo: &device,
		},
		Breaks:      []model.Break{},
		Status:      model.StatusCheckedIn,
		IsLate:      true,
		LateMinutes: 16,
		Version:     1,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2026, 3, 2, 8, 16, 0, 0, time.UTC)
			s := checkedInSession("u1", "2026-03-02", at)

			require.NoError(t, repo.Create(ctx, s))

			got, err := repo.Get(ctx, "u1", "2026-03-02")
			require.NoError(t, err)
			assert.Equal(t, s.ID, got.ID)
			assert.Equal(t, model.StatusCheckedIn, got.Status)
			assert.True(t, got.CheckIn.Timestamp.Equal(at))
			assert.Equal(t, model.MethodGeofence, got.CheckIn.Method)
			require.NotNil(t, got.CheckIn.Location)
			assert.InDelta(t, 106.8, got.CheckIn.Location.Longitude, 1e-9)
			require.NotNil(t, got.CheckIn.DeviceInfo)
			assert.Equal(t, "pixel-8", *got.CheckIn.DeviceInfo)
			assert.Nil(t, got.CheckOut)
			assert.True(t, got.IsLate)
			assert.Equal(t, 16, got.LateMinutes)
			assert.Equal(t, int64(1), got.Version)
		})
	}
}

func TestRepository_GetMissing(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Get(context.Background(), "nobody", "2026-03-02")
			assert.ErrorIs(t, err, model.ErrSessionNotFound)
		})
	}
}

func TestRepository_UniquePerUserDay(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
			require.NoError(t, repo.Create(ctx, checkedInSession("u1", "2026-03-02", at)))

			err := repo.Create(ctx, checkedInSession("u1", "2026-03-02", at.Add(time.Minute)))
			assert.ErrorIs(t, err, model.ErrDuplicateSession)

			// Another day for the same user is fine.
			require.NoError(t, repo.Create(ctx, checkedInSession("u1", "2026-03-03", at.Add(24*time.Hour))))
		})
	}
}

func TestRepository_UpdateCompareAndSwap(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
			s := checkedInSession("u1", "2026-03-02", at)
			require.NoError(t, repo.Create(ctx, s))

			next := s.Clone()
			next.Breaks = append(next.Breaks, model.Break{Start: at.Add(3 * time.Hour)})
			next.Status = model.StatusOnBreak
			next.Version = 2
			next.UpdatedAt = at.Add(3 * time.Hour)
			require.NoError(t, repo.Update(ctx, next, 1))

			// A writer still holding version 1 loses.
			stale := s.Clone()
			stale.Version = 2
			assert.ErrorIs(t, repo.Update(ctx, stale, 1), model.ErrVersionConflict)

			got, err := repo.Get(ctx, "u1", "2026-03-02")
			require.NoError(t, err)
			assert.Equal(t, model.StatusOnBreak, got.Status)
			assert.Equal(t, int64(2), got.Version)
			require.Len(t, got.Breaks, 1)
			assert.True(t, got.Breaks[0].Open())
			assert.True(t, got.CreatedAt.Equal(at))
		})
	}
}

func TestRepository_RejectsInvalidRecords(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := checkedInSession("u1", "02/03/2026", time.Now())
			s.Status = "PAUSED"
			err := repo.Create(context.Background(), s)
			assert.ErrorIs(t, err, model.ErrInvalidInput)
		})
	}
}

func TestRepository_HistoryPagination(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				day := start.AddDate(0, 0, i)
				require.NoError(t, repo.Create(ctx, checkedInSession("u1", day.Format(model.DateKeyLayout), day)))
			}
			require.NoError(t, repo.Create(ctx, checkedInSession("u2", "2026-03-02", start)))

			page, err := repo.History(ctx, "u1", model.HistoryFilter{Limit: 2})
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, "2026-03-06", page[0].DateKey)
			assert.Equal(t, "2026-03-05", page[1].DateKey)

			page, err = repo.History(ctx, "u1", model.HistoryFilter{Limit: 2, Skip: 4})
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.Equal(t, "2026-03-02", page[0].DateKey)

			from, to := "2026-03-03", "2026-03-04"
			page, err = repo.History(ctx, "u1", model.HistoryFilter{StartDate: &from, EndDate: &to, Limit: 10})
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, "2026-03-04", page[0].DateKey)
		})
	}
}

func TestRepository_ListByDate(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
			for _, u := range []string{"u3", "u1", "u2"} {
				require.NoError(t, repo.Create(ctx, checkedInSession(u, "2026-03-02", at)))
			}
			require.NoError(t, repo.Create(ctx, checkedInSession("u1", "2026-03-01", at.AddDate(0, 0, -1))))

			got, err := repo.ListByDate(ctx, "2026-03-02")
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, []string{"u1", "u2", "u3"}, []string{got[0].UserID, got[1].UserID, got[2].UserID})
		})
	}
}

func TestSQLiteRepository_ConcurrentCreate(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Create(ctx, checkedInSession("u1", "2026-03-02", at))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, model.ErrDuplicateSession) {
				dupes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 7, dupes)
}
