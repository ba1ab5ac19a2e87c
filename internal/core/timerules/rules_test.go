package timerules

import (
	"testing"
	"time"

	"attendance.service/internal/core/model"
	"github.com/stretchr/testify/assert"
)

func jakarta(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func schedule08(loc *time.Location) model.ScheduleConfig {
	s := model.DefaultSchedule(loc)
	s.StartTime = model.ClockTime{Hour: 8}
	s.EndTime = model.ClockTime{Hour: 17}
	s.GracePeriodMinutes = 15
	return s
}

func TestClassifyCheckIn(t *testing.T) {
	loc := jakarta(t)
	s := schedule08(loc)

	tests := []struct {
		name     string
		at       time.Time
		wantLate bool
		wantMins int
	}{
		{"early", time.Date(2026, 3, 2, 7, 45, 0, 0, loc), false, 0},
		{"on time", time.Date(2026, 3, 2, 8, 0, 0, 0, loc), false, 0},
		{"inside grace", time.Date(2026, 3, 2, 8, 14, 0, 0, loc), false, 14},
		{"grace boundary", time.Date(2026, 3, 2, 8, 15, 0, 0, loc), false, 15},
		{"after grace", time.Date(2026, 3, 2, 8, 16, 0, 0, loc), true, 16},
		{"partial minute floors", time.Date(2026, 3, 2, 8, 30, 59, 0, loc), true, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyCheckIn(tt.at, s)
			assert.Equal(t, tt.wantLate, got.IsLate)
			assert.Equal(t, tt.wantMins, got.LateMinutes)
		})
	}
}

func TestClassifyCheckIn_UsesScheduleTimezone(t *testing.T) {
	loc := jakarta(t)
	s := schedule08(loc)

	// 01:16 UTC is 08:16 in Jakarta (UTC+7); a naive UTC comparison would call this early.
	got := ClassifyCheckIn(time.Date(2026, 3, 2, 1, 16, 0, 0, time.UTC), s)
	assert.True(t, got.IsLate)
	assert.Equal(t, 16, got.LateMinutes)

	// 23:30 UTC on March 1 is already March 2 locally, 06:30, so not late.
	got = ClassifyCheckIn(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC), s)
	assert.False(t, got.IsLate)
	assert.Equal(t, "2026-03-02", DateKey(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC), loc))
}

func TestComputeWorkMinutes(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }
	ptr := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		name      string
		checkIn   time.Time
		end       time.Time
		breaks    []model.Break
		wantWork  int
		wantBreak int
	}{
		{
			name:      "single lunch break",
			checkIn:   day(9, 0),
			end:       day(17, 0),
			breaks:    []model.Break{{Start: day(12, 0), End: ptr(day(12, 30))}},
			wantWork:  450,
			wantBreak: 30,
		},
		{
			name:      "no breaks",
			checkIn:   day(9, 0),
			end:       day(10, 0),
			wantWork:  60,
			wantBreak: 0,
		},
		{
			name:      "open break uses end provisionally",
			checkIn:   day(9, 0),
			end:       day(12, 20),
			breaks:    []model.Break{{Start: day(12, 0)}},
			wantWork:  180,
			wantBreak: 20,
		},
		{
			name:      "several breaks",
			checkIn:   day(8, 0),
			end:       day(16, 0),
			breaks:    []model.Break{{Start: day(10, 0), End: ptr(day(10, 15))}, {Start: day(12, 0), End: ptr(day(12, 45))}},
			wantWork:  420,
			wantBreak: 60,
		},
		{
			name:      "floors at zero",
			checkIn:   day(9, 0),
			end:       day(9, 10),
			breaks:    []model.Break{{Start: day(8, 0), End: ptr(day(9, 10))}},
			wantWork:  0,
			wantBreak: 70,
		},
		{
			name:     "end before check-in",
			checkIn:  day(9, 0),
			end:      day(8, 0),
			wantWork: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			work, brk := ComputeWorkMinutes(tt.checkIn, tt.end, tt.breaks)
			assert.Equal(t, tt.wantWork, work)
			assert.Equal(t, tt.wantBreak, brk)
		})
	}
}

func TestClassifyCheckOut(t *testing.T) {
	s := schedule08(time.UTC)

	got := ClassifyCheckOut(time.Date(2026, 3, 2, 16, 30, 0, 0, time.UTC), s)
	assert.True(t, got.IsEarlyOut)
	assert.Equal(t, 30, got.EarlyOutMinutes)

	got = ClassifyCheckOut(time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC), s)
	assert.False(t, got.IsEarlyOut)
	assert.Zero(t, got.EarlyOutMinutes)
}

func TestIsWorkDay(t *testing.T) {
	loc := jakarta(t)
	s := schedule08(loc)

	assert.True(t, IsWorkDay(time.Date(2026, 3, 2, 10, 0, 0, 0, loc), s))  // Monday
	assert.False(t, IsWorkDay(time.Date(2026, 3, 7, 10, 0, 0, 0, loc), s)) // Saturday
	// Friday 20:00 UTC is Saturday 03:00 in Jakarta.
	assert.False(t, IsWorkDay(time.Date(2026, 3, 6, 20, 0, 0, 0, time.UTC), s))
}

func TestClassify_DayOff(t *testing.T) {
	s := schedule08(time.UTC)
	saturday := time.Date(2026, 3, 7, 11, 0, 0, 0, time.UTC)

	assert.Equal(t, CheckInClass{}, ClassifyCheckIn(saturday, s))
	assert.Equal(t, CheckOutClass{}, ClassifyCheckOut(saturday.Add(2*time.Hour), s))
}

func TestPreviousDateKey(t *testing.T) {
	got, err := PreviousDateKey("2026-03-01")
	assert.NoError(t, err)
	assert.Equal(t, "2026-02-28", got)

	got, err = PreviousDateKey("2027-01-01")
	assert.NoError(t, err)
	assert.Equal(t, "2026-12-31", got)

	_, err = PreviousDateKey("03/01/2026")
	assert.ErrorAs(t, err, new(model.ValidationErrors))
}
