package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"attendance.service/internal/api/handler"
	"attendance.service/internal/core"
	"attendance.service/internal/core/consistency"
	"attendance.service/internal/core/model"
	"attendance.service/internal/core/schedule"
	"attendance.service/internal/ports/mirror"
	"attendance.service/internal/ports/repository"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noon = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return noon }

type testServer struct {
	router    *mux.Router
	repo      *repository.MemoryRepository
	mirror    *mirror.MemoryStore
	publisher *mirror.Publisher
}

func newTestServer(t *testing.T, checks map[string]Pinger) *testServer {
	t.Helper()
	ts := &testServer{
		repo:   repository.NewMemoryRepository(),
		mirror: mirror.NewMemoryStore(),
	}
	ts.publisher = mirror.NewPublisher(ts.mirror, nil, mirror.PublisherConfig{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Timeout:         time.Second,
	})
	sched := model.DefaultSchedule(time.UTC)
	sched.StartTime = model.ClockTime{Hour: 8}
	svc := core.NewAttendanceService(ts.repo, schedule.StaticSource{Config: sched}, ts.publisher, core.NewKeyedLocker(time.Second)).WithClock(clock)
	validator := consistency.NewValidator(ts.repo, ts.mirror, nil, time.UTC).WithClock(clock)

	ts.router = NewRouter(
		&handler.AttendanceHandler{Service: svc, Now: clock},
		&handler.AdminHandler{Service: svc, Validator: validator, Mirror: ts.mirror, Location: time.UTC, Now: clock},
		checks,
	)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(handler.UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRouter_RequiresIdentity(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/v1/attendance/check-in", "", `{"method":"QR"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_WorkdayFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/v1/attendance/check-in", "u1", `{"timestamp":"2026-03-02T08:20:00Z","method":"QR"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "CHECKED_IN", body["status"])
	assert.Equal(t, true, body["isLate"])
	assert.NotEmpty(t, body["sessionId"])

	rec = ts.do(t, http.MethodPost, "/api/v1/attendance/check-in", "u1", `{"method":"QR"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/attendance/break/start", "u1", `{"timestamp":"2026-03-02T10:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ON_BREAK", decode(t, rec)["status"])

	rec = ts.do(t, http.MethodPost, "/api/v1/attendance/check-out", "u1", `{"method":"QR"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "cannot check out on break")

	rec = ts.do(t, http.MethodPost, "/api/v1/attendance/break/end", "u1", `{"timestamp":"2026-03-02T10:30:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/attendance/status", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CHECKED_IN", decode(t, rec)["currentStatus"])

	// No timestamp: stamped with the server clock.
	rec = ts.do(t, http.MethodPost, "/api/v1/attendance/check-out", "u1", `{"method":"QR"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "CHECKED_OUT", body["status"])
	assert.EqualValues(t, 190, body["actualWorkMinutes"])
	assert.EqualValues(t, 30, body["breakMinutes"])
	assert.Equal(t, true, body["isEarlyOut"])

	ts.publisher.Wait()
	rec = ts.do(t, http.MethodGet, "/api/v1/live/summary", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "2026-03-02", body["dateKey"])
	assert.EqualValues(t, 1, body["counts"].(map[string]any)["CHECKED_OUT"])
}

func TestRouter_Validation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/v1/attendance/check-in", "u1", `{"timestamp":"2026-03-02T13:00:00Z","method":"QR"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["fields"], "timestamp")

	rec = ts.do(t, http.MethodPost, "/api/v1/attendance/check-in", "u1", `{"method":"QR","unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/attendance/check-in", "u1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/attendance/check-out", "u2", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "check-out before check-in")

	rec = ts.do(t, http.MethodGet, "/api/v1/attendance/history?limit=abc", "u1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["fields"], "limit")

	rec = ts.do(t, http.MethodGet, "/api/v1/attendance/history?limit=500", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/v1/admin/attendance/u1/02-03-2026", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/consistency?mode=repair", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_StatusBeforeCheckIn(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/v1/attendance/status", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NOT_STARTED", decode(t, rec)["currentStatus"])
}

func TestRouter_History(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, d := range []string{"2026-02-26", "2026-02-27", "2026-03-02"} {
		s := model.NewSession("u1", d)
		s.ID = "s-" + d
		require.NoError(t, ts.repo.Create(context.Background(), s))
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/attendance/history?start=2026-02-27&limit=5", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 5, body["limit"])
	items := body["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "2026-03-02", items[0].(map[string]any)["dateKey"])
}

func TestRouter_AdminOverrideAndConsistency(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPut, "/api/v1/admin/attendance/u9/2026-03-02", "", `{
		"checkIn": {"timestamp":"2026-03-02T08:00:00Z","method":"MANUAL"},
		"checkOut": {"timestamp":"2026-03-02T16:00:00Z","method":"MANUAL"}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "CHECKED_OUT", body["currentStatus"])
	assert.Equal(t, true, body["isManualEntry"])
	ts.publisher.Wait()

	// Drop the live entry behind the service's back.
	ts.mirror.Delete("u9")

	rec = ts.do(t, http.MethodPost, "/api/v1/consistency?mode=fix&date=2026-03-02", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report consistency.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, consistency.ModeFix, report.Mode)
	assert.Equal(t, 1, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Repaired)

	_, err := ts.mirror.Get(context.Background(), "u9")
	assert.NoError(t, err)
}

func TestRouter_Health(t *testing.T) {
	ts := newTestServer(t, map[string]Pinger{"database": func(context.Context) error { return nil }})
	rec := ts.do(t, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	ts = newTestServer(t, map[string]Pinger{"database": func(context.Context) error { return errors.New("down") }})
	rec = ts.do(t, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database")
}
