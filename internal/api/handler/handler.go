package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"attendance.service/internal/core"
	"attendance.service/internal/core/model"
)

// AttendanceHandler serves the self-service attendance endpoints. The acting user is
// always the caller identified by the Identity middleware.
type AttendanceHandler struct {
	Service *core.AttendanceService
	// Now stamps punches that arrive without a timestamp.
	Now func() time.Time
}

type PunchRequest struct {
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
	Method     model.PunchMethod `json:"method"`
	Location   *model.Location   `json:"location,omitempty"`
	DeviceInfo *string           `json:"deviceInfo,omitempty"`
}

type BreakRequest struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (h *AttendanceHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req PunchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Service.CheckIn(r.Context(), core.CheckInInput{
		UserID:     callerID(r),
		Timestamp:  h.stamp(req.Timestamp),
		Method:     h.method(req.Method),
		Location:   req.Location,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *AttendanceHandler) StartBreak(w http.ResponseWriter, r *http.Request) {
	var req BreakRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Service.StartBreak(r.Context(), callerID(r), h.stamp(req.Timestamp))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AttendanceHandler) EndBreak(w http.ResponseWriter, r *http.Request) {
	var req BreakRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Service.EndBreak(r.Context(), callerID(r), h.stamp(req.Timestamp))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AttendanceHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	var req PunchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Service.CheckOut(r.Context(), core.CheckOutInput{
		UserID:     callerID(r),
		Timestamp:  h.stamp(req.Timestamp),
		Method:     h.method(req.Method),
		Location:   req.Location,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Status returns today's session. A user who has not checked in gets a NOT_STARTED body.
func (h *AttendanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	s, err := h.Service.GetStatus(r.Context(), callerID(r))
	if errors.Is(err, model.ErrSessionNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"userId": callerID(r), "currentStatus": model.StatusNotStarted})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *AttendanceHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.HistoryFilter{}
	if v := q.Get("start"); v != "" {
		filter.StartDate = &v
	}
	if v := q.Get("end"); v != "" {
		filter.EndDate = &v
	}
	var errs model.ValidationErrors
	for field, dst := range map[string]*int{"limit": &filter.Limit, "skip": &filter.Skip} {
		raw := q.Get(field)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, model.ValidationError{Field: field, Message: field + " must be a number"})
			continue
		}
		*dst = n
	}
	if len(errs) > 0 {
		writeError(w, r, errs)
		return
	}
	if err := filter.Normalize(); err != nil {
		writeError(w, r, err)
		return
	}

	sessions, err := h.Service.GetHistory(r.Context(), callerID(r), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sessions, "limit": filter.Limit, "skip": filter.Skip})
}

func (h *AttendanceHandler) stamp(ts *time.Time) time.Time {
	if ts != nil && !ts.IsZero() {
		return *ts
	}
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *AttendanceHandler) method(m model.PunchMethod) model.PunchMethod {
	if m == "" {
		return model.MethodWeb
	}
	return m
}
