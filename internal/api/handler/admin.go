package handler

import (
	"context"
	"net/http"
	"time"

	"attendance.service/internal/core"
	"attendance.service/internal/core/consistency"
	"attendance.service/internal/core/model"
	"attendance.service/internal/core/timerules"
	"attendance.service/internal/ports/mirror"
	"github.com/gorilla/mux"
)

// ConsistencyRunner runs one validation pass.
type ConsistencyRunner interface {
	Run(ctx context.Context, mode consistency.Mode, dateKey string) (consistency.Report, error)
}

// AdminHandler serves operator endpoints. Access control is enforced by the gateway.
type AdminHandler struct {
	Service   *core.AttendanceService
	Validator ConsistencyRunner
	Mirror    mirror.Store
	Location  *time.Location
	Now       func() time.Time
}

type OverrideRequest struct {
	CheckIn  *model.Punch  `json:"checkIn,omitempty"`
	Breaks   []model.Break `json:"breaks,omitempty"`
	CheckOut *model.Punch  `json:"checkOut,omitempty"`
}

// Override replaces the punches of {userId} on {date}.
func (h *AdminHandler) Override(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req OverrideRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := h.Service.AdminOverride(r.Context(), vars["userId"], vars["date"], model.AttendanceSession{
		CheckIn:  req.CheckIn,
		Breaks:   req.Breaks,
		CheckOut: req.CheckOut,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// Consistency runs the validator synchronously: ?mode=report|fix (default report), ?date=YYYY-MM-DD.
func (h *AdminHandler) Consistency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := consistency.ModeReport
	if raw := q.Get("mode"); raw != "" {
		m, err := consistency.ParseMode(raw)
		if err != nil {
			writeError(w, r, model.Invalid("mode", err.Error()))
			return
		}
		mode = m
	}
	dateKey := q.Get("date")
	if dateKey != "" {
		if _, err := time.Parse(model.DateKeyLayout, dateKey); err != nil {
			writeError(w, r, model.Invalid("date", "date must be in YYYY-MM-DD format"))
			return
		}
	}

	report, err := h.Validator.Run(r.Context(), mode, dateKey)
	if err != nil && !report.Cancelled {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// LiveSummary counts today's (or ?date=) live statuses from the mirror.
func (h *AdminHandler) LiveSummary(w http.ResponseWriter, r *http.Request) {
	dateKey := r.URL.Query().Get("date")
	if dateKey == "" {
		dateKey = timerules.DateKey(h.now(), h.Location)
	} else if _, err := time.Parse(model.DateKeyLayout, dateKey); err != nil {
		writeError(w, r, model.Invalid("date", "date must be in YYYY-MM-DD format"))
		return
	}

	sum, err := h.Mirror.Summary(r.Context(), dateKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *AdminHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
