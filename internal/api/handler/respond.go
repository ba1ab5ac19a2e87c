package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"attendance.service/internal/core/model"
	"attendance.service/pkg/telemetry"
	"github.com/rs/zerolog/log"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps service errors onto HTTP status codes. Internal errors are logged
// and hidden from the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs model.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: model.ErrInvalidInput.Error(), Fields: verrs.ToMap()})
	case errors.Is(err, model.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case model.IsStateConflict(err), errors.Is(err, model.ErrVersionConflict), errors.Is(err, model.ErrDuplicateSession):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrSessionNotFound), errors.Is(err, model.ErrSnapshotNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrBusy):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: model.ErrBusy.Error()})
	default:
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// decodeBody decodes an optional JSON body. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.Invalid("body", "invalid request body: "+err.Error())
	}
	return nil
}

// Identity requires the caller identity header and attaches it to the request context,
// the active span and the request logger.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: UserIDHeader + " header is required"})
			return
		}
		ctx := telemetry.WithUserID(r.Context(), userID)
		l := log.Ctx(ctx).With().Str("user_id", userID).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(ctx)))
	})
}

func callerID(r *http.Request) string {
	return telemetry.GetUserIDFromContext(r.Context())
}
