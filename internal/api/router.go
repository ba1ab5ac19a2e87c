package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"attendance.service/internal/api/handler"
)

// Pinger reports whether a backing store is reachable.
type Pinger func(ctx context.Context) error

// NewRouter sets up the gorilla/mux router and defines all API routes.
func NewRouter(attendance *handler.AttendanceHandler, admin *handler.AdminHandler, checks map[string]Pinger) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	self := api.PathPrefix("/attendance").Subrouter()
	self.Use(handler.Identity)
	self.HandleFunc("/check-in", attendance.CheckIn).Methods(http.MethodPost)
	self.HandleFunc("/break/start", attendance.StartBreak).Methods(http.MethodPost)
	self.HandleFunc("/break/end", attendance.EndBreak).Methods(http.MethodPost)
	self.HandleFunc("/check-out", attendance.CheckOut).Methods(http.MethodPost)
	self.HandleFunc("/status", attendance.Status).Methods(http.MethodGet)
	self.HandleFunc("/history", attendance.History).Methods(http.MethodGet)

	api.HandleFunc("/admin/attendance/{userId}/{date}", admin.Override).Methods(http.MethodPut)
	api.HandleFunc("/consistency", admin.Consistency).Methods(http.MethodPost)
	api.HandleFunc("/live/summary", admin.LiveSummary).Methods(http.MethodGet)

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(name + " is unavailable."))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Service is operational."))
	}).Methods(http.MethodGet)

	return r
}
