package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/booking-calendar-sync/backend/internal/api/middleware"
	"github.com/booking-calendar-sync/backend/internal/availability"
	"github.com/booking-calendar-sync/backend/internal/logging"
)

// BusyReader answers per-day availability queries.
type BusyReader interface {
	Busy(ctx context.Context, staffID string, day time.Time) ([]availability.Interval, error)
}

// AvailabilityResponse lists the busy intervals of one staff member on one day.
type AvailabilityResponse struct {
	StaffID string                  `json:"staff_id"`
	Date    string                  `json:"date"`
	Busy    []availability.Interval `json:"busy"`
}

// GetAvailability returns the busy intervals of a staff member on the day
// given by the date query parameter (YYYY-MM-DD in loc).
func GetAvailability(reader BusyReader, loc *time.Location) http.HandlerFunc {
	if loc == nil {
		loc = time.Local
	}
	return func(w http.ResponseWriter, r *http.Request) {
		staffID := mux.Vars(r)["id"]

		raw := r.URL.Query().Get("date")
		if raw == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "date is required")
			return
		}
		day, err := time.ParseInLocation(time.DateOnly, raw, loc)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "date must be YYYY-MM-DD")
			return
		}

		busy, err := reader.Busy(r.Context(), staffID, day)
		if err != nil {
			logging.FromContext(r.Context(), nil).Error("availability query failed", "staff_id", staffID, "err", err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to compute availability")
			return
		}
		if busy == nil {
			busy = []availability.Interval{}
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{StaffID: staffID, Date: raw, Busy: busy})
	}
}
