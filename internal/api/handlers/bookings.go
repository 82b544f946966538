package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/booking-calendar-sync/backend/internal/api/middleware"
	"github.com/booking-calendar-sync/backend/internal/logging"
	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// BookingLister lists bookings by status.
type BookingLister interface {
	ListByStatus(ctx context.Context, status string) ([]models.Booking, error)
}

// AuditReader returns the most recent audit entries.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// ListBookings returns the bookings in the status given by the status query
// parameter, defaulting to conflicted.
func ListBookings(store BookingLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = models.BookingStatusConflicted
		}
		if !models.ValidBookingStatus(status) {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Unknown booking status: "+status)
			return
		}

		bookings, err := store.ListByStatus(r.Context(), status)
		if err != nil {
			logging.FromContext(r.Context(), nil).Error("listing bookings failed", "status", status, "err", err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query bookings")
			return
		}
		if bookings == nil {
			bookings = []models.Booking{}
		}

		writeJSON(w, http.StatusOK, bookings)
	}
}

// ListAudit returns the newest audit entries, limited by the limit query
// parameter.
func ListAudit(reader AuditReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultAuditLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "limit must be a positive integer")
				return
			}
			limit = min(n, maxAuditLimit)
		}

		entries, err := reader.Recent(r.Context(), limit)
		if err != nil {
			logging.FromContext(r.Context(), nil).Error("listing audit entries failed", "err", err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query audit log")
			return
		}
		if entries == nil {
			entries = []models.AuditEntry{}
		}

		writeJSON(w, http.StatusOK, entries)
	}
}
