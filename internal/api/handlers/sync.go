package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/booking-calendar-sync/backend/internal/api/middleware"
	"github.com/booking-calendar-sync/backend/internal/calendar"
	"github.com/booking-calendar-sync/backend/internal/logging"
	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

// ReconcileTrigger runs a reconciliation pass on demand. Zero bounds select
// the default rolling window.
type ReconcileTrigger interface {
	Trigger(ctx context.Context, from, to time.Time) (*models.PassResult, error)
}

// RetryTrigger runs a retry pass on demand.
type RetryTrigger interface {
	Trigger(ctx context.Context) (*models.RetryResult, error)
}

// ReconcileResponse is returned by POST /api/reconcile.
type ReconcileResponse struct {
	Status string             `json:"status"` // "success" or "partial"
	Result *models.PassResult `json:"result"`
	Errors []string           `json:"errors,omitempty"`
}

// TriggerReconcile runs a reconciliation pass over the window given by the
// optional RFC3339 from/to query parameters.
func TriggerReconcile(trigger ReconcileTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := parseTimeParam(r, "from")
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "from must be an RFC3339 timestamp")
			return
		}
		to, err := parseTimeParam(r, "to")
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "to must be an RFC3339 timestamp")
			return
		}

		pass, err := trigger.Trigger(r.Context(), from, to)

		var partial *calendar.PartialFailureError
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, ReconcileResponse{Status: "success", Result: pass})
		case errors.As(err, &partial):
			resp := ReconcileResponse{Status: "partial", Result: pass}
			for i, id := range partial.StaffIDs {
				resp.Errors = append(resp.Errors, id+": "+partial.Errs[i].Error())
			}
			writeJSON(w, http.StatusOK, resp)
		case errors.Is(err, calendar.ErrInvalidWindow):
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
		default:
			logging.FromContext(r.Context(), nil).Error("reconciliation request failed", "err", err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Reconciliation failed")
		}
	}
}

// TriggerRetry runs a retry pass over bookings in failed_sync.
func TriggerRetry(trigger RetryTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := trigger.Trigger(r.Context())
		if err != nil {
			logging.FromContext(r.Context(), nil).Error("retry request failed", "err", err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Retry pass failed")
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
