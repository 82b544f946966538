// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger checks that the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ClientCounter reports the number of live feed subscribers.
type ClientCounter interface {
	ClientCount() int
}

// NextRunner reports when the next scheduled reconciliation will start.
type NextRunner interface {
	NextRun() *time.Time
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status          string     `json:"status"`
	DBConnected     bool       `json:"db_connected"`
	FeedClients     int        `json:"feed_clients"`
	NextReconcileAt *time.Time `json:"next_reconcile_at,omitempty"`
}

// HealthCheck returns a handler that performs a health check. hub and
// scheduler may be nil.
func HealthCheck(db Pinger, hub ClientCounter, scheduler NextRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbConnected := db.PingContext(ctx) == nil

		response := HealthResponse{
			Status:      "healthy",
			DBConnected: dbConnected,
		}
		if !dbConnected {
			response.Status = "degraded"
		}
		if hub != nil {
			response.FeedClients = hub.ClientCount()
		}
		if scheduler != nil {
			response.NextReconcileAt = scheduler.NextRun()
		}

		w.Header().Set("Content-Type", "application/json")
		if !dbConnected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
