// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"log/slog"
	"time"

	"github.com/gorilla/mux"

	"github.com/booking-calendar-sync/backend/internal/api/handlers"
	"github.com/booking-calendar-sync/backend/internal/api/middleware"
	"github.com/booking-calendar-sync/backend/internal/websocket"
)

// HealthPath is served without authentication for container health checks.
const HealthPath = "/api/health"

// Services holds everything the API handlers read from or trigger.
type Services struct {
	DB           handlers.Pinger
	Hub          *websocket.Hub
	Bookings     handlers.BookingLister
	Audit        handlers.AuditReader
	Availability handlers.BusyReader
	Reconcile    handlers.ReconcileTrigger
	Retry        handlers.RetryTrigger
	// NextRun is optional; usually the reconcile scheduler.
	NextRun handlers.NextRunner

	// Location anchors availability dates.
	Location *time.Location

	AdminUsername     string
	AdminPasswordHash string

	Logger *slog.Logger
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(svc Services) *mux.Router {
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	r := mux.NewRouter()

	r.Use(middleware.Logging(logger))
	r.Use(middleware.ErrorRecovery(logger))
	r.Use(middleware.BasicAuth(svc.AdminUsername, svc.AdminPasswordHash, HealthPath))

	api := r.PathPrefix("/api").Subrouter()

	var hub handlers.ClientCounter
	if svc.Hub != nil {
		hub = svc.Hub
	}
	api.HandleFunc("/health", handlers.HealthCheck(svc.DB, hub, svc.NextRun)).Methods("GET")

	api.HandleFunc("/reconcile", handlers.TriggerReconcile(svc.Reconcile)).Methods("POST")
	api.HandleFunc("/retry", handlers.TriggerRetry(svc.Retry)).Methods("POST")

	api.HandleFunc("/bookings", handlers.ListBookings(svc.Bookings)).Methods("GET")
	api.HandleFunc("/audit", handlers.ListAudit(svc.Audit)).Methods("GET")
	api.HandleFunc("/staff/{id}/availability", handlers.GetAvailability(svc.Availability, svc.Location)).Methods("GET")

	if svc.Hub != nil {
		api.HandleFunc("/ws", handlers.WebSocketUpgrade(svc.Hub)).Methods("GET")
	}

	return r
}
