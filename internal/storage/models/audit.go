package models

import (
	"time"
)

// AuditLevel is the severity recorded with an audit entry.
type AuditLevel string

// Audit levels
const (
	AuditLevelDebug AuditLevel = "debug"
	AuditLevelInfo  AuditLevel = "info"
	AuditLevelWarn  AuditLevel = "warn"
	AuditLevelError AuditLevel = "error"
)

// AuditEntry is a persisted record of something the sync engines did or saw.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Level     AuditLevel     `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	BookingID *string        `json:"booking_id,omitempty"`
	StaffID   *string        `json:"staff_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// RetryState is the retry bookkeeping kept for a booking in failed_sync.
type RetryState struct {
	BookingID   string    `json:"booking_id"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
}

// RetryResult contains outcome counters of a retry pass.
type RetryResult struct {
	Scanned   int `json:"scanned"`
	Skipped   int `json:"skipped"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Exhausted counts bookings past the configured attempt ceiling.
	Exhausted int `json:"exhausted"`
}
