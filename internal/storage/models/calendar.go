package models

import (
	"time"
)

// RemoteEvent is a parsed calendar object fetched from the CalDAV server.
type RemoteEvent struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Status      string    `json:"status,omitempty"`
	Sequence    int       `json:"sequence"`
	ETag        string    `json:"etag,omitempty"`
	Href        string    `json:"href,omitempty"`
}

// RemoteStatusCancelled is the STATUS value of a cancelled calendar object.
const RemoteStatusCancelled = "CANCELLED"

// IsCancelled returns true if the remote event was cancelled by its owner.
func (e *RemoteEvent) IsCancelled() bool {
	return e.Status == RemoteStatusCancelled
}

// ReconciliationResult contains outcome counters of a reconciliation pass.
type ReconciliationResult struct {
	StaffID   string `json:"staff_id,omitempty"`
	Processed int    `json:"processed"`
	Conflicts int    `json:"conflicts"`
	Updates   int    `json:"updates"`
	Cancelled int    `json:"cancelled"`
}

// Add accumulates another result's counters into r.
func (r *ReconciliationResult) Add(o ReconciliationResult) {
	r.Processed += o.Processed
	r.Conflicts += o.Conflicts
	r.Updates += o.Updates
	r.Cancelled += o.Cancelled
}

// PassResult is the pass-level outcome of a reconciliation run.
type PassResult struct {
	From        time.Time              `json:"from"`
	To          time.Time              `json:"to"`
	Totals      ReconciliationResult   `json:"totals"`
	Staff       []ReconciliationResult `json:"staff"`
	Skipped     []string               `json:"skipped,omitempty"`
	Failed      []string               `json:"failed,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
}
