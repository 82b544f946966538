package websocket

import (
	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

// EventBroadcaster handles broadcasting WebSocket events.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// BroadcastReconcileCompleted sends a reconcile completed event. A pass that
// failed for some staff members is reported with status "partial".
func (b *EventBroadcaster) BroadcastReconcileCompleted(pass *models.PassResult) {
	payload := ReconcilePayload{
		Status:    "success",
		From:      pass.From,
		To:        pass.To,
		Processed: pass.Totals.Processed,
		Conflicts: pass.Totals.Conflicts,
		Updates:   pass.Totals.Updates,
		Cancelled: pass.Totals.Cancelled,
		Skipped:   pass.Skipped,
		Failed:    pass.Failed,
	}
	if len(pass.Failed) > 0 {
		payload.Status = "partial"
	}

	b.broadcast(NewMessage(TypeReconcileCompleted, payload))
}

// BroadcastReconcileError sends a reconcile error event for a pass that
// could not run at all.
func (b *EventBroadcaster) BroadcastReconcileError(err error) {
	b.broadcast(NewMessage(TypeReconcileError, ReconcileErrorPayload{
		Error:   "reconcile_error",
		Message: err.Error(),
	}))
}

// BroadcastRetryCompleted sends a retry pass completed event.
func (b *EventBroadcaster) BroadcastRetryCompleted(result models.RetryResult) {
	b.broadcast(NewMessage(TypeRetryCompleted, RetryPayload(result)))
}

// BroadcastAuditEntry sends an audit entry to all connected clients.
func (b *EventBroadcaster) BroadcastAuditEntry(entry models.AuditEntry) {
	payload := AuditPayload{
		Level:   string(entry.Level),
		Source:  entry.Source,
		Message: entry.Message,
		Context: entry.Context,
	}
	if entry.BookingID != nil {
		payload.BookingID = *entry.BookingID
	}
	if entry.StaffID != nil {
		payload.StaffID = *entry.StaffID
	}

	b.broadcast(NewMessage(TypeAuditEntry, payload))
}

// broadcast sends a message to all connected clients.
func (b *EventBroadcaster) broadcast(msg Message) {
	if b == nil || b.hub == nil {
		return
	}

	data, err := msg.JSON()
	if err != nil {
		b.hub.logger.Error("encoding websocket message", "type", msg.Type, "err", err)
		return
	}

	b.hub.Broadcast(data)
}
