package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeReconcileCompleted MessageType = "reconcile.completed"
	TypeReconcileError     MessageType = "reconcile.error"
	TypeRetryCompleted     MessageType = "retry.completed"
	TypeAuditEntry         MessageType = "audit.entry"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReconcilePayload is the payload for reconcile.completed events.
type ReconcilePayload struct {
	Status    string    `json:"status"` // "success" or "partial"
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Processed int       `json:"processed"`
	Conflicts int       `json:"conflicts"`
	Updates   int       `json:"updates"`
	Cancelled int       `json:"cancelled"`
	Skipped   []string  `json:"skipped,omitempty"`
	Failed    []string  `json:"failed,omitempty"`
}

// ReconcileErrorPayload is the payload for reconcile.error events.
type ReconcileErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RetryPayload is the payload for retry.completed events.
type RetryPayload struct {
	Scanned   int `json:"scanned"`
	Skipped   int `json:"skipped"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// AuditPayload is the payload for audit.entry events.
type AuditPayload struct {
	Level     string         `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	BookingID string         `json:"booking_id,omitempty"`
	StaffID   string         `json:"staff_id,omitempty"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
