// Package audit records what the sync engines did, for operators.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/booking-calendar-sync/backend/internal/storage/models"
	"github.com/booking-calendar-sync/backend/internal/websocket"
)

// persistTimeout bounds a single audit write.
const persistTimeout = 5 * time.Second

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	Recent(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// Sink writes audit entries to the store, mirrors them to the structured log
// and pushes warnings and errors to connected operators.
type Sink struct {
	store       Store
	broadcaster *websocket.EventBroadcaster
	logger      *slog.Logger
}

// NewSink creates a new audit sink. hub may be nil.
func NewSink(store Store, hub *websocket.Hub, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}

	var broadcaster *websocket.EventBroadcaster
	if hub != nil {
		broadcaster = websocket.NewEventBroadcaster(hub)
	}

	return &Sink{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger.With("component", "audit"),
	}
}

// Log records an entry. Failures are logged and never returned; empty
// bookingID and staffID are stored as NULL.
func (s *Sink) Log(ctx context.Context, level models.AuditLevel, source, message string, fields map[string]any, bookingID, staffID string) {
	entry := models.AuditEntry{
		Level:   level,
		Source:  source,
		Message: message,
		Context: fields,
	}
	if bookingID != "" {
		entry.BookingID = &bookingID
	}
	if staffID != "" {
		entry.StaffID = &staffID
	}

	s.mirror(ctx, entry)

	// The entry is kept even when the pass that produced it is being
	// cancelled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.Append(writeCtx, &entry); err != nil {
		s.logger.Error("failed to persist audit entry", "source", source, "message", message, "err", err)
	}

	if s.broadcaster != nil && (level == models.AuditLevelWarn || level == models.AuditLevelError) {
		s.broadcaster.BroadcastAuditEntry(entry)
	}
}

// Recent returns the newest entries, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	return s.store.Recent(ctx, limit)
}

func (s *Sink) mirror(ctx context.Context, entry models.AuditEntry) {
	attrs := []any{"source", entry.Source}
	if entry.BookingID != nil {
		attrs = append(attrs, "booking_id", *entry.BookingID)
	}
	if entry.StaffID != nil {
		attrs = append(attrs, "staff_id", *entry.StaffID)
	}
	for k, v := range entry.Context {
		attrs = append(attrs, k, v)
	}
	s.logger.Log(ctx, slogLevel(entry.Level), entry.Message, attrs...)
}

func slogLevel(level models.AuditLevel) slog.Level {
	switch level {
	case models.AuditLevelDebug:
		return slog.LevelDebug
	case models.AuditLevelWarn:
		return slog.LevelWarn
	case models.AuditLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
