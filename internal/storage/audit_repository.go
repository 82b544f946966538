package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

// AuditRepository persists audit log entries.
type AuditRepository struct {
	BaseRepository
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Append inserts an audit entry and fills in its ID and timestamp.
func (r *AuditRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.Now()
	}

	payload := ""
	if len(e.Context) > 0 {
		data, err := json.Marshal(e.Context)
		if err != nil {
			return fmt.Errorf("encoding audit context: %w", err)
		}
		payload = string(data)
	}

	result, err := r.DB().ExecContext(ctx, `
		INSERT INTO audit_log (level, source, message, context, booking_id, staff_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(e.Level), e.Source, e.Message, payload,
		nullableString(e.BookingID), nullableString(e.StaffID), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// Recent returns the newest audit entries, newest first.
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, level, source, message, context, booking_id, staff_id, created_at
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var level, payload string
		var bookingID, staffID sql.NullString
		if err := rows.Scan(&e.ID, &level, &e.Source, &e.Message, &payload, &bookingID, &staffID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Level = models.AuditLevel(level)
		if payload != "" {
			// Context is informational; a corrupt payload should not hide the entry.
			_ = json.Unmarshal([]byte(payload), &e.Context)
		}
		if bookingID.Valid {
			e.BookingID = &bookingID.String
		}
		if staffID.Valid {
			e.StaffID = &staffID.String
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
