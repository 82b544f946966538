package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

// Retry bookkeeping keys in booking_meta.
const (
	metaRetryAttempts    = "caldav_retry_attempts"
	metaRetryLastAttempt = "caldav_retry_last_attempt"
)

// MetaRepository is a key-value store of auxiliary per-booking metadata.
type MetaRepository struct {
	BaseRepository
}

// NewMetaRepository creates a new booking metadata repository.
func NewMetaRepository(db *DB) *MetaRepository {
	return &MetaRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Get returns all metadata stored for a booking.
func (r *MetaRepository) Get(ctx context.Context, bookingID string) (map[string]string, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT meta_key, meta_value FROM booking_meta WHERE booking_id = ?
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("querying booking meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning booking meta: %w", err)
		}
		meta[key] = value
	}

	return meta, rows.Err()
}

// Set writes a single metadata value.
func (r *MetaRepository) Set(ctx context.Context, bookingID, key, value string) error {
	return r.set(ctx, r.DB(), bookingID, key, value)
}

func (r *MetaRepository) set(ctx context.Context, q Queryable, bookingID, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO booking_meta (booking_id, meta_key, meta_value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(booking_id, meta_key) DO UPDATE SET
			meta_value = excluded.meta_value, updated_at = excluded.updated_at
	`, bookingID, key, value, r.Now())
	if err != nil {
		return fmt.Errorf("storing booking meta %s: %w", key, err)
	}
	return nil
}

// GetRetryState returns the retry bookkeeping of a booking. A booking that
// was never retried has zero attempts and a zero last-attempt time.
func (r *MetaRepository) GetRetryState(ctx context.Context, bookingID string) (models.RetryState, error) {
	state := models.RetryState{BookingID: bookingID}

	meta, err := r.Get(ctx, bookingID)
	if err != nil {
		return state, err
	}

	if v, ok := meta[metaRetryAttempts]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			state.Attempts = n
		}
	}
	if v, ok := meta[metaRetryLastAttempt]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			state.LastAttempt = t.UTC()
		}
	}

	return state, nil
}

// SaveRetryState writes the retry bookkeeping of a booking.
func (r *MetaRepository) SaveRetryState(ctx context.Context, state models.RetryState) error {
	return r.Transaction(ctx, func(tx *sql.Tx) error {
		if err := r.set(ctx, tx, state.BookingID, metaRetryAttempts, strconv.Itoa(state.Attempts)); err != nil {
			return err
		}
		return r.set(ctx, tx, state.BookingID, metaRetryLastAttempt, state.LastAttempt.UTC().Format(time.RFC3339Nano))
	})
}

// ClearRetryState removes the retry bookkeeping of a booking.
func (r *MetaRepository) ClearRetryState(ctx context.Context, bookingID string) error {
	_, err := r.DB().ExecContext(ctx, `
		DELETE FROM booking_meta WHERE booking_id = ? AND meta_key IN (?, ?)
	`, bookingID, metaRetryAttempts, metaRetryLastAttempt)
	if err != nil {
		return fmt.Errorf("clearing retry state: %w", err)
	}
	return nil
}
