package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

const bookingColumns = `id, staff_id, service_id, customer_name, customer_email,
	start_at, end_at, status, caldav_uid, caldav_etag, created_at, updated_at`

// BookingRepository provides data access for bookings.
type BookingRepository struct {
	BaseRepository
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Create inserts a new booking. An empty ID is replaced with a generated one.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	if !b.Start.Before(b.End) {
		return fmt.Errorf("booking start %s must be before end %s", b.Start, b.End)
	}
	if !models.ValidBookingStatus(b.Status) {
		return fmt.Errorf("invalid booking status %q", b.Status)
	}
	if b.ID == "" {
		b.ID = GenerateID()
	}
	b.Start = b.Start.UTC()
	b.End = b.End.UTC()
	b.CreatedAt = r.Now()
	b.UpdatedAt = b.CreatedAt

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.StaffID, b.ServiceID, b.CustomerName, b.CustomerEmail,
		b.Start, b.End, b.Status, nullableString(b.CalDAVUID), nullableString(b.CalDAVETag),
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting booking: %w", err)
	}

	return nil
}

// GetByID retrieves a booking by its ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying booking: %w", err)
	}
	return b, nil
}

// GetByCalDAVUID retrieves the booking mirrored by the given remote UID.
func (r *BookingRepository) GetByCalDAVUID(ctx context.Context, uid string) (*models.Booking, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE caldav_uid = ?`, uid)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying booking by uid: %w", err)
	}
	return b, nil
}

// ListByStatus retrieves all bookings with the given status, oldest first.
func (r *BookingRepository) ListByStatus(ctx context.Context, status string) ([]models.Booking, error) {
	return r.query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = ?
		ORDER BY updated_at ASC
	`, status)
}

// ListTrackedStaffIDs returns the staff members that own at least one
// externally tracked booking.
func (r *BookingRepository) ListTrackedStaffIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT DISTINCT staff_id FROM bookings
		WHERE caldav_uid IS NOT NULL
		ORDER BY staff_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying tracked staff: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning staff id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ListTrackedInWindow retrieves the externally tracked bookings of a staff
// member that intersect [from, to) and are still subject to diffing. The
// predicate matches the calendar-query time-range, so a booking touching a
// window edge is neither fetched nor diffed.
func (r *BookingRepository) ListTrackedInWindow(ctx context.Context, staffID string, from, to time.Time) ([]models.Booking, error) {
	from, to = from.UTC(), to.UTC()
	return r.query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE staff_id = ?
		  AND caldav_uid IS NOT NULL
		  AND status IN ('confirmed', 'pending', 'conflicted')
		  AND start_at < ?
		  AND end_at > ?
		ORDER BY start_at
	`, staffID, to, from)
}

// FindOverlapping retrieves other tracked, active bookings of a staff member
// that intersect the half-open range [start, end).
func (r *BookingRepository) FindOverlapping(ctx context.Context, staffID string, start, end time.Time, excludeID string) ([]models.Booking, error) {
	return r.query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE staff_id = ?
		  AND id != ?
		  AND caldav_uid IS NOT NULL
		  AND status IN ('confirmed', 'pending')
		  AND start_at < ?
		  AND end_at > ?
		ORDER BY start_at
	`, staffID, excludeID, end.UTC(), start.UTC())
}

// ListBusy retrieves the bookings that occupy staff time inside [from, to).
func (r *BookingRepository) ListBusy(ctx context.Context, staffID string, from, to time.Time) ([]models.Booking, error) {
	return r.query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE staff_id = ?
		  AND status IN ('confirmed', 'pending', 'conflicted', 'failed_sync')
		  AND start_at < ?
		  AND end_at > ?
		ORDER BY start_at
	`, staffID, to.UTC(), from.UTC())
}

// TransitionStatus moves a booking from one status to another. It returns
// false without error when the booking is no longer in the expected status.
func (r *BookingRepository) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	if !models.ValidBookingStatus(to) {
		return false, fmt.Errorf("invalid booking status %q", to)
	}

	result, err := r.DB().ExecContext(ctx, `
		UPDATE bookings SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, r.Now(), id, from)
	if err != nil {
		return false, fmt.Errorf("updating booking status: %w", err)
	}

	return affected(result)
}

// UpdateTimes moves a booking to new times. It returns false without error
// when the stored times no longer equal oldStart/oldEnd.
func (r *BookingRepository) UpdateTimes(ctx context.Context, id string, oldStart, oldEnd, newStart, newEnd time.Time) (bool, error) {
	if !newStart.Before(newEnd) {
		return false, fmt.Errorf("booking start %s must be before end %s", newStart, newEnd)
	}

	result, err := r.DB().ExecContext(ctx, `
		UPDATE bookings SET start_at = ?, end_at = ?, updated_at = ?
		WHERE id = ? AND start_at = ? AND end_at = ?
	`, newStart.UTC(), newEnd.UTC(), r.Now(), id, oldStart.UTC(), oldEnd.UTC())
	if err != nil {
		return false, fmt.Errorf("updating booking times: %w", err)
	}

	return affected(result)
}

// UpdateETag stores the remote version tag of a booking.
func (r *BookingRepository) UpdateETag(ctx context.Context, id, etag string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE bookings SET caldav_etag = ?, updated_at = ?
		WHERE id = ?
	`, etag, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating booking etag: %w", err)
	}
	return nil
}

// MarkSynced confirms a booking after a successful remote write. It only
// applies to bookings still in failed_sync.
func (r *BookingRepository) MarkSynced(ctx context.Context, id, uid, etag string) (bool, error) {
	var etagValue any
	if etag != "" {
		etagValue = etag
	}

	result, err := r.DB().ExecContext(ctx, `
		UPDATE bookings SET status = ?, caldav_uid = ?, caldav_etag = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.BookingStatusConfirmed, uid, etagValue, r.Now(), id, models.BookingStatusFailedSync)
	if err != nil {
		return false, fmt.Errorf("marking booking synced: %w", err)
	}

	return affected(result)
}

func (r *BookingRepository) query(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		bookings = append(bookings, *b)
	}

	return bookings, rows.Err()
}

func scanBooking(s rowScanner) (*models.Booking, error) {
	var b models.Booking
	var uid, etag sql.NullString
	err := s.Scan(
		&b.ID, &b.StaffID, &b.ServiceID, &b.CustomerName, &b.CustomerEmail,
		&b.Start, &b.End, &b.Status, &uid, &etag, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if uid.Valid {
		b.CalDAVUID = &uid.String
	}
	if etag.Valid {
		b.CalDAVETag = &etag.String
	}
	b.Start = b.Start.UTC()
	b.End = b.End.UTC()
	return &b, nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}
