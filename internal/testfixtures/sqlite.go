package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/booking-calendar-sync/backend/internal/storage"
	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

// Store bundles the repositories backed by one temporary SQLite database.
type Store struct {
	DB       *storage.DB
	Bookings *storage.BookingRepository
	Staff    *storage.StaffRepository
	Meta     *storage.MetaRepository
	Audit    *storage.AuditRepository
}

// NewStore opens a migrated SQLite database under tb.TempDir and closes it
// when the test finishes.
func NewStore(tb testing.TB) *Store {
	tb.Helper()

	db, err := storage.NewDB(filepath.Join(tb.TempDir(), "booking-sync.db"))
	if err != nil {
		tb.Fatalf("failed to open database: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })

	if err := storage.RunMigrations(context.Background(), db, DiscardLogger()); err != nil {
		tb.Fatalf("failed to migrate database: %v", err)
	}

	return &Store{
		DB:       db,
		Bookings: storage.NewBookingRepository(db),
		Staff:    storage.NewStaffRepository(db),
		Meta:     storage.NewMetaRepository(db),
		Audit:    storage.NewAuditRepository(db),
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TrackedBooking inserts a confirmed booking mirrored by the remote UID.
func (s *Store) TrackedBooking(tb testing.TB, staffID, uid string, start, end time.Time) *models.Booking {
	tb.Helper()

	b := &models.Booking{
		StaffID:   staffID,
		ServiceID: "svc-1",
		Start:     start,
		End:       end,
		Status:    models.BookingStatusConfirmed,
	}
	if uid != "" {
		u := uid
		etag := `"etag-` + uid + `"`
		b.CalDAVUID = &u
		b.CalDAVETag = &etag
	}
	if err := s.Bookings.Create(context.Background(), b); err != nil {
		tb.Fatalf("failed to create booking: %v", err)
	}
	return b
}

// MustBooking reloads a booking and fails the test if it is missing.
func (s *Store) MustBooking(tb testing.TB, id string) *models.Booking {
	tb.Helper()

	b, err := s.Bookings.GetByID(context.Background(), id)
	if err != nil {
		tb.Fatalf("GetByID(%s) failed: %v", id, err)
	}
	if b == nil {
		tb.Fatalf("booking %s not found", id)
	}
	return b
}
