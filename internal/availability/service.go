package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

// BusyLister lists the bookings that occupy a staff member's time.
type BusyLister interface {
	ListBusy(ctx context.Context, staffID string, from, to time.Time) ([]models.Booking, error)
}

// Service answers availability queries through the cache.
type Service struct {
	cache  *Cache
	store  BusyLister
	logger *slog.Logger
}

// NewService creates a new availability service.
func NewService(cache *Cache, store BusyLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cache: cache, store: store, logger: logger.With("component", "availability")}
}

// Busy returns the busy intervals of a staff member on the day containing
// day, computing them from the booking store on a cache miss.
func (s *Service) Busy(ctx context.Context, staffID string, day time.Time) ([]Interval, error) {
	if intervals, ok := s.cache.Get(staffID, day); ok {
		return intervals, nil
	}

	local := day.In(s.cache.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cache.loc)
	end := start.AddDate(0, 0, 1)

	gen := s.cache.Generation()
	bookings, err := s.store.ListBusy(ctx, staffID, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing busy bookings: %w", err)
	}

	intervals := make([]Interval, 0, len(bookings))
	for _, b := range bookings {
		intervals = append(intervals, Interval{
			Start:     b.Start,
			End:       b.End,
			BookingID: b.ID,
			Status:    b.Status,
		})
	}

	cached := s.cache.PutIfCurrent(staffID, day, intervals, gen)
	s.logger.Debug("computed availability",
		"staff_id", staffID,
		"day", start.Format(dayLayout),
		"busy", len(intervals),
		"cached", cached,
	)

	return intervals, nil
}

// Cache returns the underlying cache, which doubles as the invalidator handed
// to the reconciler.
func (s *Service) Cache() *Cache {
	return s.cache
}
