package availability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/booking-calendar-sync/backend/internal/storage/models"
	"github.com/booking-calendar-sync/backend/internal/testfixtures"
)

type countingLister struct {
	mu    sync.Mutex
	calls int
	inner BusyLister
}

func (c *countingLister) ListBusy(ctx context.Context, staffID string, from, to time.Time) ([]models.Booking, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.ListBusy(ctx, staffID, from, to)
}

func TestCache_InvalidateRange(t *testing.T) {
	cache, err := NewCache(16, time.UTC)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}

	day := func(d int) time.Time { return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC) }
	for d := 1; d <= 6; d++ {
		cache.Put("staff-1", day(d), nil)
		cache.Put("staff-2", day(d), nil)
	}

	cache.InvalidateRange(time.Date(2024, 3, 2, 23, 0, 0, 0, time.UTC), time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC))

	for d := 1; d <= 6; d++ {
		_, ok := cache.Get("staff-1", day(d))
		want := d < 2 || d > 4
		if ok != want {
			t.Errorf("day %d cached = %v, want %v", d, ok, want)
		}
	}
	if cache.Len() != 6 {
		t.Errorf("expected 6 remaining entries, got %d", cache.Len())
	}
}

func TestCache_RejectsInvalidSize(t *testing.T) {
	if _, err := NewCache(0, time.UTC); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestService_BusyUsesCacheUntilInvalidated(t *testing.T) {
	store := testfixtures.NewStore(t)
	ctx := context.Background()

	ref := testfixtures.ReferenceTime()
	b := store.TrackedBooking(t, "staff-1", "booking-a", ref.Add(time.Hour), ref.Add(2*time.Hour))
	store.TrackedBooking(t, "staff-1", "booking-next-day", ref.AddDate(0, 0, 1), ref.AddDate(0, 0, 1).Add(time.Hour))
	store.TrackedBooking(t, "staff-2", "booking-other", ref, ref.Add(time.Hour))

	cache, err := NewCache(8, time.UTC)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	lister := &countingLister{inner: store.Bookings}
	svc := NewService(cache, lister, testfixtures.DiscardLogger())

	busy, err := svc.Busy(ctx, "staff-1", ref)
	if err != nil {
		t.Fatalf("Busy failed: %v", err)
	}
	if len(busy) != 1 || busy[0].BookingID != b.ID {
		t.Fatalf("unexpected busy intervals: %+v", busy)
	}

	if _, err := svc.Busy(ctx, "staff-1", ref.Add(5*time.Hour)); err != nil {
		t.Fatalf("Busy failed: %v", err)
	}
	if lister.calls != 1 {
		t.Errorf("expected cached second lookup, store called %d times", lister.calls)
	}

	if _, err := store.Bookings.TransitionStatus(ctx, b.ID, models.BookingStatusConfirmed, models.BookingStatusCancelled); err != nil {
		t.Fatalf("TransitionStatus failed: %v", err)
	}
	svc.Cache().InvalidateRange(ref, ref)

	busy, err = svc.Busy(ctx, "staff-1", ref)
	if err != nil {
		t.Fatalf("Busy failed: %v", err)
	}
	if len(busy) != 0 || lister.calls != 2 {
		t.Errorf("expected recomputed empty result, got %+v after %d calls", busy, lister.calls)
	}
}

// invalidatingLister returns the bookings it was primed with and invalidates
// the cache while the read is in flight, as a concurrent reconcile would.
type invalidatingLister struct {
	mu       sync.Mutex
	calls    int
	bookings []models.Booking
	cache    *Cache
}

func (l *invalidatingLister) ListBusy(ctx context.Context, staffID string, from, to time.Time) ([]models.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	out := l.bookings
	if l.calls == 1 {
		l.cache.InvalidateRange(from, to)
		l.bookings = nil
	}
	return out, nil
}

func TestService_BusySkipsFillAfterConcurrentInvalidation(t *testing.T) {
	cache, err := NewCache(8, time.UTC)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	ref := testfixtures.ReferenceTime()
	lister := &invalidatingLister{
		cache: cache,
		bookings: []models.Booking{{
			ID: "b1", StaffID: "staff-1", Start: ref.Add(time.Hour), End: ref.Add(2 * time.Hour),
			Status: models.BookingStatusConfirmed,
		}},
	}
	svc := NewService(cache, lister, testfixtures.DiscardLogger())
	ctx := context.Background()

	busy, err := svc.Busy(ctx, "staff-1", ref)
	if err != nil {
		t.Fatalf("Busy failed: %v", err)
	}
	if len(busy) != 1 {
		t.Fatalf("expected the in-flight read to be returned, got %+v", busy)
	}
	if _, ok := cache.Get("staff-1", ref); ok {
		t.Error("read taken before the invalidation must not be cached")
	}

	busy, err = svc.Busy(ctx, "staff-1", ref)
	if err != nil {
		t.Fatalf("Busy failed: %v", err)
	}
	if len(busy) != 0 || lister.calls != 2 {
		t.Errorf("expected a fresh read after invalidation, got %+v after %d calls", busy, lister.calls)
	}
	if _, ok := cache.Get("staff-1", ref); !ok {
		t.Error("expected the fresh read to be cached")
	}
}

func TestCache_PutIfCurrent(t *testing.T) {
	cache, err := NewCache(4, time.UTC)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	ref := testfixtures.ReferenceTime()

	gen := cache.Generation()
	cache.InvalidateRange(ref, ref)
	if cache.PutIfCurrent("staff-1", ref, nil, gen) {
		t.Error("stale generation must not be stored")
	}
	if !cache.PutIfCurrent("staff-1", ref, nil, cache.Generation()) {
		t.Error("current generation must be stored")
	}
	if cache.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", cache.Len())
	}
}
