package calendar

import (
	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

// EventIndex maps calendar UIDs to the local bookings of one staff member
// for the duration of a single pass, and remembers which were matched.
type EventIndex struct {
	bookings []models.Booking
	seen     []bool
	byUID    map[string]int
}

// NewEventIndex indexes the tracked bookings by calendar UID. Bookings
// without a UID are ignored.
func NewEventIndex(bookings []models.Booking) *EventIndex {
	ix := &EventIndex{byUID: make(map[string]int, len(bookings))}
	for _, b := range bookings {
		if !b.IsTracked() {
			continue
		}
		uid := b.UID()
		if _, dup := ix.byUID[uid]; dup {
			continue
		}
		ix.byUID[uid] = len(ix.bookings)
		ix.bookings = append(ix.bookings, b)
		ix.seen = append(ix.seen, false)
	}
	return ix
}

// Len returns the number of indexed bookings.
func (ix *EventIndex) Len() int {
	return len(ix.bookings)
}

// Match returns the booking mirrored by uid and marks it as seen. The
// returned pointer stays valid for the life of the index, so callers keep it
// in step with the changes they persist.
func (ix *EventIndex) Match(uid string) (*models.Booking, bool) {
	i, ok := ix.byUID[uid]
	if !ok {
		return nil, false
	}
	ix.seen[i] = true
	return &ix.bookings[i], true
}

// Unseen returns the indexed bookings that were never matched, in index
// order.
func (ix *EventIndex) Unseen() []*models.Booking {
	var out []*models.Booking
	for i := range ix.bookings {
		if !ix.seen[i] {
			out = append(out, &ix.bookings[i])
		}
	}
	return out
}
