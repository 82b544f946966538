// Package availability computes and caches the busy time of staff members.
package availability

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const dayLayout = "2006-01-02"

// Interval is one busy range of a staff member.
type Interval struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	BookingID string    `json:"booking_id"`
	Status    string    `json:"status"`
}

type dayKey struct {
	staffID string
	day     string
}

// Cache holds computed busy intervals per staff member and calendar day.
type Cache struct {
	entries *lru.Cache[dayKey, []Interval]
	loc     *time.Location

	// mu orders fills against invalidations; gen counts invalidations.
	mu  sync.Mutex
	gen uint64
}

// NewCache creates a cache holding at most size staff-days. Days are
// delimited in loc.
func NewCache(size int, loc *time.Location) (*Cache, error) {
	if loc == nil {
		loc = time.Local
	}
	entries, err := lru.New[dayKey, []Interval](size)
	if err != nil {
		return nil, fmt.Errorf("creating availability cache: %w", err)
	}
	return &Cache{entries: entries, loc: loc}, nil
}

// Get returns the cached intervals for the day containing t.
func (c *Cache) Get(staffID string, t time.Time) ([]Interval, bool) {
	return c.entries.Get(c.key(staffID, t))
}

// Put stores the intervals for the day containing t.
func (c *Cache) Put(staffID string, t time.Time, intervals []Interval) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(c.key(staffID, t), intervals)
}

// Generation returns the current invalidation generation. Capture it before
// reading the booking store and hand it to PutIfCurrent.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// PutIfCurrent stores the intervals only when no invalidation happened since
// gen was captured. It reports whether the entry was stored.
func (c *Cache) PutIfCurrent(staffID string, t time.Time, intervals []Interval, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.entries.Add(c.key(staffID, t), intervals)
	return true
}

// InvalidateRange evicts every cached day that touches [from, to], for all
// staff members, and starts a new generation.
func (c *Cache) InvalidateRange(from, to time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	first := from.In(c.loc).Format(dayLayout)
	last := to.In(c.loc).Format(dayLayout)
	for _, k := range c.entries.Keys() {
		if k.day >= first && k.day <= last {
			c.entries.Remove(k)
		}
	}
}

// Len returns the number of cached staff-days.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) key(staffID string, t time.Time) dayKey {
	return dayKey{staffID: staffID, day: t.In(c.loc).Format(dayLayout)}
}
