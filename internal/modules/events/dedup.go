package events

import (
	"sync"
	"time"

	"orbix/internal/types"
)

// Deduper drops repeats of the same (event, rideId) inside a window.
type Deduper struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDeduper(window time.Duration, now func() time.Time) *Deduper {
	if now == nil {
		now = time.Now
	}
	return &Deduper{window: window, now: now, seen: make(map[string]time.Time)}
}

// First reports whether this is the first sighting of (event, rideID) in the window.
func (d *Deduper) First(event string, rideID types.ID) bool {
	if d.window <= 0 {
		return true
	}
	now := d.now()
	key := event + "|" + string(rideID)

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}
	if _, dup := d.seen[key]; dup {
		return false
	}
	d.seen[key] = now
	return true
}
