package filter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/oddyssey/stream/internal/event"
)

// DefaultMinInterval is the floor between notifications about the same
// entity for kinds without an explicit entry.
const DefaultMinInterval = 2 * time.Second

// minIntervals throttles the notification-heavy kinds harder.
var minIntervals = map[event.Kind]time.Duration{
	event.KindCycleResolved: 5 * time.Second,
	event.KindSlipEvaluated: 10 * time.Second,
}

// IntervalFor returns the minimum inter-notification interval for a kind.
func IntervalFor(kind event.Kind) time.Duration {
	if iv, ok := minIntervals[kind]; ok {
		return iv
	}
	return DefaultMinInterval
}

// Limiter enforces a per-(kind, entity) minimum interval between
// delivered notifications. It runs after the dedup filter: its job is to
// throttle legitimately distinct rapid-fire events about one entity, not
// to suppress duplicates.
//
// Entries are never evicted; the key space is bounded by active entities
// and stale slots are naturally superseded.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLimiter() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a notification keyed (kind, entityID) may be
// delivered at now. A denied call does not push out the next allowance.
func (l *Limiter) Allow(kind event.Kind, entityID string, now time.Time) bool {
	key := string(kind) + ":" + entityID

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(IntervalFor(kind)), 1)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.AllowN(now, 1)
}
