// Package metrics provides real-time delivery statistics for the stream
// client: an in-process tracker feeding the TUI plus prometheus counters
// for scraping.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/oddyssey/stream/internal/event"
)

var (
	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_events_delivered_total",
		Help: "Canonical events delivered to subscribers, by kind.",
	}, []string{"kind"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_events_dropped_total",
		Help: "Events dropped before delivery, by kind and reason.",
	}, []string{"kind", "reason"})

	transportReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_transport_reconnects_total",
		Help: "Transport reconnect attempts, by transport.",
	}, []string{"transport"})
)

// Snapshot is a point-in-time view of delivery statistics.
type Snapshot struct {
	Delivered       int64
	DeliveredByKind map[event.Kind]int64
	DroppedByReason map[string]int64
	EventRate       float64 // delivered events per second over last 60s
	PrimaryStatus   string
	FallbackStatus  string
	LastEventAt     time.Time
	Uptime          time.Duration
}

// Tracker provides thread-safe delivery statistics.
type Tracker struct {
	mu              sync.RWMutex
	delivered       int64
	deliveredByKind map[event.Kind]int64
	droppedByReason map[string]int64
	eventTimestamps []time.Time // for rate calculation
	primaryStatus   string
	fallbackStatus  string
	lastEventAt     time.Time
	startTime       time.Time
}

// NewTracker creates a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		deliveredByKind: make(map[event.Kind]int64),
		droppedByReason: make(map[string]int64),
		eventTimestamps: make([]time.Time, 0, 1000),
		primaryStatus:   "disconnected",
		fallbackStatus:  "disconnected",
		startTime:       time.Now(),
	}
}

// Delivered records one delivered event.
func (t *Tracker) Delivered(kind event.Kind) {
	eventsDelivered.WithLabelValues(string(kind)).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.delivered++
	t.deliveredByKind[kind]++
	t.lastEventAt = time.Now()

	// Keep only last 60 seconds of timestamps for the rate.
	t.eventTimestamps = append(t.eventTimestamps, t.lastEventAt)
	cutoff := t.lastEventAt.Add(-60 * time.Second)
	validIdx := 0
	for i, ts := range t.eventTimestamps {
		if ts.After(cutoff) {
			validIdx = i
			break
		}
	}
	if validIdx > 0 {
		t.eventTimestamps = t.eventTimestamps[validIdx:]
	}
}

// Dropped records one event dropped before delivery.
func (t *Tracker) Dropped(kind event.Kind, reason string) {
	eventsDropped.WithLabelValues(string(kind), reason).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.droppedByReason[reason]++
}

// Reconnect records a reconnect attempt on the named transport.
func (t *Tracker) Reconnect(transport string) {
	transportReconnects.WithLabelValues(transport).Inc()
}

// SetTransportStatus updates the displayed status of a transport.
func (t *Tracker) SetTransportStatus(transport, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch transport {
	case "primary":
		t.primaryStatus = status
	case "fallback":
		t.fallbackStatus = status
	}
}

// Snapshot returns a point-in-time snapshot of the statistics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rate := 0.0
	if len(t.eventTimestamps) > 0 {
		duration := time.Since(t.eventTimestamps[0]).Seconds()
		if duration > 0 {
			rate = float64(len(t.eventTimestamps)) / duration
		}
	}

	byKind := make(map[event.Kind]int64, len(t.deliveredByKind))
	for k, v := range t.deliveredByKind {
		byKind[k] = v
	}
	byReason := make(map[string]int64, len(t.droppedByReason))
	for k, v := range t.droppedByReason {
		byReason[k] = v
	}

	return Snapshot{
		Delivered:       t.delivered,
		DeliveredByKind: byKind,
		DroppedByReason: byReason,
		EventRate:       rate,
		PrimaryStatus:   t.primaryStatus,
		FallbackStatus:  t.fallbackStatus,
		LastEventAt:     t.lastEventAt,
		Uptime:          time.Since(t.startTime),
	}
}
