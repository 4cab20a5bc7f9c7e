// Package stream exposes the subscribe-by-kind primitive and supervises
// the two delivery paths. One Hub owns one physical connection per
// transport regardless of how many call sites subscribe; the decode,
// normalize, dedup and rate-limit pipeline runs once per raw payload
// before fan-out.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oddyssey/stream/internal/codec"
	"github.com/oddyssey/stream/internal/event"
	"github.com/oddyssey/stream/internal/filter"
	"github.com/oddyssey/stream/internal/metrics"
	"github.com/oddyssey/stream/internal/store"
	"github.com/oddyssey/stream/internal/transport"
)

// GraceDelay is how long an underlying subscription outlives its last
// subscriber. A re-subscribe inside the window cancels the teardown and
// reuses the live subscription, absorbing rapid mount/unmount churn.
const GraceDelay = 30 * time.Second

// Handler receives canonical events for one kind.
type Handler func(event.Event)

// Config carries the endpoints the Hub connects to.
type Config struct {
	PrimaryURL  string // websocket RPC endpoint for the enriched stream
	PublisherID string // hex address of the event publisher
	FallbackURL string // push-socket endpoint

	// Grace overrides GraceDelay when positive (tests).
	Grace time.Duration
}

// adapter is the transport surface the Hub drives. Both transport
// implementations satisfy it.
type adapter interface {
	Start(ctx context.Context)
	Close()
	EnsureKind(kind event.Kind)
	ReleaseKind(kind event.Kind)
	State() transport.ConnState
	LastError() error
	Reconnect()
}

type kindEntry struct {
	handlers map[uint64]Handler
	teardown *time.Timer

	// gen is set from the hub-wide sequence on every Subscribe; a
	// scheduled teardown only acts when the generation it captured is
	// still current, so a concurrent resubscribe invalidates it. The
	// sequence is global so a recreated entry never reuses a value a
	// stale timer may still hold.
	gen uint64
}

// Hub is the subscription registry and connection supervisor.
type Hub struct {
	dec     *codec.Decoder
	dedup   *filter.Dedup
	limits  *filter.Limiter
	tracker *metrics.Tracker

	primary  adapter
	fallback adapter

	grace time.Duration
	nowFn func() time.Time

	mu      sync.Mutex
	entries map[event.Kind]*kindEntry
	nextID  uint64
	genSeq  uint64
	started bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Hub with real transports. Call Start before subscribing
// transports into action; Subscribe itself works at any point.
func New(cfg Config, seen store.SeenStore, tracker *metrics.Tracker) *Hub {
	h := newHub(cfg, seen, tracker)
	h.primary = transport.NewPrimary(cfg.PrimaryURL, common.HexToAddress(cfg.PublisherID), h)
	h.fallback = transport.NewFallback(cfg.FallbackURL, h)
	return h
}

func newHub(cfg Config, seen store.SeenStore, tracker *metrics.Tracker) *Hub {
	grace := cfg.Grace
	if grace <= 0 {
		grace = GraceDelay
	}
	if seen == nil {
		seen = store.NewMemoryStore()
	}
	if tracker == nil {
		tracker = metrics.NewTracker()
	}
	return &Hub{
		dec:     codec.New(),
		dedup:   filter.NewDedup(seen),
		limits:  filter.NewLimiter(),
		tracker: tracker,
		grace:   grace,
		nowFn:   time.Now,
		entries: make(map[event.Kind]*kindEntry),
		stopCh:  make(chan struct{}),
	}
}

// Start connects both transports eagerly. A failure to establish one
// path never prevents the other from being attempted.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	h.primary.Start(ctx)
	h.fallback.Start(ctx)

	h.wg.Add(1)
	go h.statusLoop(ctx)
}

// Stop tears the Hub down: pending teardown timers are cleared and both
// transports closed.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })

	h.mu.Lock()
	for _, e := range h.entries {
		if e.teardown != nil {
			e.teardown.Stop()
			e.teardown = nil
		}
	}
	h.entries = make(map[event.Kind]*kindEntry)
	h.mu.Unlock()

	h.primary.Close()
	h.fallback.Close()
	h.wg.Wait()
}

// Subscribe registers a callback for a kind and returns its idempotent
// unsubscribe function. It never fails: an unknown kind or nil handler
// yields a no-op unsubscribe and a logged warning.
func (h *Hub) Subscribe(kind event.Kind, handler Handler) func() {
	if handler == nil || !kind.Valid() {
		slog.Warn("subscribe_rejected", "kind", kind, "nil_handler", handler == nil)
		return func() {}
	}

	h.mu.Lock()
	e := h.entries[kind]
	if e == nil {
		e = &kindEntry{handlers: make(map[uint64]Handler)}
		h.entries[kind] = e
	}

	// A pending teardown means the underlying subscription is still
	// live; cancel it and reuse it.
	if e.teardown != nil {
		e.teardown.Stop()
		e.teardown = nil
	}

	h.genSeq++
	e.gen = h.genSeq
	h.nextID++
	id := h.nextID
	e.handlers[id] = handler
	h.mu.Unlock()

	// Ensured on every subscribe, not just the first: the transports are
	// idempotent for already-open kinds, and a transiently failed
	// transport-level subscribe gets retried by the next subscriber.
	h.primary.EnsureKind(kind)
	h.fallback.EnsureKind(kind)

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(kind, id) })
	}
}

func (h *Hub) unsubscribe(kind event.Kind, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.entries[kind]
	if e == nil {
		return
	}
	delete(e.handlers, id)
	if len(e.handlers) > 0 || e.teardown != nil {
		return
	}

	gen := e.gen
	e.teardown = time.AfterFunc(h.grace, func() { h.teardownKind(kind, gen) })
}

// teardownKind releases the underlying transport subscriptions once the
// grace window elapses with no new subscriber. gen is the entry
// generation at scheduling time; a resubscribe bumps it, voiding any
// stale timer that still fires.
func (h *Hub) teardownKind(kind event.Kind, gen uint64) {
	h.mu.Lock()
	e := h.entries[kind]
	if e == nil || len(e.handlers) > 0 || e.gen != gen {
		// A subscriber arrived while the timer was firing.
		h.mu.Unlock()
		return
	}
	delete(h.entries, kind)
	h.mu.Unlock()

	h.primary.ReleaseKind(kind)
	h.fallback.ReleaseKind(kind)
	slog.Info("subscription_torn_down", "kind", kind)

	// A Subscribe can land between the registry delete and the release
	// calls above. Its EnsureKind may then have been undone, so re-ensure
	// for any entry that reappeared.
	h.mu.Lock()
	e = h.entries[kind]
	revived := e != nil && len(e.handlers) > 0
	h.mu.Unlock()
	if revived {
		h.primary.EnsureKind(kind)
		h.fallback.EnsureKind(kind)
	}
}

// HandleRaw is the transport sink: decode, normalize, filter, deliver.
// Per-event failures are absorbed here; nothing propagates to the
// transport or to subscribers.
func (h *Hub) HandleRaw(kind event.Kind, payload any, source string) {
	env, err := h.dec.Decode(payload)
	if err != nil {
		if errors.Is(err, codec.ErrDuplicateFrame) {
			h.tracker.Dropped(kind, "duplicate_frame")
			return
		}
		h.tracker.Dropped(kind, "decode")
		slog.Debug("decode_failed", "kind", kind, "source", source, "error", err)
		return
	}

	ev, err := event.Normalize(kind, env)
	if err != nil {
		h.tracker.Dropped(kind, "normalize")
		slog.Debug("normalize_failed", "kind", kind, "source", source, "error", err)
		return
	}

	now := h.nowFn()
	switch h.dedup.Accept(ev, now) {
	case filter.RejectedStale:
		h.tracker.Dropped(kind, "stale")
		return
	case filter.RejectedDuplicate:
		h.tracker.Dropped(kind, "duplicate")
		return
	}

	if !h.limits.Allow(kind, ev.EntityID(), now) {
		h.tracker.Dropped(kind, "rate_limited")
		return
	}

	h.deliver(ev)
}

func (h *Hub) deliver(ev event.Event) {
	h.mu.Lock()
	e := h.entries[ev.Kind]
	var handlers []Handler
	if e != nil {
		handlers = make([]Handler, 0, len(e.handlers))
		for _, fn := range e.handlers {
			handlers = append(handlers, fn)
		}
	}
	h.mu.Unlock()

	// An empty snapshot can happen inside the teardown grace window; it
	// is not a delivery and must not inflate the rate.
	if len(handlers) == 0 {
		h.tracker.Dropped(ev.Kind, "no_subscriber")
		return
	}

	for _, fn := range handlers {
		fn(ev)
	}
	h.tracker.Delivered(ev.Kind)

	slog.Debug("event_delivered",
		"kind", ev.Kind,
		"entity", ev.EntityID(),
		"subscribers", len(handlers),
	)
}

// Reconnect forcibly reinitializes both transports. Manual recovery
// path, e.g. a user-triggered retry.
func (h *Hub) Reconnect() {
	h.tracker.Reconnect("primary")
	h.tracker.Reconnect("fallback")
	h.primary.Reconnect()
	h.fallback.Reconnect()
}

// IsConnected reports whether at least one transport is connected.
func (h *Hub) IsConnected() bool {
	return h.IsPrimaryActive() || h.IsFallbackActive()
}

// IsPrimaryActive reports whether the enriched-stream path is connected.
func (h *Hub) IsPrimaryActive() bool {
	return h.primary.State() == transport.StateConnected
}

// IsFallbackActive reports whether the push-socket path is connected.
func (h *Hub) IsFallbackActive() bool {
	return h.fallback.State() == transport.StateConnected
}

// Err returns the most recent connection-level error from either
// transport, or nil when both paths are healthy.
func (h *Hub) Err() error {
	if err := h.primary.LastError(); err != nil {
		return err
	}
	return h.fallback.LastError()
}

// statusLoop mirrors transport states into the tracker for display.
func (h *Hub) statusLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.tracker.SetTransportStatus("primary", h.primary.State().String())
			h.tracker.SetTransportStatus("fallback", h.fallback.State().String())
		}
	}
}
