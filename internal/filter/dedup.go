// Package filter holds the delivery gates that run between decoding and
// subscriber fan-out: the dedup/recency filter and the per-entity rate
// limiter.
package filter

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oddyssey/stream/internal/event"
	"github.com/oddyssey/stream/internal/store"
)

// SeenSetCap bounds each kind's retained dedupe keys. Insertion-ordered
// eviction: once full, the oldest key is forgotten first.
const SeenSetCap = 500

// DefaultRecencyWindow applies to every kind without an explicit entry.
const DefaultRecencyWindow = time.Minute

// recencyWindows carries the per-kind overrides. Progress events are
// recomputed snapshots rather than point-in-time occurrences, so they get
// a much wider window.
var recencyWindows = map[event.Kind]time.Duration{
	event.KindPoolProgress: 10 * time.Minute,
}

// WindowFor returns the recency window for a kind.
func WindowFor(kind event.Kind) time.Duration {
	if w, ok := recencyWindows[kind]; ok {
		return w
	}
	return DefaultRecencyWindow
}

// Verdict is the dedup filter's decision for one event.
type Verdict int

const (
	Accepted Verdict = iota
	RejectedStale
	RejectedDuplicate
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case RejectedStale:
		return "stale"
	case RejectedDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Dedup rejects stale and previously-seen events. Seen sets are restored
// from the backing store on first use and persisted after every insert,
// so a restart does not re-deliver events already shown.
type Dedup struct {
	mu    sync.Mutex
	store store.SeenStore
	sets  map[event.Kind]*seenSet
}

type seenSet struct {
	order   []string
	members map[string]struct{}
}

func NewDedup(st store.SeenStore) *Dedup {
	return &Dedup{
		store: st,
		sets:  make(map[event.Kind]*seenSet),
	}
}

// Accept decides whether ev may proceed to delivery as of now. Accepted
// events have their dedupe key recorded and persisted before Accept
// returns.
func (d *Dedup) Accept(ev event.Event, now time.Time) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	age := now.Unix() - ev.Timestamp
	if age > int64(WindowFor(ev.Kind)/time.Second) {
		return RejectedStale
	}

	set := d.ensureSet(ev.Kind)
	key := ev.DedupeKey()
	if _, seen := set.members[key]; seen {
		return RejectedDuplicate
	}

	set.order = append(set.order, key)
	set.members[key] = struct{}{}
	for len(set.order) > SeenSetCap {
		oldest := set.order[0]
		set.order = set.order[1:]
		delete(set.members, oldest)
	}

	if err := d.store.Save(ev.Kind, set.order); err != nil {
		slog.Warn("seen_set_persist_failed", "kind", ev.Kind, "error", err)
	}
	return Accepted
}

// ensureSet lazily restores a kind's seen set from the store. Caller
// holds d.mu.
func (d *Dedup) ensureSet(kind event.Kind) *seenSet {
	if set, ok := d.sets[kind]; ok {
		return set
	}

	keys, err := d.store.Load(kind)
	if err != nil {
		slog.Warn("seen_set_restore_failed", "kind", kind, "error", err)
		keys = nil
	}
	if len(keys) > SeenSetCap {
		keys = keys[len(keys)-SeenSetCap:]
	}

	set := &seenSet{
		order:   append([]string(nil), keys...),
		members: make(map[string]struct{}, len(keys)),
	}
	for _, k := range keys {
		set.members[k] = struct{}{}
	}
	d.sets[kind] = set
	return set
}
