package stream

import (
	"context"
	"sync"

	"github.com/oddyssey/stream/internal/metrics"
	"github.com/oddyssey/stream/internal/store"
)

// The process-wide default Hub. Many independent call sites share one
// physical connection and one dedupe/rate-limit horizon; the lifecycle is
// explicit (Init/Teardown) so tests can run against fresh instances
// instead.
var (
	defaultMu  sync.Mutex
	defaultHub *Hub
)

// Init constructs and starts the default Hub. Calling Init while a
// default Hub is live returns the existing one.
func Init(ctx context.Context, cfg Config, seen store.SeenStore, tracker *metrics.Tracker) *Hub {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultHub != nil {
		return defaultHub
	}
	defaultHub = New(cfg, seen, tracker)
	defaultHub.Start(ctx)
	return defaultHub
}

// Default returns the default Hub, or nil before Init.
func Default() *Hub {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultHub
}

// Teardown stops and clears the default Hub.
func Teardown() {
	defaultMu.Lock()
	hub := defaultHub
	defaultHub = nil
	defaultMu.Unlock()

	if hub != nil {
		hub.Stop()
	}
}
