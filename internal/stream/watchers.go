package stream

import (
	"strings"

	"github.com/oddyssey/stream/internal/event"
)

// Convenience wrappers, one per domain concern. Each composes Subscribe
// with a kind-specific predicate; an empty filter argument means "all".

// OnPoolCreated delivers every new pool.
func (h *Hub) OnPoolCreated(fn Handler) func() {
	return h.Subscribe(event.KindPoolCreated, fn)
}

// OnPoolSettled delivers pool settlement events.
func (h *Hub) OnPoolSettled(fn Handler) func() {
	return h.Subscribe(event.KindPoolSettled, fn)
}

// OnBetPlaced delivers bets, optionally restricted to one pool.
func (h *Hub) OnBetPlaced(poolID string, fn Handler) func() {
	want := event.NormalizeID(poolID)
	return h.Subscribe(event.KindBetPlaced, func(ev event.Event) {
		if want != "" && ev.PoolID != want {
			return
		}
		fn(ev)
	})
}

// OnPoolProgress delivers fill-progress snapshots for one pool.
func (h *Hub) OnPoolProgress(poolID string, fn Handler) func() {
	want := event.NormalizeID(poolID)
	return h.Subscribe(event.KindPoolProgress, func(ev event.Event) {
		if want != "" && ev.PoolID != want {
			return
		}
		fn(ev)
	})
}

// OnReputationChanged delivers reputation updates for one address.
func (h *Hub) OnReputationChanged(address string, fn Handler) func() {
	want := strings.ToLower(strings.TrimSpace(address))
	return h.Subscribe(event.KindReputationChanged, func(ev event.Event) {
		if want != "" && ev.User != want {
			return
		}
		fn(ev)
	})
}

// OnLiquidityAdded delivers liquidity events, optionally per pool.
func (h *Hub) OnLiquidityAdded(poolID string, fn Handler) func() {
	want := event.NormalizeID(poolID)
	return h.Subscribe(event.KindLiquidityAdded, func(ev event.Event) {
		if want != "" && ev.PoolID != want {
			return
		}
		fn(ev)
	})
}

// OnCycleResolved delivers cycle resolutions.
func (h *Hub) OnCycleResolved(fn Handler) func() {
	return h.Subscribe(event.KindCycleResolved, fn)
}

// OnSlipEvaluated delivers slip evaluations, optionally per player.
func (h *Hub) OnSlipEvaluated(player string, fn Handler) func() {
	want := strings.ToLower(strings.TrimSpace(player))
	return h.Subscribe(event.KindSlipEvaluated, func(ev event.Event) {
		if want != "" && ev.Player != want {
			return
		}
		fn(ev)
	})
}

// OnPrizeClaimed delivers prize claims.
func (h *Hub) OnPrizeClaimed(fn Handler) func() {
	return h.Subscribe(event.KindPrizeClaimed, fn)
}
