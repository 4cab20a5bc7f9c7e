// Package transport contains the two delivery-path adapters: the primary
// schema/publisher log-stream subscription and the fallback push socket.
// Both feed raw payloads into a shared Sink; everything downstream of the
// wire (decode, normalize, filter, fan-out) lives behind it.
package transport

import (
	"github.com/oddyssey/stream/internal/event"
)

// ConnState is the tri-state connection status of one transport.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// Sink receives raw payloads from a transport. Implementations must not
// block: all downstream work is synchronous and bounded.
type Sink interface {
	HandleRaw(kind event.Kind, payload any, source string)
}

// channelKinds maps fallback channel names onto event kinds. Multiple
// aliases may map to the same kind; legacy names stay routable.
var channelKinds = map[string]event.Kind{
	"pool_created":       event.KindPoolCreated,
	"new_pools":          event.KindPoolCreated,
	"pool_settled":       event.KindPoolSettled,
	"recent_bets":        event.KindBetPlaced,
	"bet_placed":         event.KindBetPlaced,
	"pool_progress":      event.KindPoolProgress,
	"reputation_updates": event.KindReputationChanged,
	"liquidity_added":    event.KindLiquidityAdded,
	"cycle_resolved":     event.KindCycleResolved,
	"oddyssey_cycles":    event.KindCycleResolved,
	"slip_evaluated":     event.KindSlipEvaluated,
	"prize_claimed":      event.KindPrizeClaimed,
}

// kindChannels holds the canonical channel used when subscribing.
var kindChannels = map[event.Kind]string{
	event.KindPoolCreated:       "pool_created",
	event.KindPoolSettled:       "pool_settled",
	event.KindBetPlaced:         "recent_bets",
	event.KindPoolProgress:      "pool_progress",
	event.KindReputationChanged: "reputation_updates",
	event.KindLiquidityAdded:    "liquidity_added",
	event.KindCycleResolved:     "cycle_resolved",
	event.KindSlipEvaluated:     "slip_evaluated",
	event.KindPrizeClaimed:      "prize_claimed",
}

// KindForChannel resolves a fallback channel name to its event kind.
func KindForChannel(channel string) (event.Kind, bool) {
	k, ok := channelKinds[channel]
	return k, ok
}

// ChannelFor returns the canonical subscribe channel for a kind.
func ChannelFor(kind event.Kind) string {
	return kindChannels[kind]
}
