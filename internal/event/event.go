// Package event defines the canonical domain event record and the
// normalization rules that collapse raw transport payloads onto it.
package event

import (
	"fmt"
	"strings"
)

// Kind identifies one domain event type. The set is closed: payloads
// classified outside it are dropped before normalization.
type Kind string

const (
	KindPoolCreated       Kind = "pool:created"
	KindPoolSettled       Kind = "pool:settled"
	KindBetPlaced         Kind = "bet:placed"
	KindPoolProgress      Kind = "pool:progress"
	KindReputationChanged Kind = "reputation:changed"
	KindLiquidityAdded    Kind = "liquidity:added"
	KindCycleResolved     Kind = "cycle:resolved"
	KindSlipEvaluated     Kind = "slip:evaluated"
	KindPrizeClaimed      Kind = "prize:claimed"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{
	KindPoolCreated,
	KindPoolSettled,
	KindBetPlaced,
	KindPoolProgress,
	KindReputationChanged,
	KindLiquidityAdded,
	KindCycleResolved,
	KindSlipEvaluated,
	KindPrizeClaimed,
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindPoolCreated, KindPoolSettled, KindBetPlaced, KindPoolProgress,
		KindReputationChanged, KindLiquidityAdded, KindCycleResolved,
		KindSlipEvaluated, KindPrizeClaimed:
		return true
	}
	return false
}

// Event is the canonical, de-duplication-ready representation of a domain
// occurrence. Identifier fields are decimal strings, addresses are
// lower-cased hex, and amounts are human-scaled decimal strings.
type Event struct {
	Kind Kind

	// Timestamp is unix seconds. Always positive for a normalized event;
	// anything else fails normalization.
	Timestamp int64

	// Entity identifiers (populated per kind, decimal-string form).
	PoolID  string
	CycleID string
	SlipID  string

	// Participant addresses (lower-cased hex, populated per kind).
	Creator  string
	Bettor   string
	User     string
	Provider string
	Player   string

	// Monetary fields, human-scaled decimal strings.
	Amount   string
	Prize    string
	Currency string

	// Raw carries normalized leftover fields (odds, titles, progress
	// counters) that vary too much per kind to warrant struct fields.
	Raw map[string]any
}

// DedupeKey builds the kind-specific composite key used by the
// deduplication filter. Two logical deliveries of the same occurrence,
// no matter which transport carried them, produce the same key.
func (e Event) DedupeKey() string {
	switch e.Kind {
	case KindBetPlaced:
		return join(e.PoolID, e.Bettor, ts(e.Timestamp))
	case KindLiquidityAdded:
		return join(e.PoolID, e.Provider, ts(e.Timestamp))
	case KindPrizeClaimed:
		return join(e.CycleID, e.Player, ts(e.Timestamp))
	case KindCycleResolved:
		return join(e.CycleID, ts(e.Timestamp))
	case KindSlipEvaluated:
		return join(e.SlipID, ts(e.Timestamp))
	case KindReputationChanged:
		return join(e.User, ts(e.Timestamp))
	default: // pool:created, pool:settled, pool:progress
		return join(e.PoolID, ts(e.Timestamp))
	}
}

// EntityID returns the identifier the rate limiter throttles on. Distinct
// events about the same entity share one limiter slot.
func (e Event) EntityID() string {
	switch e.Kind {
	case KindCycleResolved, KindPrizeClaimed:
		return e.CycleID
	case KindSlipEvaluated:
		return e.SlipID
	case KindReputationChanged:
		return e.User
	default:
		return e.PoolID
	}
}

func join(parts ...string) string {
	return strings.Join(parts, "|")
}

func ts(v int64) string {
	return fmt.Sprintf("%d", v)
}
