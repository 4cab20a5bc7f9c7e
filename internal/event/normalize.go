package event

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// NormalizationError marks a structurally valid payload that is
// semantically incomplete (missing identifier, bad timestamp). Events
// failing normalization are dropped, never delivered.
type NormalizationError struct {
	Kind   Kind
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Kind, e.Reason)
}

// amountThreshold separates base-unit (wei-like) amounts from
// human-scaled ones: magnitudes above it are divided by weiScale.
var (
	amountThreshold = new(big.Rat).SetInt64(1_000_000_000_000) // 1e12
	weiScale        = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
)

// Normalize maps a loosely-typed decoded payload onto the canonical Event
// for the given kind. Field aliases (snake_case alternates) are accepted
// with the camelCase spelling preferred when both are present.
func Normalize(kind Kind, raw map[string]any) (Event, error) {
	if !kind.Valid() {
		return Event{}, &NormalizationError{Kind: kind, Reason: "unknown kind"}
	}
	if raw == nil {
		return Event{}, &NormalizationError{Kind: kind, Reason: "nil payload"}
	}

	ev := Event{Kind: kind, Raw: map[string]any{}}

	ts, ok := timestampField(raw)
	if !ok {
		return Event{}, &NormalizationError{Kind: kind, Reason: "missing or non-positive timestamp"}
	}
	ev.Timestamp = ts

	ev.PoolID = idField(raw, "poolId", "pool_id")
	ev.CycleID = idField(raw, "cycleId", "cycle_id")
	ev.SlipID = idField(raw, "slipId", "slip_id")

	ev.Creator = addrField(raw, "creator", "creatorAddress", "creator_address")
	ev.Bettor = addrField(raw, "bettor", "bettorAddress", "bettor_address")
	ev.User = addrField(raw, "user", "userAddress", "user_address", "address")
	ev.Provider = addrField(raw, "provider", "providerAddress", "provider_address")
	ev.Player = addrField(raw, "player", "playerAddress", "player_address")

	if v, ok := lookup(raw, "amount", "betAmount", "bet_amount", "stake"); ok {
		if s, ok := NormalizeAmount(v); ok {
			ev.Amount = s
		}
	}
	if v, ok := lookup(raw, "prize", "prizeAmount", "prize_amount", "prizePool", "prize_pool"); ok {
		if s, ok := NormalizeAmount(v); ok {
			ev.Prize = s
		}
	}
	ev.Currency = currencyField(raw)

	if err := requireIdentifiers(&ev); err != nil {
		return Event{}, err
	}

	// Carry anything we did not map so kind-specific consumers (progress
	// counters, odds, titles) can still read it.
	for k, v := range raw {
		if consumedField(k) {
			continue
		}
		ev.Raw[k] = v
	}

	return ev, nil
}

// requireIdentifiers enforces the per-kind identifier set that the dedupe
// key and entity id are built from.
func requireIdentifiers(ev *Event) error {
	missing := func(what string) error {
		return &NormalizationError{Kind: ev.Kind, Reason: "missing " + what}
	}
	switch ev.Kind {
	case KindPoolCreated, KindPoolSettled, KindPoolProgress:
		if ev.PoolID == "" {
			return missing("poolId")
		}
	case KindBetPlaced:
		if ev.PoolID == "" {
			return missing("poolId")
		}
		if ev.Bettor == "" {
			return missing("bettor")
		}
	case KindLiquidityAdded:
		if ev.PoolID == "" {
			return missing("poolId")
		}
		if ev.Provider == "" {
			return missing("provider")
		}
	case KindCycleResolved:
		if ev.CycleID == "" {
			return missing("cycleId")
		}
	case KindSlipEvaluated:
		if ev.SlipID == "" {
			return missing("slipId")
		}
	case KindPrizeClaimed:
		if ev.CycleID == "" {
			return missing("cycleId")
		}
		if ev.Player == "" {
			return missing("player")
		}
	case KindReputationChanged:
		if ev.User == "" {
			return missing("user")
		}
	}
	return nil
}

// NormalizeID collapses the identifier encodings seen on the wire
// (hex big-int strings, decimal strings, native numbers) onto one decimal
// string. Idempotent: normalizing an already-normalized id is a no-op.
func NormalizeID(v any) string {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if len(s) > 2 && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
			n, ok := new(big.Int).SetString(s[2:], 16)
			if !ok {
				return ""
			}
			return n.String()
		}
		return s
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	default:
		return ""
	}
}

// NormalizeAmount coerces a monetary field to a human-scaled decimal
// string. Magnitudes above 1e12 are treated as 18-decimal base units and
// divided by 1e18; everything else passes through unchanged in value.
func NormalizeAmount(v any) (string, bool) {
	var r *big.Rat
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if len(s) > 2 && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
			n, ok := new(big.Int).SetString(s[2:], 16)
			if !ok {
				return "", false
			}
			r = new(big.Rat).SetInt(n)
		} else {
			var ok bool
			r, ok = new(big.Rat).SetString(s)
			if !ok {
				return "", false
			}
		}
	case float64:
		// Shortest round-trip rendering avoids binary expansion noise.
		var ok bool
		r, ok = new(big.Rat).SetString(strconv.FormatFloat(x, 'f', -1, 64))
		if !ok {
			return "", false
		}
	case int:
		r = new(big.Rat).SetInt64(int64(x))
	case int64:
		r = new(big.Rat).SetInt64(x)
	default:
		return "", false
	}

	if r.Cmp(amountThreshold) > 0 {
		r = new(big.Rat).Quo(r, weiScale)
	}
	return ratString(r), true
}

// ratString renders r as a plain decimal string without trailing zeros.
func ratString(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	s := r.FloatString(18)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// lookup returns the first present alias. Callers list the camelCase
// spelling first so it wins when both variants are present.
func lookup(raw map[string]any, names ...string) (any, bool) {
	for _, n := range names {
		if v, ok := raw[n]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func idField(raw map[string]any, names ...string) string {
	v, ok := lookup(raw, names...)
	if !ok {
		return ""
	}
	return NormalizeID(v)
}

func addrField(raw map[string]any, names ...string) string {
	v, ok := lookup(raw, names...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.ToLower(strings.TrimSpace(s))
}

func currencyField(raw map[string]any) string {
	if v, ok := lookup(raw, "currency"); ok {
		if s, _ := v.(string); s != "" {
			return strings.ToUpper(s)
		}
	}
	if v, ok := lookup(raw, "useBitr", "use_bitr", "usesBitr"); ok {
		switch x := v.(type) {
		case bool:
			if x {
				return "BITR"
			}
		case string:
			if b, err := strconv.ParseBool(x); err == nil && b {
				return "BITR"
			}
		}
	}
	return "STT"
}

// timestampField extracts unix seconds, tolerating millisecond inputs the
// same way the rest of the pipeline does (1e12 magnitude check).
func timestampField(raw map[string]any) (int64, bool) {
	v, ok := lookup(raw, "timestamp", "time", "ts")
	if !ok {
		return 0, false
	}

	var n int64
	switch x := v.(type) {
	case float64:
		n = int64(x)
	case int64:
		n = x
	case int:
		n = int64(x)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}

	if n > 1_000_000_000_000 {
		n /= 1000 // milliseconds
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}

func consumedField(name string) bool {
	switch name {
	case "poolId", "pool_id", "cycleId", "cycle_id", "slipId", "slip_id",
		"creator", "creatorAddress", "creator_address",
		"bettor", "bettorAddress", "bettor_address",
		"user", "userAddress", "user_address", "address",
		"provider", "providerAddress", "provider_address",
		"player", "playerAddress", "player_address",
		"amount", "betAmount", "bet_amount", "stake",
		"prize", "prizeAmount", "prize_amount", "prizePool", "prize_pool",
		"currency", "useBitr", "use_bitr", "usesBitr",
		"timestamp", "time", "ts":
		return true
	}
	return false
}
