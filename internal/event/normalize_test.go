package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBetPlaced(t *testing.T) {
	raw := map[string]any{
		"pool_id":        "0x2a",
		"bettor_address": "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01",
		"amount":         "1000000000000000000",
		"use_bitr":       true,
		"timestamp":      float64(1756700000),
	}

	ev, err := Normalize(KindBetPlaced, raw)
	require.NoError(t, err)

	assert.Equal(t, "42", ev.PoolID)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", ev.Bettor)
	assert.Equal(t, "1", ev.Amount)
	assert.Equal(t, "BITR", ev.Currency)
	assert.Equal(t, int64(1756700000), ev.Timestamp)
}

func TestNormalizePrefersCamelCase(t *testing.T) {
	raw := map[string]any{
		"poolId":    "7",
		"pool_id":   "8",
		"bettor":    "0xAA",
		"timestamp": float64(1756700000),
	}

	ev, err := Normalize(KindBetPlaced, raw)
	require.NoError(t, err)
	assert.Equal(t, "7", ev.PoolID)
}

func TestNormalizeMissingTimestamp(t *testing.T) {
	cases := []map[string]any{
		{"poolId": "1"},
		{"poolId": "1", "timestamp": float64(0)},
		{"poolId": "1", "timestamp": float64(-5)},
		{"poolId": "1", "timestamp": "soon"},
	}

	for _, raw := range cases {
		_, err := Normalize(KindPoolCreated, raw)
		assert.Error(t, err, "raw=%v", raw)
		var nerr *NormalizationError
		assert.ErrorAs(t, err, &nerr)
	}
}

func TestNormalizeMillisecondTimestamp(t *testing.T) {
	raw := map[string]any{
		"poolId":    "1",
		"timestamp": float64(1756700000123),
	}

	ev, err := Normalize(KindPoolCreated, raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1756700000), ev.Timestamp)
}

func TestNormalizeMissingIdentifier(t *testing.T) {
	_, err := Normalize(KindCycleResolved, map[string]any{"timestamp": float64(1756700000)})
	assert.Error(t, err)

	_, err = Normalize(KindBetPlaced, map[string]any{
		"poolId":    "1",
		"timestamp": float64(1756700000),
	})
	assert.Error(t, err, "bet without bettor must fail")
}

func TestNormalizeIDIdempotent(t *testing.T) {
	assert.Equal(t, "12345", NormalizeID("0x3039"))
	assert.Equal(t, NormalizeID("0x3039"), NormalizeID(NormalizeID("0x3039")))
	assert.Equal(t, "12345", NormalizeID("12345"))
	assert.Equal(t, "99", NormalizeID(float64(99)))
	assert.Equal(t, "", NormalizeID("0xzz"))
}

func TestNormalizeAmount(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"1000000000000000000", "1"},                  // 1e18 base units
		{"5.25", "5.25"},                              // already human-scaled
		{"2500000000000000000", "2.5"},                // 2.5e18
		{"1000000000000", "1000000000000"},            // exactly 1e12 passes through
		{float64(1e18), "1"},                          // numeric base units
		{"0x0de0b6b3a7640000", "1"},                   // hex-encoded 1e18
		{"123456789", "123456789"},                    // below threshold
	}

	for _, tc := range cases {
		got, ok := NormalizeAmount(tc.in)
		require.True(t, ok, "in=%v", tc.in)
		assert.Equal(t, tc.want, got, "in=%v", tc.in)
	}

	_, ok := NormalizeAmount("not-a-number")
	assert.False(t, ok)
}

func TestCurrencyDefaults(t *testing.T) {
	raw := map[string]any{
		"poolId":    "1",
		"bettor":    "0xAA",
		"amount":    "5",
		"timestamp": float64(1756700000),
	}
	ev, err := Normalize(KindBetPlaced, raw)
	require.NoError(t, err)
	assert.Equal(t, "STT", ev.Currency)

	raw["currency"] = "bitr"
	ev, err = Normalize(KindBetPlaced, raw)
	require.NoError(t, err)
	assert.Equal(t, "BITR", ev.Currency)
}

func TestDedupeKeys(t *testing.T) {
	bet := Event{Kind: KindBetPlaced, PoolID: "42", Bettor: "0xabc", Timestamp: 100}
	assert.Equal(t, "42|0xabc|100", bet.DedupeKey())

	cycle := Event{Kind: KindCycleResolved, CycleID: "7", Timestamp: 100}
	assert.Equal(t, "7|100", cycle.DedupeKey())

	progress := Event{Kind: KindPoolProgress, PoolID: "3", Timestamp: 50}
	assert.Equal(t, "3|50", progress.DedupeKey())
}

func TestEntityID(t *testing.T) {
	assert.Equal(t, "42", Event{Kind: KindBetPlaced, PoolID: "42"}.EntityID())
	assert.Equal(t, "7", Event{Kind: KindCycleResolved, CycleID: "7"}.EntityID())
	assert.Equal(t, "9", Event{Kind: KindSlipEvaluated, SlipID: "9"}.EntityID())
	assert.Equal(t, "0xaa", Event{Kind: KindReputationChanged, User: "0xaa"}.EntityID())
}

func TestRawLeftoversCarried(t *testing.T) {
	raw := map[string]any{
		"poolId":         "1",
		"timestamp":      float64(1756700000),
		"fillPercentage": float64(62.5),
	}
	ev, err := Normalize(KindPoolProgress, raw)
	require.NoError(t, err)
	assert.Equal(t, float64(62.5), ev.Raw["fillPercentage"])
}
