package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddyssey/stream/internal/event"
)

type sinkCall struct {
	kind    event.Kind
	payload any
	source  string
}

type captureSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *captureSink) HandleRaw(kind event.Kind, payload any, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{kind: kind, payload: payload, source: source})
}

func (s *captureSink) snapshot() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkCall(nil), s.calls...)
}

func TestChannelTables(t *testing.T) {
	kind, ok := KindForChannel("recent_bets")
	require.True(t, ok)
	assert.Equal(t, event.KindBetPlaced, kind)

	// Legacy alias maps onto the same kind.
	kind, ok = KindForChannel("bet_placed")
	require.True(t, ok)
	assert.Equal(t, event.KindBetPlaced, kind)

	_, ok = KindForChannel("nonsense")
	assert.False(t, ok)

	// Every kind has a canonical channel that routes back to itself.
	for _, k := range event.Kinds {
		ch := ChannelFor(k)
		require.NotEmpty(t, ch, "kind %s", k)
		back, ok := KindForChannel(ch)
		require.True(t, ok)
		assert.Equal(t, k, back)
	}
}

func TestFallbackRoutesUpdates(t *testing.T) {
	sink := &captureSink{}
	f := NewFallback("wss://example/ws", sink)

	f.handleMessage([]byte(`{"type":"update","channel":"recent_bets","data":{"poolId":"42"}}`))

	calls := sink.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, event.KindBetPlaced, calls[0].kind)
	assert.Equal(t, "fallback", calls[0].source)

	wrapped, ok := calls[0].payload.(map[string]any)
	require.True(t, ok)
	inner, ok := wrapped["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "42", inner["poolId"])
}

func TestFallbackIgnoresProtocolMessages(t *testing.T) {
	sink := &captureSink{}
	f := NewFallback("wss://example/ws", sink)

	f.handleMessage([]byte(`{"type":"connected"}`))
	f.handleMessage([]byte(`{"type":"subscribed","channel":"recent_bets"}`))
	f.handleMessage([]byte(`{"type":"pong"}`))
	f.handleMessage([]byte(`{"type":"update","channel":"who_knows","data":{}}`))
	f.handleMessage([]byte(`not even json`))

	assert.Empty(t, sink.snapshot())
}

func TestFallbackDesiredBookkeeping(t *testing.T) {
	f := NewFallback("wss://example/ws", &captureSink{})

	f.EnsureKind(event.KindBetPlaced)
	f.EnsureKind(event.KindCycleResolved)

	f.mu.Lock()
	assert.Len(t, f.desired, 2)
	assert.Contains(t, f.desired, "recent_bets")
	assert.Contains(t, f.desired, "cycle_resolved")
	// Not connected, so nothing is marked subscribed.
	assert.Empty(t, f.subscribed)
	f.mu.Unlock()

	f.ReleaseKind(event.KindBetPlaced)

	f.mu.Lock()
	assert.Len(t, f.desired, 1)
	assert.NotContains(t, f.desired, "recent_bets")
	f.mu.Unlock()
}

func TestFallbackReconnectClearsSubscribedOnly(t *testing.T) {
	f := NewFallback("wss://example/ws", &captureSink{})

	f.EnsureKind(event.KindBetPlaced)
	f.mu.Lock()
	f.subscribed["recent_bets"] = struct{}{}
	f.mu.Unlock()

	f.Reconnect()

	f.mu.Lock()
	assert.Empty(t, f.subscribed)
	assert.Contains(t, f.desired, "recent_bets")
	f.mu.Unlock()
}
