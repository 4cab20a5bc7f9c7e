package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddyssey/stream/internal/event"
)

type fakeSub struct {
	errCh chan error
	once  sync.Once

	mu       sync.Mutex
	unsubbed bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{errCh: make(chan error, 1)}
}

func (s *fakeSub) Err() <-chan error { return s.errCh }

func (s *fakeSub) Unsubscribe() {
	s.mu.Lock()
	s.unsubbed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.errCh) })
}

func (s *fakeSub) isUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubbed
}

type fakeSubscription struct {
	query ethereum.FilterQuery
	logs  chan<- types.Log
	sub   *fakeSub
}

type fakeStreamer struct {
	mu       sync.Mutex
	subs     []*fakeSubscription
	failNext bool
	closed   bool

	// onSubscribe, when set, runs once during a subscribe call, after
	// the subscription is recorded but before it is returned.
	onSubscribe func()
}

func (f *fakeStreamer) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	if f.failNext {
		f.failNext = false
		f.mu.Unlock()
		return nil, fmt.Errorf("subscribe refused")
	}
	fs := &fakeSubscription{query: q, logs: ch, sub: newFakeSub()}
	f.subs = append(f.subs, fs)
	hook := f.onSubscribe
	f.onSubscribe = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return fs.sub, nil
}

func (f *fakeStreamer) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeStreamer) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeStreamer) lastSub() *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

var testPublisher = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newTestPrimary(sink Sink, streamer *fakeStreamer) *Primary {
	p := NewPrimary("wss://example/rpc", testPublisher, sink)
	p.dial = func(ctx context.Context, url string) (LogStreamer, error) {
		return streamer, nil
	}
	return p
}

func TestPrimaryConnectAndSubscribe(t *testing.T) {
	sink := &captureSink{}
	streamer := &fakeStreamer{}
	p := newTestPrimary(sink, streamer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	waitFor(t, func() bool { return p.State() == StateConnected }, "connect")

	p.EnsureKind(event.KindBetPlaced)
	waitFor(t, func() bool { return streamer.subCount() == 1 }, "subscribe")

	// A second ensure for an already-subscribed kind is a no-op.
	p.EnsureKind(event.KindBetPlaced)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, streamer.subCount())

	fs := streamer.lastSub()
	require.NotNil(t, fs)
	require.Equal(t, []common.Address{testPublisher}, fs.query.Addresses)
	require.Len(t, fs.query.Topics, 2)
	assert.Equal(t, crypto.Keccak256Hash([]byte(SchemaDescription)), fs.query.Topics[0][0])
	assert.Equal(t, crypto.Keccak256Hash([]byte(event.KindBetPlaced)), fs.query.Topics[1][0])
}

func TestPrimaryPumpDeliversHexFrames(t *testing.T) {
	sink := &captureSink{}
	streamer := &fakeStreamer{}
	p := newTestPrimary(sink, streamer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	waitFor(t, func() bool { return p.State() == StateConnected }, "connect")
	p.EnsureKind(event.KindPoolCreated)
	waitFor(t, func() bool { return streamer.subCount() == 1 }, "subscribe")

	data := []byte{0xde, 0xad, 0xbe, 0xef}
	streamer.lastSub().logs <- types.Log{Data: data}

	waitFor(t, func() bool { return len(sink.snapshot()) == 1 }, "delivery")
	call := sink.snapshot()[0]
	assert.Equal(t, event.KindPoolCreated, call.kind)
	assert.Equal(t, "primary", call.source)
	assert.Equal(t, hexutil.Encode(data), call.payload)

	// Empty frames are skipped.
	streamer.lastSub().logs <- types.Log{}
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.snapshot(), 1)
}

func TestPrimarySubscribeFailureAllowsRetry(t *testing.T) {
	sink := &captureSink{}
	streamer := &fakeStreamer{failNext: true}
	p := newTestPrimary(sink, streamer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	waitFor(t, func() bool { return p.State() == StateConnected }, "connect")

	p.EnsureKind(event.KindCycleResolved)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, streamer.subCount())

	// The failed attempt must not leave the kind stuck in a pending
	// state: the next ensure retries and succeeds.
	p.EnsureKind(event.KindCycleResolved)
	waitFor(t, func() bool { return streamer.subCount() == 1 }, "retry subscribe")
}

func TestPrimaryReleaseKindUnsubscribes(t *testing.T) {
	sink := &captureSink{}
	streamer := &fakeStreamer{}
	p := newTestPrimary(sink, streamer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	waitFor(t, func() bool { return p.State() == StateConnected }, "connect")
	p.EnsureKind(event.KindSlipEvaluated)
	waitFor(t, func() bool { return streamer.subCount() == 1 }, "subscribe")

	p.ReleaseKind(event.KindSlipEvaluated)

	p.mu.Lock()
	_, active := p.subs[event.KindSlipEvaluated]
	_, desired := p.desired[event.KindSlipEvaluated]
	p.mu.Unlock()
	assert.False(t, active)
	assert.False(t, desired)

	// A fresh ensure opens a new underlying subscription.
	p.EnsureKind(event.KindSlipEvaluated)
	waitFor(t, func() bool { return streamer.subCount() == 2 }, "resubscribe")
}

func TestPrimaryReleaseDuringSubscribeDiscardsSub(t *testing.T) {
	sink := &captureSink{}
	streamer := &fakeStreamer{}
	p := newTestPrimary(sink, streamer)

	// The kind is released while its subscribe call is still in flight;
	// the returned subscription must be dropped, not installed as an
	// orphan no later release would reach.
	streamer.onSubscribe = func() {
		p.ReleaseKind(event.KindPoolSettled)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	waitFor(t, func() bool { return p.State() == StateConnected }, "connect")
	p.EnsureKind(event.KindPoolSettled)

	fs := streamer.lastSub()
	require.NotNil(t, fs)
	assert.True(t, fs.sub.isUnsubscribed())

	p.mu.Lock()
	_, active := p.subs[event.KindPoolSettled]
	p.mu.Unlock()
	assert.False(t, active)
}

func TestPrimarySubscriptionErrorTriggersReconnect(t *testing.T) {
	sink := &captureSink{}
	streamer := &fakeStreamer{}
	p := newTestPrimary(sink, streamer)

	var dials int
	var dialMu sync.Mutex
	p.dial = func(ctx context.Context, url string) (LogStreamer, error) {
		dialMu.Lock()
		dials++
		dialMu.Unlock()
		return streamer, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	waitFor(t, func() bool { return p.State() == StateConnected }, "connect")
	p.EnsureKind(event.KindPrizeClaimed)
	waitFor(t, func() bool { return streamer.subCount() == 1 }, "subscribe")

	streamer.lastSub().sub.errCh <- fmt.Errorf("stream dropped")

	// The run loop reconnects and re-flushes the desired kind.
	waitFor(t, func() bool {
		dialMu.Lock()
		defer dialMu.Unlock()
		return dials >= 2
	}, "redial")
	waitFor(t, func() bool { return streamer.subCount() == 2 }, "resubscribe after loss")
	assert.Error(t, p.LastError())
}

func TestPrimaryDialFailureBacksOffThenRecovers(t *testing.T) {
	sink := &captureSink{}
	streamer := &fakeStreamer{}
	p := NewPrimary("wss://example/rpc", testPublisher, sink)

	var dials int
	var dialMu sync.Mutex
	p.dial = func(ctx context.Context, url string) (LogStreamer, error) {
		dialMu.Lock()
		defer dialMu.Unlock()
		dials++
		if dials == 1 {
			return nil, fmt.Errorf("endpoint unreachable")
		}
		return streamer, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	require.Eventually(t, func() bool { return p.State() == StateConnected },
		3*time.Second, 25*time.Millisecond)
	dialMu.Lock()
	assert.Equal(t, 2, dials)
	dialMu.Unlock()
	assert.NoError(t, p.LastError())
}

func TestPrimarySchemaFailureBlocksConnect(t *testing.T) {
	sink := &captureSink{}
	streamer := &fakeStreamer{}
	p := newTestPrimary(sink, streamer)
	p.schemaFn = func(desc string) (common.Hash, error) {
		return common.Hash{}, fmt.Errorf("digest unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	waitFor(t, func() bool {
		var scErr *SchemaComputationError
		return errors.As(p.LastError(), &scErr)
	}, "schema error surfaced")
	assert.NotEqual(t, StateConnected, p.State())
}
