package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/oddyssey/stream/internal/event"
)

// Reconnection policy for the primary stream: bounded exponential backoff
// with jitter. After MaxConnectAttempts consecutive failures the adapter
// stays down until a manual Reconnect.
const (
	InitialBackoff     = 1 * time.Second
	MaxBackoff         = 60 * time.Second
	BackoffFactor      = 2.0
	JitterPercent      = 0.2
	MaxConnectAttempts = 5
)

// SchemaDescription is the fixed wire schema the subscription identifier
// is derived from: a single variable-length string field carrying the
// JSON envelope.
const SchemaDescription = "oddyssey.events.v1(string data)"

// SchemaComputationError blocks every primary-transport subscribe until
// resolved; the fallback path continues independently.
type SchemaComputationError struct {
	Err error
}

func (e *SchemaComputationError) Error() string {
	return fmt.Sprintf("schema id computation: %v", e.Err)
}

func (e *SchemaComputationError) Unwrap() error { return e.Err }

// LogStreamer is the slice of the RPC client the adapter needs.
// *ethclient.Client satisfies it.
type LogStreamer interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

type primarySub struct {
	sub  ethereum.Subscription
	logs chan types.Log
}

// Primary maintains the singleton connection to the enriched-stream
// endpoint and one underlying log subscription per event kind with at
// least one live subscriber. Payloads are handed to the sink as hex
// frames for the decode pipeline.
type Primary struct {
	url       string
	publisher common.Address
	sink      Sink

	// Injection points for tests.
	dial     func(ctx context.Context, url string) (LogStreamer, error)
	schemaFn func(desc string) (common.Hash, error)

	mu          sync.Mutex
	client      LogStreamer
	state       ConnState
	lastErr     error
	schemaID    common.Hash
	schemaReady bool
	desired     map[event.Kind]struct{}
	subs        map[event.Kind]*primarySub
	pending     map[event.Kind]bool

	ctx         context.Context
	stopCh      chan struct{}
	stopOnce    sync.Once
	connLost    chan struct{}
	reconnectCh chan struct{}
	wg          sync.WaitGroup
}

// NewPrimary creates the adapter for the given websocket RPC endpoint and
// publisher identity. Call Start to connect eagerly.
func NewPrimary(url string, publisher common.Address, sink Sink) *Primary {
	return &Primary{
		url:         url,
		publisher:   publisher,
		sink:        sink,
		dial:        dialEth,
		schemaFn:    keccakSchema,
		desired:     make(map[event.Kind]struct{}),
		subs:        make(map[event.Kind]*primarySub),
		pending:     make(map[event.Kind]bool),
		stopCh:      make(chan struct{}),
		connLost:    make(chan struct{}, 1),
		reconnectCh: make(chan struct{}, 1),
	}
}

func dialEth(ctx context.Context, url string) (LogStreamer, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func keccakSchema(desc string) (common.Hash, error) {
	if desc == "" {
		return common.Hash{}, fmt.Errorf("empty schema description")
	}
	return crypto.Keccak256Hash([]byte(desc)), nil
}

// kindTopic derives the per-kind filter topic.
func kindTopic(kind event.Kind) common.Hash {
	return crypto.Keccak256Hash([]byte(kind))
}

// Start connects eagerly, independent of whether any subscriptions exist
// yet.
func (p *Primary) Start(ctx context.Context) {
	p.ctx = ctx
	p.wg.Add(1)
	go p.run(ctx)
}

// Close shuts the adapter down.
func (p *Primary) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// State returns the current connection state.
func (p *Primary) State() ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastError returns the most recent connection-level error, if any.
func (p *Primary) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Reconnect resets the attempt budget and forces a fresh dial. It is the
// recovery path once the bounded retry budget is exhausted.
func (p *Primary) Reconnect() {
	select {
	case p.reconnectCh <- struct{}{}:
	default:
	}
}

// EnsureKind marks a kind as desired and opens its underlying
// subscription when the connection and schema id are ready.
func (p *Primary) EnsureKind(kind event.Kind) {
	p.mu.Lock()
	p.desired[kind] = struct{}{}
	ready := p.state == StateConnected && p.schemaReady
	p.mu.Unlock()

	if ready {
		p.subscribeKind(kind)
	}
}

// ReleaseKind tears down the kind's underlying subscription.
func (p *Primary) ReleaseKind(kind event.Kind) {
	p.mu.Lock()
	delete(p.desired, kind)
	ps := p.subs[kind]
	delete(p.subs, kind)
	p.mu.Unlock()

	if ps != nil {
		ps.sub.Unsubscribe()
		slog.Info("primary_unsubscribed", "kind", kind)
	}
}

// run owns the connection lifecycle: dial with bounded backoff, compute
// the schema id, resubscribe desired kinds, then wait for loss or stop.
func (p *Primary) run(ctx context.Context) {
	defer p.wg.Done()

	attempts := 0
	backoff := InitialBackoff

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		if attempts >= MaxConnectAttempts {
			slog.Error("primary_retries_exhausted", "attempts", attempts)
			p.setState(StateDisconnected)
			// Stay down until a manual reconnect.
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-p.reconnectCh:
				attempts = 0
				backoff = InitialBackoff
				continue
			}
		}

		p.setState(StateConnecting)

		client, err := p.dial(ctx, p.url)
		if err != nil {
			attempts++
			p.setError(fmt.Errorf("primary dial: %w", err))
			p.setState(StateDisconnected)
			slog.Error("primary_connect_failed", "error", err, "attempt", attempts, "backoff", backoff)
			backoff = p.waitBackoff(ctx, backoff)
			continue
		}

		if err := p.ensureSchema(); err != nil {
			attempts++
			p.setError(err)
			p.setState(StateDisconnected)
			client.Close()
			slog.Error("primary_schema_failed", "error", err, "attempt", attempts)
			backoff = p.waitBackoff(ctx, backoff)
			continue
		}

		attempts = 0
		backoff = InitialBackoff

		p.mu.Lock()
		p.client = client
		p.state = StateConnected
		p.lastErr = nil
		desired := make([]event.Kind, 0, len(p.desired))
		for k := range p.desired {
			desired = append(desired, k)
		}
		p.mu.Unlock()

		slog.Info("primary_connected", "endpoint", p.url, "kinds", len(desired))

		for _, kind := range desired {
			p.subscribeKind(kind)
		}

		select {
		case <-ctx.Done():
			p.teardownConn(client)
			return
		case <-p.stopCh:
			p.teardownConn(client)
			return
		case <-p.connLost:
			slog.Warn("primary_connection_lost")
			p.teardownConn(client)
		case <-p.reconnectCh:
			slog.Info("primary_manual_reconnect")
			p.teardownConn(client)
		}
	}
}

// subscribeKind opens exactly one underlying subscription for a kind. A
// failed setup clears the pending flag so a later subscriber retries;
// the kind is never left stuck in a subscribing state.
func (p *Primary) subscribeKind(kind event.Kind) {
	p.mu.Lock()
	if _, active := p.subs[kind]; active || p.pending[kind] {
		p.mu.Unlock()
		return
	}
	p.pending[kind] = true
	client := p.client
	schemaID := p.schemaID
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, kind)
		p.mu.Unlock()
	}()

	if client == nil {
		return
	}

	q := ethereum.FilterQuery{
		Addresses: []common.Address{p.publisher},
		Topics:    [][]common.Hash{{schemaID}, {kindTopic(kind)}},
	}
	logs := make(chan types.Log, 64)

	sub, err := client.SubscribeFilterLogs(p.ctx, q, logs)
	if err != nil {
		slog.Warn("primary_subscribe_failed", "kind", kind, "error", err)
		return
	}

	// The kind may have been released, or the connection cycled, while
	// the subscribe call was in flight. Installing the sub then would
	// orphan it past any ReleaseKind, so drop it instead.
	p.mu.Lock()
	_, wanted := p.desired[kind]
	if !wanted || p.client != client {
		p.mu.Unlock()
		sub.Unsubscribe()
		slog.Info("primary_subscription_discarded", "kind", kind)
		return
	}
	p.subs[kind] = &primarySub{sub: sub, logs: logs}
	p.mu.Unlock()

	slog.Info("primary_subscribed", "kind", kind)

	p.wg.Add(1)
	go p.pump(kind, sub, logs)
}

// pump forwards one subscription's frames into the sink and reports
// subscription errors as connection loss.
func (p *Primary) pump(kind event.Kind, sub ethereum.Subscription, logs chan types.Log) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case l := <-logs:
			if len(l.Data) == 0 {
				continue
			}
			p.sink.HandleRaw(kind, hexutil.Encode(l.Data), "primary")
		case err := <-sub.Err():
			if err != nil {
				slog.Warn("primary_subscription_error", "kind", kind, "error", err)
				p.setError(err)
				p.signalConnLost()
			}
			return
		}
	}
}

func (p *Primary) ensureSchema() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.schemaReady {
		return nil
	}
	h, err := p.schemaFn(SchemaDescription)
	if err != nil {
		return &SchemaComputationError{Err: err}
	}
	p.schemaID = h
	p.schemaReady = true
	return nil
}

// teardownConn closes the client and clears per-kind subscription state;
// the desired set survives for the next connect.
func (p *Primary) teardownConn(client LogStreamer) {
	p.mu.Lock()
	subs := p.subs
	p.subs = make(map[event.Kind]*primarySub)
	p.client = nil
	p.state = StateDisconnected
	p.mu.Unlock()

	for _, ps := range subs {
		ps.sub.Unsubscribe()
	}
	client.Close()

	// Drain a stale loss signal so the next session does not see it.
	select {
	case <-p.connLost:
	default:
	}
}

func (p *Primary) signalConnLost() {
	select {
	case p.connLost <- struct{}{}:
	default:
	}
}

func (p *Primary) waitBackoff(ctx context.Context, backoff time.Duration) time.Duration {
	jitter := time.Duration(float64(backoff) * JitterPercent * (rand.Float64()*2 - 1))

	select {
	case <-ctx.Done():
	case <-p.stopCh:
	case <-p.reconnectCh:
	case <-time.After(backoff + jitter):
	}

	next := time.Duration(float64(backoff) * BackoffFactor)
	if next > MaxBackoff {
		next = MaxBackoff
	}
	return next
}

func (p *Primary) setState(s ConnState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Primary) setError(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}
