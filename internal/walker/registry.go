package walker

import (
	"errors"
	"sync"
	"sync/atomic"

	"stever/internal/blockdata"
	"stever/internal/chain"
)

// ErrAlreadyPending is returned by RegisterPending when a message with the
// same hash is already outstanding for the destination account.
var ErrAlreadyPending = errors.New("walker: message already pending for this hash")

// PendingResult is delivered to a pending external message's waiter exactly
// once: either the transaction that consumed it, or Expired if a
// masterchain block past the message's expiry was processed first.
type PendingResult struct {
	Transaction blockdata.Transaction
	Expired     bool
}

type pendingEntry struct {
	expireAt uint32
	ch       chan PendingResult
}

// sink is one transaction-stream subscriber. closed is set by the
// subscriber's cancel function; the registry drops it lazily on the next
// GC pass rather than synchronizing on channel teardown.
type sink struct {
	ch     chan blockdata.Transaction
	closed atomic.Bool
}

const sinkBufferSize = 256

type subscription struct {
	pendingMessages map[[32]byte]*pendingEntry
	sinks           []*sink
}

func (s *subscription) isEmpty() bool {
	return len(s.pendingMessages) == 0 && len(s.sinks) == 0
}

const shardCount = 16

type mapShard struct {
	mu   sync.Mutex
	subs map[[32]byte]*subscription
}

type shardedMap struct {
	shards [shardCount]*mapShard
}

func newShardedMap() *shardedMap {
	m := &shardedMap{}
	for i := range m.shards {
		m.shards[i] = &mapShard{subs: make(map[[32]byte]*subscription)}
	}
	return m
}

func (m *shardedMap) shardFor(address [32]byte) *mapShard {
	var h uint32
	for _, b := range address {
		h = h*31 + uint32(b)
	}
	return m.shards[h%shardCount]
}

// Registry is the pending-message and account-subscription store the
// walker dispatches into. Masterchain and basechain accounts are tracked in
// separate sharded maps, matching how the walker processes the masterchain
// block and its referenced shard blocks as two distinct passes.
type Registry struct {
	count   atomic.Int64
	changed *notifier
	mc      *shardedMap
	sc      *shardedMap
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		changed: newNotifier(),
		mc:      newShardedMap(),
		sc:      newShardedMap(),
	}
}

// Count returns the number of outstanding pending messages plus live
// subscription sinks. The walker idles whenever this is zero.
func (r *Registry) Count() int64 { return r.count.Load() }

// Changed returns a channel that closes the next time a subscription or
// pending message is added.
func (r *Registry) Changed() <-chan struct{} { return r.changed.wait() }

func (r *Registry) mapFor(workchain int32) *shardedMap {
	if workchain == chain.WorkchainMasterchain {
		return r.mc
	}
	return r.sc
}

// RegisterPending inserts a pending external message keyed by its inbound
// message hash, to be resolved by a later transaction or by expiry.
func (r *Registry) RegisterPending(workchain int32, address, msgHash [32]byte, expireAt uint32) (<-chan PendingResult, error) {
	sh := r.mapFor(workchain).shardFor(address)
	sh.mu.Lock()
	sub, ok := sh.subs[address]
	if !ok {
		sub = &subscription{pendingMessages: make(map[[32]byte]*pendingEntry)}
		sh.subs[address] = sub
	}
	if _, exists := sub.pendingMessages[msgHash]; exists {
		sh.mu.Unlock()
		return nil, ErrAlreadyPending
	}
	ch := make(chan PendingResult, 1)
	sub.pendingMessages[msgHash] = &pendingEntry{expireAt: expireAt, ch: ch}
	sh.mu.Unlock()

	r.count.Add(1)
	r.changed.broadcast()
	return ch, nil
}

// CancelPending removes a pending message without delivering a result,
// for when the send that would have made it observable itself failed.
func (r *Registry) CancelPending(workchain int32, address, msgHash [32]byte) {
	sh := r.mapFor(workchain).shardFor(address)
	sh.mu.Lock()
	sub, ok := sh.subs[address]
	if ok {
		if _, exists := sub.pendingMessages[msgHash]; exists {
			delete(sub.pendingMessages, msgHash)
			r.count.Add(-1)
		}
		if sub.isEmpty() {
			delete(sh.subs, address)
		}
	}
	sh.mu.Unlock()
}

// Subscribe registers a transaction sink for address and returns the
// receive side plus a cancel function. The channel is buffered; a
// subscriber that falls behind drops new transactions rather than
// blocking the walker (the Go analogue of Rust's unbounded channel would
// risk unbounded growth instead).
func (r *Registry) Subscribe(workchain int32, address [32]byte) (<-chan blockdata.Transaction, func()) {
	sh := r.mapFor(workchain).shardFor(address)
	sh.mu.Lock()
	sub, ok := sh.subs[address]
	if !ok {
		sub = &subscription{pendingMessages: make(map[[32]byte]*pendingEntry)}
		sh.subs[address] = sub
	}
	s := &sink{ch: make(chan blockdata.Transaction, sinkBufferSize)}
	sub.sinks = append(sub.sinks, s)
	sh.mu.Unlock()

	r.count.Add(1)
	r.changed.broadcast()
	return s.ch, func() { s.closed.Store(true) }
}

// Dispatch delivers every transaction in b to matching subscriptions,
// resolving pending messages whose hash matches a transaction's inbound
// message. The walker calls this once per shard block and once for the
// masterchain block on every step; tests and alternate block sources may
// call it directly.
func (r *Registry) Dispatch(b *blockdata.Block) {
	m := r.mapFor(b.ID.Workchain())
	for _, ab := range b.AccountBlocks {
		sh := m.shardFor(ab.Address)
		sh.mu.Lock()
		sub, ok := sh.subs[ab.Address]
		if !ok {
			sh.mu.Unlock()
			continue
		}
		for _, tx := range ab.Transactions {
			for _, s := range sub.sinks {
				if s.closed.Load() {
					continue
				}
				select {
				case s.ch <- tx:
				default:
				}
			}
			if tx.InMsgHash == nil {
				continue
			}
			if pe, ok := sub.pendingMessages[*tx.InMsgHash]; ok {
				delete(sub.pendingMessages, *tx.InMsgHash)
				select {
				case pe.ch <- PendingResult{Transaction: tx}:
				default:
				}
				r.count.Add(-1)
			}
		}
		sh.mu.Unlock()
	}
}

// GC drops pending messages past expiry (delivering an Expired result),
// drops sinks whose subscriber cancelled, and removes empty subscriptions.
// The walker calls this once per step with the new masterchain block's
// generation time.
func (r *Registry) GC(mcGenUtime uint32) {
	for _, m := range []*shardedMap{r.mc, r.sc} {
		for _, sh := range m.shards {
			sh.mu.Lock()
			for addr, sub := range sh.subs {
				for hash, pe := range sub.pendingMessages {
					if pe.expireAt >= mcGenUtime {
						continue
					}
					delete(sub.pendingMessages, hash)
					select {
					case pe.ch <- PendingResult{Expired: true}:
					default:
					}
					r.count.Add(-1)
				}

				kept := sub.sinks[:0]
				for _, s := range sub.sinks {
					if s.closed.Load() {
						r.count.Add(-1)
						continue
					}
					kept = append(kept, s)
				}
				sub.sinks = kept

				if sub.isEmpty() {
					delete(sh.subs, addr)
				}
			}
			sh.mu.Unlock()
		}
	}
}

// notifier is a broadcast wakeup usable from select, the channel-swap
// idiom that stands in for tokio::sync::Notify.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier { return &notifier{ch: make(chan struct{})} }

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.ch)
	n.ch = make(chan struct{})
}
