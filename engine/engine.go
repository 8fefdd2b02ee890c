// Package engine implements the progress engine: the single logical
// serializer applying every pool-mutating operation atomically against the
// registry, the active set and the inactive set.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/outofforest/blockpool/blocks"
	"github.com/outofforest/blockpool/events"
	"github.com/outofforest/blockpool/evict"
	"github.com/outofforest/blockpool/registry"
)

// BlockInfo describes a block handed out by the engine.
type BlockInfo struct {
	ID          blocks.ID
	Tier        blocks.Tier
	Fingerprint blocks.Fingerprint
}

// RegisterItem is one block submitted for registration.
type RegisterItem struct {
	ID          blocks.ID
	Fingerprint blocks.Fingerprint
	Complete    bool
}

// BlockDesc describes a block admitted into the pool.
type BlockDesc struct {
	ID    blocks.ID
	Tier  blocks.Tier
	Score int64
}

// Config configures the engine.
type Config struct {
	// Policy is the eviction policy holding the inactive set.
	Policy evict.Policy

	// Observer receives lifecycle notifications. May be nil.
	Observer events.Observer

	// QueueSize is the capacity of the request queue.
	QueueSize int
}

// Engine serializes allocate, register, match and release requests. Requests
// are applied in submission order by a single worker goroutine, so no two
// requests ever observe a partially applied effect.
type Engine struct {
	policy   evict.Policy
	reg      *registry.Registry
	observer events.Observer

	queue   chan request
	stopped chan struct{}

	// mu only fences Close against submissions, the queue itself is the
	// serializer.
	mu     sync.RWMutex
	closed bool

	states map[blocks.ID]*blockState

	total     [blocks.NTiers]atomic.Int64
	available [blocks.NTiers]atomic.Int64
}

type blockState struct {
	tier        blocks.Tier
	score       int64
	fingerprint blocks.Fingerprint
	refs        int64
	exclusive   bool
}

// New returns new engine and starts its worker.
func New(cfg Config) *Engine {
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 128
	}

	e := &Engine{
		policy:   cfg.Policy,
		reg:      registry.New(),
		observer: cfg.Observer,
		queue:    make(chan request, queueSize),
		stopped:  make(chan struct{}),
		states:   map[blocks.ID]*blockState{},
	}
	go e.run()
	return e
}

// Close stops accepting new requests, applies the in-flight ones and stops
// the worker. Requests submitted after Close begins fail with ErrShutdown.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.stopped
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	<-e.stopped
}

// Allocate removes count blocks from the inactive set, evicting registered
// ones worst-first, and hands them out for exclusive writing.
func (e *Engine) Allocate(count int) *Future[[]BlockInfo] {
	f := newFuture[[]BlockInfo]()
	e.submit(&allocateRequest{count: count, f: f})
	return f
}

// Register publishes exclusively owned blocks under their fingerprints,
// deduplicating against already-registered content.
func (e *Engine) Register(items []RegisterItem) *Future[[]BlockInfo] {
	f := newFuture[[]BlockInfo]()
	e.submit(&registerRequest{items: items, f: f})
	return f
}

// Match returns registered blocks for the fingerprints found in the
// registry, order-preserving, omitting misses.
func (e *Engine) Match(fps []blocks.Fingerprint) *Future[[]BlockInfo] {
	f := newFuture[[]BlockInfo]()
	e.submit(&matchRequest{fps: fps, f: f})
	return f
}

// ReleaseShared drops one shared reference. At zero references the block
// returns to the inactive set, keeping its registry entry.
func (e *Engine) ReleaseShared(id blocks.ID) *Future[struct{}] {
	f := newFuture[struct{}]()
	e.submit(&releaseSharedRequest{id: id, f: f})
	return f
}

// ReleaseExclusive returns an exclusively owned block to the inactive set
// without registering it.
func (e *Engine) ReleaseExclusive(id blocks.ID) *Future[struct{}] {
	f := newFuture[struct{}]()
	e.submit(&releaseExclusiveRequest{id: id, f: f})
	return f
}

// Add admits externally constructed blocks straight into the inactive set.
func (e *Engine) Add(descs []BlockDesc) *Future[struct{}] {
	f := newFuture[struct{}]()
	e.submit(&addRequest{descs: descs, f: f})
	return f
}

// Total returns the number of blocks managed in the tier.
func (e *Engine) Total(tier blocks.Tier) int64 {
	return e.total[tier].Load()
}

// Available returns the number of inactive blocks in the tier.
func (e *Engine) Available(tier blocks.Tier) int64 {
	return e.available[tier].Load()
}

// TotalBlocks returns the number of blocks managed across all tiers.
func (e *Engine) TotalBlocks() int64 {
	var n int64
	for t := range e.total {
		n += e.total[t].Load()
	}
	return n
}

// AvailableBlocks returns the number of inactive blocks across all tiers.
func (e *Engine) AvailableBlocks() int64 {
	var n int64
	for t := range e.available {
		n += e.available[t].Load()
	}
	return n
}

func (e *Engine) run() {
	defer close(e.stopped)

	for r := range e.queue {
		r.apply(e)
	}
}

func (e *Engine) submit(r request) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		r.reject(ErrShutdown)
		return
	}
	e.queue <- r
}

// notify shields the engine from observers. A panicking observer loses its
// notification, the operation proceeds.
func (e *Engine) notify(fn func(events.Observer)) {
	if e.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Warn("pool observer panicked")
		}
	}()
	fn(e.observer)
}
