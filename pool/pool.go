// Package pool is the public facade of the block pool. It binds the progress
// engine to the storage backends supplying block regions and exposes the
// lifecycle through exclusive and shared handles.
package pool

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/blockpool/backend"
	"github.com/outofforest/blockpool/blocks"
	"github.com/outofforest/blockpool/engine"
	"github.com/outofforest/blockpool/events"
	"github.com/outofforest/blockpool/evict"
)

// Config configures the pool.
type Config struct {
	// Backend supplies the regions backing the initial population of blocks.
	Backend backend.Backend

	// Blocks is the number of blocks carved out of Backend at startup.
	Blocks int

	// Geometry describes the cache content of one block. It sizes the
	// regions and sets the completeness requirement for registration.
	Geometry blocks.Geometry

	// Policy orders the inactive set for eviction. If nil, a recency policy
	// is used.
	Policy evict.Policy

	// Observer receives lifecycle notifications. May be nil.
	Observer events.Observer

	// QueueSize is the capacity of the engine request queue. If not positive,
	// a default is used.
	QueueSize int
}

// Pending delivers the result of a deferred call once the engine has applied
// it. Abandoning a pending result does not cancel the operation.
type Pending[T any] struct {
	done <-chan struct{}
	wait func() (T, error)
}

// Done returns the channel closed once the result is available.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the result is available and returns it.
func (p *Pending[T]) Wait() (T, error) {
	return p.wait()
}

// Pool manages a fixed population of reusable blocks across storage tiers.
type Pool struct {
	cfg    Config
	engine *engine.Engine

	mu       sync.RWMutex
	nextID   blocks.ID
	regions  map[blocks.ID]backend.Region
	backends map[backend.Backend][]backend.Region
}

// New returns new pool with cfg.Blocks blocks backed by cfg.Backend.
func New(cfg Config) (*Pool, error) {
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == nil {
		return nil, errors.Wrap(backend.ErrInvalidConfig, "backend is not set")
	}
	if cfg.Blocks < 1 {
		return nil, errors.Wrapf(backend.ErrInvalidConfig, "invalid block count: %d", cfg.Blocks)
	}
	if cfg.Policy == nil {
		policy, err := evict.NewRecency(cfg.Blocks)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}

	p := &Pool{
		cfg: cfg,
		engine: engine.New(engine.Config{
			Policy:    cfg.Policy,
			Observer:  cfg.Observer,
			QueueSize: cfg.QueueSize,
		}),
		regions:  map[blocks.ID]backend.Region{},
		backends: map[backend.Backend][]backend.Region{},
	}

	if err := p.AddBlocks(cfg.Backend, cfg.Blocks); err != nil {
		p.engine.Close()
		return nil, err
	}
	return p, nil
}

// AddBlocks grows the pool by n blocks backed by b. The new blocks enter the
// inactive set as never-used.
func (p *Pool) AddBlocks(b backend.Backend, n int) error {
	regions, err := b.Allocate(n, p.cfg.Geometry.BlockBytes())
	if err != nil {
		return err
	}

	p.mu.Lock()
	descs := make([]engine.BlockDesc, 0, n)
	for _, r := range regions {
		id := p.nextID
		p.nextID++
		p.regions[id] = r
		descs = append(descs, engine.BlockDesc{ID: id, Tier: r.Tier()})
	}
	p.backends[b] = append(p.backends[b], regions...)
	p.mu.Unlock()

	_, err = p.engine.Add(descs).Wait()
	return err
}

// Allocate hands out count blocks for exclusive writing, evicting inactive
// registered blocks if needed. All-or-nothing.
func (p *Pool) Allocate(count int) ([]*Exclusive, error) {
	return p.AllocateDeferred(count).Wait()
}

// AllocateDeferred is the deferred form of Allocate.
func (p *Pool) AllocateDeferred(count int) *Pending[[]*Exclusive] {
	f := p.engine.Allocate(count)
	return &Pending[[]*Exclusive]{
		done: f.Done(),
		wait: func() ([]*Exclusive, error) {
			infos, err := f.Wait()
			if err != nil {
				return nil, err
			}
			handles := make([]*Exclusive, 0, len(infos))
			for _, info := range infos {
				handles = append(handles, &Exclusive{
					p:      p,
					id:     info.ID,
					tier:   info.Tier,
					region: p.region(info.ID),
				})
			}
			return handles, nil
		},
	}
}

// Register publishes filled exclusive blocks under their fingerprints and
// returns shared handles. When a fingerprint is already registered, the new
// block is discarded back to the inactive set and the returned handle points
// at the block registered before. The exclusive handles are consumed whether
// or not the call succeeds.
func (p *Pool) Register(handles []*Exclusive) ([]*Shared, error) {
	return p.RegisterDeferred(handles).Wait()
}

// RegisterDeferred is the deferred form of Register.
func (p *Pool) RegisterDeferred(handles []*Exclusive) *Pending[[]*Shared] {
	items := make([]engine.RegisterItem, 0, len(handles))
	seen := map[blocks.ID]bool{}
	for _, h := range handles {
		if h == nil || h.consumed || seen[h.id] {
			return rejected[[]*Shared](errors.WithStack(engine.ErrInvalidHandle))
		}
		seen[h.id] = true
		// Rejecting before any handle is consumed keeps a failed batch fully
		// reusable by the caller.
		if !h.complete {
			return rejected[[]*Shared](errors.WithStack(engine.ErrNotComplete))
		}
		items = append(items, engine.RegisterItem{
			ID:          h.id,
			Fingerprint: h.fingerprint,
			Complete:    h.complete,
		})
	}
	for _, h := range handles {
		h.consumed = true
	}

	f := p.engine.Register(items)
	return &Pending[[]*Shared]{
		done: f.Done(),
		wait: func() ([]*Shared, error) {
			infos, err := f.Wait()
			if err != nil {
				return nil, err
			}
			return p.sharedHandles(infos), nil
		},
	}
}

// Match returns shared handles for the fingerprints already registered,
// order-preserving. Misses are omitted, not errors.
func (p *Pool) Match(fps []blocks.Fingerprint) ([]*Shared, error) {
	return p.MatchDeferred(fps).Wait()
}

// MatchDeferred is the deferred form of Match.
func (p *Pool) MatchDeferred(fps []blocks.Fingerprint) *Pending[[]*Shared] {
	f := p.engine.Match(fps)
	return &Pending[[]*Shared]{
		done: f.Done(),
		wait: func() ([]*Shared, error) {
			infos, err := f.Wait()
			if err != nil {
				return nil, err
			}
			return p.sharedHandles(infos), nil
		},
	}
}

// Total returns the number of blocks managed in the tier.
func (p *Pool) Total(tier blocks.Tier) int64 {
	return p.engine.Total(tier)
}

// Available returns the number of inactive blocks in the tier.
func (p *Pool) Available(tier blocks.Tier) int64 {
	return p.engine.Available(tier)
}

// TotalBlocks returns the number of blocks managed across all tiers.
func (p *Pool) TotalBlocks() int64 {
	return p.engine.TotalBlocks()
}

// AvailableBlocks returns the number of inactive blocks across all tiers.
func (p *Pool) AvailableBlocks() int64 {
	return p.engine.AvailableBlocks()
}

// Close shuts the engine down and returns all regions to their backends.
// Every backend is attempted even if one fails, the first failure is
// returned.
func (p *Pool) Close() error {
	p.engine.Close()

	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for b, regions := range p.backends {
		if freeErr := b.Free(regions); freeErr != nil && err == nil {
			err = freeErr
		}
		delete(p.backends, b)
	}
	return err
}

func (p *Pool) region(id blocks.ID) backend.Region {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.regions[id]
}

func (p *Pool) sharedHandles(infos []engine.BlockInfo) []*Shared {
	handles := make([]*Shared, 0, len(infos))
	for _, info := range infos {
		handles = append(handles, &Shared{
			p:           p,
			id:          info.ID,
			tier:        info.Tier,
			fingerprint: info.Fingerprint,
			region:      p.region(info.ID),
		})
	}
	return handles
}

func rejected[T any](err error) *Pending[T] {
	done := make(chan struct{})
	close(done)
	return &Pending[T]{
		done: done,
		wait: func() (T, error) {
			var zero T
			return zero, err
		},
	}
}
