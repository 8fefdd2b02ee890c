// Package blockpool provides reusable fixed-size blocks of KV attention-cache
// state across storage tiers: allocate a block exclusively, fill it, register
// it under the fingerprint of its token sequence, then share it between
// readers. Registered content is deduplicated and evicted worst-first when
// allocation needs room.
package blockpool

import (
	"github.com/outofforest/blockpool/backend/diskback"
	"github.com/outofforest/blockpool/backend/memback"
	"github.com/outofforest/blockpool/blocks"
	"github.com/outofforest/blockpool/events"
	"github.com/outofforest/blockpool/pkg/memdev"
	"github.com/outofforest/blockpool/pool"
)

// InMemory returns a pool of nBlocks blocks backed by host memory.
func InMemory(geometry blocks.Geometry, nBlocks int, observer events.Observer) (*pool.Pool, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	dev := memdev.New(int64(nBlocks) * geometry.BlockBytes())
	return pool.New(pool.Config{
		Backend:  memback.New(blocks.HostTier, dev),
		Blocks:   nBlocks,
		Geometry: geometry,
		Observer: observer,
	})
}

// WithDiskSpill grows the pool by nBlocks compressed blocks stored under dir.
func WithDiskSpill(p *pool.Pool, geometry blocks.Geometry, dir string, nBlocks int) (*diskback.Backend, error) {
	// Compression may expand incompressible payloads slightly, the budget
	// carries a per-block slack to absorb that.
	b, err := diskback.New(diskback.Config{
		Dir:      dir,
		Tier:     blocks.DiskTier,
		Budget:   int64(nBlocks) * (geometry.BlockBytes() + 1024),
		Compress: true,
	})
	if err != nil {
		return nil, err
	}
	if err := p.AddBlocks(b, nBlocks); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}
