// Package memback implements a storage backend carving block regions out of
// one memory-like device.
package memback

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/blockpool/backend"
	"github.com/outofforest/blockpool/blocks"
)

// Dev is the interface required from the device.
type Dev interface {
	io.ReadWriteSeeker
	Sync() error
	Size() int64
}

// Backend allocates fixed-size regions from a device, fastest-fit from the
// free list, then bump-allocated from the unused tail.
type Backend struct {
	tier blocks.Tier
	dev  Dev

	mu         sync.Mutex
	nextOffset int64
	free       map[int64][]int64
}

// New returns new backend allocating from dev on behalf of the tier.
func New(tier blocks.Tier, dev Dev) *Backend {
	return &Backend{
		tier: tier,
		dev:  dev,
		free: map[int64][]int64{},
	}
}

// Tier implements backend.Backend.
func (b *Backend) Tier() blocks.Tier {
	return b.tier
}

// Allocate implements backend.Backend. All-or-nothing: on shortfall nothing
// is carved out.
func (b *Backend) Allocate(n int, size int64) ([]backend.Region, error) {
	if n < 1 || size < 1 {
		return nil, errors.Wrapf(backend.ErrInvalidConfig, "invalid allocation, regions: %d, size: %d", n, size)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	freeList := b.free[size]
	fromTail := n - len(freeList)
	if fromTail < 0 {
		fromTail = 0
	}
	if b.nextOffset+int64(fromTail)*size > b.dev.Size() {
		return nil, errors.Wrapf(backend.ErrAllocationFailed,
			"device exhausted, requested: %d regions of %d bytes, free bytes: %d",
			n, size, b.dev.Size()-b.nextOffset+int64(len(freeList))*size)
	}

	regions := make([]backend.Region, 0, n)
	for len(regions) < n && len(freeList) > 0 {
		offset := freeList[len(freeList)-1]
		freeList = freeList[:len(freeList)-1]
		regions = append(regions, &region{b: b, offset: offset, size: size})
	}
	b.free[size] = freeList

	for len(regions) < n {
		regions = append(regions, &region{b: b, offset: b.nextOffset, size: size})
		b.nextOffset += size
	}
	return regions, nil
}

// Free implements backend.Backend.
func (b *Backend) Free(regions []backend.Region) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range regions {
		mr, ok := r.(*region)
		if !ok || mr.b != b {
			return errors.Errorf("region does not belong to this backend")
		}
		b.free[mr.size] = append(b.free[mr.size], mr.offset)
	}
	return nil
}

type region struct {
	b      *Backend
	offset int64
	size   int64
}

// Tier implements backend.Region.
func (r *region) Tier() blocks.Tier {
	return r.b.tier
}

// Size implements backend.Region.
func (r *region) Size() int64 {
	return r.size
}

// Load implements backend.Region.
func (r *region) Load() ([]byte, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	if _, err := r.b.dev.Seek(r.offset, io.SeekStart); err != nil {
		return nil, errors.WithStack(err)
	}
	p := make([]byte, r.size)
	if _, err := r.b.dev.Read(p); err != nil {
		return nil, errors.WithStack(err)
	}
	return p, nil
}

// Store implements backend.Region.
func (r *region) Store(p []byte) error {
	if int64(len(p)) > r.size {
		return errors.Errorf("invalid size of input buffer: %d, region size: %d", len(p), r.size)
	}

	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	if _, err := r.b.dev.Seek(r.offset, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	if _, err := r.b.dev.Write(p); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
