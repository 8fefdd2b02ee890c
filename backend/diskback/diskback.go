// Package diskback implements a storage backend keeping block regions in
// files, for the slow spill tiers (local SSD, remote NFS). Payloads are
// optionally compressed with zstd and carry a checksum verified on load.
package diskback

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/outofforest/photon"
	"github.com/pkg/errors"

	"github.com/outofforest/blockpool/backend"
	"github.com/outofforest/blockpool/blocks"
)

// Config configures the backend.
type Config struct {
	// Dir is the directory holding the region files.
	Dir string

	// Tier is the tier the backend allocates from.
	Tier blocks.Tier

	// Budget is the maximum number of payload bytes kept on disk.
	Budget int64

	// Compress applies zstd to region payloads.
	Compress bool
}

// Backend allocates file-backed regions.
type Backend struct {
	cfg     Config
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu         sync.Mutex
	nextRegion uint64
	used       map[uint64]int64
	usedTotal  int64
	freeIDs    []uint64
}

// New returns new backend storing regions in cfg.Dir. If the directory was
// used by a pool before, its superblock is validated and the byte usage is
// recovered from the region files.
func New(cfg Config) (*Backend, error) {
	if cfg.Dir == "" {
		return nil, errors.Wrap(backend.ErrInvalidConfig, "directory is not set")
	}
	if cfg.Budget < 1 {
		return nil, errors.Wrapf(backend.ErrInvalidConfig, "invalid budget: %d", cfg.Budget)
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, errors.Wrap(backend.ErrNotAccessible, err.Error())
	}

	b := &Backend{
		cfg:  cfg,
		used: map[uint64]int64{},
	}

	var err error
	b.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	b.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := b.initSuperblock(); err != nil {
		return nil, err
	}
	if err := b.recoverUsage(); err != nil {
		return nil, err
	}
	return b, nil
}

// Tier implements backend.Backend.
func (b *Backend) Tier() blocks.Tier {
	return b.cfg.Tier
}

// Allocate implements backend.Backend. Region files are created lazily on
// the first store, allocation only reserves identities against the budget.
func (b *Backend) Allocate(n int, size int64) ([]backend.Region, error) {
	if n < 1 || size < 1 {
		return nil, errors.Wrapf(backend.ErrInvalidConfig, "invalid allocation, regions: %d, size: %d", n, size)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	regions := make([]backend.Region, 0, n)
	for len(regions) < n && len(b.freeIDs) > 0 {
		id := b.freeIDs[len(b.freeIDs)-1]
		b.freeIDs = b.freeIDs[:len(b.freeIDs)-1]
		regions = append(regions, &region{b: b, id: id, size: size})
	}
	for len(regions) < n {
		regions = append(regions, &region{b: b, id: b.nextRegion, size: size})
		b.nextRegion++
	}
	return regions, nil
}

// Free implements backend.Backend.
func (b *Backend) Free(regions []backend.Region) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range regions {
		dr, ok := r.(*region)
		if !ok || dr.b != b {
			return errors.Errorf("region does not belong to this backend")
		}
		if err := os.Remove(b.regionPath(dr.id)); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(backend.ErrNotAccessible, err.Error())
		}
		b.usedTotal -= b.used[dr.id]
		delete(b.used, dr.id)
		b.freeIDs = append(b.freeIDs, dr.id)
	}
	return nil
}

// Close releases the compression codecs.
func (b *Backend) Close() error {
	b.encoder.Close()
	b.decoder.Close()
	return nil
}

func (b *Backend) regionPath(id uint64) string {
	return filepath.Join(b.cfg.Dir, regionFileName(id))
}

func (b *Backend) recoverUsage() error {
	entries, err := os.ReadDir(b.cfg.Dir)
	if err != nil {
		return errors.Wrap(backend.ErrNotAccessible, err.Error())
	}

	for _, entry := range entries {
		id, ok := parseRegionFileName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return errors.Wrap(backend.ErrNotAccessible, err.Error())
		}
		payloadSize := info.Size() - headerSize
		if payloadSize < 0 {
			payloadSize = 0
		}
		b.used[id] = payloadSize
		b.usedTotal += payloadSize
		if id >= b.nextRegion {
			b.nextRegion = id + 1
		}
	}
	return nil
}

type region struct {
	b    *Backend
	id   uint64
	size int64
}

// Tier implements backend.Region.
func (r *region) Tier() blocks.Tier {
	return r.b.cfg.Tier
}

// Size implements backend.Region.
func (r *region) Size() int64 {
	return r.size
}

// Load implements backend.Region. A region which has never been stored reads
// back as zeros.
func (r *region) Load() ([]byte, error) {
	raw, err := os.ReadFile(r.b.regionPath(r.id))
	switch {
	case os.IsNotExist(err):
		return make([]byte, r.size), nil
	case err != nil:
		return nil, errors.Wrap(backend.ErrNotAccessible, err.Error())
	}

	if int64(len(raw)) < headerSize {
		return nil, errors.Errorf("region %d is truncated: %d bytes", r.id, len(raw))
	}
	header := photon.NewFromBytes[regionHeader](raw[:headerSize])
	payload := raw[headerSize:]

	if header.V.Compressed == 1 {
		payload, err = r.b.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if checksum := xxhash.Sum64(payload); checksum != header.V.Checksum {
		return nil, errors.Errorf("checksum mismatch for region %d, computed: %d, stored: %d",
			r.id, checksum, header.V.Checksum)
	}
	return payload, nil
}

// Store implements backend.Region.
func (r *region) Store(p []byte) error {
	if int64(len(p)) > r.size {
		return errors.Errorf("invalid size of input buffer: %d, region size: %d", len(p), r.size)
	}

	header := photon.NewFromValue(&regionHeader{
		Checksum: xxhash.Sum64(p),
		RawSize:  int64(len(p)),
	})
	payload := p
	if r.b.cfg.Compress {
		header.V.Compressed = 1
		payload = r.b.encoder.EncodeAll(p, nil)
	}

	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	newTotal := r.b.usedTotal - r.b.used[r.id] + int64(len(payload))
	if newTotal > r.b.cfg.Budget {
		return errors.Wrapf(backend.ErrAllocationFailed,
			"tier budget exceeded, budget: %d, required: %d", r.b.cfg.Budget, newTotal)
	}

	raw := make([]byte, 0, headerSize+int64(len(payload)))
	raw = append(raw, header.B...)
	raw = append(raw, payload...)
	if err := os.WriteFile(r.b.regionPath(r.id), raw, 0o600); err != nil {
		return errors.Wrap(backend.ErrNotAccessible, err.Error())
	}

	r.b.usedTotal = newTotal
	r.b.used[r.id] = int64(len(payload))
	return nil
}
