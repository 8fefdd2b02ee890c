package pool

import (
	"github.com/pkg/errors"

	"github.com/outofforest/blockpool/backend"
	"github.com/outofforest/blockpool/blocks"
	"github.com/outofforest/blockpool/engine"
)

// Exclusive is the unique write capability over one block. It is consumed by
// Register or given up by Release.
type Exclusive struct {
	p      *Pool
	id     blocks.ID
	tier   blocks.Tier
	region backend.Region

	fingerprint blocks.Fingerprint
	complete    bool
	consumed    bool
}

// ID returns the block id.
func (h *Exclusive) ID() blocks.ID {
	return h.id
}

// Tier returns the tier the block lives in.
func (h *Exclusive) Tier() blocks.Tier {
	return h.tier
}

// Region returns the storage region backing the block.
func (h *Exclusive) Region() backend.Region {
	return h.region
}

// Fill declares the token sequence the block holds and computes its
// fingerprint. The block must be filled with exactly the pool's
// tokens-per-block token ids, partially filled blocks cannot be registered.
func (h *Exclusive) Fill(parent blocks.Fingerprint, salt uint64, tokens []blocks.TokenID) error {
	if h.consumed {
		return errors.WithStack(engine.ErrInvalidHandle)
	}
	if len(tokens) != h.p.cfg.Geometry.TokensPerBlock {
		return errors.Wrapf(engine.ErrNotComplete, "got %d tokens, block holds %d",
			len(tokens), h.p.cfg.Geometry.TokensPerBlock)
	}

	h.fingerprint = blocks.ChainFingerprint(parent, salt, tokens)
	h.complete = true
	return nil
}

// Fingerprint returns the fingerprint computed by Fill, or the zero
// fingerprint before Fill.
func (h *Exclusive) Fingerprint() blocks.Fingerprint {
	return h.fingerprint
}

// Release returns the block to the inactive set without registering it.
// Whatever was written is abandoned.
func (h *Exclusive) Release() error {
	if h.consumed {
		return errors.WithStack(engine.ErrInvalidHandle)
	}
	h.consumed = true
	_, err := h.p.engine.ReleaseExclusive(h.id).Wait()
	return err
}

// Shared is a refcounted read capability over a registered block.
type Shared struct {
	p           *Pool
	id          blocks.ID
	tier        blocks.Tier
	fingerprint blocks.Fingerprint
	region      backend.Region

	released bool
}

// ID returns the block id.
func (h *Shared) ID() blocks.ID {
	return h.id
}

// Tier returns the tier the block lives in.
func (h *Shared) Tier() blocks.Tier {
	return h.tier
}

// Fingerprint returns the fingerprint the block is registered under.
func (h *Shared) Fingerprint() blocks.Fingerprint {
	return h.fingerprint
}

// Region returns the storage region backing the block.
func (h *Shared) Region() backend.Region {
	return h.region
}

// Release drops the reference. When the last reference is dropped, the block
// returns to the inactive set and stays matchable until evicted.
func (h *Shared) Release() error {
	if h.released {
		return errors.WithStack(engine.ErrInvalidHandle)
	}
	h.released = true
	_, err := h.p.engine.ReleaseShared(h.id).Wait()
	return err
}
