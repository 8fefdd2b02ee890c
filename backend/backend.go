// Package backend defines the contract between the block pool and the raw
// storage-tier allocators supplying it with backing regions.
package backend

import (
	"github.com/pkg/errors"

	"github.com/outofforest/blockpool/blocks"
)

// ErrAllocationFailed is returned when a tier cannot supply the requested
// regions.
var ErrAllocationFailed = errors.New("allocation failed")

// ErrNotAccessible is returned when the storage behind a tier cannot be
// reached.
var ErrNotAccessible = errors.New("storage tier is not accessible")

// ErrInvalidConfig is returned when a backend is configured inconsistently.
var ErrInvalidConfig = errors.New("invalid storage configuration")

// Region is a raw byte window of a storage tier backing one block.
type Region interface {
	// Tier returns the tier the region lives in.
	Tier() blocks.Tier

	// Size returns the byte capacity of the region.
	Size() int64

	// Load reads the current content of the region.
	Load() ([]byte, error)

	// Store overwrites the content of the region.
	Store(p []byte) error
}

// Backend supplies raw allocatable regions of one storage tier.
type Backend interface {
	// Tier returns the tier the backend allocates from.
	Tier() blocks.Tier

	// Allocate returns n regions of the given byte size.
	Allocate(n int, size int64) ([]Region, error)

	// Free returns regions to the backend.
	Free(regions []Region) error
}
