package blocks

import (
	"github.com/pkg/errors"
)

// Geometry describes the shape of the KV cache content stored in one block.
// It is used to size backing regions and to validate that a block is complete
// before registration. It takes no part in fingerprint computation.
type Geometry struct {
	// Layers is the number of transformer layers cached per block.
	Layers int

	// TokensPerBlock is the number of token positions stored in one block.
	TokensPerBlock int

	// HiddenDim is the hidden dimension of a single K or V row.
	HiddenDim int

	// ElementSize is the byte width of one cache element.
	ElementSize int
}

// Validate verifies that the geometry describes a non-empty block.
func (g Geometry) Validate() error {
	switch {
	case g.Layers <= 0:
		return errors.Errorf("invalid geometry, layers: %d", g.Layers)
	case g.TokensPerBlock <= 0:
		return errors.Errorf("invalid geometry, tokens per block: %d", g.TokensPerBlock)
	case g.HiddenDim <= 0:
		return errors.Errorf("invalid geometry, hidden dimension: %d", g.HiddenDim)
	case g.ElementSize <= 0:
		return errors.Errorf("invalid geometry, element size: %d", g.ElementSize)
	}
	return nil
}

// BlockBytes returns the byte capacity required to store the K and V rows of
// one block.
func (g Geometry) BlockBytes() int64 {
	// 2 accounts for the separate K and V planes.
	return 2 * int64(g.Layers) * int64(g.TokensPerBlock) * int64(g.HiddenDim) * int64(g.ElementSize)
}
