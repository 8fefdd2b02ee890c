package blocks

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is the deterministic identifier of the token sequence represented
// by the content of a registered block. The zero value means the block carries
// no registered content.
type Fingerprint uint64

// Valid tells whether the fingerprint identifies registered content.
func (f Fingerprint) Valid() bool {
	return f != 0
}

// ChainFingerprint computes the fingerprint of a block holding `tokens`,
// appended after the block identified by `parent`. The parent of the first
// block of a sequence is the zero fingerprint. The salt separates disjoint
// logical caches sharing one physical pool.
//
// The fingerprint is derived from token IDs, not from raw cache bytes, so two
// different token sequences hashing to the same value would alias in the
// registry. This is a known, accepted risk of the design.
func ChainFingerprint(parent Fingerprint, salt uint64, tokens []TokenID) Fingerprint {
	d := xxhash.New()

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], salt)
	_, _ = d.Write(b[:])
	binary.LittleEndian.PutUint64(b[:], uint64(parent))
	_, _ = d.Write(b[:])

	for _, t := range tokens {
		binary.LittleEndian.PutUint32(b[:4], uint32(t))
		_, _ = d.Write(b[:4])
	}

	fp := Fingerprint(d.Sum64())
	if !fp.Valid() {
		// Zero is reserved for blocks without registered content.
		fp = 1
	}
	return fp
}
