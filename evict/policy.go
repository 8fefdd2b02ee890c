// Package evict implements the inactive set: the ordered population of
// reclaimable blocks, and the closed set of eviction policies choosing which
// of them to reclaim first.
package evict

import (
	"github.com/outofforest/blockpool/blocks"
)

// Hint carries per-block ordering inputs a policy may use. Policies ignore
// the fields they don't order by.
type Hint struct {
	// Tier is the storage tier backing the block.
	Tier blocks.Tier

	// Score is a fixed priority assigned by the caller. Lower scores are
	// evicted first.
	Score int64
}

// Policy holds the reclaimable blocks and orders them for eviction.
// Membership implies zero live references and no exclusive handle.
// Policies are not safe for concurrent use; the progress engine is the only
// caller.
type Policy interface {
	// Add inserts the block into the reclaimable population.
	Add(id blocks.ID, hint Hint)

	// Touch refreshes the recency of the block. No-op for policies which
	// don't order by recency.
	Touch(id blocks.ID)

	// Remove withdraws the block from the reclaimable population, because it
	// became referenced or exclusively owned.
	Remove(id blocks.ID) bool

	// Select removes and returns up to n blocks, worst-first. Fewer than n
	// are returned if the population is smaller.
	Select(n int) []blocks.ID

	// Len returns the size of the reclaimable population.
	Len() int
}
