package evict

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/outofforest/blockpool/blocks"
)

// RecencyPolicy evicts the least recently touched block first. This is the
// default policy.
type RecencyPolicy struct {
	entries  *lru.Cache[blocks.ID, Hint]
	capacity int
}

// NewRecency returns new recency policy able to hold at least capacity blocks.
// The policy grows as blocks are admitted, it never drops entries on its own.
func NewRecency(capacity int) (*RecencyPolicy, error) {
	if capacity < 1 {
		return nil, errors.Errorf("invalid recency policy capacity: %d", capacity)
	}
	entries, err := lru.New[blocks.ID, Hint](capacity)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &RecencyPolicy{
		entries:  entries,
		capacity: capacity,
	}, nil
}

// Add inserts the block at the most recent position.
func (p *RecencyPolicy) Add(id blocks.ID, hint Hint) {
	// The backing cache must never evict by itself, its only job is ordering.
	if p.entries.Len() >= p.capacity && !p.entries.Contains(id) {
		p.capacity *= 2
		p.entries.Resize(p.capacity)
	}
	p.entries.Add(id, hint)
}

// Touch marks the block as most recently used.
func (p *RecencyPolicy) Touch(id blocks.ID) {
	_, _ = p.entries.Get(id)
}

// Remove withdraws the block.
func (p *RecencyPolicy) Remove(id blocks.ID) bool {
	return p.entries.Remove(id)
}

// Select removes and returns up to n blocks, least recently touched first.
func (p *RecencyPolicy) Select(n int) []blocks.ID {
	selected := make([]blocks.ID, 0, n)
	for len(selected) < n {
		id, _, ok := p.entries.RemoveOldest()
		if !ok {
			break
		}
		selected = append(selected, id)
	}
	return selected
}

// Len returns the number of reclaimable blocks.
func (p *RecencyPolicy) Len() int {
	return p.entries.Len()
}
