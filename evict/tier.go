package evict

import (
	"github.com/pkg/errors"

	"github.com/outofforest/blockpool/blocks"
)

// TierPolicy drains the slowest storage tiers first, least recently touched
// first within a tier. It keeps memory-pressure on the fast tiers low by
// sacrificing the content which is the cheapest to recompute or refetch.
type TierPolicy struct {
	perTier [blocks.NTiers]*RecencyPolicy
	tiers   map[blocks.ID]blocks.Tier
}

// NewTierAware returns new tier-aware policy.
func NewTierAware(capacity int) (*TierPolicy, error) {
	if capacity < 1 {
		return nil, errors.Errorf("invalid tier policy capacity: %d", capacity)
	}

	p := &TierPolicy{
		tiers: map[blocks.ID]blocks.Tier{},
	}
	for t := range p.perTier {
		recency, err := NewRecency(capacity)
		if err != nil {
			return nil, err
		}
		p.perTier[t] = recency
	}
	return p, nil
}

// Add inserts the block into the population of its tier.
func (p *TierPolicy) Add(id blocks.ID, hint Hint) {
	p.tiers[id] = hint.Tier
	p.perTier[hint.Tier].Add(id, hint)
}

// Touch marks the block as most recently used within its tier.
func (p *TierPolicy) Touch(id blocks.ID) {
	if tier, exists := p.tiers[id]; exists {
		p.perTier[tier].Touch(id)
	}
}

// Remove withdraws the block.
func (p *TierPolicy) Remove(id blocks.ID) bool {
	tier, exists := p.tiers[id]
	if !exists {
		return false
	}
	delete(p.tiers, id)
	return p.perTier[tier].Remove(id)
}

// Select removes and returns up to n blocks, slowest tier first.
func (p *TierPolicy) Select(n int) []blocks.ID {
	selected := make([]blocks.ID, 0, n)
	for t := blocks.NTiers - 1; t >= 0 && len(selected) < n; t-- {
		for _, id := range p.perTier[t].Select(n - len(selected)) {
			delete(p.tiers, id)
			selected = append(selected, id)
		}
	}
	return selected
}

// Len returns the number of reclaimable blocks.
func (p *TierPolicy) Len() int {
	return len(p.tiers)
}
