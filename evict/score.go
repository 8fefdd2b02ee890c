package evict

import (
	"container/heap"

	"github.com/outofforest/blockpool/blocks"
)

// ScorePolicy evicts the block with the lowest fixed priority score first.
// Recency plays no role; ties are broken by insertion order.
type ScorePolicy struct {
	entries scoreHeap
	index   map[blocks.ID]int
	seq     uint64
}

// NewScore returns new score policy.
func NewScore() *ScorePolicy {
	return &ScorePolicy{
		index: map[blocks.ID]int{},
	}
}

// Add inserts the block with the score carried by the hint.
func (p *ScorePolicy) Add(id blocks.ID, hint Hint) {
	if _, exists := p.index[id]; exists {
		return
	}
	p.seq++
	heap.Push(&scoreEntries{p}, scoreEntry{id: id, score: hint.Score, seq: p.seq})
}

// Touch is a no-op, scores are fixed.
func (p *ScorePolicy) Touch(id blocks.ID) {}

// Remove withdraws the block.
func (p *ScorePolicy) Remove(id blocks.ID) bool {
	i, exists := p.index[id]
	if !exists {
		return false
	}
	heap.Remove(&scoreEntries{p}, i)
	return true
}

// Select removes and returns up to n blocks, lowest score first.
func (p *ScorePolicy) Select(n int) []blocks.ID {
	selected := make([]blocks.ID, 0, n)
	for len(selected) < n && len(p.entries) > 0 {
		e := heap.Pop(&scoreEntries{p}).(scoreEntry)
		selected = append(selected, e.id)
	}
	return selected
}

// Len returns the number of reclaimable blocks.
func (p *ScorePolicy) Len() int {
	return len(p.entries)
}

type scoreEntry struct {
	id    blocks.ID
	score int64
	seq   uint64
}

type scoreHeap []scoreEntry

// scoreEntries adapts the policy to heap.Interface while keeping the
// id -> position index in sync.
type scoreEntries struct {
	p *ScorePolicy
}

func (s scoreEntries) Len() int {
	return len(s.p.entries)
}

func (s scoreEntries) Less(i, j int) bool {
	a, b := s.p.entries[i], s.p.entries[j]
	if a.score != b.score {
		return a.score < b.score
	}
	return a.seq < b.seq
}

func (s scoreEntries) Swap(i, j int) {
	entries, index := s.p.entries, s.p.index
	entries[i], entries[j] = entries[j], entries[i]
	index[entries[i].id] = i
	index[entries[j].id] = j
}

func (s scoreEntries) Push(x any) {
	e := x.(scoreEntry)
	s.p.index[e.id] = len(s.p.entries)
	s.p.entries = append(s.p.entries, e)
}

func (s scoreEntries) Pop() any {
	entries := s.p.entries
	e := entries[len(entries)-1]
	s.p.entries = entries[:len(entries)-1]
	delete(s.p.index, e.id)
	return e
}
