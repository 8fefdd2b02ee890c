// Package registry keeps the association between content fingerprints and
// registered blocks, enabling deduplication and prefix-match lookups.
package registry

import (
	"github.com/outofforest/blockpool/blocks"
)

// Registry is a bidirectional fingerprint <-> block ID association table.
// It is not safe for concurrent use; the progress engine is its only mutator.
type Registry struct {
	byFingerprint map[blocks.Fingerprint]blocks.ID
	byBlock       map[blocks.ID]blocks.Fingerprint
}

// New returns new registry.
func New() *Registry {
	return &Registry{
		byFingerprint: map[blocks.Fingerprint]blocks.ID{},
		byBlock:       map[blocks.ID]blocks.Fingerprint{},
	}
}

// Insert associates the fingerprint with the block. If the fingerprint is
// already taken by another block, the existing mapping is kept unchanged and
// its block ID is returned with inserted set to false (first-writer-wins).
func (r *Registry) Insert(fp blocks.Fingerprint, id blocks.ID) (blocks.ID, bool) {
	if existing, exists := r.byFingerprint[fp]; exists {
		return existing, false
	}
	r.byFingerprint[fp] = id
	r.byBlock[id] = fp
	return id, true
}

// Lookup returns the block registered under the fingerprint.
func (r *Registry) Lookup(fp blocks.Fingerprint) (blocks.ID, bool) {
	id, exists := r.byFingerprint[fp]
	return id, exists
}

// Fingerprint returns the fingerprint the block is registered under.
func (r *Registry) Fingerprint(id blocks.ID) (blocks.Fingerprint, bool) {
	fp, exists := r.byBlock[id]
	return fp, exists
}

// Remove drops the registration of the block, returning the fingerprint it
// was registered under.
func (r *Registry) Remove(id blocks.ID) (blocks.Fingerprint, bool) {
	fp, exists := r.byBlock[id]
	if !exists {
		return 0, false
	}
	delete(r.byBlock, id)
	delete(r.byFingerprint, fp)
	return fp, true
}

// Len returns the number of registered blocks.
func (r *Registry) Len() int {
	return len(r.byFingerprint)
}
