// Package events defines the notification points fired by the progress
// engine and the observers shipped with the pool.
package events

import (
	"github.com/outofforest/blockpool/blocks"
)

// Observer receives pool lifecycle notifications. Notifications are fired
// synchronously from within the progress engine, delivery is best-effort and
// a panicking observer does not abort the pool operation. Implementations
// must be fast and must not call back into the pool.
type Observer interface {
	// BlockAllocated is fired when a block is handed out as an exclusive handle.
	BlockAllocated(id blocks.ID, tier blocks.Tier)

	// BlockRegistered is fired when a block is installed in the registry.
	BlockRegistered(id blocks.ID, fp blocks.Fingerprint)

	// BlockMatched is fired when a registered block is handed out as a new
	// shared handle, including deduplicated registrations.
	BlockMatched(id blocks.ID, fp blocks.Fingerprint)

	// BlockEvicted is fired when a registered block loses its content to
	// satisfy a new allocation.
	BlockEvicted(id blocks.ID, fp blocks.Fingerprint)
}

// Multi fans notifications out to many observers.
type Multi []Observer

// BlockAllocated implements Observer.
func (m Multi) BlockAllocated(id blocks.ID, tier blocks.Tier) {
	for _, o := range m {
		o.BlockAllocated(id, tier)
	}
}

// BlockRegistered implements Observer.
func (m Multi) BlockRegistered(id blocks.ID, fp blocks.Fingerprint) {
	for _, o := range m {
		o.BlockRegistered(id, fp)
	}
}

// BlockMatched implements Observer.
func (m Multi) BlockMatched(id blocks.ID, fp blocks.Fingerprint) {
	for _, o := range m {
		o.BlockMatched(id, fp)
	}
}

// BlockEvicted implements Observer.
func (m Multi) BlockEvicted(id blocks.ID, fp blocks.Fingerprint) {
	for _, o := range m {
		o.BlockEvicted(id, fp)
	}
}
