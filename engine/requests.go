package engine

import (
	"github.com/pkg/errors"

	"github.com/outofforest/blockpool/blocks"
	"github.com/outofforest/blockpool/events"
	"github.com/outofforest/blockpool/evict"
)

type request interface {
	apply(e *Engine)
	reject(err error)
}

type allocateRequest struct {
	count int
	f     *Future[[]BlockInfo]
}

func (r *allocateRequest) reject(err error) {
	r.f.resolve(nil, err)
}

func (r *allocateRequest) apply(e *Engine) {
	if r.count < 1 {
		r.f.resolve(nil, errors.Errorf("invalid allocation count: %d", r.count))
		return
	}

	if available := e.policy.Len(); r.count > available {
		// All-or-nothing: nothing has been selected yet, so nothing to undo.
		r.f.resolve(nil, InsufficientCapacityError{Requested: r.count, Available: available})
		return
	}

	infos := make([]BlockInfo, 0, r.count)
	for _, id := range e.policy.Select(r.count) {
		st := e.states[id]
		if st.fingerprint.Valid() {
			fp, _ := e.reg.Remove(id)
			st.fingerprint = 0
			e.notify(func(o events.Observer) { o.BlockEvicted(id, fp) })
		}
		st.exclusive = true
		e.available[st.tier].Add(-1)
		e.notify(func(o events.Observer) { o.BlockAllocated(id, st.tier) })

		infos = append(infos, BlockInfo{ID: id, Tier: st.tier})
	}
	r.f.resolve(infos, nil)
}

type registerRequest struct {
	items []RegisterItem
	f     *Future[[]BlockInfo]
}

func (r *registerRequest) reject(err error) {
	r.f.resolve(nil, err)
}

func (r *registerRequest) apply(e *Engine) {
	// The whole batch is validated before any effect is applied, so a bad
	// item never leaves a partial registration behind. A block listed twice
	// would deduplicate against itself and end up both referenced and
	// evictable, so duplicates are rejected up front.
	seen := map[blocks.ID]bool{}
	for _, item := range r.items {
		st, exists := e.states[item.ID]
		switch {
		case !exists || !st.exclusive || seen[item.ID]:
			r.f.resolve(nil, errors.WithStack(ErrInvalidHandle))
			return
		case !item.Complete || !item.Fingerprint.Valid():
			r.f.resolve(nil, errors.WithStack(ErrNotComplete))
			return
		}
		seen[item.ID] = true
	}

	infos := make([]BlockInfo, 0, len(r.items))
	for _, item := range r.items {
		st := e.states[item.ID]
		st.exclusive = false

		if existingID, exists := e.reg.Lookup(item.Fingerprint); exists {
			// The freshly computed content is redundant. The new block goes
			// back to the inactive set empty, the caller gets the block
			// already registered under the fingerprint.
			e.policy.Add(item.ID, evict.Hint{Tier: st.tier, Score: st.score})
			e.available[st.tier].Add(1)

			existing := e.states[existingID]
			if existing.refs == 0 {
				e.policy.Remove(existingID)
				e.available[existing.tier].Add(-1)
			}
			existing.refs++
			e.policy.Touch(existingID)
			e.notify(func(o events.Observer) { o.BlockMatched(existingID, item.Fingerprint) })

			infos = append(infos, BlockInfo{ID: existingID, Tier: existing.tier, Fingerprint: item.Fingerprint})
			continue
		}

		e.reg.Insert(item.Fingerprint, item.ID)
		st.fingerprint = item.Fingerprint
		st.refs = 1
		e.notify(func(o events.Observer) { o.BlockRegistered(item.ID, item.Fingerprint) })

		infos = append(infos, BlockInfo{ID: item.ID, Tier: st.tier, Fingerprint: item.Fingerprint})
	}
	r.f.resolve(infos, nil)
}

type matchRequest struct {
	fps []blocks.Fingerprint
	f   *Future[[]BlockInfo]
}

func (r *matchRequest) reject(err error) {
	r.f.resolve(nil, err)
}

func (r *matchRequest) apply(e *Engine) {
	infos := make([]BlockInfo, 0, len(r.fps))
	for _, fp := range r.fps {
		id, exists := e.reg.Lookup(fp)
		if !exists {
			// Partial-result semantics: a miss is omitted, not an error.
			continue
		}

		st := e.states[id]
		if st.refs == 0 {
			e.policy.Remove(id)
			e.available[st.tier].Add(-1)
		}
		st.refs++
		e.policy.Touch(id)
		e.notify(func(o events.Observer) { o.BlockMatched(id, fp) })

		infos = append(infos, BlockInfo{ID: id, Tier: st.tier, Fingerprint: fp})
	}
	r.f.resolve(infos, nil)
}

type releaseSharedRequest struct {
	id blocks.ID
	f  *Future[struct{}]
}

func (r *releaseSharedRequest) reject(err error) {
	r.f.resolve(struct{}{}, err)
}

func (r *releaseSharedRequest) apply(e *Engine) {
	st, exists := e.states[r.id]
	if !exists || st.exclusive || st.refs == 0 {
		r.f.resolve(struct{}{}, errors.WithStack(ErrInvalidHandle))
		return
	}

	st.refs--
	if st.refs == 0 {
		// The registry entry survives, the block stays matchable until it is
		// evicted or reallocated.
		e.policy.Add(r.id, evict.Hint{Tier: st.tier, Score: st.score})
		e.available[st.tier].Add(1)
	}
	r.f.resolve(struct{}{}, nil)
}

type releaseExclusiveRequest struct {
	id blocks.ID
	f  *Future[struct{}]
}

func (r *releaseExclusiveRequest) reject(err error) {
	r.f.resolve(struct{}{}, err)
}

func (r *releaseExclusiveRequest) apply(e *Engine) {
	st, exists := e.states[r.id]
	if !exists || !st.exclusive {
		r.f.resolve(struct{}{}, errors.WithStack(ErrInvalidHandle))
		return
	}

	st.exclusive = false
	e.policy.Add(r.id, evict.Hint{Tier: st.tier, Score: st.score})
	e.available[st.tier].Add(1)
	r.f.resolve(struct{}{}, nil)
}

type addRequest struct {
	descs []BlockDesc
	f     *Future[struct{}]
}

func (r *addRequest) reject(err error) {
	r.f.resolve(struct{}{}, err)
}

func (r *addRequest) apply(e *Engine) {
	for _, desc := range r.descs {
		if _, exists := e.states[desc.ID]; exists {
			r.f.resolve(struct{}{}, errors.Errorf("block %d is already managed", desc.ID))
			return
		}
	}

	for _, desc := range r.descs {
		e.states[desc.ID] = &blockState{tier: desc.Tier, score: desc.Score}
		e.policy.Add(desc.ID, evict.Hint{Tier: desc.Tier, Score: desc.Score})
		e.total[desc.Tier].Add(1)
		e.available[desc.Tier].Add(1)
	}
	r.f.resolve(struct{}{}, nil)
}
