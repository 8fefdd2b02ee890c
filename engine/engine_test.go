package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/outofforest/blockpool/blocks"
	"github.com/outofforest/blockpool/evict"
)

func newTestEngine(t *testing.T, nBlocks int) *Engine {
	policy, err := evict.NewRecency(nBlocks)
	require.NoError(t, err)

	e := New(Config{Policy: policy})
	t.Cleanup(e.Close)

	descs := make([]BlockDesc, 0, nBlocks)
	for i := 0; i < nBlocks; i++ {
		descs = append(descs, BlockDesc{ID: blocks.ID(i), Tier: blocks.HostTier})
	}
	_, err = e.Add(descs).Wait()
	require.NoError(t, err)

	return e
}

func registerOne(t *testing.T, e *Engine, fp blocks.Fingerprint) BlockInfo {
	infos, err := e.Allocate(1).Wait()
	require.NoError(t, err)
	shared, err := e.Register([]RegisterItem{{ID: infos[0].ID, Fingerprint: fp, Complete: true}}).Wait()
	require.NoError(t, err)
	return shared[0]
}

func TestAllocateDistinctBlocks(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 4)
	requireT.Equal(int64(4), e.AvailableBlocks())

	infos, err := e.Allocate(3).Wait()
	requireT.NoError(err)
	requireT.Len(infos, 3)
	requireT.Equal(int64(1), e.AvailableBlocks())
	requireT.Equal(int64(4), e.TotalBlocks())

	seen := map[blocks.ID]struct{}{}
	for _, info := range infos {
		seen[info.ID] = struct{}{}
	}
	requireT.Len(seen, 3)
}

func TestAllocateInsufficientCapacity(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 2)

	_, err := e.Allocate(3).Wait()
	requireT.Error(err)
	requireT.ErrorAs(err, &InsufficientCapacityError{})
	requireT.Equal(InsufficientCapacityError{Requested: 3, Available: 2}, err)

	// No partial allocation happened.
	requireT.Equal(int64(2), e.AvailableBlocks())
}

func TestRegisterAndMatch(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 4)
	info := registerOne(t, e, 77)

	matched, err := e.Match([]blocks.Fingerprint{77}).Wait()
	requireT.NoError(err)
	requireT.Len(matched, 1)
	requireT.Equal(info.ID, matched[0].ID)
	requireT.Equal(blocks.Fingerprint(77), matched[0].Fingerprint)
}

func TestRegisterIncomplete(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 4)

	infos, err := e.Allocate(2).Wait()
	requireT.NoError(err)

	_, err = e.Register([]RegisterItem{
		{ID: infos[0].ID, Fingerprint: 5, Complete: true},
		{ID: infos[1].ID, Fingerprint: 6, Complete: false},
	}).Wait()
	requireT.ErrorIs(err, ErrNotComplete)

	// The batch is atomic, the complete item was not registered either.
	matched, err := e.Match([]blocks.Fingerprint{5}).Wait()
	requireT.NoError(err)
	requireT.Empty(matched)
}

func TestRegisterDeduplicates(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 4)

	infos, err := e.Allocate(2).Wait()
	requireT.NoError(err)

	first, err := e.Register([]RegisterItem{{ID: infos[0].ID, Fingerprint: 9, Complete: true}}).Wait()
	requireT.NoError(err)

	second, err := e.Register([]RegisterItem{{ID: infos[1].ID, Fingerprint: 9, Complete: true}}).Wait()
	requireT.NoError(err)

	// Both handles reference the same underlying block, the second writer's
	// block was discarded back to the inactive set.
	requireT.Equal(first[0].ID, second[0].ID)
	requireT.Equal(int64(3), e.AvailableBlocks())
}

func TestRegisterRejectsDuplicateBlock(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 2)

	infos, err := e.Allocate(1).Wait()
	requireT.NoError(err)

	// Listing a block twice would make it deduplicate against itself,
	// leaving it referenced and evictable at the same time.
	_, err = e.Register([]RegisterItem{
		{ID: infos[0].ID, Fingerprint: 9, Complete: true},
		{ID: infos[0].ID, Fingerprint: 9, Complete: true},
	}).Wait()
	requireT.ErrorIs(err, ErrInvalidHandle)

	// Nothing was registered and the block is still exclusively owned.
	requireT.Equal(int64(1), e.AvailableBlocks())
	matched, err := e.Match([]blocks.Fingerprint{9}).Wait()
	requireT.NoError(err)
	requireT.Empty(matched)

	// The rejected block must not have leaked into the inactive set.
	_, err = e.Allocate(2).Wait()
	requireT.Equal(InsufficientCapacityError{Requested: 2, Available: 1}, err)
}

func TestMatchPartialResults(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 4)
	info := registerOne(t, e, 30)

	matched, err := e.Match([]blocks.Fingerprint{20, 30, 40}).Wait()
	requireT.NoError(err)
	requireT.Len(matched, 1)
	requireT.Equal(info.ID, matched[0].ID)
}

func TestReferenceCounting(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 4)
	info := registerOne(t, e, 50)

	const n = 3
	for i := 0; i < n; i++ {
		matched, err := e.Match([]blocks.Fingerprint{50}).Wait()
		requireT.NoError(err)
		requireT.Len(matched, 1)
	}

	// 1 reference from register + n from match.
	for i := 0; i < n; i++ {
		_, err := e.ReleaseShared(info.ID).Wait()
		requireT.NoError(err)
	}
	requireT.Equal(int64(3), e.AvailableBlocks())

	_, err := e.ReleaseShared(info.ID).Wait()
	requireT.NoError(err)
	requireT.Equal(int64(4), e.AvailableBlocks())

	// The block returned to the inactive set exactly once.
	_, err = e.ReleaseShared(info.ID).Wait()
	requireT.ErrorIs(err, ErrInvalidHandle)
	requireT.Equal(int64(4), e.AvailableBlocks())
}

func TestReleasedBlockStaysMatchable(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 4)
	info := registerOne(t, e, 60)

	_, err := e.ReleaseShared(info.ID).Wait()
	requireT.NoError(err)

	matched, err := e.Match([]blocks.Fingerprint{60}).Wait()
	requireT.NoError(err)
	requireT.Len(matched, 1)
	requireT.Equal(info.ID, matched[0].ID)
}

func TestEvictionSkipsReferencedBlocks(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 2)

	// Register and hold one block, only the other one is evictable.
	registerOne(t, e, 70)

	_, err := e.Allocate(2).Wait()
	requireT.Equal(InsufficientCapacityError{Requested: 2, Available: 1}, err)
	requireT.Equal(int64(1), e.AvailableBlocks())
}

func TestEvictionDropsRegistryEntry(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 1)

	info := registerOne(t, e, 80)
	_, err := e.ReleaseShared(info.ID).Wait()
	requireT.NoError(err)

	// Reallocating the only block evicts the registered content.
	infos, err := e.Allocate(1).Wait()
	requireT.NoError(err)
	requireT.Equal(info.ID, infos[0].ID)

	matched, err := e.Match([]blocks.Fingerprint{80}).Wait()
	requireT.NoError(err)
	requireT.Empty(matched)
}

func TestExclusiveReleaseWithoutRegister(t *testing.T) {
	requireT := require.New(t)

	e := newTestEngine(t, 2)

	infos, err := e.Allocate(1).Wait()
	requireT.NoError(err)

	_, err = e.ReleaseExclusive(infos[0].ID).Wait()
	requireT.NoError(err)
	requireT.Equal(int64(2), e.AvailableBlocks())

	_, err = e.ReleaseExclusive(infos[0].ID).Wait()
	requireT.ErrorIs(err, ErrInvalidHandle)
}

func TestShutdown(t *testing.T) {
	requireT := require.New(t)

	policy, err := evict.NewRecency(1)
	requireT.NoError(err)

	e := New(Config{Policy: policy})
	_, err = e.Add([]BlockDesc{{ID: 0, Tier: blocks.HostTier}}).Wait()
	requireT.NoError(err)

	e.Close()

	_, err = e.Allocate(1).Wait()
	requireT.ErrorIs(err, ErrShutdown)

	// Closing twice is fine.
	e.Close()
}

type panickyObserver struct{}

func (panickyObserver) BlockAllocated(id blocks.ID, tier blocks.Tier)       { panic("observer") }
func (panickyObserver) BlockRegistered(id blocks.ID, fp blocks.Fingerprint) { panic("observer") }
func (panickyObserver) BlockMatched(id blocks.ID, fp blocks.Fingerprint)    { panic("observer") }
func (panickyObserver) BlockEvicted(id blocks.ID, fp blocks.Fingerprint)    { panic("observer") }

func TestObserverPanicDoesNotAbortOperations(t *testing.T) {
	requireT := require.New(t)

	policy, err := evict.NewRecency(2)
	requireT.NoError(err)

	e := New(Config{Policy: policy, Observer: panickyObserver{}})
	t.Cleanup(e.Close)

	_, err = e.Add([]BlockDesc{{ID: 0, Tier: blocks.HostTier}, {ID: 1, Tier: blocks.HostTier}}).Wait()
	requireT.NoError(err)

	infos, err := e.Allocate(1).Wait()
	requireT.NoError(err)

	shared, err := e.Register([]RegisterItem{{ID: infos[0].ID, Fingerprint: 3, Complete: true}}).Wait()
	requireT.NoError(err)
	requireT.Len(shared, 1)
}

func TestConcurrentRequestsStayConsistent(t *testing.T) {
	requireT := require.New(t)

	const nBlocks = 16
	e := newTestEngine(t, nBlocks)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				infos, err := e.Allocate(1).Wait()
				if err != nil {
					// Capacity pressure from sibling workers is expected.
					if _, ok := err.(InsufficientCapacityError); ok {
						continue
					}
					return err
				}

				fp := blocks.ChainFingerprint(0, uint64(w), []blocks.TokenID{blocks.TokenID(i)})
				shared, err := e.Register([]RegisterItem{{ID: infos[0].ID, Fingerprint: fp, Complete: true}}).Wait()
				if err != nil {
					return err
				}

				if _, err := e.ReleaseShared(shared[0].ID).Wait(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	requireT.NoError(g.Wait())

	// Every reference was dropped, so the whole pool must be reclaimable.
	requireT.Equal(int64(nBlocks), e.AvailableBlocks())

	infos, err := e.Allocate(nBlocks).Wait()
	requireT.NoError(err)
	requireT.Len(infos, nBlocks)
}
