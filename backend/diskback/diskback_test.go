package diskback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/blockpool/backend"
	"github.com/outofforest/blockpool/blocks"
)

func newTestBackend(t *testing.T, cfg Config) *Backend {
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.Budget == 0 {
		cfg.Budget = 1 << 20
	}
	b, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, b.Close())
	})
	return b
}

func TestStoreAndLoad(t *testing.T) {
	requireT := require.New(t)

	b := newTestBackend(t, Config{Tier: blocks.DiskTier})

	regions, err := b.Allocate(2, 64)
	requireT.NoError(err)
	requireT.Len(regions, 2)
	requireT.Equal(blocks.DiskTier, regions[0].Tier())
	requireT.Equal(int64(64), regions[0].Size())

	requireT.NoError(regions[0].Store([]byte("payload of region zero")))

	data, err := regions[0].Load()
	requireT.NoError(err)
	requireT.Equal([]byte("payload of region zero"), data)

	// A region which was never stored reads back as zeros.
	data, err = regions[1].Load()
	requireT.NoError(err)
	requireT.Equal(make([]byte, 64), data)
}

func TestCompressedRoundTrip(t *testing.T) {
	requireT := require.New(t)

	b := newTestBackend(t, Config{Tier: blocks.DiskTier, Compress: true})

	regions, err := b.Allocate(1, 4096)
	requireT.NoError(err)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 7)
	}
	requireT.NoError(regions[0].Store(payload))

	data, err := regions[0].Load()
	requireT.NoError(err)
	requireT.Equal(payload, data)
}

func TestBudgetExceeded(t *testing.T) {
	requireT := require.New(t)

	b := newTestBackend(t, Config{Tier: blocks.DiskTier, Budget: 100})

	regions, err := b.Allocate(2, 80)
	requireT.NoError(err)

	requireT.NoError(regions[0].Store(make([]byte, 80)))
	requireT.ErrorIs(regions[1].Store(make([]byte, 80)), backend.ErrAllocationFailed)

	// Freeing the first region reclaims its budget.
	requireT.NoError(b.Free(regions[:1]))
	requireT.NoError(regions[1].Store(make([]byte, 80)))
}

func TestInvalidConfig(t *testing.T) {
	requireT := require.New(t)

	_, err := New(Config{Budget: 1})
	requireT.ErrorIs(err, backend.ErrInvalidConfig)

	_, err = New(Config{Dir: t.TempDir()})
	requireT.ErrorIs(err, backend.ErrInvalidConfig)
}

func TestReopenRecoversUsage(t *testing.T) {
	requireT := require.New(t)

	dir := t.TempDir()

	b, err := New(Config{Dir: dir, Tier: blocks.DiskTier, Budget: 100})
	requireT.NoError(err)

	regions, err := b.Allocate(1, 80)
	requireT.NoError(err)
	requireT.NoError(regions[0].Store(make([]byte, 80)))
	requireT.NoError(b.Close())

	b, err = New(Config{Dir: dir, Tier: blocks.DiskTier, Budget: 100})
	requireT.NoError(err)
	defer b.Close()

	// The recovered usage leaves no room for another region.
	regions, err = b.Allocate(1, 80)
	requireT.NoError(err)
	requireT.ErrorIs(regions[0].Store(make([]byte, 80)), backend.ErrAllocationFailed)
}

func TestForeignDirectoryRejected(t *testing.T) {
	requireT := require.New(t)

	dir := t.TempDir()
	requireT.NoError(os.WriteFile(filepath.Join(dir, superblockFile), make([]byte, 64), 0o600))

	_, err := New(Config{Dir: dir, Tier: blocks.DiskTier, Budget: 100})
	requireT.ErrorIs(err, backend.ErrInvalidConfig)
}

func TestChecksumMismatchDetected(t *testing.T) {
	requireT := require.New(t)

	dir := t.TempDir()
	b := newTestBackend(t, Config{Dir: dir, Tier: blocks.DiskTier})

	regions, err := b.Allocate(1, 64)
	requireT.NoError(err)
	requireT.NoError(regions[0].Store([]byte("original payload")))

	path := filepath.Join(dir, regionFileName(0))
	raw, err := os.ReadFile(path)
	requireT.NoError(err)
	raw[len(raw)-1] ^= 0xff
	requireT.NoError(os.WriteFile(path, raw, 0o600))

	_, err = regions[0].Load()
	requireT.Error(err)
}

func TestFreeReusesIdentity(t *testing.T) {
	requireT := require.New(t)

	b := newTestBackend(t, Config{Tier: blocks.DiskTier})

	regions, err := b.Allocate(1, 64)
	requireT.NoError(err)
	requireT.NoError(regions[0].Store([]byte("stale content")))
	requireT.NoError(b.Free(regions))

	// The freed identity is handed out again with its file removed.
	regions, err = b.Allocate(1, 64)
	requireT.NoError(err)
	data, err := regions[0].Load()
	requireT.NoError(err)
	requireT.Equal(make([]byte, 64), data)
}
