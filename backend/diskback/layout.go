package diskback

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/outofforest/photon"
	"github.com/pkg/errors"

	"github.com/outofforest/blockpool/backend"
	"github.com/outofforest/blockpool/pkg/filedev"
)

// poolSubject identifies a directory initialized by this backend.
const poolSubject = 0b0110100101000010001000010100100010010001010010100100010010100110

// schemaVersion is the version of the on-disk layout.
const schemaVersion uint16 = 0

const superblockFile = "pool.meta"

// superblock is stored at the root of the backend directory. It detects
// foreign or corrupted directories before any region is touched.
type superblock struct {
	PoolSubject   uint64
	SchemaVersion uint16
	Checksum      uint64
}

func (s superblock) computeChecksum() uint64 {
	// A fresh literal is used so that struct padding is zeroed.
	c := superblock{
		PoolSubject:   s.PoolSubject,
		SchemaVersion: s.SchemaVersion,
	}
	return xxhash.Sum64(photon.NewFromValue(&c).B)
}

// regionHeader precedes the payload in every region file.
type regionHeader struct {
	Checksum   uint64
	RawSize    int64
	Compressed byte
}

var headerSize = int64(unsafe.Sizeof(regionHeader{}))

func (b *Backend) initSuperblock() error {
	path := filepath.Join(b.cfg.Dir, superblockFile)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return b.writeSuperblock(path)
	}
	return b.validateSuperblock(path)
}

func (b *Backend) writeSuperblock(path string) error {
	dev, err := filedev.Open(path)
	if err != nil {
		return errors.Wrap(backend.ErrNotAccessible, err.Error())
	}
	defer dev.Close()

	sBlock := photon.NewFromValue(&superblock{
		PoolSubject:   poolSubject,
		SchemaVersion: schemaVersion,
	})
	sBlock.V.Checksum = sBlock.V.computeChecksum()

	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := dev.Write(sBlock.B); err != nil {
		return err
	}
	return dev.Sync()
}

func (b *Backend) validateSuperblock(path string) error {
	dev, err := filedev.Open(path)
	if err != nil {
		return errors.Wrap(backend.ErrNotAccessible, err.Error())
	}
	defer dev.Close()

	sBlock := photon.NewFromValue(&superblock{})
	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := dev.Read(sBlock.B); err != nil {
		return err
	}

	if sBlock.V.PoolSubject != poolSubject {
		return errors.Wrapf(backend.ErrInvalidConfig, "directory does not contain a block pool tier: %s", b.cfg.Dir)
	}
	if sBlock.V.SchemaVersion != schemaVersion {
		return errors.Wrapf(backend.ErrInvalidConfig, "unsupported layout version: %d", sBlock.V.SchemaVersion)
	}
	if checksum := sBlock.V.computeChecksum(); checksum != sBlock.V.Checksum {
		return errors.Errorf("checksum mismatch for the superblock, computed: %d, stored: %d",
			checksum, sBlock.V.Checksum)
	}
	return nil
}

func regionFileName(id uint64) string {
	return fmt.Sprintf("%016x.blk", id)
}

func parseRegionFileName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, ".blk") {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(name, ".blk"), 16, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
