package blocks

// ID is the pool-wide identifier of a block, stable for the block's lifetime.
type ID uint64

// Tier is the enum representing the storage tier backing a block.
type Tier byte

// Storage tiers, ordered from fastest to slowest.
const (
	DeviceTier Tier = iota
	HostTier
	DiskTier
	RemoteTier
)

// NTiers is the number of storage tiers.
const NTiers = 4

func (t Tier) String() string {
	switch t {
	case DeviceTier:
		return "device"
	case HostTier:
		return "host"
	case DiskTier:
		return "disk"
	case RemoteTier:
		return "remote"
	}
	return "unknown"
}

// TokenID is the ID of a token in the vocabulary of the model.
type TokenID uint32
