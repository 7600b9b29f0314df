// Package chain holds the masterchain/workchain data model shared by the
// transport, overlay, walker and election components: block identifiers,
// shard prefixes and the shards-edge high-water mark.
package chain

import "math/bits"

// WorkchainMasterchain is the distinguished top-level shard id.
const WorkchainMasterchain int32 = -1

// WorkchainBase is the single basechain workchain this system tracks.
const WorkchainBase int32 = 0

// ShardID is a tagged 64-bit shard prefix within a workchain. The prefix
// uses the usual tag-bit encoding: the lowest set bit marks the position
// one below the last significant prefix bit, so the whole-workchain shard
// is 0x8000000000000000 (zero significant bits).
type ShardID struct {
	Workchain int32
	Prefix    uint64
}

// FullShard is the shard covering an entire workchain.
func FullShard(workchain int32) ShardID {
	return ShardID{Workchain: workchain, Prefix: 0x8000000000000000}
}

// bitLen returns the number of significant prefix bits.
func (s ShardID) bitLen() int {
	tz := bits.TrailingZeros64(s.Prefix)
	return 63 - tz
}

// Split returns the two children produced when s splits.
func (s ShardID) Split() (left, right ShardID) {
	tz := bits.TrailingZeros64(s.Prefix)
	oldTag := uint64(1) << tz
	childTag := uint64(1) << (tz - 1)
	base := s.Prefix &^ oldTag // clear the old tag bit, keep the significant prefix bits above it
	left = ShardID{Workchain: s.Workchain, Prefix: base | childTag}
	right = ShardID{Workchain: s.Workchain, Prefix: base | oldTag | childTag}
	return left, right
}

// Intersects reports whether one shard's prefix is a prefix of the other's,
// i.e. whether the two shards share any account address space. Two shards
// in different workchains never intersect.
func (s ShardID) Intersects(other ShardID) bool {
	if s.Workchain != other.Workchain {
		return false
	}
	// Compare at the coarser (ancestor's) significant-bit length: the
	// shard with fewer significant bits has the larger trailing-zero
	// count, since its tag sits further from the top.
	tzA := bits.TrailingZeros64(s.Prefix)
	tzB := bits.TrailingZeros64(other.Prefix)
	maxTz := tzA
	if tzB > maxTz {
		maxTz = tzB
	}
	mask := ^uint64(0) << uint(maxTz+1) // shifts to 0 when maxTz is 63 (the whole-workchain shard)
	return s.Prefix&mask == other.Prefix&mask
}

// BlockID identifies a single masterchain or shard block.
type BlockID struct {
	Shard     ShardID
	Seq       uint32
	RootHash  [32]byte
	FileHash  [32]byte
}

func (b BlockID) Workchain() int32 { return b.Shard.Workchain }

// Edge is the finite mapping from shard identifier to the highest sequence
// number known to have been referenced from the masterchain. The zero value
// is the empty edge, under which every block is strictly after.
type Edge struct {
	seqByShard map[ShardID]uint32
}

// NewEdge builds an Edge from a shard -> top sequence number mapping.
func NewEdge(seqByShard map[ShardID]uint32) Edge {
	e := Edge{seqByShard: make(map[ShardID]uint32, len(seqByShard))}
	for shard, seq := range seqByShard {
		e.seqByShard[shard] = seq
	}
	return e
}

// IsStrictlyAfter reports whether id is strictly after the edge: the edge
// has no entry intersecting id.Shard, or that entry's sequence is less
// than id.Seq.
func (e Edge) IsStrictlyAfter(id BlockID) bool {
	if top, ok := e.seqByShard[id.Shard]; ok {
		return top < id.Seq
	}
	for shard, top := range e.seqByShard {
		if shard.Intersects(id.Shard) {
			return top < id.Seq
		}
	}
	return true
}

// Entries exposes the underlying shard -> sequence map for callers building
// a successor edge; the returned map must not be mutated.
func (e Edge) Entries() map[ShardID]uint32 {
	return e.seqByShard
}
