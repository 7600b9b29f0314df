package chain

import "testing"

func TestShardSplitIntersectsParentEdge(t *testing.T) {
	parent := FullShard(WorkchainBase)
	left, right := parent.Split()

	if !left.Intersects(parent) || !right.Intersects(parent) {
		t.Fatalf("children must intersect their parent")
	}
	if left.Intersects(right) {
		t.Fatalf("sibling shards must not intersect")
	}
	if left == right {
		t.Fatalf("split must produce two distinct children")
	}
	if left.Prefix != 0x4000000000000000 || right.Prefix != 0xC000000000000000 {
		t.Fatalf("unexpected split prefixes: left=%#x right=%#x", left.Prefix, right.Prefix)
	}
}

func TestEdgeIsStrictlyAfter(t *testing.T) {
	shard := FullShard(WorkchainBase)
	left, right := shard.Split()

	edge := NewEdge(map[ShardID]uint32{shard: 3})

	// The edge holds the undivided parent at seq 3; both children at seq 5
	// must be strictly after it even though the edge has no entry for them
	// directly.
	if !edge.IsStrictlyAfter(BlockID{Shard: left, Seq: 5}) {
		t.Fatalf("left child at seq 5 should be after parent edge at seq 3")
	}
	if !edge.IsStrictlyAfter(BlockID{Shard: right, Seq: 5}) {
		t.Fatalf("right child at seq 5 should be after parent edge at seq 3")
	}
	if edge.IsStrictlyAfter(BlockID{Shard: left, Seq: 3}) {
		t.Fatalf("seq 3 should not be strictly after an edge already at 3")
	}
}

func TestEdgeNoIntersectingEntryIsAfter(t *testing.T) {
	edge := NewEdge(nil)
	if !edge.IsStrictlyAfter(BlockID{Shard: FullShard(WorkchainBase), Seq: 1}) {
		t.Fatalf("empty edge must place every block strictly after it")
	}
}

func TestIntersectsAcrossGenerations(t *testing.T) {
	parent := FullShard(WorkchainBase)
	left, right := parent.Split()
	leftLeft, leftRight := left.Split()

	if !leftLeft.Intersects(parent) || !leftRight.Intersects(parent) {
		t.Fatalf("grandchildren must still intersect the root shard")
	}
	if !leftLeft.Intersects(left) {
		t.Fatalf("grandchild must intersect its direct parent")
	}
	if leftLeft.Intersects(right) {
		t.Fatalf("a grandchild of the left branch must not intersect the right branch")
	}
}

func TestEdgeDifferentWorkchainNeverIntersects(t *testing.T) {
	a := FullShard(0)
	b := FullShard(-1)
	if a.Intersects(b) {
		t.Fatalf("shards in different workchains must never intersect")
	}
}
