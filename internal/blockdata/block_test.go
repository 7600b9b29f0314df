package blockdata

import (
	"testing"

	"stever/internal/chain"
)

func testID(workchain int32, shard uint64, seq uint32, tag byte) chain.BlockID {
	var id chain.BlockID
	id.Shard = chain.ShardID{Workchain: workchain, Prefix: shard}
	id.Seq = seq
	id.RootHash[0] = tag
	id.FileHash[0] = tag
	return id
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	prev2 := testID(0, 0xc000000000000000, 4, 2)
	in := testID(-1, 0x8000000000000000, 7, 9)

	b := &Block{
		ID:       testID(0, 0x8000000000000000, 5, 1),
		GenUtime: 1700000000,
		Prev1:    testID(0, 0x4000000000000000, 4, 3),
		Prev2:    &prev2,
		ShardDescrs: map[chain.ShardID]chain.BlockID{
			{Workchain: 0, Prefix: 0x8000000000000000}: testID(0, 0x8000000000000000, 5, 1),
		},
		AccountBlocks: []AccountBlock{
			{
				Address: [32]byte{1, 2, 3},
				Transactions: []Transaction{
					{
						Hash:      [32]byte{4, 5, 6},
						InMsgHash: &[32]byte{7, 8, 9},
						Outbound: []OutMsg{
							{DstWorkchain: 0, DstAccount: [32]byte{20}, Hash: [32]byte{21}},
						},
					},
					{Hash: [32]byte{10, 11, 12}},
				},
			},
		},
	}

	raw := Encode(b)
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.GenUtime != b.GenUtime {
		t.Fatalf("gen utime mismatch: got %d want %d", got.GenUtime, b.GenUtime)
	}
	if got.Prev1 != b.Prev1 {
		t.Fatalf("prev1 mismatch")
	}
	if got.Prev2 == nil || *got.Prev2 != *b.Prev2 {
		t.Fatalf("prev2 mismatch")
	}
	if len(got.ShardDescrs) != 1 {
		t.Fatalf("expected one shard descr, got %d", len(got.ShardDescrs))
	}
	if len(got.AccountBlocks) != 1 || len(got.AccountBlocks[0].Transactions) != 2 {
		t.Fatalf("account block mismatch: %+v", got.AccountBlocks)
	}
	if *got.AccountBlocks[0].Transactions[0].InMsgHash != [32]byte{7, 8, 9} {
		t.Fatalf("in msg hash mismatch")
	}
	if got.AccountBlocks[0].Transactions[1].InMsgHash != nil {
		t.Fatalf("expected nil in msg hash for tick-tock-style transaction")
	}
	gotOut := got.AccountBlocks[0].Transactions[0].Outbound
	if len(gotOut) != 1 || gotOut[0].Hash != [32]byte{21} || gotOut[0].DstAccount != [32]byte{20} {
		t.Fatalf("outbound message mismatch: %+v", gotOut)
	}
	_ = in
}

func TestDecodeRejectsWrongBoxID(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3, 4}); err == nil {
		t.Fatalf("expected error for malformed/wrong-box frame")
	}
}

func TestNoShardDescrsMeansNonMasterchain(t *testing.T) {
	b := &Block{ID: testID(0, 0x8000000000000000, 1, 1)}
	raw := Encode(b)
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ShardDescrs != nil {
		t.Fatalf("expected nil shard descrs for zero-shard block")
	}
	if got.IsMasterchain() {
		t.Fatalf("expected non-masterchain id")
	}
}
