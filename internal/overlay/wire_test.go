package overlay

import (
	"testing"
	"time"

	"stever/internal/chain"
	"stever/internal/tlwire"
)

func testBlockID() chain.BlockID {
	var id chain.BlockID
	id.Shard = chain.FullShard(chain.WorkchainBase)
	id.Seq = 42
	for i := range id.RootHash {
		id.RootHash[i] = byte(i)
	}
	for i := range id.FileHash {
		id.FileHash[i] = byte(255 - i)
	}
	return id
}

func boxedEmpty(boxID uint32) []byte {
	return tlwire.NewWriter(boxID).Bytes()
}

func TestPrepareBlockRequestEncodesBlockID(t *testing.T) {
	id := testBlockID()
	req := wrapPrepareBlock(id)
	if len(req) == 0 {
		t.Fatalf("expected non-empty request")
	}

	found, err := parsePrepared(boxedEmpty(idPrepared))
	if err != nil || !found {
		t.Fatalf("expected found=true, got %v, %v", found, err)
	}

	found, err = parsePrepared(boxedEmpty(idNotFound))
	if err != nil || found {
		t.Fatalf("expected found=false, got %v, %v", found, err)
	}
}

func TestDataFullRoundTrip(t *testing.T) {
	id := testBlockID()
	block := []byte("some opaque block bytes")

	w := tlwire.NewWriter(idDataFull)
	putBlockID(w, id)
	w.PutBytes(nil) // proof
	w.PutBytes(block)
	w.PutFixed([]byte{0}) // is_link

	result, err := parseDataFull(w.Bytes())
	if err != nil {
		t.Fatalf("parse data full: %v", err)
	}
	if !result.found {
		t.Fatalf("expected found=true")
	}
	if string(result.block) != string(block) {
		t.Fatalf("block mismatch: got %q", result.block)
	}
	if result.blockID.Seq != id.Seq {
		t.Fatalf("seq mismatch: got %d want %d", result.blockID.Seq, id.Seq)
	}

	empty, err := parseDataFull(boxedEmpty(idDataFullEmpty))
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if empty.found {
		t.Fatalf("expected found=false for empty")
	}
}

func TestCapabilitiesRoundTrip(t *testing.T) {
	w := tlwire.NewWriter(idCapabilities)
	w.PutInt32(3)
	w.PutUint64(0xabcd)

	caps, err := parseCapabilities(w.Bytes())
	if err != nil {
		t.Fatalf("parse capabilities: %v", err)
	}
	if caps.Version != 3 || caps.Capabilities != 0xabcd {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
}

func TestBackoffGrowsAndCapsAtOneSecond(t *testing.T) {
	b := newBackoff()
	if b.next != 200*time.Millisecond {
		t.Fatalf("expected initial backoff of 200ms, got %v", b.next)
	}
	for i := 0; i < 50; i++ {
		b.step()
	}
	if b.next > time.Second {
		t.Fatalf("backoff exceeded the 1s cap: %v", b.next)
	}
	if b.next != time.Second {
		t.Fatalf("expected backoff to converge to the 1s cap, got %v", b.next)
	}
}
