package walker

import (
	"testing"
	"time"

	"stever/internal/blockdata"
	"stever/internal/chain"
)

func addr(b byte) [32]byte {
	var a [32]byte
	a[0] = b
	return a
}

func TestRegisterPendingRejectsDuplicateHash(t *testing.T) {
	r := NewRegistry()
	dst := addr(1)
	hash := addr(2)

	if _, err := r.RegisterPending(chain.WorkchainBase, dst, hash, 100); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := r.RegisterPending(chain.WorkchainBase, dst, hash, 100); err != ErrAlreadyPending {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}
	if r.Count() != 1 {
		t.Fatalf("expected count 1, got %d", r.Count())
	}
}

func TestProcessBlockResolvesPendingMessage(t *testing.T) {
	r := NewRegistry()
	dst := addr(1)
	msgHash := addr(2)
	txHash := addr(3)

	ch, err := r.RegisterPending(chain.WorkchainBase, dst, msgHash, 1000)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	b := &blockdata.Block{
		ID: chain.BlockID{Shard: chain.FullShard(chain.WorkchainBase), Seq: 1},
		AccountBlocks: []blockdata.AccountBlock{
			{
				Address: dst,
				Transactions: []blockdata.Transaction{
					{Hash: txHash, InMsgHash: &msgHash},
				},
			},
		},
	}
	r.Dispatch(b)

	select {
	case res := <-ch:
		if res.Expired {
			t.Fatalf("expected delivery, got expiry")
		}
		if res.Transaction.Hash != txHash {
			t.Fatalf("tx hash mismatch: got %x want %x", res.Transaction.Hash, txHash)
		}
	default:
		t.Fatalf("expected a result to be ready")
	}
	if r.Count() != 0 {
		t.Fatalf("expected count 0 after resolution, got %d", r.Count())
	}
}

func TestGCExpiresPendingMessage(t *testing.T) {
	r := NewRegistry()
	dst := addr(1)
	msgHash := addr(2)

	ch, err := r.RegisterPending(chain.WorkchainBase, dst, msgHash, 100)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	r.GC(50) // before expiry: nothing happens
	select {
	case <-ch:
		t.Fatalf("did not expect a result yet")
	default:
	}

	r.GC(101) // past expiry
	select {
	case res := <-ch:
		if !res.Expired {
			t.Fatalf("expected expiry")
		}
	default:
		t.Fatalf("expected expiry result to be ready")
	}
	if r.Count() != 0 {
		t.Fatalf("expected count 0 after gc, got %d", r.Count())
	}
}

func TestSubscribeAndGCDropsCancelledSink(t *testing.T) {
	r := NewRegistry()
	a := addr(7)

	ch, cancel := r.Subscribe(chain.WorkchainBase, a)
	if r.Count() != 1 {
		t.Fatalf("expected count 1 after subscribe, got %d", r.Count())
	}

	b := &blockdata.Block{
		ID: chain.BlockID{Shard: chain.FullShard(chain.WorkchainBase), Seq: 1},
		AccountBlocks: []blockdata.AccountBlock{
			{Address: a, Transactions: []blockdata.Transaction{{Hash: addr(9)}}},
		},
	}
	r.Dispatch(b)

	select {
	case tx := <-ch:
		if tx.Hash != addr(9) {
			t.Fatalf("unexpected transaction hash: %x", tx.Hash)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a transaction on the sink")
	}

	cancel()
	r.GC(0)
	if r.Count() != 0 {
		t.Fatalf("expected count 0 after gc drops cancelled sink, got %d", r.Count())
	}
}

func TestCancelPendingRemovesWithoutDelivering(t *testing.T) {
	r := NewRegistry()
	dst := addr(1)
	hash := addr(2)

	ch, err := r.RegisterPending(chain.WorkchainBase, dst, hash, 100)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	r.CancelPending(chain.WorkchainBase, dst, hash)

	if r.Count() != 0 {
		t.Fatalf("expected count 0, got %d", r.Count())
	}
	select {
	case <-ch:
		t.Fatalf("did not expect a delivery after cancel")
	default:
	}

	// Re-registering the same hash now succeeds.
	if _, err := r.RegisterPending(chain.WorkchainBase, dst, hash, 100); err != nil {
		t.Fatalf("re-register after cancel: %v", err)
	}
}
