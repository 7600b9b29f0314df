package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stever/internal/blockdata"
	"stever/internal/chain"
	"stever/internal/message"
	"stever/internal/walker"
)

// fakeSender records every submitted body and lets a test drive a reaction
// (usually: dispatch a block through the registry) from inside SendMessage,
// the same suspension point the real node round trip would occupy.
type fakeSender struct {
	mu      sync.Mutex
	sent    [][]byte
	onSend  func(body []byte)
	sendErr error
}

func (f *fakeSender) SendMessage(ctx context.Context, body []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, body)
	onSend := f.onSend
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if onSend != nil {
		onSend(body)
	}
	return nil
}

func addr(b byte) [32]byte {
	var a [32]byte
	a[0] = b
	return a
}

func TestTransferDeliversOnMatchingTransaction(t *testing.T) {
	r := walker.NewRegistry()
	dst := message.Address{Workchain: chain.WorkchainBase, Account: addr(1)}
	txHash := addr(9)

	sender := &fakeSender{}
	o := New(sender, r)

	sender.onSend = func(body []byte) {
		go func() {
			msg := message.ExternalIn{Dst: dst, Body: []byte("hello")}
			hash := msg.Hash()
			b := &blockdata.Block{
				ID: chain.BlockID{Shard: chain.FullShard(chain.WorkchainBase), Seq: 1},
				AccountBlocks: []blockdata.AccountBlock{
					{
						Address: dst.Account,
						Transactions: []blockdata.Transaction{
							{Hash: txHash, InMsgHash: &hash},
						},
					},
				},
			}
			r.Dispatch(b)
		}()
	}

	build := func(timeout time.Duration) (message.ExternalIn, uint32, error) {
		return message.ExternalIn{Dst: dst, Body: []byte("hello")}, 1000, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := o.Transfer(ctx, dst, build)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.Transaction.Hash != txHash {
		t.Fatalf("unexpected transaction hash: %x", res.Transaction.Hash)
	}
}

func TestTransferRetriesAfterExpiry(t *testing.T) {
	r := walker.NewRegistry()
	dst := message.Address{Workchain: chain.WorkchainBase, Account: addr(2)}
	txHash := addr(9)

	sender := &fakeSender{}
	o := New(sender, r)

	attempt := 0
	sender.onSend = func(body []byte) {
		attempt++
		if attempt == 1 {
			// First attempt: run the registry's GC past the first
			// attempt's expireAt (1) without ever delivering a matching
			// transaction, the same way the walker would after processing
			// a masterchain block whose generation time passed it.
			go r.GC(2)
			return
		}
		go func() {
			msg := message.ExternalIn{Dst: dst, Body: []byte("retry")}
			hash := msg.Hash()
			b := &blockdata.Block{
				ID: chain.BlockID{Shard: chain.FullShard(chain.WorkchainBase), Seq: 1},
				AccountBlocks: []blockdata.AccountBlock{
					{
						Address:      dst.Account,
						Transactions: []blockdata.Transaction{{Hash: txHash, InMsgHash: &hash}},
					},
				},
			}
			r.Dispatch(b)
		}()
	}

	calls := 0
	build := func(timeout time.Duration) (message.ExternalIn, uint32, error) {
		calls++
		body := []byte("hello")
		if calls > 1 {
			body = []byte("retry")
		}
		expireAt := uint32(1)
		if calls > 1 {
			expireAt = 1000
		}
		return message.ExternalIn{Dst: dst, Body: body}, expireAt, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := o.Transfer(ctx, dst, build)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.Transaction.Hash != txHash {
		t.Fatalf("unexpected transaction hash: %x", res.Transaction.Hash)
	}
	if calls < 2 {
		t.Fatalf("expected a retry after expiry, got %d build calls", calls)
	}
}

func TestSendFailureRemovesPendingEntryAndSurfacesError(t *testing.T) {
	r := walker.NewRegistry()
	dst := message.Address{Workchain: chain.WorkchainBase, Account: addr(3)}

	wantErr := errors.New("rpc unavailable")
	sender := &fakeSender{sendErr: wantErr}
	o := New(sender, r)

	build := func(timeout time.Duration) (message.ExternalIn, uint32, error) {
		return message.ExternalIn{Dst: dst, Body: []byte("x")}, 1000, nil
	}

	_, err := o.Transfer(context.Background(), dst, build)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected send error to surface, got %v", err)
	}
	if r.Count() != 0 {
		t.Fatalf("expected pending entry to be removed on send failure, got count %d", r.Count())
	}
}

func TestCallFailsWhenNoMatchingOutbound(t *testing.T) {
	r := walker.NewRegistry()
	wallet := message.Address{Workchain: chain.WorkchainBase, Account: addr(4)}
	dst := message.Address{Workchain: chain.WorkchainBase, Account: addr(5)}
	srcTxHash := addr(6)

	sender := &fakeSender{}
	o := New(sender, r)

	sender.onSend = func(body []byte) {
		go func() {
			msg := message.ExternalIn{Dst: wallet, Body: []byte("call")}
			hash := msg.Hash()
			b := &blockdata.Block{
				ID: chain.BlockID{Shard: chain.FullShard(chain.WorkchainBase), Seq: 1},
				AccountBlocks: []blockdata.AccountBlock{
					{
						Address: wallet.Account,
						Transactions: []blockdata.Transaction{
							{Hash: srcTxHash, InMsgHash: &hash}, // no outbound messages
						},
					},
				},
			}
			r.Dispatch(b)
		}()
	}

	build := func(timeout time.Duration) (message.ExternalIn, uint32, error) {
		return message.ExternalIn{Dst: wallet, Body: []byte("call")}, 1000, nil
	}

	internalMsg := message.Internal{Dst: dst, Value: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := o.Call(ctx, wallet, internalMsg, build)
	if !errors.Is(err, ErrOutboundNotFound) {
		t.Fatalf("expected ErrOutboundNotFound, got %v", err)
	}
}

func TestCallResolvesDestinationTransaction(t *testing.T) {
	r := walker.NewRegistry()
	wallet := message.Address{Workchain: chain.WorkchainBase, Account: addr(7)}
	dst := message.Address{Workchain: chain.WorkchainBase, Account: addr(8)}
	srcTxHash := addr(10)
	dstTxHash := addr(11)

	internalMsg := message.Internal{Dst: dst, Value: 5, Body: []byte("payload")}
	outboundHash := internalMsg.Hash()

	sender := &fakeSender{}
	o := New(sender, r)

	sender.onSend = func(body []byte) {
		go func() {
			msg := message.ExternalIn{Dst: wallet, Body: []byte("call")}
			hash := msg.Hash()

			// Source transaction on the wallet, carrying the outbound
			// message to dst.
			srcBlock := &blockdata.Block{
				ID: chain.BlockID{Shard: chain.FullShard(chain.WorkchainBase), Seq: 1},
				AccountBlocks: []blockdata.AccountBlock{
					{
						Address: wallet.Account,
						Transactions: []blockdata.Transaction{
							{
								Hash:      srcTxHash,
								InMsgHash: &hash,
								Outbound: []blockdata.OutMsg{
									{DstWorkchain: dst.Workchain, DstAccount: dst.Account, Hash: outboundHash},
								},
							},
						},
					},
				},
			}
			r.Dispatch(srcBlock)

			// Destination transaction caused by the outbound message.
			dstBlock := &blockdata.Block{
				ID: chain.BlockID{Shard: chain.FullShard(chain.WorkchainBase), Seq: 2},
				AccountBlocks: []blockdata.AccountBlock{
					{
						Address: dst.Account,
						Transactions: []blockdata.Transaction{
							{Hash: dstTxHash, InMsgHash: &outboundHash},
						},
					},
				},
			}
			r.Dispatch(dstBlock)
		}()
	}

	build := func(timeout time.Duration) (message.ExternalIn, uint32, error) {
		return message.ExternalIn{Dst: wallet, Body: []byte("call")}, 1000, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := o.Call(ctx, wallet, internalMsg, build)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Transaction.Hash != dstTxHash {
		t.Fatalf("unexpected transaction hash: %x", res.Transaction.Hash)
	}
}
