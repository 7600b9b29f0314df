// Package blockdata decodes the subset of a masterchain or shard block the
// walker needs: generation time, parent references, the shard descriptors
// carried by a masterchain block, and the account blocks/transactions
// carried by either. Real block bodies are cells in a bag-of-cells
// serialization; parsing that needs a TVM cell library, and none exists in
// the dependency set this project draws from, so blocks here are encoded
// with the same hand-rolled TL codec the control and overlay wires use
// (tlwire), carrying exactly the fields the walker and subscription
// registry read. Block bytes fetched over the overlay channel are expected
// to already be in this form.
package blockdata

import (
	"fmt"

	"stever/internal/chain"
	"stever/internal/tlwire"
)

var (
	idBlock        = tlwire.BoxID("stever.block info:blockInfo shards:(vector shardDescr) accounts:(vector accountBlock) = Block")
	idAccountBlock = tlwire.BoxID("stever.accountBlock address:int256 transactions:(vector transaction) = AccountBlock")
	idTransaction  = tlwire.BoxID("stever.transaction hash:int256 has_in_msg:Bool in_msg_hash:int256 out_msgs:(vector outMsg) ext_out:(vector bytes) = Transaction")
)

// OutMsg is one outbound internal message a transaction produced, enough to
// let a caller match it against the message it expects a wallet to have
// sent (destination) and then wait for the transaction it causes (hash).
type OutMsg struct {
	DstWorkchain int32
	DstAccount   [32]byte
	Hash         [32]byte
}

// Transaction is one transaction within an account block.
type Transaction struct {
	Hash      [32]byte
	InMsgHash *[32]byte // nil when the transaction has no inbound message (e.g. tick-tock)
	Outbound  []OutMsg
	// ExtOut holds the raw body of every external-out message the
	// transaction produced, in order. These carry contract events (e.g. the
	// strategy factory's deployment event) rather than further on-chain
	// calls, so unlike Outbound they have no destination account to match.
	ExtOut [][]byte
}

// AccountBlock groups every transaction for one account within a block.
type AccountBlock struct {
	Address      [32]byte
	Transactions []Transaction
}

// Block is the decoded subset of a block this system acts on.
type Block struct {
	ID       chain.BlockID
	GenUtime uint32
	Prev1    chain.BlockID
	Prev2    *chain.BlockID // present only on the first block after a shard merge

	// ShardDescrs is non-nil only for masterchain blocks: the latest block
	// id known for every shard at the time this masterchain block was
	// produced.
	ShardDescrs map[chain.ShardID]chain.BlockID

	AccountBlocks []AccountBlock
}

// IsMasterchain reports whether this block's id is in the masterchain
// workchain, whether or not it carries shard descriptors.
func (b *Block) IsMasterchain() bool { return b.ID.Workchain() == chain.WorkchainMasterchain }

func putBlockID(w *tlwire.Writer, id chain.BlockID) {
	w.PutInt32(id.Workchain())
	w.PutUint64(id.Shard.Prefix)
	w.PutUint32(id.Seq)
	w.PutFixed(id.RootHash[:])
	w.PutFixed(id.FileHash[:])
}

func getBlockID(r *tlwire.Reader) (chain.BlockID, error) {
	var id chain.BlockID
	workchain, err := r.Int32()
	if err != nil {
		return id, err
	}
	prefix, err := r.Uint64()
	if err != nil {
		return id, err
	}
	seq, err := r.Uint32()
	if err != nil {
		return id, err
	}
	rootHash, err := r.Fixed(32)
	if err != nil {
		return id, err
	}
	fileHash, err := r.Fixed(32)
	if err != nil {
		return id, err
	}
	id.Shard = chain.ShardID{Workchain: workchain, Prefix: prefix}
	id.Seq = seq
	copy(id.RootHash[:], rootHash)
	copy(id.FileHash[:], fileHash)
	return id, nil
}

// Encode serializes a block. Used by tests and by fake-node harnesses that
// stand in for the overlay channel.
func Encode(b *Block) []byte {
	w := tlwire.NewWriter(idBlock)
	putBlockID(w, b.ID)
	w.PutUint32(b.GenUtime)
	putBlockID(w, b.Prev1)
	if b.Prev2 != nil {
		w.PutUint32(1)
		putBlockID(w, *b.Prev2)
	} else {
		w.PutUint32(0)
	}

	w.PutUint32(uint32(len(b.ShardDescrs)))
	for shard, id := range b.ShardDescrs {
		w.PutInt32(shard.Workchain)
		w.PutUint64(shard.Prefix)
		putBlockID(w, id)
	}

	w.PutUint32(uint32(len(b.AccountBlocks)))
	for _, ab := range b.AccountBlocks {
		aw := tlwire.NewWriter(idAccountBlock)
		aw.PutFixed(ab.Address[:])
		aw.PutUint32(uint32(len(ab.Transactions)))
		for _, tx := range ab.Transactions {
			tw := tlwire.NewWriter(idTransaction)
			tw.PutFixed(tx.Hash[:])
			if tx.InMsgHash != nil {
				tw.PutUint32(1)
				tw.PutFixed(tx.InMsgHash[:])
			} else {
				tw.PutUint32(0)
			}
			tw.PutUint32(uint32(len(tx.Outbound)))
			for _, out := range tx.Outbound {
				tw.PutInt32(out.DstWorkchain)
				tw.PutFixed(out.DstAccount[:])
				tw.PutFixed(out.Hash[:])
			}
			tw.PutUint32(uint32(len(tx.ExtOut)))
			for _, body := range tx.ExtOut {
				tw.PutBytes(body)
			}
			aw.PutBytes(tw.Bytes())
		}
		w.PutBytes(aw.Bytes())
	}
	return w.Bytes()
}

// Decode parses a block previously produced by Encode.
func Decode(raw []byte) (*Block, error) {
	r := tlwire.NewReader(raw)
	box, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if box != idBlock {
		return nil, fmt.Errorf("blockdata: unexpected box id %x for block", box)
	}

	b := &Block{}
	if b.ID, err = getBlockID(r); err != nil {
		return nil, err
	}
	if b.GenUtime, err = r.Uint32(); err != nil {
		return nil, err
	}
	if b.Prev1, err = getBlockID(r); err != nil {
		return nil, err
	}
	hasPrev2, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if hasPrev2 != 0 {
		prev2, err := getBlockID(r)
		if err != nil {
			return nil, err
		}
		b.Prev2 = &prev2
	}

	shardCount, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if shardCount > 0 {
		b.ShardDescrs = make(map[chain.ShardID]chain.BlockID, shardCount)
	}
	for i := uint32(0); i < shardCount; i++ {
		workchain, err := r.Int32()
		if err != nil {
			return nil, err
		}
		prefix, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		id, err := getBlockID(r)
		if err != nil {
			return nil, err
		}
		b.ShardDescrs[chain.ShardID{Workchain: workchain, Prefix: prefix}] = id
	}

	accountCount, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < accountCount; i++ {
		frame, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		ab, err := decodeAccountBlock(frame)
		if err != nil {
			return nil, err
		}
		b.AccountBlocks = append(b.AccountBlocks, ab)
	}

	return b, nil
}

func decodeAccountBlock(frame []byte) (AccountBlock, error) {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return AccountBlock{}, err
	}
	if box != idAccountBlock {
		return AccountBlock{}, fmt.Errorf("blockdata: unexpected box id %x for account block", box)
	}
	var ab AccountBlock
	addr, err := r.Fixed(32)
	if err != nil {
		return AccountBlock{}, err
	}
	copy(ab.Address[:], addr)

	count, err := r.Uint32()
	if err != nil {
		return AccountBlock{}, err
	}
	for i := uint32(0); i < count; i++ {
		txFrame, err := r.Bytes()
		if err != nil {
			return AccountBlock{}, err
		}
		tx, err := decodeTransaction(txFrame)
		if err != nil {
			return AccountBlock{}, err
		}
		ab.Transactions = append(ab.Transactions, tx)
	}
	return ab, nil
}

func decodeTransaction(frame []byte) (Transaction, error) {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return Transaction{}, err
	}
	if box != idTransaction {
		return Transaction{}, fmt.Errorf("blockdata: unexpected box id %x for transaction", box)
	}
	var tx Transaction
	hash, err := r.Fixed(32)
	if err != nil {
		return Transaction{}, err
	}
	copy(tx.Hash[:], hash)

	hasInMsg, err := r.Uint32()
	if err != nil {
		return Transaction{}, err
	}
	if hasInMsg != 0 {
		h, err := r.Fixed(32)
		if err != nil {
			return Transaction{}, err
		}
		var fixed [32]byte
		copy(fixed[:], h)
		tx.InMsgHash = &fixed
	}

	outCount, err := r.Uint32()
	if err != nil {
		return Transaction{}, err
	}
	for i := uint32(0); i < outCount; i++ {
		var out OutMsg
		if out.DstWorkchain, err = r.Int32(); err != nil {
			return Transaction{}, err
		}
		acct, err := r.Fixed(32)
		if err != nil {
			return Transaction{}, err
		}
		copy(out.DstAccount[:], acct)
		hash, err := r.Fixed(32)
		if err != nil {
			return Transaction{}, err
		}
		copy(out.Hash[:], hash)
		tx.Outbound = append(tx.Outbound, out)
	}

	extOutCount, err := r.Uint32()
	if err != nil {
		return Transaction{}, err
	}
	for i := uint32(0); i < extOutCount; i++ {
		body, err := r.Bytes()
		if err != nil {
			return Transaction{}, err
		}
		tx.ExtOut = append(tx.ExtOut, body)
	}

	return tx, nil
}
