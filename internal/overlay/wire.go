package overlay

import (
	"fmt"

	"stever/internal/chain"
	"stever/internal/tlwire"
)

var (
	idGetCapabilities   = tlwire.BoxID("tonNode.getCapabilities = tonNode.Capabilities")
	idCapabilities      = tlwire.BoxID("tonNode.capabilities version:int capabilities:long = tonNode.Capabilities")
	idPrepareBlock      = tlwire.BoxID("tonNode.prepareBlock block:tonNode.blockIdExt = tonNode.Prepared")
	idPrepared          = tlwire.BoxID("tonNode.prepared = tonNode.Prepared")
	idNotFound          = tlwire.BoxID("tonNode.notFound = tonNode.Prepared")
	idDownloadBlock     = tlwire.BoxID("tonNode.downloadBlock block:tonNode.blockIdExt = tonNode.Data")
	idDownloadNextBlock = tlwire.BoxID("tonNode.downloadNextBlockFull prev_block:tonNode.blockIdExt = tonNode.DataFull")
	idDataFull          = tlwire.BoxID("tonNode.dataFull id:tonNode.blockIdExt proof:bytes block:bytes is_link:Bool = tonNode.DataFull")
	idDataFullEmpty     = tlwire.BoxID("tonNode.dataFullEmpty = tonNode.DataFull")
)

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

func wrapGetCapabilities() []byte {
	return tlwire.NewWriter(idGetCapabilities).Bytes()
}

func wrapPrepareBlock(id chain.BlockID) []byte {
	w := tlwire.NewWriter(idPrepareBlock)
	putBlockID(w, id)
	return w.Bytes()
}

func wrapDownloadBlock(id chain.BlockID) []byte {
	w := tlwire.NewWriter(idDownloadBlock)
	putBlockID(w, id)
	return w.Bytes()
}

func wrapDownloadNextBlockFull(prevID chain.BlockID) []byte {
	w := tlwire.NewWriter(idDownloadNextBlock)
	putBlockID(w, prevID)
	return w.Bytes()
}

// Capabilities is the decoded response to get_capabilities.
type Capabilities struct {
	Version      int32
	Capabilities uint64
}

func parseCapabilities(frame []byte) (Capabilities, error) {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return Capabilities{}, err
	}
	if box != idCapabilities {
		return Capabilities{}, fmt.Errorf("overlay: unexpected box id %x for capabilities", box)
	}
	version, err := r.Int32()
	if err != nil {
		return Capabilities{}, err
	}
	caps, err := r.Uint64()
	if err != nil {
		return Capabilities{}, err
	}
	return Capabilities{Version: version, Capabilities: caps}, nil
}

// parsePrepared decodes the response to prepareBlock.
func parsePrepared(frame []byte) (found bool, err error) {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return false, err
	}
	switch box {
	case idPrepared:
		return true, nil
	case idNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("overlay: unexpected box id %x for prepared", box)
	}
}

// dataFullResult is the decoded response to downloadNextBlockFull.
type dataFullResult struct {
	found   bool
	blockID chain.BlockID
	block   []byte
}

func parseDataFull(frame []byte) (dataFullResult, error) {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return dataFullResult{}, err
	}
	if box == idDataFullEmpty {
		return dataFullResult{found: false}, nil
	}
	if box != idDataFull {
		return dataFullResult{}, fmt.Errorf("overlay: unexpected box id %x for data full", box)
	}

	id, err := getBlockID(r)
	if err != nil {
		return dataFullResult{}, err
	}
	if _, err := r.Bytes(); err != nil { // proof, unused by the walker
		return dataFullResult{}, err
	}
	block, err := r.Bytes()
	if err != nil {
		return dataFullResult{}, err
	}
	if _, err := r.Fixed(1); err != nil { // is_link flag, unused
		return dataFullResult{}, err
	}
	return dataFullResult{found: true, blockID: id, block: block}, nil
}
