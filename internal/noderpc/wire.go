package noderpc

import (
	"fmt"

	"stever/internal/chain"
	"stever/internal/tlwire"
)

var (
	idControlQuery             = tlwire.BoxID("engine.validator.controlQuery data:bytes = Object")
	idGenerateKeyPair           = tlwire.BoxID("engine.validator.generateKeyPair = engine.validator.KeyHash")
	idExportPublicKey           = tlwire.BoxID("engine.validator.exportPublicKey key_hash:int256 = engine.validator.ExportedPublicKey")
	idSign                      = tlwire.BoxID("engine.validator.sign key_hash:int256 data:bytes = engine.validator.Signature")
	idAddValidatorPermanentKey  = tlwire.BoxID("engine.validator.addValidatorPermanentKey key_hash:int256 election_date:int ttl:int = engine.validator.Success")
	idAddValidatorAdnlAddress   = tlwire.BoxID("engine.validator.addValidatorAdnlAddress permanent_key_hash:int256 key_hash:int256 ttl:int = engine.validator.Success")
	idGetStats                  = tlwire.BoxID("engine.validator.getStats = engine.validator.Stats")
	idSendMessage               = tlwire.BoxID("liteServer.sendMessage body:bytes = liteServer.SendMsgStatus")
	idGetConfigAll              = tlwire.BoxID("liteServer.getConfigAll mode:int id:tonNode.blockIdExt = liteServer.ConfigInfo")
	idGetConfigParams           = tlwire.BoxID("liteServer.getConfigParams mode:int id:tonNode.blockIdExt param_list:(vector int) = liteServer.ConfigInfo")
	idGetShardAccountState      = tlwire.BoxID("raw.getShardAccountState address:bytes = raw.ShardAccountState")

	idExportedPublicKey = tlwire.BoxID("engine.validator.exportedPublicKey key:int256 = engine.validator.ExportedPublicKey")
	idSuccess       = tlwire.BoxID("engine.validator.success = engine.validator.Success")
	idKeyHash       = tlwire.BoxID("engine.validator.keyHash key_hash:int256 = engine.validator.KeyHash")
	idSignature     = tlwire.BoxID("engine.validator.signature signature:bytes = engine.validator.Signature")
	idStats         = tlwire.BoxID("engine.validator.stats items:(vector engine.validator.oneStat) = engine.validator.Stats")
	idConfigInfo    = tlwire.BoxID("liteServer.configInfo mode:int id:tonNode.blockIdExt state_proof:bytes config_proof:bytes = liteServer.ConfigInfo")
	idShardAccState = tlwire.BoxID("raw.shardAccountState state:bytes = raw.ShardAccountState")
	idShardAccNone  = tlwire.BoxID("raw.shardAccountNone = raw.ShardAccountState")
)

// wrapControlQuery encloses an inner boxed RPC query in the envelope the
// control connection expects around every request, regardless of which
// namespace (engine.validator, liteServer, raw) the inner query belongs to.
func wrapControlQuery(inner []byte) []byte {
	w := tlwire.NewWriter(idControlQuery)
	w.PutBytes(inner)
	return w.Bytes()
}

func putBlockID(w *tlwire.Writer, id chain.BlockID) {
	w.PutInt32(id.Workchain())
	w.PutUint64(id.Shard.Prefix)
	w.PutUint32(id.Seq)
	w.PutFixed(id.RootHash[:])
	w.PutFixed(id.FileHash[:])
}

func wrapGenerateKeyPair() []byte {
	return tlwire.NewWriter(idGenerateKeyPair).Bytes()
}

func wrapExportPublicKey(keyHash [32]byte) []byte {
	w := tlwire.NewWriter(idExportPublicKey)
	w.PutFixed(keyHash[:])
	return w.Bytes()
}

func wrapSign(keyHash [32]byte, data []byte) []byte {
	w := tlwire.NewWriter(idSign)
	w.PutFixed(keyHash[:])
	w.PutBytes(data)
	return w.Bytes()
}

func wrapAddValidatorPermanentKey(keyHash [32]byte, electionDate, ttl uint32) []byte {
	w := tlwire.NewWriter(idAddValidatorPermanentKey)
	w.PutFixed(keyHash[:])
	w.PutUint32(electionDate)
	w.PutUint32(ttl)
	return w.Bytes()
}

func wrapAddValidatorAdnlAddress(permanentKeyHash, keyHash [32]byte, ttl uint32) []byte {
	w := tlwire.NewWriter(idAddValidatorAdnlAddress)
	w.PutFixed(permanentKeyHash[:])
	w.PutFixed(keyHash[:])
	w.PutUint32(ttl)
	return w.Bytes()
}

func wrapGetStats() []byte {
	return tlwire.NewWriter(idGetStats).Bytes()
}

func wrapSendMessage(body []byte) []byte {
	w := tlwire.NewWriter(idSendMessage)
	w.PutBytes(body)
	return w.Bytes()
}

func wrapGetConfigAll(id chain.BlockID) []byte {
	w := tlwire.NewWriter(idGetConfigAll)
	w.PutUint32(0)
	putBlockID(w, id)
	return w.Bytes()
}

func wrapGetConfigParam(id chain.BlockID, param int32) []byte {
	w := tlwire.NewWriter(idGetConfigParams)
	w.PutUint32(0)
	putBlockID(w, id)
	w.PutUint32(1)
	w.PutInt32(param)
	return w.Bytes()
}

func wrapGetShardAccountState(address []byte) []byte {
	w := tlwire.NewWriter(idGetShardAccountState)
	w.PutBytes(address)
	return w.Bytes()
}

func parseSuccess(frame []byte) error {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return err
	}
	if box != idSuccess {
		return fmt.Errorf("noderpc: unexpected box id %x for success", box)
	}
	return nil
}

func parseKeyHash(frame []byte) ([32]byte, error) {
	var out [32]byte
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return out, err
	}
	if box != idKeyHash {
		return out, fmt.Errorf("noderpc: unexpected box id %x for key hash", box)
	}
	b, err := r.Fixed(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func parseExportedPublicKey(frame []byte) ([]byte, error) {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if box != idExportedPublicKey {
		return nil, fmt.Errorf("noderpc: unexpected box id %x for exported public key", box)
	}
	return r.Fixed(32)
}

func parseSignature(frame []byte) ([]byte, error) {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if box != idSignature {
		return nil, fmt.Errorf("noderpc: unexpected box id %x for signature", box)
	}
	return r.Bytes()
}

// oneStat is a single (key, json-value) pair from engine.validator.stats.
type oneStat struct {
	Key   []byte
	Value []byte
}

func parseStats(frame []byte) ([]oneStat, error) {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if box != idStats {
		return nil, fmt.Errorf("noderpc: unexpected box id %x for stats", box)
	}
	count, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	items := make([]oneStat, 0, count)
	for i := uint32(0); i < count; i++ {
		key, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		value, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		items = append(items, oneStat{Key: key, Value: value})
	}
	return items, nil
}

// configInfo is get_config_all/get_config_param's raw response: the block
// the config was read at and the state/config proof blobs, which are left
// undecoded here. GetBlockchainConfig decodes a config proof as this
// repository's own tlwire BlockchainConfig encoding (see config.go); there
// is no TVM cell parser for real proof cells.
type configInfo struct {
	blockID     chain.BlockID
	stateProof  []byte
	configProof []byte
}

func parseConfigInfo(frame []byte) (configInfo, error) {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return configInfo{}, err
	}
	if box != idConfigInfo {
		return configInfo{}, fmt.Errorf("noderpc: unexpected box id %x for config info", box)
	}
	if _, err := r.Uint32(); err != nil { // mode
		return configInfo{}, err
	}
	workchain, err := r.Int32()
	if err != nil {
		return configInfo{}, err
	}
	prefix, err := r.Uint64()
	if err != nil {
		return configInfo{}, err
	}
	seq, err := r.Uint32()
	if err != nil {
		return configInfo{}, err
	}
	rootHash, err := r.Fixed(32)
	if err != nil {
		return configInfo{}, err
	}
	fileHash, err := r.Fixed(32)
	if err != nil {
		return configInfo{}, err
	}
	stateProof, err := r.Bytes()
	if err != nil {
		return configInfo{}, err
	}
	configProof, err := r.Bytes()
	if err != nil {
		return configInfo{}, err
	}

	var id chain.BlockID
	id.Shard = chain.ShardID{Workchain: workchain, Prefix: prefix}
	id.Seq = seq
	copy(id.RootHash[:], rootHash)
	copy(id.FileHash[:], fileHash)

	return configInfo{blockID: id, stateProof: stateProof, configProof: configProof}, nil
}

func parseShardAccountState(frame []byte) ([]byte, error) {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	switch box {
	case idShardAccNone:
		return nil, nil
	case idShardAccState:
		return r.Bytes()
	default:
		return nil, fmt.Errorf("noderpc: unexpected box id %x for shard account state", box)
	}
}
