package noderpc

import (
	"context"
	"fmt"

	"stever/internal/chain"
	"stever/internal/tlwire"
)

// BlockchainConfig is the subset of masterchain configuration the election
// controller needs: where the elector lives, its election timings (config
// param 15), and the current validator set's round boundary (config param
// 34). get_config_all's real response is a pair of BOC-encoded cells
// (state proof, config proof); there is no cell/BOC decoder in the
// dependency set (see DESIGN.md), so this repository's config_proof is its
// own tlwire encoding of exactly these fields rather than a decode of real
// TVM cells.
type BlockchainConfig struct {
	ElectorAddress [32]byte
	Timings        ElectionTimings
	ValidatorSet   ValidatorSetInfo
}

// ElectionTimings mirrors ConfigParam15.
type ElectionTimings struct {
	ValidatorsElectedFor uint32
	ElectionsStartBefore uint32
	ElectionsEndBefore   uint32
	StakeHeldFor         uint32
}

// ValidatorSetInfo mirrors the round boundary fields of the current
// validator set (ConfigParam34) the election timeline needs.
type ValidatorSetInfo struct {
	UtimeSince uint32
	UtimeUntil uint32
}

var idBlockchainConfig = tlwire.BoxID("stever.blockchainConfig elector_address:int256 validators_elected_for:int elections_start_before:int elections_end_before:int stake_held_for:int utime_since:int utime_until:int = BlockchainConfig")

// DecodeBlockchainConfig is EncodeBlockchainConfig's inverse.
func DecodeBlockchainConfig(raw []byte) (BlockchainConfig, error) {
	r := tlwire.NewReader(raw)
	box, err := r.Uint32()
	if err != nil {
		return BlockchainConfig{}, err
	}
	if box != idBlockchainConfig {
		return BlockchainConfig{}, fmt.Errorf("noderpc: unexpected box id %x for blockchain config", box)
	}

	var cfg BlockchainConfig
	addr, err := r.Fixed(32)
	if err != nil {
		return BlockchainConfig{}, err
	}
	copy(cfg.ElectorAddress[:], addr)

	if cfg.Timings.ValidatorsElectedFor, err = r.Uint32(); err != nil {
		return BlockchainConfig{}, err
	}
	if cfg.Timings.ElectionsStartBefore, err = r.Uint32(); err != nil {
		return BlockchainConfig{}, err
	}
	if cfg.Timings.ElectionsEndBefore, err = r.Uint32(); err != nil {
		return BlockchainConfig{}, err
	}
	if cfg.Timings.StakeHeldFor, err = r.Uint32(); err != nil {
		return BlockchainConfig{}, err
	}
	if cfg.ValidatorSet.UtimeSince, err = r.Uint32(); err != nil {
		return BlockchainConfig{}, err
	}
	if cfg.ValidatorSet.UtimeUntil, err = r.Uint32(); err != nil {
		return BlockchainConfig{}, err
	}
	return cfg, nil
}

// EncodeBlockchainConfig is DecodeBlockchainConfig's inverse, used by tests
// and fixture node façades to build config_proof bytes without a live node.
func EncodeBlockchainConfig(cfg BlockchainConfig) []byte {
	w := tlwire.NewWriter(idBlockchainConfig)
	w.PutFixed(cfg.ElectorAddress[:])
	w.PutUint32(cfg.Timings.ValidatorsElectedFor)
	w.PutUint32(cfg.Timings.ElectionsStartBefore)
	w.PutUint32(cfg.Timings.ElectionsEndBefore)
	w.PutUint32(cfg.Timings.StakeHeldFor)
	w.PutUint32(cfg.ValidatorSet.UtimeSince)
	w.PutUint32(cfg.ValidatorSet.UtimeUntil)
	return w.Bytes()
}

// GetBlockchainConfig fetches and decodes the current masterchain
// configuration, along with the block id it was read at (the election
// controller's "target block").
func (c *Client) GetBlockchainConfig(ctx context.Context) (chain.BlockID, BlockchainConfig, error) {
	blockID, raw, err := c.GetConfigAll(ctx, chain.BlockID{})
	if err != nil {
		return chain.BlockID{}, BlockchainConfig{}, err
	}
	cfg, err := DecodeBlockchainConfig(raw)
	if err != nil {
		return chain.BlockID{}, BlockchainConfig{}, err
	}
	return blockID, cfg, nil
}
