package noderpc

import (
	"context"
	"testing"
	"time"

	"stever/internal/chain"
	"stever/internal/tlwire"
)

func TestBlockchainConfigEncodeDecodeRoundTrips(t *testing.T) {
	cfg := BlockchainConfig{
		ElectorAddress: [32]byte{1, 2, 3},
		Timings: ElectionTimings{
			ValidatorsElectedFor: 65536,
			ElectionsStartBefore: 32768,
			ElectionsEndBefore:   8192,
			StakeHeldFor:         32768,
		},
		ValidatorSet: ValidatorSetInfo{
			UtimeSince: 1700000000,
			UtimeUntil: 1700065536,
		},
	}

	got, err := DecodeBlockchainConfig(EncodeBlockchainConfig(cfg))
	if err != nil {
		t.Fatalf("DecodeBlockchainConfig: %v", err)
	}
	if got != cfg {
		t.Fatalf("DecodeBlockchainConfig() = %+v, want %+v", got, cfg)
	}
}

func TestDecodeBlockchainConfigRejectsWrongBoxID(t *testing.T) {
	if _, err := DecodeBlockchainConfig(tlwire.NewWriter(idStats).Bytes()); err == nil {
		t.Fatalf("expected an error for a mismatched box id")
	}
}

// fixtureConfigInfo wraps a config_proof blob the way a real node's
// get_config_all response does, for GetBlockchainConfig's fake transport.
func fixtureConfigInfo(id chain.BlockID, configProof []byte) []byte {
	w := tlwire.NewWriter(idConfigInfo)
	w.PutInt32(0)
	putBlockID(w, id)
	w.PutBytes(nil)
	w.PutBytes(configProof)
	return w.Bytes()
}

func TestGetBlockchainConfigFetchesAndDecodes(t *testing.T) {
	want := BlockchainConfig{
		ElectorAddress: [32]byte{9},
		Timings: ElectionTimings{
			ValidatorsElectedFor: 65536,
			ElectionsStartBefore: 32768,
			ElectionsEndBefore:   8192,
			StakeHeldFor:         32768,
		},
		ValidatorSet: ValidatorSetInfo{UtimeSince: 100, UtimeUntil: 200},
	}
	wantBlock := chain.BlockID{Seq: 42}

	ft := &fakeTransport{respond: func([]byte) []byte {
		return fixtureConfigInfo(wantBlock, EncodeBlockchainConfig(want))
	}}

	c := New(ft, time.Second)
	gotBlock, got, err := c.GetBlockchainConfig(context.Background())
	if err != nil {
		t.Fatalf("GetBlockchainConfig: %v", err)
	}
	if gotBlock.Seq != wantBlock.Seq {
		t.Fatalf("GetBlockchainConfig() block seq = %d, want %d", gotBlock.Seq, wantBlock.Seq)
	}
	if got != want {
		t.Fatalf("GetBlockchainConfig() = %+v, want %+v", got, want)
	}
}
