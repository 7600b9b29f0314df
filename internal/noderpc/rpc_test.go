package noderpc

import (
	"context"
	"testing"
	"time"

	"stever/internal/tlwire"
)

// fakeTransport answers every query with a canned response keyed by the
// outer controlQuery box (there's only ever one query in flight per test).
type fakeTransport struct {
	respond func(payload []byte) []byte
}

func (f *fakeTransport) Query(ctx context.Context, timeout time.Duration, payload []byte) ([]byte, error) {
	return f.respond(payload), nil
}

func TestGenerateKeyPair(t *testing.T) {
	var wantHash [32]byte
	for i := range wantHash {
		wantHash[i] = byte(i)
	}

	ft := &fakeTransport{respond: func([]byte) []byte {
		w := tlwire.NewWriter(idKeyHash)
		w.PutFixed(wantHash[:])
		return w.Bytes()
	}}

	c := New(ft, time.Second)
	got, err := c.GenerateKeyPair(context.Background())
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	if got != wantHash {
		t.Fatalf("key hash mismatch: got %x want %x", got, wantHash)
	}
}

func TestSign(t *testing.T) {
	wantSig := []byte("0123456789012345678901234567890123456789012345678901234567890a")
	ft := &fakeTransport{respond: func([]byte) []byte {
		w := tlwire.NewWriter(idSignature)
		w.PutBytes(wantSig)
		return w.Bytes()
	}}

	c := New(ft, time.Second)
	sig, err := c.Sign(context.Background(), [32]byte{}, []byte("payload"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if string(sig) != string(wantSig) {
		t.Fatalf("signature mismatch: got %q want %q", sig, wantSig)
	}
}

func TestGetStatsNotReady(t *testing.T) {
	ft := &fakeTransport{respond: func([]byte) []byte {
		w := tlwire.NewWriter(idStats)
		w.PutUint32(1)
		w.PutBytes([]byte("sync_status"))
		w.PutBytes([]byte(`"StartBoot"`))
		return w.Bytes()
	}}

	c := New(ft, time.Second)
	stats, err := c.GetStats(context.Background())
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.Ready {
		t.Fatalf("expected not ready")
	}
	if stats.SyncStatus != "StartBoot" {
		t.Fatalf("unexpected sync status: %q", stats.SyncStatus)
	}
}

func TestGetStatsReadyWithValidatorMembership(t *testing.T) {
	var adnl [32]byte
	for i := range adnl {
		adnl[i] = byte(i + 1)
	}

	items := [][2]string{
		{"sync_status", `"SynchronizationFinished"`},
		{"masterchainblocktime", `1700000000`},
		{"node_version", `"1.2.3"`},
		{"timediff", `1`},
		{"shards_timediff", `2`},
		{"in_current_vset_p34", `true`},
		{"current_vset_p34_adnl_id", jsonHex(adnl[:])},
		{"in_next_vset_p36", `false`},
		{"last_applied_masterchain_block_id", `"-1:8000000000000000:100:` + hexString(adnl[:]) + `:` + hexString(adnl[:]) + `"`},
	}

	ft := &fakeTransport{respond: func([]byte) []byte {
		w := tlwire.NewWriter(idStats)
		w.PutUint32(uint32(len(items)))
		for _, kv := range items {
			w.PutBytes([]byte(kv[0]))
			w.PutBytes([]byte(kv[1]))
		}
		return w.Bytes()
	}}

	c := New(ft, time.Second)
	stats, err := c.GetStats(context.Background())
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if !stats.Ready {
		t.Fatalf("expected ready")
	}
	if !stats.InCurrentSet.Member || stats.InCurrentSet.ADNLID != adnl {
		t.Fatalf("unexpected current set membership: %+v", stats.InCurrentSet)
	}
	if stats.InNextSet.Member {
		t.Fatalf("expected not in next vset")
	}
	if stats.LastMcBlock.Seq != 100 {
		t.Fatalf("unexpected last mc block seq: %d", stats.LastMcBlock.Seq)
	}
	if stats.NodeVersion != (NodeVersion{Major: 1, Minor: 2, Patch: 3}) {
		t.Fatalf("unexpected node version: %+v", stats.NodeVersion)
	}
}

func TestGetRawStatsPassesThroughUnknownKeys(t *testing.T) {
	ft := &fakeTransport{respond: func([]byte) []byte {
		w := tlwire.NewWriter(idStats)
		w.PutUint32(2)
		w.PutBytes([]byte("sync_status"))
		w.PutBytes([]byte(`"StartBoot"`))
		w.PutBytes([]byte("some_future_field"))
		w.PutBytes([]byte(`{"nested":true}`))
		return w.Bytes()
	}}

	c := New(ft, time.Second)
	raw, err := c.GetRawStats(context.Background())
	if err != nil {
		t.Fatalf("get raw stats: %v", err)
	}
	if string(raw["sync_status"]) != `"StartBoot"` {
		t.Fatalf("unexpected sync_status: %s", raw["sync_status"])
	}
	if string(raw["some_future_field"]) != `{"nested":true}` {
		t.Fatalf("unexpected passthrough for unknown key: %s", raw["some_future_field"])
	}
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xf]
	}
	return string(out)
}

func jsonHex(b []byte) string {
	return `"` + hexString(b) + `"`
}
