package contracts

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	mockclock "github.com/benbjohnson/clock"

	"stever/internal/message"
	"stever/internal/orchestration"
	"stever/internal/tlwire"
	"stever/internal/walker"
)

func testKeypair(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	return ed25519.NewKeyFromSeed(seed)
}

func TestMakeStateInitDataLayout(t *testing.T) {
	kp := testKeypair(t)
	pub := kp.Public().(ed25519.PublicKey)
	code := []byte("wallet code")

	s := MakeStateInit(code, pub)

	if !bytes.Equal(s.Data[:32], pub) {
		t.Fatalf("state init data does not start with the public key")
	}
	if !bytes.Equal(s.Data[32:], make([]byte, 8)) {
		t.Fatalf("state init data does not end with 8 zero bytes, got %x", s.Data[32:])
	}
}

func TestComputeWalletAddressIsDeterministic(t *testing.T) {
	kp := testKeypair(t)
	pub := kp.Public().(ed25519.PublicKey)
	code := []byte("wallet code")

	a1 := ComputeWalletAddress(0, code, pub)
	a2 := ComputeWalletAddress(0, code, pub)
	if a1 != a2 {
		t.Fatalf("ComputeWalletAddress is not deterministic")
	}

	a3 := ComputeWalletAddress(0, []byte("different code"), pub)
	if a1 == a3 {
		t.Fatalf("different code template produced the same address")
	}
}

type fakeSender struct{ sent [][]byte }

func (f *fakeSender) SendMessage(ctx context.Context, body []byte) error {
	f.sent = append(f.sent, body)
	return nil
}

func TestWalletTransferRejectsFrozenAccount(t *testing.T) {
	kp := testKeypair(t)
	orch := orchestration.New(&fakeSender{}, walker.NewRegistry())
	w := NewWallet(0, kp, []byte("code"), orch, mockclock.NewMock())

	_, err := w.Transfer(context.Background(), AccountFrozen, message.Address{}, 0, nil)
	if err != ErrFrozen {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
}

func TestBuildSendTransactionSignsOverHeaderAndBody(t *testing.T) {
	kp := testKeypair(t)
	pub := kp.Public().(ed25519.PublicKey)
	mock := mockclock.NewMock()
	orch := orchestration.New(&fakeSender{}, walker.NewRegistry())
	w := NewWallet(0, kp, []byte("code"), orch, mock)

	dst := message.Address{Workchain: 0, Account: [32]byte{9}}
	build := w.buildSendTransaction(AccountActive, dst, 5_000, []byte("payload"))

	msg, expireAt, err := build(30 * time.Second)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if msg.StateInit != nil {
		t.Fatalf("active account should not attach a state init")
	}
	if expireAt == 0 {
		t.Fatalf("expireAt should be non-zero")
	}

	r := tlwire.NewReader(msg.Body)
	box, err := r.Uint32()
	if err != nil || box != idSendTransaction {
		t.Fatalf("unexpected box id: err=%v got=%x", err, box)
	}
	if _, err := r.Uint64(); err != nil { // timeMs
		t.Fatalf("timeMs: %v", err)
	}
	if _, err := r.Uint32(); err != nil { // expireAt
		t.Fatalf("expireAt: %v", err)
	}
	gotPub, err := r.Bytes()
	if err != nil || !bytes.Equal(gotPub, pub) {
		t.Fatalf("pubkey mismatch: err=%v", err)
	}
	sig, err := r.Bytes()
	if err != nil || len(sig) != ed25519.SignatureSize {
		t.Fatalf("signature missing or malformed: err=%v len=%d", err, len(sig))
	}
}

func TestBuildSendTransactionAttachesStateInitWhenUninit(t *testing.T) {
	kp := testKeypair(t)
	orch := orchestration.New(&fakeSender{}, walker.NewRegistry())
	w := NewWallet(0, kp, []byte("code"), orch, mockclock.NewMock())

	build := w.buildSendTransaction(AccountUninit, message.Address{}, 0, nil)
	msg, _, err := build(30)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if msg.StateInit == nil {
		t.Fatalf("uninitialized account should attach a state init")
	}
}
