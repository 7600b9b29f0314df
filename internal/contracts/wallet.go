package contracts

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	sha256simd "github.com/minio/sha256-simd"

	"stever/internal/message"
	"stever/internal/orchestration"
	"stever/internal/tlwire"
)

// ErrFrozen is returned when a transfer finds the wallet account frozen.
var ErrFrozen = errors.New("contracts: wallet account frozen")

// StateInit is the fixed {code, data} pair the wallet deploys with. data
// is always public_key ‖ uint64(0), the same layout make_state_init
// builds; code is supplied by the caller because no compiled wallet
// bytecode ships with this repository.
type StateInit struct {
	Code []byte
	Data []byte
}

var idStateInit = tlwire.BoxID("stever.stateInit code:bytes data:bytes = StateInit")

// Encode serializes the state init for inclusion in a deploying external
// message and for hashing into the wallet's address.
func (s StateInit) Encode() []byte {
	w := tlwire.NewWriter(idStateInit)
	w.PutBytes(s.Code)
	w.PutBytes(s.Data)
	return w.Bytes()
}

// Hash is the account id the wallet's address is derived from.
func (s StateInit) Hash() [32]byte {
	return sha256simd.Sum256(s.Encode())
}

// MakeStateInit builds the wallet's state init from its code template and
// public key, data = pubkey ‖ uint64(0).
func MakeStateInit(code []byte, pubkey ed25519.PublicKey) StateInit {
	data := make([]byte, 0, 32+8)
	data = append(data, pubkey...)
	data = append(data, 0, 0, 0, 0, 0, 0, 0, 0)
	return StateInit{Code: code, Data: data}
}

// ComputeWalletAddress derives the wallet's address from its state init.
func ComputeWalletAddress(workchain int32, code []byte, pubkey ed25519.PublicKey) message.Address {
	return message.Address{Workchain: workchain, Account: MakeStateInit(code, pubkey).Hash()}
}

// AccountState is the minimum the wallet needs from a fetched account to
// decide whether to attach a state init.
type AccountState int

const (
	AccountUninit AccountState = iota
	AccountActive
	AccountFrozen
)

// Wallet wraps the single-key wallet contract this validator's stake
// flows through.
type Wallet struct {
	Address message.Address
	keypair ed25519.PrivateKey
	code    []byte
	orch    *orchestration.Orchestrator
	clock   clock.Clock
}

// NewWallet builds a Wallet for the given workchain and keypair, using
// code as its deploy-time state-init code template.
func NewWallet(workchain int32, keypair ed25519.PrivateKey, code []byte, orch *orchestration.Orchestrator, clk clock.Clock) *Wallet {
	if clk == nil {
		clk = clock.New()
	}
	pub := keypair.Public().(ed25519.PublicKey)
	return &Wallet{
		Address: ComputeWalletAddress(workchain, code, pub),
		keypair: keypair,
		code:    code,
		orch:    orch,
		clock:   clk,
	}
}

// buildSendTransaction signs a sendTransaction call to dst and returns the
// external message the wallet submits, attaching a state init when the
// account is still uninitialized.
func (w *Wallet) buildSendTransaction(state AccountState, dst message.Address, value uint64, body []byte) func(timeout time.Duration) (message.ExternalIn, uint32, error) {
	return func(timeout time.Duration) (message.ExternalIn, uint32, error) {
		h := makeCallHeader(w.clock, timeout)
		pub := w.keypair.Public().(ed25519.PublicKey)
		inner := sendTransactionInputs{dest: dst, value: value, bounce: false, flags: 3, payload: body}

		sig := ed25519.Sign(w.keypair, signedCallBytes(idSendTransaction, func(wr *tlwire.Writer) {
			inner.payload(wr, h, pub, nil)
		}))

		bodyWriter := tlwire.NewWriter(idSendTransaction)
		inner.payload(bodyWriter, h, pub, sig)

		msg := message.ExternalIn{Dst: w.Address, Body: bodyWriter.Bytes()}
		if state == AccountUninit {
			msg.StateInit = MakeStateInit(w.code, pub).Encode()
		}
		return msg, h.expireAt, nil
	}
}

// Transfer sends an internal message's value and body from the wallet,
// attaching a state init when the account is still uninitialized, and
// returns the resulting source transaction.
func (w *Wallet) Transfer(ctx context.Context, state AccountState, dst message.Address, value uint64, body []byte) (orchestration.Result, error) {
	if state == AccountFrozen {
		return orchestration.Result{}, ErrFrozen
	}
	return w.orch.Transfer(ctx, w.Address, w.buildSendTransaction(state, dst, value, body))
}

// Call behaves like Transfer but waits for the transaction the wallet's
// outbound message to dst causes, rather than just the wallet's own
// source transaction.
func (w *Wallet) Call(ctx context.Context, state AccountState, dst message.Address, value uint64, body []byte) (orchestration.Result, error) {
	if state == AccountFrozen {
		return orchestration.Result{}, ErrFrozen
	}
	internal := message.Internal{Dst: dst, Bounce: false, Value: value, Body: body}
	return w.orch.Call(ctx, w.Address, internal, w.buildSendTransaction(state, dst, value, body))
}

var idSendTransaction = tlwire.BoxID("stever.sendTransaction dest:address value:long bounce:Bool flags:int8 payload:bytes = SendTransaction")

// sendTransactionInputs is the ever_wallet sendTransaction ABI call this
// wallet's single contract code exposes.
type sendTransactionInputs struct {
	dest    message.Address
	value   uint64
	bounce  bool
	flags   uint8
	payload []byte
}

// payload writes the call's fields in wire order. sig is omitted when nil,
// which is how the signing pass renders the bytes the signature covers;
// the final encoding pass supplies the computed signature.
func (s sendTransactionInputs) payload(w *tlwire.Writer, h callHeader, pub ed25519.PublicKey, sig []byte) {
	putCallHeader(w, h)
	w.PutBytes(pub)
	if sig != nil {
		w.PutBytes(sig)
	}
	w.PutInt32(s.dest.Workchain)
	w.PutFixed(s.dest.Account[:])
	w.PutUint64(s.value)
	if s.bounce {
		w.PutUint32(1)
	} else {
		w.PutUint32(0)
	}
	w.PutUint32(uint32(s.flags))
	w.PutBytes(s.payload)
}
