// Package message holds the external and internal message shapes the
// orchestration and contract layers build and hash. Real messages are cells
// in a bag-of-cells serialization; without a TVM cell library in the
// dependency set this project draws from, messages here are encoded with
// the same hand-rolled TL codec used for blocks and RPC frames (tlwire),
// carrying exactly the fields a wallet needs to build and a node needs to
// accept an external inbound message.
package message

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"stever/internal/tlwire"

	sha256simd "github.com/minio/sha256-simd"
)

// Address is a workchain-qualified 256-bit account id.
type Address struct {
	Workchain int32
	Account   [32]byte
}

// String renders an address the same "wc:hex" raw form config files and
// CLI output use, e.g. "-1:3333333333333333333333333333333333333333333333333333333333333333".
func (a Address) String() string {
	return fmt.Sprintf("%d:%s", a.Workchain, hex.EncodeToString(a.Account[:]))
}

// ParseAddress parses the "wc:hex" raw address form used by app config
// files and CLI positional arguments.
func ParseAddress(s string) (Address, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Address{}, fmt.Errorf("message: invalid address %q: expected \"wc:hex\"", s)
	}
	wc, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("message: invalid address %q: %w", s, err)
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil {
		return Address{}, fmt.Errorf("message: invalid address %q: %w", s, err)
	}
	if len(raw) != 32 {
		return Address{}, fmt.Errorf("message: invalid address %q: expected 32-byte account id, got %d", s, len(raw))
	}
	var addr Address
	addr.Workchain = int32(wc)
	copy(addr.Account[:], raw)
	return addr, nil
}

var idExternalIn = tlwire.BoxID("stever.extInMsg dst:address state_init:bytes body:bytes = ExtInMsg")

// ExternalIn is an external inbound message: the shape submitted via C3's
// send-message query. StateInit is empty once the destination wallet is
// deployed.
type ExternalIn struct {
	Dst       Address
	StateInit []byte
	Body      []byte
}

// Encode serializes the message to the wire form C3 accepts.
func (m ExternalIn) Encode() []byte {
	w := tlwire.NewWriter(idExternalIn)
	w.PutInt32(m.Dst.Workchain)
	w.PutFixed(m.Dst.Account[:])
	w.PutBytes(m.StateInit)
	w.PutBytes(m.Body)
	return w.Bytes()
}

// Hash is the representation hash used to key a pending-message entry and
// to match a delivered transaction's inbound-message hash against it. Real
// nodes hash the message cell; this system hashes the same encoded bytes
// C3 is given, which is sufficient since both sides of every comparison in
// this codebase compute the hash the same way.
func (m ExternalIn) Hash() [32]byte {
	return sha256simd.Sum256(m.Encode())
}

// Internal is an internal message a wallet wraps into an external-in
// message's body before it can be sent to the node.
type Internal struct {
	Dst    Address
	Bounce bool
	Value  uint64 // nanotokens
	Body   []byte
}

var idInternal = tlwire.BoxID("stever.intMsg dst:address bounce:Bool value:long body:bytes = IntMsg")

// Encode serializes the internal message for inclusion in a wallet's
// outbound-message body and for representation-hash comparisons against a
// delivered transaction's outbound messages.
func (m Internal) Encode() []byte {
	w := tlwire.NewWriter(idInternal)
	w.PutInt32(m.Dst.Workchain)
	w.PutFixed(m.Dst.Account[:])
	bounce := uint32(0)
	if m.Bounce {
		bounce = 1
	}
	w.PutUint32(bounce)
	w.PutUint64(m.Value)
	w.PutBytes(m.Body)
	return w.Bytes()
}

// Hash is the representation hash of this internal message as it appears
// among a transaction's outbound messages.
func (m Internal) Hash() [32]byte {
	return sha256simd.Sum256(m.Encode())
}
