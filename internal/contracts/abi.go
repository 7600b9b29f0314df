package contracts

import (
	"time"

	"github.com/benbjohnson/clock"

	"stever/internal/tlwire"
)

// callHeader carries the two ABI header fields every signed external
// message needs: the call time and the expiry. It does not carry the
// signing public key.
type callHeader struct {
	timeMs   uint64
	expireAt uint32
}

// makeCallHeader mirrors make_default_headers: time is now in
// milliseconds, expire_at is now (seconds) plus the attempt's timeout.
func makeCallHeader(clk clock.Clock, timeout time.Duration) callHeader {
	now := clk.Now()
	return callHeader{
		timeMs:   uint64(now.UnixMilli()),
		expireAt: uint32(now.Unix()) + uint32(timeout/time.Second),
	}
}

func putCallHeader(w *tlwire.Writer, h callHeader) {
	w.PutUint64(h.timeMs)
	w.PutUint32(h.expireAt)
}

// signedCallBytes renders the boxed call payload that a signature is
// computed over, so the signer and the final encoder can share the same
// field-writing closure instead of duplicating field order.
func signedCallBytes(boxID uint32, payload func(w *tlwire.Writer)) []byte {
	w := tlwire.NewWriter(boxID)
	payload(w)
	return w.Bytes()
}

// electionParticipation is the shared query the elector and the staking
// pool both accept, participateInElections, just addressed differently
// (directly to the elector in single mode, to the pool in pool mode).
type electionParticipation struct {
	queryID      uint64
	validatorKey [32]byte
	stakeAt      uint32
	maxFactor    uint32
	adnlAddr     [32]byte
	signature    []byte
}

var idParticipateInElections = tlwire.BoxID("stever.participateInElections query_id:long validator_key:int256 stake_at:int max_factor:int adnl_addr:int256 signature:bytes = ParticipateInElections")

// encode serializes the participation under boxID: the elector and the
// staking pool accept the same field layout under their own distinct
// function ids, so callers pick the id that matches their destination.
func (p electionParticipation) encode(boxID uint32) []byte {
	w := tlwire.NewWriter(boxID)
	w.PutUint64(p.queryID)
	w.PutFixed(p.validatorKey[:])
	w.PutUint32(p.stakeAt)
	w.PutUint32(p.maxFactor)
	w.PutFixed(p.adnlAddr[:])
	w.PutBytes(p.signature)
	return w.Bytes()
}
