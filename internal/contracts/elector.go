package contracts

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"

	"github.com/benbjohnson/clock"

	"stever/internal/message"
	"stever/internal/tlwire"
)

// oneEver is the elector's and pool's shared unit for message values that
// aren't the stake itself (recover-stake fee, ticktock fee, and so on).
const oneEver uint64 = 1_000_000_000

// signingBlobTag is the TL id prefixing the election-participation signing
// blob. It is not a tlwire box id: the elector verifies this exact
// big-endian byte layout against the permanent key's signature, so it is
// assembled by hand rather than through Writer's little-endian PutUint32.
const signingBlobTag uint32 = 0x654C5074

// buildParticipationSigningBlob assembles the bytes participateInElections
// signs: tag, election id, max factor, the validator wallet's account id,
// and the ADNL address, all big-endian. This is 76 bytes (4 + 4 + 4 + 32 +
// 32), not the 44 a miscounted tag+id+factor+address would give; see
// DESIGN.md's open-question entry on this length.
func buildParticipationSigningBlob(electionID, maxFactor uint32, walletAccount, adnlAddr [32]byte) []byte {
	buf := make([]byte, 0, 4+4+4+32+32)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], signingBlobTag)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], electionID)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], maxFactor)
	buf = append(buf, tmp[:]...)
	buf = append(buf, walletAccount[:]...)
	buf = append(buf, adnlAddr[:]...)
	return buf
}

// KeyRPC is the subset of noderpc.Client the elector needs to generate and
// use validator keys on the node.
type KeyRPC interface {
	GenerateKeyPair(ctx context.Context) ([32]byte, error)
	ExportPublicKey(ctx context.Context, keyHash [32]byte) (ed25519.PublicKey, error)
	Sign(ctx context.Context, keyHash [32]byte, data []byte) ([]byte, error)
	AddValidatorPermanentKey(ctx context.Context, keyHash [32]byte, electionDate, ttlSeconds uint32) error
	AddValidatorAdnlAddress(ctx context.Context, permanentKeyHash, adnlKeyHash [32]byte, ttlSeconds uint32) error
}

// Timings bounds the election-key TTL the way the elector's configuration
// parameters do.
type Timings struct {
	ValidatorsElectedFor uint32
	ElectionsStartBefore uint32
	ElectionsEndBefore   uint32
	StakeHeldFor         uint32
}

// ttlOffset pads the computed key TTL the way the original leaves headroom
// past the stake-held-for window.
const ttlOffset = 1000

// Participation is the outcome of PrepareParticipation: the exported
// permanent public key alongside the message body ready to send, either
// straight to the elector (single mode) or wrapped by a pool.
type Participation struct {
	PermanentKeyHash [32]byte
	PermanentPubkey  []byte
	ElectionID       uint32
	MaxFactor        uint32
	AdnlAddr         [32]byte
	Signature        []byte
	Body             []byte
}

// Elector wraps calls to the masterchain elector contract. It builds
// internal-message bodies rather than sending anything itself: the
// elector accepts calls as internal messages forwarded by the wallet (or
// by a pool's proxy), never as externally signed messages of its own.
type Elector struct {
	Address message.Address
	rpc      KeyRPC
	clock    clock.Clock
}

// NewElector builds an Elector. clk may be nil, in which case the real
// wall clock is used.
func NewElector(address message.Address, rpc KeyRPC, clk clock.Clock) *Elector {
	if clk == nil {
		clk = clock.New()
	}
	return &Elector{Address: address, rpc: rpc, clock: clk}
}

// PrepareParticipation generates a fresh permanent key and ADNL address on
// the node, registers both with the elector's election id and the TTL the
// node needs to keep them alive through the round, signs the
// election-participation blob, and returns everything needed to build the
// participateInElections body. It does not send anything.
func (e *Elector) PrepareParticipation(ctx context.Context, electionID uint32, walletAccount [32]byte, maxFactor uint32, t Timings) (Participation, error) {
	permanentKeyHash, err := e.rpc.GenerateKeyPair(ctx)
	if err != nil {
		return Participation{}, err
	}
	permanentPubkey, err := e.rpc.ExportPublicKey(ctx, permanentKeyHash)
	if err != nil {
		return Participation{}, err
	}

	ttl := electionID + t.ValidatorsElectedFor + t.ElectionsStartBefore + t.ElectionsEndBefore + t.StakeHeldFor + ttlOffset
	if err := e.rpc.AddValidatorPermanentKey(ctx, permanentKeyHash, electionID, ttl); err != nil {
		return Participation{}, err
	}

	adnlKeyHash, err := e.rpc.GenerateKeyPair(ctx)
	if err != nil {
		return Participation{}, err
	}
	// ttl is 0 here because it is unused by the node for ADNL addresses.
	if err := e.rpc.AddValidatorAdnlAddress(ctx, permanentKeyHash, adnlKeyHash, 0); err != nil {
		return Participation{}, err
	}

	blob := buildParticipationSigningBlob(electionID, maxFactor, walletAccount, adnlKeyHash)
	signature, err := e.rpc.Sign(ctx, permanentKeyHash, blob)
	if err != nil {
		return Participation{}, err
	}

	var validatorKey [32]byte
	copy(validatorKey[:], permanentPubkey)

	body := electionParticipation{
		queryID:      uint64(e.clock.Now().Unix()),
		validatorKey: validatorKey,
		stakeAt:      electionID,
		maxFactor:    maxFactor,
		adnlAddr:     adnlKeyHash,
		signature:    signature,
	}.encode(idParticipateInElections)

	return Participation{
		PermanentKeyHash: permanentKeyHash,
		PermanentPubkey:  permanentPubkey,
		ElectionID:       electionID,
		MaxFactor:        maxFactor,
		AdnlAddr:         adnlKeyHash,
		Signature:        signature,
		Body:             body,
	}, nil
}

// RecoverStake builds the internal message that claims unfrozen credit
// back from the elector: recover_stake(query_id=now), carrying 1 EVER to
// cover the elector's processing fee. The caller sends it through the
// wallet (Call, to observe the elector's response transaction).
func (e *Elector) RecoverStake() message.Internal {
	w := tlwire.NewWriter(idRecoverStake)
	w.PutUint64(uint64(e.clock.Now().Unix()))
	return message.Internal{Dst: e.Address, Value: oneEver, Body: w.Bytes()}
}

var idRecoverStake = tlwire.BoxID("stever.recoverStake query_id:long = RecoverStake")

// ErrNoCurrentElection is returned by view helpers that require an open
// election when the elector reports none.
var ErrNoCurrentElection = errors.New("contracts: no current election")

// ElectionMember is one entry of an open election's member set.
type ElectionMember struct {
	MsgValue  uint64
	CreatedAt uint32
	MaxFactor uint32
	SrcAddr   [32]byte
	AdnlAddr  [32]byte
}

// CurrentElection mirrors the elector's in-progress election record.
type CurrentElection struct {
	ElectAt    uint32
	ElectClose uint32
	MinStake   uint64
	TotalStake uint64
	Members    []ElectionMember
	Failed     bool
	Finished   bool
}

// PastElection mirrors one historical election's unfreeze record.
type PastElection struct {
	ElectionID uint32
	UnfreezeAt uint32
}

// Data is the elector's decoded get_data view.
type Data struct {
	Current *CurrentElection
	Credits map[[32]byte]uint64
	Past    []PastElection
}

// ElectionID returns the open election's elect_at, if any.
func (d Data) ElectionID() (uint32, bool) {
	if d.Current == nil {
		return 0, false
	}
	return d.Current.ElectAt, true
}

// NearestUnfreezeAt returns the unfreeze time of the past election with
// the highest election id among those whose unfreeze time is strictly
// before electionID.
func (d Data) NearestUnfreezeAt(electionID uint32) (uint32, bool) {
	var best *PastElection
	for i := range d.Past {
		p := &d.Past[i]
		if p.UnfreezeAt >= electionID {
			continue
		}
		if best == nil || p.ElectionID > best.ElectionID {
			best = p
		}
	}
	if best == nil {
		return 0, false
	}
	return best.UnfreezeAt, true
}

// HasUnfrozenStake reports whether the elector holds unclaimed credit for
// account, and how much. It looks up the account id alone and does not
// check the account's workchain.
func (d Data) HasUnfrozenStake(account [32]byte) (uint64, bool) {
	v, ok := d.Credits[account]
	return v, ok
}

// Elected reports whether account is a member of the currently open
// election.
func (d Data) Elected(account [32]byte) bool {
	if d.Current == nil {
		return false
	}
	for _, m := range d.Current.Members {
		if m.SrcAddr == account {
			return true
		}
	}
	return false
}

// DecodeData parses the elector's get_data output, as produced by running
// its getter through the local VM façade.
func DecodeData(raw []byte) (Data, error) {
	r := tlwire.NewReader(raw)

	boxID, err := r.Uint32()
	if err != nil {
		return Data{}, err
	}
	if boxID != idElectorData {
		return Data{}, errors.New("contracts: not an ElectorData record")
	}

	hasCurrent, err := r.Uint32()
	if err != nil {
		return Data{}, err
	}

	var data Data
	if hasCurrent != 0 {
		cur, err := decodeCurrentElection(r)
		if err != nil {
			return Data{}, err
		}
		data.Current = &cur
	}

	creditCount, err := r.Uint32()
	if err != nil {
		return Data{}, err
	}
	data.Credits = make(map[[32]byte]uint64, creditCount)
	for i := uint32(0); i < creditCount; i++ {
		addr, err := r.Fixed(32)
		if err != nil {
			return Data{}, err
		}
		amount, err := r.Uint64()
		if err != nil {
			return Data{}, err
		}
		var key [32]byte
		copy(key[:], addr)
		data.Credits[key] = amount
	}

	pastCount, err := r.Uint32()
	if err != nil {
		return Data{}, err
	}
	data.Past = make([]PastElection, pastCount)
	for i := uint32(0); i < pastCount; i++ {
		id, err := r.Uint32()
		if err != nil {
			return Data{}, err
		}
		unfreeze, err := r.Uint32()
		if err != nil {
			return Data{}, err
		}
		data.Past[i] = PastElection{ElectionID: id, UnfreezeAt: unfreeze}
	}

	return data, nil
}

var idElectorData = tlwire.BoxID("stever.electorData has_current:Bool credits:(vector credit) past:(vector pastElection) = ElectorData")

// GetData runs the elector's get_data getter locally against its fetched
// account state.
func (e *Elector) GetData(ctx context.Context, fetch RawAccountFetcher, runner Runner) (Data, error) {
	args := tlwire.NewWriter(idGetData).Bytes()
	raw, err := runLocal(ctx, fetch, runner, e.Address.Account, args)
	if err != nil {
		return Data{}, err
	}
	return DecodeData(raw)
}

var idGetData = tlwire.BoxID("stever.getData = GetDataArgs")

func decodeCurrentElection(r *tlwire.Reader) (CurrentElection, error) {
	var cur CurrentElection
	var err error
	if cur.ElectAt, err = r.Uint32(); err != nil {
		return cur, err
	}
	if cur.ElectClose, err = r.Uint32(); err != nil {
		return cur, err
	}
	if cur.MinStake, err = r.Uint64(); err != nil {
		return cur, err
	}
	if cur.TotalStake, err = r.Uint64(); err != nil {
		return cur, err
	}

	count, err := r.Uint32()
	if err != nil {
		return cur, err
	}
	cur.Members = make([]ElectionMember, count)
	for i := uint32(0); i < count; i++ {
		var m ElectionMember
		if m.MsgValue, err = r.Uint64(); err != nil {
			return cur, err
		}
		if m.CreatedAt, err = r.Uint32(); err != nil {
			return cur, err
		}
		if m.MaxFactor, err = r.Uint32(); err != nil {
			return cur, err
		}
		src, err := r.Fixed(32)
		if err != nil {
			return cur, err
		}
		copy(m.SrcAddr[:], src)
		adnl, err := r.Fixed(32)
		if err != nil {
			return cur, err
		}
		copy(m.AdnlAddr[:], adnl)
		cur.Members[i] = m
	}

	failed, err := r.Uint32()
	if err != nil {
		return cur, err
	}
	cur.Failed = failed != 0
	finished, err := r.Uint32()
	if err != nil {
		return cur, err
	}
	cur.Finished = finished != 0

	return cur, nil
}

// EncodeData is the inverse of DecodeData, used by tests to build fixture
// elector state without a live node.
func EncodeData(d Data) []byte {
	w := tlwire.NewWriter(idElectorData)
	if d.Current != nil {
		w.PutUint32(1)
		w.PutUint32(d.Current.ElectAt)
		w.PutUint32(d.Current.ElectClose)
		w.PutUint64(d.Current.MinStake)
		w.PutUint64(d.Current.TotalStake)
		w.PutUint32(uint32(len(d.Current.Members)))
		for _, m := range d.Current.Members {
			w.PutUint64(m.MsgValue)
			w.PutUint32(m.CreatedAt)
			w.PutUint32(m.MaxFactor)
			w.PutFixed(m.SrcAddr[:])
			w.PutFixed(m.AdnlAddr[:])
		}
		if d.Current.Failed {
			w.PutUint32(1)
		} else {
			w.PutUint32(0)
		}
		if d.Current.Finished {
			w.PutUint32(1)
		} else {
			w.PutUint32(0)
		}
	} else {
		w.PutUint32(0)
	}

	w.PutUint32(uint32(len(d.Credits)))
	for addr, amount := range d.Credits {
		w.PutFixed(addr[:])
		w.PutUint64(amount)
	}

	w.PutUint32(uint32(len(d.Past)))
	for _, p := range d.Past {
		w.PutUint32(p.ElectionID)
		w.PutUint32(p.UnfreezeAt)
	}

	return w.Bytes()
}
