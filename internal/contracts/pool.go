package contracts

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/benbjohnson/clock"

	"stever/internal/message"
	"stever/internal/orchestration"
	"stever/internal/tlwire"
)

// DePoolType selects which of the two pool contract variants a DePool
// wraps: the stock v3 pool, or the stEVER fork that adds an
// allowed-participant allowlist on top of it.
type DePoolType int

const (
	DePoolDefaultV3 DePoolType = iota
	DePoolStEver
)

// DePoolCode is the fixed {code, proxy code} pair a pool deploys with.
// Both are supplied by the caller: no compiled pool bytecode ships with
// this repository.
type DePoolCode struct {
	Code      []byte
	ProxyCode []byte
}

// ConstructorInputs is the pool's deploy-time configuration.
type ConstructorInputs struct {
	MinStake                   uint64
	ValidatorAssurance         uint64
	ProxyCode                  []byte
	ValidatorWallet            message.Address
	ParticipantRewardFraction  uint8
}

// DePool wraps calls to a staking pool contract.
type DePool struct {
	Type    DePoolType
	Address message.Address
	code    DePoolCode
	keypair ed25519.PrivateKey
	orch    *orchestration.Orchestrator
	clock   clock.Clock
}

// NewDePool builds a DePool for the given keypair and code templates.
// Workchain is always the base workchain (0), not the masterchain,
// matching the original's hard-coded depool deployment target.
func NewDePool(ty DePoolType, keypair ed25519.PrivateKey, code DePoolCode, orch *orchestration.Orchestrator, clk clock.Clock) *DePool {
	if clk == nil {
		clk = clock.New()
	}
	pub := keypair.Public().(ed25519.PublicKey)
	state := MakeStateInit(code.Code, pub)
	return &DePool{
		Type:    ty,
		Address: message.Address{Workchain: 0, Account: state.Hash()},
		code:    code,
		keypair: keypair,
		orch:    orch,
		clock:   clk,
	}
}

func (p *DePool) ensureStEver() error {
	if p.Type != DePoolStEver {
		return ErrExpectedStEver
	}
	return nil
}

// Deploy sends the pool's constructor as a signed external message,
// attaching its state init.
func (p *DePool) Deploy(ctx context.Context, inputs ConstructorInputs) (orchestration.Result, error) {
	pub := p.keypair.Public().(ed25519.PublicKey)
	build := func(timeout time.Duration) (message.ExternalIn, uint32, error) {
		h := makeCallHeader(p.clock, timeout)

		payload := func(w *tlwire.Writer) {
			putCallHeader(w, h)
			w.PutUint64(inputs.MinStake)
			w.PutUint64(inputs.ValidatorAssurance)
			w.PutBytes(inputs.ProxyCode)
			w.PutInt32(inputs.ValidatorWallet.Workchain)
			w.PutFixed(inputs.ValidatorWallet.Account[:])
			w.PutUint32(uint32(inputs.ParticipantRewardFraction))
		}
		sig := ed25519.Sign(p.keypair, signedCallBytes(idConstructor, payload))

		w := tlwire.NewWriter(idConstructor)
		payload(w)
		w.PutBytes(sig)

		return message.ExternalIn{
			Dst:       p.Address,
			StateInit: MakeStateInit(p.code.Code, pub).Encode(),
			Body:      w.Bytes(),
		}, h.expireAt, nil
	}
	return p.orch.Transfer(ctx, p.Address, build)
}

// Terminate sends the pool's terminator method.
func (p *DePool) Terminate(ctx context.Context) (orchestration.Result, error) {
	build := func(timeout time.Duration) (message.ExternalIn, uint32, error) {
		h := makeCallHeader(p.clock, timeout)

		payload := func(w *tlwire.Writer) { putCallHeader(w, h) }
		sig := ed25519.Sign(p.keypair, signedCallBytes(idTerminator, payload))

		w := tlwire.NewWriter(idTerminator)
		payload(w)
		w.PutBytes(sig)
		return message.ExternalIn{Dst: p.Address, Body: w.Bytes()}, h.expireAt, nil
	}
	return p.orch.Transfer(ctx, p.Address, build)
}

// Ticktock builds the internal message that advances the pool's round
// state machine without depositing funds.
func (p *DePool) Ticktock() message.Internal {
	return message.Internal{Dst: p.Address, Value: oneEver, Body: tlwire.NewWriter(idTicktock).Bytes()}
}

// AddOrdinaryStake builds the internal message depositing amount as an
// ordinary stake, plus half an EVER to cover the pool's processing fee.
func (p *DePool) AddOrdinaryStake(amount uint64) message.Internal {
	w := tlwire.NewWriter(idAddOrdinaryStake)
	w.PutUint64(amount)
	return message.Internal{Dst: p.Address, Value: amount + oneEver/2, Body: w.Bytes()}
}

// ParticipateInElections builds the internal message forwarding an
// election participation to the pool, which relays it to the elector
// through whichever proxy is due this round. The pool has its own
// function id for this call, so the participation is re-encoded rather
// than reusing Participation.Body (which is addressed to the elector).
func (p *DePool) ParticipateInElections(participation Participation) message.Internal {
	var validatorKey [32]byte
	copy(validatorKey[:], participation.PermanentPubkey)

	body := electionParticipation{
		queryID:      uint64(p.clock.Now().Unix()),
		validatorKey: validatorKey,
		stakeAt:      participation.ElectionID,
		maxFactor:    participation.MaxFactor,
		adnlAddr:     participation.AdnlAddr,
		signature:    participation.Signature,
	}.encode(idPoolParticipateInElections)

	return message.Internal{Dst: p.Address, Value: oneEver, Body: body}
}

// SetAllowedParticipant builds the internal message granting address a
// participant slot, a StEver-only extension.
func (p *DePool) SetAllowedParticipant(address message.Address) (message.Internal, error) {
	if err := p.ensureStEver(); err != nil {
		return message.Internal{}, err
	}
	w := tlwire.NewWriter(idSetAllowedParticipant)
	w.PutInt32(address.Workchain)
	w.PutFixed(address.Account[:])
	return message.Internal{Dst: p.Address, Value: oneEver, Body: w.Bytes()}, nil
}

// RoundStep mirrors the pool's round state machine.
type RoundStep int

const (
	RoundPrePooling RoundStep = iota
	RoundPooling
	RoundWaitingValidatorRequest
	RoundWaitingIfStakeAccepted
	RoundWaitingValidationStart
	RoundWaitingIfValidatorWinElections
	RoundWaitingUnfreeze
	RoundWaitingReward
	RoundCompleting
	RoundCompleted
)

// CompletionReason mirrors why a completed round ended the way it did.
type CompletionReason int

const (
	CompletionUndefined CompletionReason = iota
	CompletionPoolClosed
	CompletionFakeRound
	CompletionValidatorStakeIsTooSmall
	CompletionStakeIsRejectedByElector
	CompletionRewardIsReceived
	CompletionElectionsAreLost
	CompletionValidatorIsPunished
	CompletionNoValidatorRequest
)

// Round is one of the pool's (at most four) concurrent round records.
type Round struct {
	ID                   uint64
	SupposedElectedAt    uint32
	Unfreeze             uint32
	StakeHeldFor         uint32
	Step                 RoundStep
	CompletionReason     CompletionReason
	Stake                uint64
	RecoveredStake       uint64
	IsStakeCompleted     bool
	ParticipantReward    uint64
	ParticipantQty       uint32
	ValidatorStake       uint64
}

// Info mirrors the pool's getDePoolInfo output.
type Info struct {
	PoolClosed                 bool
	MinStake                   uint64
	ValidatorAssurance         uint64
	ParticipantRewardFraction  uint8
	ValidatorRewardFraction    uint8
	ValidatorWallet            message.Address
	Proxies                    []message.Address
}

// GetInfo runs the pool's getDePoolInfo getter locally.
func (p *DePool) GetInfo(ctx context.Context, fetch RawAccountFetcher, runner Runner) (Info, error) {
	args := tlwire.NewWriter(idGetDePoolInfo).Bytes()
	out, err := runLocal(ctx, fetch, runner, p.Address.Account, args)
	if err != nil {
		return Info{}, err
	}
	return decodeInfo(out)
}

// GetRounds runs the pool's getRounds getter locally.
func (p *DePool) GetRounds(ctx context.Context, fetch RawAccountFetcher, runner Runner) (map[uint64]Round, error) {
	args := tlwire.NewWriter(idGetRounds).Bytes()
	out, err := runLocal(ctx, fetch, runner, p.Address.Account, args)
	if err != nil {
		return nil, err
	}
	return decodeRounds(out)
}

// GetAllowedParticipants runs the StEver-only allowedParticipants getter.
func (p *DePool) GetAllowedParticipants(ctx context.Context, fetch RawAccountFetcher, runner Runner) ([]message.Address, error) {
	if err := p.ensureStEver(); err != nil {
		return nil, err
	}
	args := tlwire.NewWriter(idAllowedParticipants).Bytes()
	out, err := runLocal(ctx, fetch, runner, p.Address.Account, args)
	if err != nil {
		return nil, err
	}
	return decodeAddressSet(out)
}

var (
	idConstructor            = tlwire.BoxID("stever.constructor time:long expire:int min_stake:long validator_assurance:long proxy_code:bytes validator_wallet:address participant_reward_fraction:int8 = Constructor")
	idTerminator             = tlwire.BoxID("stever.terminator time:long expire:int = Terminator")
	idTicktock               = tlwire.BoxID("stever.ticktock = Ticktock")
	idAddOrdinaryStake       = tlwire.BoxID("stever.addOrdinaryStake stake:long = AddOrdinaryStake")
	idPoolParticipateInElections = tlwire.BoxID("stever.poolParticipateInElections query_id:long validator_key:int256 stake_at:int max_factor:int adnl_addr:int256 signature:bytes = PoolParticipateInElections")
	idSetAllowedParticipant  = tlwire.BoxID("stever.setAllowedParticipant addr:address = SetAllowedParticipant")
	idGetDePoolInfo          = tlwire.BoxID("stever.getDePoolInfo time:long expire:int = DePoolInfo")
	idGetRounds              = tlwire.BoxID("stever.getRounds time:long expire:int = RoundsMap")
	idAllowedParticipants    = tlwire.BoxID("stever.allowedParticipants time:long expire:int = ParticipantsMap")
	idDePoolInfoOut          = tlwire.BoxID("stever.dePoolInfo pool_closed:Bool min_stake:long validator_assurance:long participant_reward_fraction:int8 validator_reward_fraction:int8 validator_wallet:address proxies:(vector address) = DePoolInfo")
	idRoundsMapOut           = tlwire.BoxID("stever.roundsMap rounds:(vector round) = RoundsMap")
	idAddressSetOut          = tlwire.BoxID("stever.addressSet addresses:(vector address) = AddressSet")
)

func decodeInfo(raw []byte) (Info, error) {
	r := tlwire.NewReader(raw)
	if _, err := r.Uint32(); err != nil {
		return Info{}, err
	}
	var info Info
	closed, err := r.Uint32()
	if err != nil {
		return Info{}, err
	}
	info.PoolClosed = closed != 0
	if info.MinStake, err = r.Uint64(); err != nil {
		return Info{}, err
	}
	if info.ValidatorAssurance, err = r.Uint64(); err != nil {
		return Info{}, err
	}
	prf, err := r.Uint32()
	if err != nil {
		return Info{}, err
	}
	info.ParticipantRewardFraction = uint8(prf)
	vrf, err := r.Uint32()
	if err != nil {
		return Info{}, err
	}
	info.ValidatorRewardFraction = uint8(vrf)

	wc, err := r.Int32()
	if err != nil {
		return Info{}, err
	}
	acc, err := r.Fixed(32)
	if err != nil {
		return Info{}, err
	}
	var account [32]byte
	copy(account[:], acc)
	info.ValidatorWallet = message.Address{Workchain: wc, Account: account}

	count, err := r.Uint32()
	if err != nil {
		return Info{}, err
	}
	info.Proxies = make([]message.Address, count)
	for i := uint32(0); i < count; i++ {
		pwc, err := r.Int32()
		if err != nil {
			return Info{}, err
		}
		pacc, err := r.Fixed(32)
		if err != nil {
			return Info{}, err
		}
		var paccount [32]byte
		copy(paccount[:], pacc)
		info.Proxies[i] = message.Address{Workchain: pwc, Account: paccount}
	}

	return info, nil
}

func decodeRounds(raw []byte) (map[uint64]Round, error) {
	r := tlwire.NewReader(raw)
	if _, err := r.Uint32(); err != nil {
		return nil, err
	}
	count, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	rounds := make(map[uint64]Round, count)
	for i := uint32(0); i < count; i++ {
		var round Round
		if round.ID, err = r.Uint64(); err != nil {
			return nil, err
		}
		if round.SupposedElectedAt, err = r.Uint32(); err != nil {
			return nil, err
		}
		if round.Unfreeze, err = r.Uint32(); err != nil {
			return nil, err
		}
		if round.StakeHeldFor, err = r.Uint32(); err != nil {
			return nil, err
		}
		step, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		round.Step = RoundStep(step)
		reason, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		round.CompletionReason = CompletionReason(reason)
		if round.Stake, err = r.Uint64(); err != nil {
			return nil, err
		}
		if round.RecoveredStake, err = r.Uint64(); err != nil {
			return nil, err
		}
		completed, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		round.IsStakeCompleted = completed != 0
		if round.ParticipantReward, err = r.Uint64(); err != nil {
			return nil, err
		}
		if round.ParticipantQty, err = r.Uint32(); err != nil {
			return nil, err
		}
		if round.ValidatorStake, err = r.Uint64(); err != nil {
			return nil, err
		}
		rounds[round.ID] = round
	}
	return rounds, nil
}

func decodeAddressSet(raw []byte) ([]message.Address, error) {
	r := tlwire.NewReader(raw)
	if _, err := r.Uint32(); err != nil {
		return nil, err
	}
	count, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	out := make([]message.Address, count)
	for i := uint32(0); i < count; i++ {
		wc, err := r.Int32()
		if err != nil {
			return nil, err
		}
		acc, err := r.Fixed(32)
		if err != nil {
			return nil, err
		}
		var account [32]byte
		copy(account[:], acc)
		out[i] = message.Address{Workchain: wc, Account: account}
	}
	return out, nil
}

// EncodeInfo is the inverse of decodeInfo, used by tests and fixture
// local-run runners to build getter output without a live node.
func EncodeInfo(info Info) []byte {
	w := tlwire.NewWriter(idDePoolInfoOut)
	if info.PoolClosed {
		w.PutUint32(1)
	} else {
		w.PutUint32(0)
	}
	w.PutUint64(info.MinStake)
	w.PutUint64(info.ValidatorAssurance)
	w.PutUint32(uint32(info.ParticipantRewardFraction))
	w.PutUint32(uint32(info.ValidatorRewardFraction))
	w.PutInt32(info.ValidatorWallet.Workchain)
	w.PutFixed(info.ValidatorWallet.Account[:])
	w.PutUint32(uint32(len(info.Proxies)))
	for _, p := range info.Proxies {
		w.PutInt32(p.Workchain)
		w.PutFixed(p.Account[:])
	}
	return w.Bytes()
}

// EncodeRounds is the inverse of decodeRounds.
func EncodeRounds(rounds map[uint64]Round) []byte {
	w := tlwire.NewWriter(idRoundsMapOut)
	w.PutUint32(uint32(len(rounds)))
	for _, round := range rounds {
		w.PutUint64(round.ID)
		w.PutUint32(round.SupposedElectedAt)
		w.PutUint32(round.Unfreeze)
		w.PutUint32(round.StakeHeldFor)
		w.PutUint32(uint32(round.Step))
		w.PutUint32(uint32(round.CompletionReason))
		w.PutUint64(round.Stake)
		w.PutUint64(round.RecoveredStake)
		if round.IsStakeCompleted {
			w.PutUint32(1)
		} else {
			w.PutUint32(0)
		}
		w.PutUint64(round.ParticipantReward)
		w.PutUint32(round.ParticipantQty)
		w.PutUint64(round.ValidatorStake)
	}
	return w.Bytes()
}

// EncodeAddressSet is the inverse of decodeAddressSet.
func EncodeAddressSet(addresses []message.Address) []byte {
	w := tlwire.NewWriter(idAddressSetOut)
	w.PutUint32(uint32(len(addresses)))
	for _, a := range addresses {
		w.PutInt32(a.Workchain)
		w.PutFixed(a.Account[:])
	}
	return w.Bytes()
}
