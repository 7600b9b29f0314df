package contracts

import (
	"context"
	"errors"

	"stever/internal/message"
	"stever/internal/tlwire"
)

// Strategy wraps the read-only getDetails() call exposed by a cluster's
// deployed strategy contract.
type Strategy struct {
	Address message.Address
}

// StrategyDetails mirrors the strategy's getDetails() output.
type StrategyDetails struct {
	Vault           message.Address
	DePool          message.Address
	StrategyVersion uint32
	State           uint8
}

var idStrategyDetails = tlwire.BoxID("stever.strategyDetails vault:address depool:address strategy_version:int state:int8 = StrategyDetails")

// GetDetails runs getDetails(answerId=0) locally against the strategy's
// fetched account state.
func (s *Strategy) GetDetails(ctx context.Context, fetch RawAccountFetcher, runner Runner) (StrategyDetails, error) {
	args := tlwire.NewWriter(idGetDetails)
	args.PutUint32(0)
	raw, err := runLocal(ctx, fetch, runner, s.Address.Account, args.Bytes())
	if err != nil {
		return StrategyDetails{}, err
	}
	return decodeStrategyDetails(raw)
}

var idGetDetails = tlwire.BoxID("stever.getDetails answerId:int = GetDetailsArgs")

func decodeStrategyDetails(raw []byte) (StrategyDetails, error) {
	r := tlwire.NewReader(raw)
	box, err := r.Uint32()
	if err != nil {
		return StrategyDetails{}, err
	}
	if box != idStrategyDetails {
		return StrategyDetails{}, errors.New("contracts: not a StrategyDetails record")
	}
	var d StrategyDetails
	if d.Vault, err = getAddress(r); err != nil {
		return StrategyDetails{}, err
	}
	if d.DePool, err = getAddress(r); err != nil {
		return StrategyDetails{}, err
	}
	if d.StrategyVersion, err = r.Uint32(); err != nil {
		return StrategyDetails{}, err
	}
	state, err := r.Uint32()
	if err != nil {
		return StrategyDetails{}, err
	}
	d.State = uint8(state)
	return d, nil
}

// EncodeStrategyDetails is decodeStrategyDetails's inverse, used by tests
// to build fixture strategy-getter output without a live node.
func EncodeStrategyDetails(d StrategyDetails) []byte {
	w := tlwire.NewWriter(idStrategyDetails)
	putAddress(w, d.Vault)
	putAddress(w, d.DePool)
	w.PutUint32(d.StrategyVersion)
	w.PutUint32(uint32(d.State))
	return w.Bytes()
}

func getAddress(r *tlwire.Reader) (message.Address, error) {
	workchain, err := r.Int32()
	if err != nil {
		return message.Address{}, err
	}
	account, err := r.Fixed(32)
	if err != nil {
		return message.Address{}, err
	}
	var addr message.Address
	addr.Workchain = workchain
	copy(addr.Account[:], account)
	return addr, nil
}

func putAddress(w *tlwire.Writer, a message.Address) {
	w.PutInt32(a.Workchain)
	w.PutFixed(a.Account[:])
}
