package contracts

import (
	"context"
	"errors"

	"stever/internal/blockdata"
	"stever/internal/message"
	"stever/internal/tlwire"
)

// strategyDeploymentFee is the fixed amount a deployStrategy call carries,
// 22 EVER.
const strategyDeploymentFee = 22 * oneEver

// StrategyFactory wraps calls to the cluster's strategy factory: it mints
// new strategy contracts, one per depool, on demand.
type StrategyFactory struct {
	Address message.Address
}

// FactoryDetails mirrors the factory's getDetails() output.
type FactoryDetails struct {
	StEverVault     message.Address
	Owner           message.Address
	StrategyVersion uint32
	StrategyCount   uint32
	FactoryVersion  uint32
}

var idFactoryDetails = tlwire.BoxID("stever.factoryDetails stever_vault:address owner:address strategy_version:int strategy_count:int factory_version:int = FactoryDetails")

// GetDetails runs getDetails(answerId=0) locally against the factory's
// fetched account state.
func (f *StrategyFactory) GetDetails(ctx context.Context, fetch RawAccountFetcher, runner Runner) (FactoryDetails, error) {
	args := tlwire.NewWriter(idGetDetails)
	args.PutUint32(0)
	raw, err := runLocal(ctx, fetch, runner, f.Address.Account, args.Bytes())
	if err != nil {
		return FactoryDetails{}, err
	}
	return decodeFactoryDetails(raw)
}

func decodeFactoryDetails(raw []byte) (FactoryDetails, error) {
	r := tlwire.NewReader(raw)
	box, err := r.Uint32()
	if err != nil {
		return FactoryDetails{}, err
	}
	if box != idFactoryDetails {
		return FactoryDetails{}, errors.New("contracts: not a FactoryDetails record")
	}
	var d FactoryDetails
	if d.StEverVault, err = getAddress(r); err != nil {
		return FactoryDetails{}, err
	}
	if d.Owner, err = getAddress(r); err != nil {
		return FactoryDetails{}, err
	}
	if d.StrategyVersion, err = r.Uint32(); err != nil {
		return FactoryDetails{}, err
	}
	if d.StrategyCount, err = r.Uint32(); err != nil {
		return FactoryDetails{}, err
	}
	if d.FactoryVersion, err = r.Uint32(); err != nil {
		return FactoryDetails{}, err
	}
	return d, nil
}

// EncodeFactoryDetails is decodeFactoryDetails's inverse, used by tests to
// build fixture factory-getter output without a live node.
func EncodeFactoryDetails(d FactoryDetails) []byte {
	w := tlwire.NewWriter(idFactoryDetails)
	putAddress(w, d.StEverVault)
	putAddress(w, d.Owner)
	w.PutUint32(d.StrategyVersion)
	w.PutUint32(d.StrategyCount)
	w.PutUint32(d.FactoryVersion)
	return w.Bytes()
}

var idDeployStrategy = tlwire.BoxID("stever.deployStrategy depool:address = DeployStrategy")

// DeployStrategy builds the internal message that asks the factory to
// deploy a new strategy wrapping depool, carrying the fixed deployment
// fee.
func (f *StrategyFactory) DeployStrategy(depool message.Address) message.Internal {
	w := tlwire.NewWriter(idDeployStrategy)
	putAddress(w, depool)
	return message.Internal{Dst: f.Address, Value: strategyDeploymentFee, Body: w.Bytes()}
}

var idNewStrategyDeployed = tlwire.BoxID("stever.newStrategyDeployed strategy:address depool:address version:int = NewStrategyDeployed")

// ErrStrategyEventNotFound is returned by ExtractStrategyAddress when none
// of a transaction's external-out messages carry a deployment event.
var ErrStrategyEventNotFound = errors.New("contracts: strategy deployment event not found")

// ExtractStrategyAddress scans a deployStrategy call's resulting
// transaction for the NewStrategyDeployed event and returns the address of
// the strategy it announces.
func ExtractStrategyAddress(tx blockdata.Transaction) (message.Address, error) {
	for _, body := range tx.ExtOut {
		r := tlwire.NewReader(body)
		box, err := r.Uint32()
		if err != nil || box != idNewStrategyDeployed {
			continue
		}
		addr, err := getAddress(r)
		if err != nil {
			continue
		}
		return addr, nil
	}
	return message.Address{}, ErrStrategyEventNotFound
}
