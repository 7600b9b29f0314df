package contracts

import (
	"context"

	"stever/internal/contracts/vm"
	"stever/internal/tlwire"
)

var idAccountStuff = tlwire.BoxID("stever.accountStuff code:bytes data:bytes balance:long = AccountStuff")

// EncodeAccount serializes a fetched account's code, persistent data, and
// balance, the format GetShardAccountState's raw bytes are expected to
// hold in this deployment (see DESIGN.md: no TVM cell decoder exists in
// the dependency set, so this repository owns both ends of that wire).
func EncodeAccount(a vm.Account) []byte {
	w := tlwire.NewWriter(idAccountStuff)
	w.PutBytes(a.Code)
	w.PutBytes(a.Data)
	w.PutUint64(a.Balance)
	return w.Bytes()
}

// DecodeAccount is EncodeAccount's inverse.
func DecodeAccount(raw []byte) (vm.Account, error) {
	r := tlwire.NewReader(raw)
	if _, err := r.Uint32(); err != nil {
		return vm.Account{}, err
	}
	code, err := r.Bytes()
	if err != nil {
		return vm.Account{}, err
	}
	data, err := r.Bytes()
	if err != nil {
		return vm.Account{}, err
	}
	balance, err := r.Uint64()
	if err != nil {
		return vm.Account{}, err
	}
	return vm.Account{Code: code, Data: data, Balance: balance}, nil
}

// RawAccountFetcher is the subset of noderpc.Client a local-run getter
// needs to fetch the account it runs against.
type RawAccountFetcher interface {
	GetShardAccountState(ctx context.Context, address []byte) ([]byte, error)
}

// Runner is the subset of vm.Machine a contract getter needs.
type Runner interface {
	Run(account vm.Account, args []byte) ([]byte, error)
}

// runLocal fetches address's account state and runs functionArgs against
// it, mirroring run_local's fetch-then-execute shape.
func runLocal(ctx context.Context, fetch RawAccountFetcher, runner Runner, address [32]byte, functionArgs []byte) ([]byte, error) {
	raw, err := fetch.GetShardAccountState(ctx, address[:])
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errNotDeployed
	}
	account, err := DecodeAccount(raw)
	if err != nil {
		return nil, err
	}
	return runner.Run(account, functionArgs)
}
