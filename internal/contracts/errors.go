package contracts

import "errors"

// errNotDeployed is returned by runLocal when the target account has
// never been initialized.
var errNotDeployed = errors.New("contracts: account not deployed")

// ErrExpectedStEver is returned by DePool operations that only exist on
// the StEver pool variant when called against a DefaultV3 pool.
var ErrExpectedStEver = errors.New("contracts: expected StEver depool")
