package election

import "errors"

// errNoValidatorConfigured names the case of a reload whose config has no
// validator section. tick handles that case itself ("sleep and retry", not
// a failure worth propagating) and never returns this error.
var errNoValidatorConfigured = errors.New("election: no validator section configured")

// errNotSynced is the internal signal that is_synced's attempts were
// exhausted; tick treats it the same "sleep and retry" way.
var errNotSynced = errors.New("election: node did not report synced in time")

// ErrWalletAddressMismatch means the wallet derived from the configured
// keys doesn't match the address the validator config declares.
var ErrWalletAddressMismatch = errors.New("election: validator wallet address mismatch")

// ErrDePoolOwnerMismatch means the depool's reported validator wallet
// doesn't match the wallet this controller derived from its keys.
var ErrDePoolOwnerMismatch = errors.New("election: depool owner mismatch")

// ErrInvalidDePoolProxies means the depool didn't report exactly two
// proxies, which every supported pool type is expected to deploy with.
var ErrInvalidDePoolProxies = errors.New("election: depool does not have exactly two proxies")

// ErrDePoolRoundsMismatch means a depool's getRounds getter didn't report
// exactly four concurrent rounds (previous, target, pooling, pre-pooling).
var ErrDePoolRoundsMismatch = errors.New("election: depool did not report four rounds")

// ErrUpdateDePoolAttemptsExhausted means update_depool's bounded ticktock
// retries ran out before the target round reached the election id.
var ErrUpdateDePoolAttemptsExhausted = errors.New("election: exhausted attempts updating depool rounds")

// ErrInvalidBlockchainConfig means the fetched blockchain config carried a
// validator-set round that doesn't make sense on its own terms
// (utime_until <= utime_since).
var ErrInvalidBlockchainConfig = errors.New("election: invalid blockchain config")
