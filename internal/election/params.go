package election

import "time"

// Params is the set of tunables CmdRun exposes as flags (SPEC_FULL.md
// §6), carrying the same defaults as the original's argh option
// defaults.
type Params struct {
	MaxTimeDiff          int32
	StakeUnfreezeOffset  uint32
	ElectionsStartOffset uint32
	ElectionsEndOffset   uint32
	DisableRandomShift   bool
	IgnoreDeploy         bool
}

// DefaultParams mirrors CmdRun's flag defaults.
func DefaultParams() Params {
	return Params{
		MaxTimeDiff:          120,
		StakeUnfreezeOffset:  600,
		ElectionsStartOffset: 600,
		ElectionsEndOffset:   120,
	}
}

// syncCheckInterval is both the retry spacing for is_synced's attempts and
// the sleep issued when there's nothing to validate yet.
const syncCheckInterval = 10 * time.Second

// isSyncedAttempts bounds how many times Run polls the node's sync status
// before giving up and restarting the iteration.
const isSyncedAttempts = 6

// RetryBackoff is the geometric retry schedule §7 describes for the
// outermost run loop: start at Min, double (or Multiplier) after every
// failed iteration, cap at Max.
type RetryBackoff struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultRetryBackoff mirrors CmdRun's min/max/multiplier flag defaults.
func DefaultRetryBackoff() RetryBackoff {
	return RetryBackoff{Min: 10 * time.Second, Max: 300 * time.Second, Multiplier: 2.0}
}

// Next advances the backoff interval, capping at Max.
func (b RetryBackoff) Next(interval time.Duration) time.Duration {
	next := time.Duration(float64(interval) * b.Multiplier)
	if next > b.Max {
		next = b.Max
	}
	if next < b.Min {
		next = b.Min
	}
	return next
}
