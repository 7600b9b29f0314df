// Package election drives the validator lifecycle loop: classify where the
// wall clock sits against the current round's election window, prepare and
// submit stake participation through the elector contract (directly, or
// relayed by a staking pool), and keep a pool's depool/proxy/strategy
// contracts funded and ticked forward through its round state machine.
package election

import (
	"fmt"

	"stever/internal/noderpc"
)

// Phase discriminates which leg of the election window a Timeline falls
// in.
type Phase int

const (
	BeforeElections Phase = iota
	Elections
	AfterElections
)

// Timeline classifies the wall clock against a validator set's round
// boundary and the elector's declared election window. Only the fields
// documented for Phase are meaningful; the rest are zero.
type Timeline struct {
	Phase Phase

	// BeforeElections
	UntilElectionsStart uint32

	// Elections
	SinceElectionsStart uint32
	UntilElectionsEnd   uint32
	ElectionsEnd        uint32

	// AfterElections
	UntilRoundEnd uint32
}

func (t Timeline) String() string {
	switch t.Phase {
	case BeforeElections:
		return fmt.Sprintf("before elections (%ds remaining)", t.UntilElectionsStart)
	case Elections:
		return fmt.Sprintf("elections (started %ds ago, %ds remaining)", t.SinceElectionsStart, t.UntilElectionsEnd)
	case AfterElections:
		return fmt.Sprintf("after elections (%ds until new round)", t.UntilRoundEnd)
	default:
		return "unknown timeline"
	}
}

// ComputeTimeline classifies now against the round boundary utimeUntil and
// the elector's start/end offsets:
//
//	elections_start = utime_until - elections_start_before
//	elections_end   = utime_until - elections_end_before
//
// All arithmetic saturates at zero rather than wrapping, matching the
// original's checked/saturating subtraction.
func ComputeTimeline(timings noderpc.ElectionTimings, utimeUntil, now uint32) Timeline {
	electionsStart := saturatingSub(utimeUntil, timings.ElectionsStartBefore)
	electionsEnd := saturatingSub(utimeUntil, timings.ElectionsEndBefore)

	if untilStart, ok := checkedSub(electionsStart, now); ok {
		return Timeline{Phase: BeforeElections, UntilElectionsStart: untilStart}
	}

	if untilEnd, ok := checkedSub(electionsEnd, now); ok {
		return Timeline{
			Phase:               Elections,
			SinceElectionsStart: saturatingSub(now, electionsStart),
			UntilElectionsEnd:   untilEnd,
			ElectionsEnd:        electionsEnd,
		}
	}

	return Timeline{Phase: AfterElections, UntilRoundEnd: saturatingSub(utimeUntil, now)}
}

func saturatingSub(a, b uint32) uint32 {
	if a < b {
		return 0
	}
	return a - b
}

// checkedSub returns a-b and true only when the subtraction wouldn't
// underflow, the same "is now still before this deadline" test the
// original expresses with checked_sub.
func checkedSub(a, b uint32) (uint32, bool) {
	if a < b {
		return 0, false
	}
	return a - b, true
}
