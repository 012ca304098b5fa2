package consensus

import (
	"time"

	"github.com/timechain/timechaind/reputation"
)

// ParticipantState is a node in the per-participant lifecycle state machine
// of spec §4.7: Registered -> Probationary -> Active <-> Offline, with a
// timed Quarantined state following equivocation detection.
type ParticipantState string

const (
	StateRegistered   ParticipantState = "registered"
	StateProbationary ParticipantState = "probationary"
	StateActive       ParticipantState = "active"
	StateOffline      ParticipantState = "offline"
	StateQuarantined  ParticipantState = "quarantined"
)

// QuarantineBaseline is the low positive integrity value to pass as the
// baseline of reputation.Store.ExpireQuarantine. Nothing in this module calls
// ExpireQuarantine, so once QuarantineUntil passes a record keeps the
// integrity of 0 that equivocation left it with.
const QuarantineBaseline = 0.05

// Transition computes the next lifecycle state for a participant given its
// registration age, current liveness, and quarantine status. This is a pure
// function of observable facts so every node computes the same state.
func Transition(firstSeen, now, quarantineUntil time.Time, online bool) ParticipantState {
	if now.Before(quarantineUntil) {
		return StateQuarantined
	}
	if !online {
		return StateOffline
	}
	age := now.Sub(firstSeen)
	switch {
	case age < 0:
		return StateRegistered
	case age < reputation.ProbationDuration:
		return StateProbationary
	default:
		return StateActive
	}
}
