package consensus

import (
	"testing"
	"time"

	"github.com/timechain/timechaind/reputation"
)

func TestTransitionQuarantineTakesPriority(t *testing.T) {
	now := time.Now()
	firstSeen := now.Add(-400 * 24 * time.Hour)
	quarantineUntil := now.Add(24 * time.Hour)
	if got := Transition(firstSeen, now, quarantineUntil, true); got != StateQuarantined {
		t.Fatalf("Transition = %v, want StateQuarantined", got)
	}
}

func TestTransitionOfflineWhenNotOnline(t *testing.T) {
	now := time.Now()
	firstSeen := now.Add(-400 * 24 * time.Hour)
	if got := Transition(firstSeen, now, time.Time{}, false); got != StateOffline {
		t.Fatalf("Transition = %v, want StateOffline", got)
	}
}

func TestTransitionProbationaryBeforeRampComplete(t *testing.T) {
	now := time.Now()
	firstSeen := now.Add(-30 * 24 * time.Hour)
	if got := Transition(firstSeen, now, time.Time{}, true); got != StateProbationary {
		t.Fatalf("Transition = %v, want StateProbationary", got)
	}
}

func TestTransitionActiveAfterProbation(t *testing.T) {
	now := time.Now()
	firstSeen := now.Add(-(reputation.ProbationDuration + time.Hour))
	if got := Transition(firstSeen, now, time.Time{}, true); got != StateActive {
		t.Fatalf("Transition = %v, want StateActive", got)
	}
}

func TestTransitionRegisteredForFutureFirstSeen(t *testing.T) {
	now := time.Now()
	firstSeen := now.Add(time.Hour)
	if got := Transition(firstSeen, now, time.Time{}, true); got != StateRegistered {
		t.Fatalf("Transition = %v, want StateRegistered", got)
	}
}
