package consensus

import (
	"testing"
	"time"

	"github.com/timechain/timechaind/crypto"
	"github.com/timechain/timechaind/reputation"
)

func TestSlotSeedDeterministic(t *testing.T) {
	a := SlotSeed("checkpoint-1", 42)
	b := SlotSeed("checkpoint-1", 42)
	if string(a) != string(b) {
		t.Fatal("SlotSeed not deterministic for identical inputs")
	}
	c := SlotSeed("checkpoint-1", 43)
	if string(a) == string(c) {
		t.Fatal("SlotSeed did not vary with slot")
	}
}

func TestSumWeightsOrderIndependent(t *testing.T) {
	w := map[string]float64{"z": 0.3, "a": 0.2, "m": 0.5}
	if got := sumWeights(w); got < 0.999 || got > 1.001 {
		t.Fatalf("sumWeights = %v, want ~1.0", got)
	}
}

func TestIsLeaderDeterministicForSameInputs(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	seed := SlotSeed("checkpoint-1", 7)
	leader1, out1, proof1, err := IsLeader(priv, seed, 0.5, 1.0)
	if err != nil {
		t.Fatalf("IsLeader: %v", err)
	}
	leader2, out2, proof2, err := IsLeader(priv, seed, 0.5, 1.0)
	if err != nil {
		t.Fatalf("IsLeader (replay): %v", err)
	}
	if leader1 != leader2 || string(out1) != string(out2) || proof1 != proof2 {
		t.Fatal("IsLeader not deterministic for identical key/seed/weights")
	}
}

func TestIsLeaderNeverWinsWithZeroWeight(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	seed := SlotSeed("checkpoint-1", 7)
	leader, _, _, err := IsLeader(priv, seed, 0, 1.0)
	if err != nil {
		t.Fatalf("IsLeader: %v", err)
	}
	if leader {
		t.Fatal("participant with zero weight must never win the lottery")
	}
}

func TestVerifyLeaderClaimRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	seed := SlotSeed("checkpoint-1", 99)
	leader, vrfOutput, vrfProof, err := IsLeader(priv, seed, 0.9, 1.0)
	if err != nil {
		t.Fatalf("IsLeader: %v", err)
	}
	ok, err := VerifyLeaderClaim(pub, seed, vrfOutput, vrfProof, 0.9, 1.0)
	if err != nil {
		t.Fatalf("VerifyLeaderClaim: %v", err)
	}
	if ok != leader {
		t.Fatalf("VerifyLeaderClaim = %v, want %v (matching IsLeader)", ok, leader)
	}
}

func TestVerifyLeaderClaimRejectsTamperedProof(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	seed := SlotSeed("checkpoint-1", 99)
	_, vrfOutput, _, err := IsLeader(priv, seed, 0.9, 1.0)
	if err != nil {
		t.Fatalf("IsLeader: %v", err)
	}
	ok, _ := VerifyLeaderClaim(pub, seed, vrfOutput, "not-a-real-proof", 0.9, 1.0)
	if ok {
		t.Fatal("VerifyLeaderClaim accepted a tampered proof")
	}
}

func TestEligibleWeightsExcludesQuarantinedAndUnregistered(t *testing.T) {
	store := reputation.NewStore(4)
	now := time.Now()
	store.Register("active", now.Add(-200*24*time.Hour), reputation.Location{Country: "US"})
	store.Register("quarantined", now.Add(-200*24*time.Hour), reputation.Location{Country: "DE"})
	if err := store.ApplyEvent("eq1", "quarantined", reputation.EventEquivocation, now); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	r, _ := store.Get("active")
	r.CumulativeUptime = 200 * 24 * time.Hour
	r.StoredBlocks = 10
	store.SetTotalBlocks(10)

	weights := EligibleWeights(store, now, false)
	if _, ok := weights["quarantined"]; ok {
		t.Fatal("quarantined participant must not receive lottery weight")
	}
	if _, ok := weights["nonexistent"]; ok {
		t.Fatal("unregistered participant must not appear in weights")
	}
}
