package consensus

import (
	"math/big"
	"sort"
	"time"

	"github.com/timechain/timechaind/crypto"
	"github.com/timechain/timechaind/reputation"
)

// SlotSeed derives the VRF input for the given 1-second UTC slot, per spec
// §4.7: the previous finality checkpoint hash concatenated with the slot
// index.
func SlotSeed(prevCheckpointHash string, slot uint64) []byte {
	buf := make([]byte, len(prevCheckpointHash)+8)
	copy(buf, prevCheckpointHash)
	for i := 0; i < 8; i++ {
		buf[len(prevCheckpointHash)+i] = byte(slot >> (56 - 8*i))
	}
	return buf
}

// CurrentSlot returns the 1-second UTC slot index for t.
func CurrentSlot(t time.Time) uint64 {
	return uint64(t.UTC().Unix())
}

// EligibleWeights returns the effective (probation-adjusted) reputation
// score of every registered participant at the given moment, used as the
// denominator of the lottery's per-participant win probability. Sorted
// participant order (as returned by reputation.Store.Participants) makes the
// sum reproducible across nodes.
func EligibleWeights(store *reputation.Store, now time.Time, influxActive bool) map[string]float64 {
	weights := make(map[string]float64)
	for _, id := range store.Participants() {
		w := store.EffectiveScore(id, now, influxActive)
		if w > 0 {
			weights[id] = w
		}
	}
	return weights
}

// sumWeights totals a weight map in a fixed (sorted-key) order so repeated
// floating-point accumulation is reproducible across nodes.
func sumWeights(weights map[string]float64) float64 {
	ids := make([]string, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var total float64
	for _, id := range ids {
		total += weights[id]
	}
	return total
}

// winProbability converts a participant's weight and the total eligible
// weight into a big.Rat probability p_i, avoiding floating-point division.
func winProbability(weight, total float64) *big.Rat {
	if total <= 0 {
		return big.NewRat(0, 1)
	}
	// float64 ratios are represented exactly as big.Rats via SetFloat64,
	// so the fixed-point comparison in IsLeader never touches a float
	// division once p_i is formed.
	w := new(big.Rat).SetFloat64(weight)
	t := new(big.Rat).SetFloat64(total)
	if w == nil || t == nil || t.Sign() == 0 {
		return big.NewRat(0, 1)
	}
	return new(big.Rat).Quo(w, t)
}

// IsLeader evaluates the VRF-weighted leader lottery for one slot: computes
// (β, π) = vrf_eval(sk, seed) and checks β/2^|β| < p_i in fixed-point
// rational arithmetic, per spec §4.7. Multiple self-elected leaders in the
// same slot are not rejected here; the DAG's blue-set ordering (see package
// dag) resolves them deterministically at acceptance time.
func IsLeader(priv crypto.PrivateKey, seed []byte, weight, totalWeight float64) (leader bool, vrfOutput []byte, vrfProof string, err error) {
	vrfOutput, vrfProof, err = crypto.VRFEval(priv, seed)
	if err != nil {
		return false, nil, "", err
	}

	beta := new(big.Int).SetBytes(vrfOutput)
	modulus := new(big.Int).Lsh(big.NewInt(1), uint(len(vrfOutput)*8))
	betaRat := new(big.Rat).SetFrac(beta, modulus)

	p := winProbability(weight, totalWeight)
	return betaRat.Cmp(p) < 0, vrfOutput, vrfProof, nil
}

// VerifyLeaderClaim re-derives the VRF output from pub, input and proof and
// checks the same threshold condition a verifier (not the leader) would use
// to confirm a proposed block's leadership claim.
func VerifyLeaderClaim(pub crypto.PublicKey, seed, vrfOutput []byte, vrfProof string, weight, totalWeight float64) (bool, error) {
	ok, err := crypto.VRFVerify(pub, seed, vrfOutput, vrfProof)
	if err != nil || !ok {
		return false, err
	}
	beta := new(big.Int).SetBytes(vrfOutput)
	modulus := new(big.Int).Lsh(big.NewInt(1), uint(len(vrfOutput)*8))
	betaRat := new(big.Rat).SetFrac(beta, modulus)
	p := winProbability(weight, totalWeight)
	return betaRat.Cmp(p) < 0, nil
}
