package temporal

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/timechain/timechaind/crypto"
)

// stateSize is the byte width of the hash-chain state carried between
// iterations of the sequential function.
const stateSize = 32

// DefaultIterations is the default T in "T iterations", sized so evaluation
// on reference hardware takes close to, but not more than, DefaultIntervalSeconds.
// Chosen (see DESIGN.md) to keep the VDF parameterization and the UTC
// finality boundary on one consistent 60-second cadence.
const DefaultIterations = 1 << 24

// checkpointDivisor sets the default checkpoint interval k = T/checkpointDivisor.
const checkpointDivisor = 1000

// DefaultSampleCount is the default number of segments q sampled by the
// verifier; verification cost is O(T·q/k).
const DefaultSampleCount = 20

// Proof is a checkpoint-based delay-function proof: the prover's intermediate
// states at every k-th iteration, letting the verifier recompute q randomly
// sampled segments instead of the full T-iteration chain.
type Proof struct {
	Input       []byte   `json:"input"`
	Iterations  uint64   `json:"iterations"`
	Interval    uint64   `json:"interval"`    // k
	Checkpoints [][]byte `json:"checkpoints"` // state at every k-th iteration, including the final state
	Output      []byte   `json:"output"`
}

// step advances the hash chain by one iteration: state_i = SHAKE256(state_{i-1}).
func step(state []byte) []byte {
	return crypto.Shake256(state, stateSize)
}

// Prove runs the sequential function for T iterations starting at input,
// emitting a checkpoint every k iterations. The computation is inherently
// single-threaded: each state depends on the previous one.
func Prove(input []byte, iterations, interval uint64) (output []byte, proof *Proof, err error) {
	if iterations == 0 {
		return nil, nil, fmt.Errorf("vdf prove: %w: iterations must be > 0", ErrIterationCountOutOfRange)
	}
	if interval == 0 {
		interval = iterations / checkpointDivisor
		if interval == 0 {
			interval = 1
		}
	}

	state := make([]byte, stateSize)
	copy(state, crypto.Shake256(input, stateSize))

	checkpoints := make([][]byte, 0, iterations/interval+1)
	for i := uint64(1); i <= iterations; i++ {
		state = step(state)
		if i%interval == 0 || i == iterations {
			cp := make([]byte, stateSize)
			copy(cp, state)
			checkpoints = append(checkpoints, cp)
		}
	}

	out := make([]byte, stateSize)
	copy(out, state)

	return out, &Proof{
		Input:       append([]byte{}, input...),
		Iterations:  iterations,
		Interval:    interval,
		Checkpoints: checkpoints,
		Output:      out,
	}, nil
}

// Verify recomputes q randomly sampled checkpoint segments and confirms the
// declared output matches the final checkpoint. A changed T or output is
// always rejected; a perturbed intermediate checkpoint is caught only when a
// sampled segment starts or ends at it, which is certain when sampleCount is
// at least the number of checkpoints.
func Verify(input, output []byte, iterations uint64, proof *Proof, sampleCount int) (bool, error) {
	if proof == nil {
		return false, fmt.Errorf("vdf verify: %w: nil proof", ErrProofInvalid)
	}
	if proof.Iterations != iterations {
		return false, fmt.Errorf("vdf verify: %w: iteration count mismatch (proof %d, declared %d)",
			ErrIterationCountOutOfRange, proof.Iterations, iterations)
	}
	if len(proof.Checkpoints) == 0 {
		return false, fmt.Errorf("vdf verify: %w: no checkpoints", ErrProofInvalid)
	}
	if len(proof.Output) != stateSize || len(output) != stateSize {
		return false, fmt.Errorf("vdf verify: %w: output must be %d bytes", ErrProofInvalid, stateSize)
	}
	last := proof.Checkpoints[len(proof.Checkpoints)-1]
	if !bytesEqual(last, proof.Output) || !bytesEqual(proof.Output, output) {
		return false, fmt.Errorf("vdf verify: %w: declared output does not match final checkpoint", ErrProofInvalid)
	}

	if sampleCount <= 0 {
		sampleCount = DefaultSampleCount
	}
	numSegments := len(proof.Checkpoints)
	if sampleCount > numSegments {
		sampleCount = numSegments
	}

	indices, err := sampleIndices(numSegments, sampleCount)
	if err != nil {
		return false, fmt.Errorf("vdf verify: %w", err)
	}

	for _, segIdx := range indices {
		var segStart []byte
		if segIdx == 0 {
			segStart = make([]byte, stateSize)
			copy(segStart, crypto.Shake256(proof.Input, stateSize))
		} else {
			segStart = proof.Checkpoints[segIdx-1]
		}
		want := proof.Checkpoints[segIdx]

		state := make([]byte, stateSize)
		copy(state, segStart)
		iters := proof.Interval
		if segIdx == numSegments-1 {
			// Final segment may be shorter than a full interval.
			iters = proof.Iterations - uint64(segIdx)*proof.Interval
		}
		for i := uint64(0); i < iters; i++ {
			state = step(state)
		}
		if !bytesEqual(state, want) {
			return false, nil
		}
	}
	return true, nil
}

// sampleIndices draws count distinct indices in [0, n) uniformly at random.
func sampleIndices(n, count int) ([]int, error) {
	if count >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	chosen := make(map[int]struct{}, count)
	out := make([]int, 0, count)
	for len(out) < count {
		idx, err := randIntn(n)
		if err != nil {
			return nil, err
		}
		if _, ok := chosen[idx]; ok {
			continue
		}
		chosen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out, nil
}

func randIntn(n int) (int, error) {
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIterationCountOutOfRange, err)
	}
	return int(v.Int64()), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WindowSeed derives the VDF input for finality window w from the previous
// checkpoint hash, binding each window's proof to consensus history.
func WindowSeed(prevCheckpointHash string, window uint64) []byte {
	buf := make([]byte, len(prevCheckpointHash)+8)
	copy(buf, prevCheckpointHash)
	binary.BigEndian.PutUint64(buf[len(prevCheckpointHash):], window)
	return crypto.HashBytes(buf)
}
