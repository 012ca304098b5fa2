package consensus

import (
	"bytes"
	"encoding/binary"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/crypto"
)

// FinalityLevel names how many checkpoints have passed over a block's
// window, per spec §4.7.
type FinalityLevel int

const (
	FinalityNone FinalityLevel = iota
	FinalitySoft               // 1 checkpoint
	FinalityMedium             // 2 checkpoints
	FinalityHard                // 3 checkpoints; reorgs forbidden above this point
)

func (l FinalityLevel) String() string {
	switch l {
	case FinalityNone:
		return "none"
	case FinalitySoft:
		return "soft"
	case FinalityMedium:
		return "medium"
	case FinalityHard:
		return "hard"
	default:
		return "unknown"
	}
}

// Checkpoint is the finality artifact emitted once per UTC boundary, per
// spec §3/§4.7: a Merkle root over the window's accepted blocks, the
// aggregated heartbeat attestation, cumulative delay-function work, and a
// pointer to the previous checkpoint.
type Checkpoint struct {
	Window              uint64
	BoundaryUnixSecs     int64
	BlockRoot            string
	AggregateAttestation bls12381.G1Affine
	CumulativeVDFWork    uint64
	PrevCheckpointHash   string
	Hash                 string
}

// ComputeBlockRoot builds a deterministic Merkle-style root over the hashes
// of blocks accepted in one finality window, mirroring core.ComputeTxRoot's
// length-prefixed leaf encoding.
func ComputeBlockRoot(blockHashes []string) string {
	if len(blockHashes) == 0 {
		return crypto.Hash([]byte("empty-window"))
	}
	var buf bytes.Buffer
	for _, h := range blockHashes {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(h)))
		buf.Write(lenBuf[:])
		buf.WriteString(h)
	}
	return crypto.Hash(buf.Bytes())
}

// windowAttestationMessage is the message a participant's heartbeat
// attestation signs: the window index and its UTC boundary, binding the
// signature to one specific finality window.
func windowAttestationMessage(window uint64, boundaryUnixSecs int64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], window)
	binary.BigEndian.PutUint64(buf[8:], uint64(boundaryUnixSecs))
	return buf
}

// sealCheckpoint computes the checkpoint's own identifying hash from its
// fields, binding it to the previous checkpoint and making the chain of
// checkpoints tamper-evident.
func sealCheckpoint(c *Checkpoint) string {
	var buf bytes.Buffer
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], c.Window)
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(c.BoundaryUnixSecs))
	buf.Write(u64[:])
	buf.WriteString(c.BlockRoot)
	agg := c.AggregateAttestation.Bytes()
	buf.Write(agg[:])
	binary.BigEndian.PutUint64(u64[:], c.CumulativeVDFWork)
	buf.Write(u64[:])
	buf.WriteString(c.PrevCheckpointHash)
	return crypto.Hash(buf.Bytes())
}

// NewCheckpoint seals a Checkpoint for the given window.
func NewCheckpoint(window uint64, boundary int64, blockHashes []string, agg bls12381.G1Affine, vdfWork uint64, prevHash string) *Checkpoint {
	c := &Checkpoint{
		Window:               window,
		BoundaryUnixSecs:     boundary,
		BlockRoot:            ComputeBlockRoot(blockHashes),
		AggregateAttestation: agg,
		CumulativeVDFWork:    vdfWork,
		PrevCheckpointHash:   prevHash,
	}
	c.Hash = sealCheckpoint(c)
	return c
}

// Ledger tracks the chain of finality checkpoints and the soft/medium/hard
// finality level of any given block root.
type Ledger struct {
	checkpoints []*Checkpoint
}

// NewLedger creates an empty checkpoint ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds the next checkpoint, which must reference the current tip's
// hash as its PrevCheckpointHash (enforced by the caller via NewCheckpoint).
func (l *Ledger) Append(c *Checkpoint) {
	l.checkpoints = append(l.checkpoints, c)
}

// Latest returns the most recent checkpoint, or nil if none has been sealed.
func (l *Ledger) Latest() *Checkpoint {
	if len(l.checkpoints) == 0 {
		return nil
	}
	return l.checkpoints[len(l.checkpoints)-1]
}

// FinalityOf reports the finality level of the checkpoint at the given
// window, based on how many later checkpoints have since been sealed.
func (l *Ledger) FinalityOf(window uint64) FinalityLevel {
	var idx = -1
	for i, c := range l.checkpoints {
		if c.Window == window {
			idx = i
			break
		}
	}
	if idx < 0 {
		return FinalityNone
	}
	behind := len(l.checkpoints) - 1 - idx
	switch {
	case behind >= 2:
		return FinalityHard
	case behind == 1:
		return FinalityMedium
	case behind == 0:
		return FinalitySoft
	default:
		return FinalityNone
	}
}

// HardFinalizedWindow returns the highest window whose checkpoint has
// reached hard finality; reorgs may only occur above this window.
func (l *Ledger) HardFinalizedWindow() (uint64, bool) {
	if len(l.checkpoints) < 3 {
		return 0, false
	}
	return l.checkpoints[len(l.checkpoints)-3].Window, true
}

// ForkChoice picks the winner between two competing checkpoints sealed for
// the same UTC boundary (a partition/re-merge scenario): the one with
// strictly more valid heartbeats wins; ties break by lexicographically
// smaller hash, per spec §4.7.
func ForkChoice(a, b *Checkpoint, aHeartbeats, bHeartbeats int) *Checkpoint {
	if aHeartbeats != bHeartbeats {
		if aHeartbeats > bHeartbeats {
			return a
		}
		return b
	}
	if a.Hash <= b.Hash {
		return a
	}
	return b
}

// CumulativeVDFWorkFor sums the iteration counts of the delay-function
// proofs embedded in blocks, the "cumulative delay-function work" field of
// spec §3's finality checkpoint.
func CumulativeVDFWorkFor(blocks []*core.Block) uint64 {
	var total uint64
	for _, b := range blocks {
		if b.Header.VDFProof != nil {
			total += b.Header.VDFProof.Iterations
		}
	}
	return total
}
