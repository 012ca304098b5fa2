package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/timechain/timechaind/crypto"
)

// PrivacyTier tags the privacy level of a transaction output. T0 is fully
// transparent; T1-T3 reserve the slot for stealth addresses, hidden amounts
// and ring signatures, none of which this engine implements — see DESIGN.md.
type PrivacyTier uint8

const (
	TierT0 PrivacyTier = iota
	TierT1
	TierT2
	TierT3
)

func (t PrivacyTier) String() string {
	switch t {
	case TierT0:
		return "T0"
	case TierT1:
		return "T1"
	case TierT2:
		return "T2"
	case TierT3:
		return "T3"
	default:
		return "unknown"
	}
}

// TxInput references a previously created, still-unspent output and proves
// the right to spend it.
type TxInput struct {
	PrevOutputID string `json:"prev_output_id"` // "<tx_id>:<output_index>"
	Signature    string `json:"signature"`       // signature over the spend, by the output's owner key
}

// TxOutput creates a new unspent output, owned by Recipient's key hash.
type TxOutput struct {
	Recipient string      `json:"recipient"` // hex-encoded owner key hash (participant identifier)
	Amount    uint64      `json:"amount"`
	Tier      PrivacyTier `json:"tier"`
}

// Transaction is the atomic unit of value transfer.
// From holds the spender's hex-encoded public key; Signature in each TxInput
// covers the signing body (everything but the input signatures themselves).
type Transaction struct {
	ID        string     `json:"id"`
	Version   uint32     `json:"version"`
	From      string     `json:"from"` // hex-encoded post-quantum-slot public key
	Inputs    []TxInput  `json:"inputs"`
	Outputs   []TxOutput `json:"outputs"`
	Fee       uint64     `json:"fee"`
	Timestamp int64      `json:"timestamp"` // unix nanoseconds
	AuxPayload []byte    `json:"aux_payload,omitempty"` // reserved for T1-T3 auxiliary data
}

// signingBody holds the fields that are hashed to produce the per-input
// spend message and the transaction ID. Input signatures are excluded so
// that adding a signature cannot change what is being signed.
type signingBody struct {
	Version    uint32
	From       string
	OutputIDs  []string
	Outputs    []TxOutput
	Fee        uint64
	Timestamp  int64
	AuxPayload []byte
}

func (tx *Transaction) body() signingBody {
	ids := make([]string, len(tx.Inputs))
	for i, in := range tx.Inputs {
		ids[i] = in.PrevOutputID
	}
	return signingBody{
		Version:    tx.Version,
		From:       tx.From,
		OutputIDs:  ids,
		Outputs:    tx.Outputs,
		Fee:        tx.Fee,
		Timestamp:  tx.Timestamp,
		AuxPayload: tx.AuxPayload,
	}
}

// encodeBody produces a canonical length-prefixed byte encoding of the
// signing body, used both to derive tx.ID and as the per-input spend message.
func encodeBody(b signingBody) []byte {
	buf := make([]byte, 0, 256)
	var u32 [4]byte
	var u64 [8]byte

	binary.BigEndian.PutUint32(u32[:], b.Version)
	buf = append(buf, u32[:]...)

	buf = appendLenPrefixed(buf, []byte(b.From))

	binary.BigEndian.PutUint32(u32[:], uint32(len(b.OutputIDs)))
	buf = append(buf, u32[:]...)
	for _, id := range b.OutputIDs {
		buf = appendLenPrefixed(buf, []byte(id))
	}

	binary.BigEndian.PutUint32(u32[:], uint32(len(b.Outputs)))
	buf = append(buf, u32[:]...)
	for _, out := range b.Outputs {
		buf = appendLenPrefixed(buf, []byte(out.Recipient))
		binary.BigEndian.PutUint64(u64[:], out.Amount)
		buf = append(buf, u64[:]...)
		buf = append(buf, byte(out.Tier))
	}

	binary.BigEndian.PutUint64(u64[:], b.Fee)
	buf = append(buf, u64[:]...)

	binary.BigEndian.PutUint64(u64[:], uint64(b.Timestamp))
	buf = append(buf, u64[:]...)

	buf = appendLenPrefixed(buf, b.AuxPayload)
	return buf
}

func appendLenPrefixed(buf, data []byte) []byte {
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(data)))
	buf = append(buf, u32[:]...)
	return append(buf, data...)
}

// Hash returns the deterministic transaction ID: SHA3-256 of the signing body.
func (tx *Transaction) Hash() string {
	return crypto.Hash(encodeBody(tx.body()))
}

// SpendMessage returns the message an input's signature is computed over:
// the transaction's signing-body hash concatenated with the spent output ID.
// Binding the specific output ID prevents a signature for one input being
// replayed against another input of the same transaction.
func (tx *Transaction) SpendMessage(outputID string) []byte {
	h := tx.Hash()
	return append([]byte(h), []byte(outputID)...)
}

// Sign computes tx.ID and signs every input with priv. All inputs are
// assumed to be owned by the same key (From).
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	tx.ID = tx.Hash()
	for i := range tx.Inputs {
		msg := tx.SpendMessage(tx.Inputs[i].PrevOutputID)
		tx.Inputs[i].Signature = crypto.Sign(priv, msg)
	}
}

// Verify checks structural invariants and every input signature against the
// owner key recorded for its referenced output (resolved by the caller via
// the unspent-output set, passed in as ownerOf).
func (tx *Transaction) Verify(ownerOf func(outputID string) (crypto.PublicKey, uint64, PrivacyTier, error)) error {
	if tx.From == "" {
		return fmt.Errorf("%w: missing from field", ErrBadSignature)
	}
	if len(tx.Inputs) == 0 {
		return fmt.Errorf("%w: transaction has no inputs", ErrBadEncoding)
	}
	if len(tx.Outputs) == 0 {
		return fmt.Errorf("%w: transaction has no outputs", ErrBadEncoding)
	}
	if computed := tx.Hash(); tx.ID != computed {
		return fmt.Errorf("%w: tx ID mismatch: stored %s computed %s", ErrBadEncoding, tx.ID, computed)
	}

	seen := make(map[string]bool, len(tx.Outputs))
	for i, out := range tx.Outputs {
		key := fmt.Sprintf("%s:%d", out.Recipient, i)
		if seen[key] {
			return fmt.Errorf("%w: duplicate output %s", ErrBadEncoding, key)
		}
		seen[key] = true
	}

	var totalIn uint64
	minInputTier := TierT3
	for _, in := range tx.Inputs {
		pub, amount, tier, err := ownerOf(in.PrevOutputID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownParent, err)
		}
		msg := tx.SpendMessage(in.PrevOutputID)
		if err := crypto.Verify(pub, msg, in.Signature); err != nil {
			return fmt.Errorf("%w: input %s: %v", ErrBadSignature, in.PrevOutputID, err)
		}
		var overflow bool
		totalIn, overflow = addUint64(totalIn, amount)
		if overflow {
			return fmt.Errorf("%w: input amounts overflow", ErrOutputOverflow)
		}
		if tier < minInputTier {
			minInputTier = tier
		}
	}

	var totalOut uint64
	maxOutputTier := TierT0
	for _, out := range tx.Outputs {
		var overflow bool
		totalOut, overflow = addUint64(totalOut, out.Amount)
		if overflow {
			return fmt.Errorf("%w: output amounts overflow", ErrOutputOverflow)
		}
		if out.Tier > maxOutputTier {
			maxOutputTier = out.Tier
		}
	}

	need, overflow := addUint64(totalOut, tx.Fee)
	if overflow {
		return fmt.Errorf("%w: outputs+fee overflow", ErrOutputOverflow)
	}
	if totalIn != need {
		return fmt.Errorf("%w: inputs (%d) must equal outputs+fee (%d)", ErrOutputOverflow, totalIn, need)
	}

	// Monotonic non-decrease: the tier of any output must be >= the tier of
	// the lowest-tier consuming input.
	for _, out := range tx.Outputs {
		if out.Tier < minInputTier {
			return fmt.Errorf("%w: output tier %s below input tier %s", ErrMonotonicPrivacyViolation, out.Tier, minInputTier)
		}
	}

	return nil
}

// SizeBytes estimates the transaction's wire size, used by the mempool to
// compute fee-per-byte priority. Based on the canonical signing-body
// encoding plus one signature per input.
func (tx *Transaction) SizeBytes() int {
	size := len(encodeBody(tx.body()))
	for _, in := range tx.Inputs {
		size += len(in.Signature)
	}
	return size
}

func addUint64(a, b uint64) (sum uint64, overflow bool) {
	sum = a + b
	return sum, sum < a
}

// NewTransaction builds an unsigned transaction with the current timestamp.
func NewTransaction(from string, inputs []TxInput, outputs []TxOutput, fee uint64) *Transaction {
	return &Transaction{
		Version:   1,
		From:      from,
		Inputs:    inputs,
		Outputs:   outputs,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
	}
}
