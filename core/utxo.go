package core

import (
	"fmt"

	"github.com/timechain/timechaind/crypto"
)

// ParticipantID derives the participant identifier (hash of the public key)
// from a hex-encoded public key, as required by spec §3.
func ParticipantID(pubkeyHex string) (string, error) {
	pub, err := crypto.PubKeyFromHex(pubkeyHex)
	if err != nil {
		return "", fmt.Errorf("participant id: %w", err)
	}
	return pub.Address(), nil
}

// Output is an entry in the unspent-output set: created by block acceptance,
// consumed by block acceptance. Ownership is exclusive to the holder of the
// signing key whose hash matches OwnerKeyHash.
type Output struct {
	OwnerKeyHash string      `json:"owner_key_hash"`
	Amount       uint64      `json:"amount"`
	Tier         PrivacyTier `json:"tier"`
	BirthHeight  int64       `json:"birth_height"` // accepting block's DAG-ordered position
}

// OutputID formats the canonical "<tx_id>:<index>" identifier for the index-th
// output of transaction txID.
func OutputID(txID string, index int) string {
	return fmt.Sprintf("%s:%d", txID, index)
}

// UnspentOutputSet is the canonical best-view mapping from output identifier
// to its owner, amount, tier and birth height. The DAG store owns the
// authoritative instance; other components (mempool, consensus) hold
// snapshot readers refreshed between explicit boundaries.
type UnspentOutputSet interface {
	// Get returns ErrNotFound if the output does not exist or has been spent.
	Get(outputID string) (*Output, error)
	// Put creates or overwrites an output entry (used by block acceptance).
	Put(outputID string, out *Output) error
	// Spend marks an output as consumed (used by block acceptance).
	Spend(outputID string) error

	// Snapshot saves the current write buffer and returns a snapshot ID,
	// used to roll back a speculative application of a block or transaction.
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic hash of the full output set from
	// the current write buffer, without flushing.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying store.
	Commit() error
}

// ApplyTransaction mutates set according to tx: spends every referenced
// input output and creates the transaction's declared outputs. Callers must
// have already validated tx (see Transaction.Verify) against this same set.
func ApplyTransaction(set UnspentOutputSet, tx *Transaction) error {
	for _, in := range tx.Inputs {
		if err := set.Spend(in.PrevOutputID); err != nil {
			return fmt.Errorf("spend %s: %w", in.PrevOutputID, err)
		}
	}
	for i, out := range tx.Outputs {
		id := OutputID(tx.ID, i)
		if err := set.Put(id, &Output{
			OwnerKeyHash: out.Recipient,
			Amount:       out.Amount,
			Tier:         out.Tier,
		}); err != nil {
			return fmt.Errorf("create output %s: %w", id, err)
		}
	}
	return nil
}

// OwnerOfFunc builds the ownerOf resolver Transaction.Verify needs, backed by
// set. Every input in a transaction is spent by the same key (tx.From); this
// checks that key's participant ID matches the output's recorded owner
// before handing back the public key for signature verification.
func OwnerOfFunc(set UnspentOutputSet, fromPubkeyHex string) (func(outputID string) (crypto.PublicKey, uint64, PrivacyTier, error), error) {
	pub, err := crypto.PubKeyFromHex(fromPubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("owner resolver: %w", err)
	}
	fromID := pub.Address()
	return func(outputID string) (crypto.PublicKey, uint64, PrivacyTier, error) {
		out, err := set.Get(outputID)
		if err != nil {
			return nil, 0, 0, err
		}
		if out.OwnerKeyHash != fromID {
			return nil, 0, 0, fmt.Errorf("%w: output %s owned by %s, tx signed by %s",
				ErrBadSignature, outputID, out.OwnerKeyHash, fromID)
		}
		return pub, out.Amount, out.Tier, nil
	}, nil
}
