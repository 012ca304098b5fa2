package wallet

import (
	"fmt"

	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded public key (used as a transaction's "from"
// field; outputs are owned by Address, the key hash).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of
// SHA3-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// Spendable describes one output this wallet owns and may spend.
type Spendable struct {
	OutputID string
	Amount   uint64
	Tier     core.PrivacyTier
}

// Transfer builds and signs a transaction spending spendables to cover amount
// to recipient plus fee, returning any leftover as a change output back to
// the wallet's own Address. The outputs' tier is the highest of the tier owed to
// the recipient and the minimum tier among the spent inputs, satisfying the
// monotonic non-decrease invariant without the caller having to reason about it.
func (w *Wallet) Transfer(spendables []Spendable, recipient string, amount, fee uint64, tier core.PrivacyTier) (*core.Transaction, error) {
	var total uint64
	minInputTier := core.TierT3
	inputs := make([]core.TxInput, 0, len(spendables))
	for _, s := range spendables {
		inputs = append(inputs, core.TxInput{PrevOutputID: s.OutputID})
		total += s.Amount
		if s.Tier < minInputTier {
			minInputTier = s.Tier
		}
	}
	need := amount + fee
	if total < need {
		return nil, fmt.Errorf("wallet: insufficient funds: have %d, need %d", total, need)
	}
	if tier < minInputTier {
		tier = minInputTier
	}

	outputs := []core.TxOutput{{Recipient: recipient, Amount: amount, Tier: tier}}
	if change := total - need; change > 0 {
		outputs = append(outputs, core.TxOutput{Recipient: w.Address(), Amount: change, Tier: tier})
	}

	tx := core.NewTransaction(w.PubKey(), inputs, outputs, fee)
	tx.Sign(w.priv)
	return tx, nil
}
