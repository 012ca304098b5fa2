package config

import (
	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/crypto"
	"github.com/timechain/timechaind/temporal"
)

// genesisWindowSeed is the fixed VDF/VRF input for the bootstrap block, since
// no prior checkpoint exists to derive one from.
const genesisWindowSeed = "timechain-genesis"

// CreateGenesisBlock builds and signs the zero-parent bootstrap block. Per
// spec §6's issuance schedule there is no pre-allocation; cfg.Genesis.Alloc
// exists only so test networks can seed a handful of spendable outputs, via
// one coinbase-style transaction with no inputs (exempted from the normal
// inputs=outputs+fee invariant, exactly as genesis itself is exempted from
// the normal parent-count invariant). The caller is responsible for applying
// the returned transactions to the unspent-output set and inserting the
// block via dag.Store.InsertGenesis, not the ordinary Insert path.
func CreateGenesisBlock(cfg *Config, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	proposerPub := proposerPriv.Public()

	var txs []*core.Transaction
	if len(cfg.Genesis.Alloc) > 0 {
		outputs := make([]core.TxOutput, 0, len(cfg.Genesis.Alloc))
		for pubkeyHex, amount := range cfg.Genesis.Alloc {
			participant, err := core.ParticipantID(pubkeyHex)
			if err != nil {
				return nil, err
			}
			outputs = append(outputs, core.TxOutput{Recipient: participant, Amount: amount, Tier: core.TierT0})
		}
		coinbase := &core.Transaction{
			Version: 1,
			From:    proposerPub.Hex(),
			Outputs: outputs,
		}
		coinbase.ID = coinbase.Hash()
		txs = append(txs, coinbase)
	}

	vrfOutput, vrfProof, err := crypto.VRFEval(proposerPriv, []byte(genesisWindowSeed))
	if err != nil {
		return nil, err
	}

	vdfOutput, vdfProof, err := temporal.Prove([]byte(genesisWindowSeed), 1, 1)
	if err != nil {
		return nil, err
	}

	block := core.NewBlock(nil, proposerPub.Hex(), txs)
	block.Header.VRFOutput = vrfOutput
	block.Header.VRFProof = vrfProof
	block.Header.VDFOutput = vdfOutput
	block.Header.VDFProof = vdfProof
	block.Header.VDFWindow = 0
	block.Sign(proposerPriv)
	return block, nil
}
