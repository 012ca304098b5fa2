package consensus

import (
	"testing"
	"time"

	"github.com/timechain/timechaind/config"
	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/crypto"
	"github.com/timechain/timechaind/dag"
	"github.com/timechain/timechaind/events"
	"github.com/timechain/timechaind/internal/testutil"
	"github.com/timechain/timechaind/mempool"
	"github.com/timechain/timechaind/reputation"
	"github.com/timechain/timechaind/temporal"
)

// newTestEngine wires up an Engine whose sole participant has weight equal
// to the total eligible weight, so the lottery's win probability is exactly
// 1 and ProduceBlock is deterministic for tests.
func newTestEngine(t *testing.T) (*Engine, crypto.PrivateKey, crypto.PublicKey, core.UnspentOutputSet, *dag.Store) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	participant, err := core.ParticipantID(pub.Hex())
	if err != nil {
		t.Fatalf("ParticipantID: %v", err)
	}

	repStore := reputation.NewStore(1)
	now := time.Now()
	repStore.Register(participant, now.Add(-(reputation.ProbationDuration + time.Hour)), reputation.Location{Country: "US", City: "nyc"})
	r, _ := repStore.Get(participant)
	r.CumulativeUptime = 200 * 24 * time.Hour
	r.StoredBlocks = 10
	repStore.SetTotalBlocks(10)

	cfg := config.DefaultConfig()
	emitter := events.NewEmitter()
	pool := mempool.NewPool(emitter)
	utxo := testutil.NewUTXOStore()
	dagStore := dag.NewStore(testutil.NewMemBlockStore())
	clock := temporal.NewClock(int64(cfg.FinalityIntervalSeconds), int64(cfg.ClockToleranceSeconds))
	ledger := NewLedger()

	genesis, err := config.CreateGenesisBlock(cfg, priv)
	if err != nil {
		t.Fatalf("CreateGenesisBlock: %v", err)
	}
	if err := dagStore.InsertGenesis(genesis); err != nil {
		t.Fatalf("InsertGenesis: %v", err)
	}

	engine, err := New(cfg, dagStore, pool, utxo, repStore, clock, ledger, emitter, priv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine, priv, pub, utxo, dagStore
}

func TestEngineProduceBlockRequiresLeadership(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	// A lone, fully-weighted participant wins every slot deterministically.
	block, err := engine.ProduceBlock(time.Now())
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}
	if len(block.Header.Parents) == 0 {
		t.Fatal("produced block has no parents")
	}
	if err := block.VerifyIntegrity(); err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
}

func TestEngineValidateAndAcceptBlock(t *testing.T) {
	engine, _, _, utxo, dagStore := newTestEngine(t)
	now := time.Now()

	block, err := engine.ProduceBlock(now)
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}
	if err := engine.ValidateBlock(block, now); err != nil {
		t.Fatalf("ValidateBlock: %v", err)
	}
	if err := engine.AcceptBlock(block, now); err != nil {
		t.Fatalf("AcceptBlock: %v", err)
	}

	if !dagStore.HasBlock(block.Hash) {
		t.Fatal("accepted block not present in DAG store")
	}
	tips := dagStore.Tips()
	if len(tips) != 1 || tips[0] != block.Hash {
		t.Fatalf("Tips = %v, want [%s]", tips, block.Hash)
	}
	_ = utxo
}

func TestEngineAcceptBlockCommitsMempoolTransactions(t *testing.T) {
	engine, priv, pub, utxo, _ := newTestEngine(t)
	now := time.Now()

	outputID := core.OutputID("genesis", 0)
	if err := utxo.Put(outputID, &core.Output{OwnerKeyHash: pub.Address(), Amount: 1000, Tier: core.TierT0}); err != nil {
		t.Fatalf("fund output: %v", err)
	}
	tx := core.NewTransaction(pub.Hex(), []core.TxInput{{PrevOutputID: outputID}},
		[]core.TxOutput{{Recipient: pub.Address(), Amount: 990, Tier: core.TierT0}}, 10)
	tx.Sign(priv)
	if err := engine.pool.Add(tx, utxo); err != nil {
		t.Fatalf("pool.Add: %v", err)
	}

	block, err := engine.ProduceBlock(now)
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}
	if len(block.Transactions) != 1 {
		t.Fatalf("block carries %d transactions, want 1", len(block.Transactions))
	}
	if err := engine.AcceptBlock(block, now); err != nil {
		t.Fatalf("AcceptBlock: %v", err)
	}
	if engine.pool.Size() != 0 {
		t.Fatalf("pool size after accept = %d, want 0", engine.pool.Size())
	}
	if _, err := utxo.Get(outputID); err == nil {
		t.Fatal("spent output still present in unspent-output set")
	}
}

func TestEngineAcceptBlockRecordsEquivocation(t *testing.T) {
	engine, priv, pub, _, _ := newTestEngine(t)
	now := time.Now()

	block1, err := engine.ProduceBlock(now)
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}
	if err := engine.AcceptBlock(block1, now); err != nil {
		t.Fatalf("AcceptBlock(block1): %v", err)
	}

	// Forge a second, competing block from the same producer in the same
	// slot by hand. Flipping the lowest nanosecond bit keeps it in block1's
	// slot while giving it a different header, and therefore a different hash.
	block2 := core.NewBlock(block1.Header.Parents, pub.Hex(), nil)
	block2.Header.TimestampSecs = block1.Header.TimestampSecs
	block2.Header.TimestampNanos = block1.Header.TimestampNanos ^ 1
	block2.Header.VRFOutput = block1.Header.VRFOutput
	block2.Header.VRFProof = block1.Header.VRFProof
	block2.Header.VDFOutput = block1.Header.VDFOutput
	block2.Header.VDFProof = block1.Header.VDFProof
	block2.Header.VDFWindow = block1.Header.VDFWindow
	block2.Sign(priv)

	if err := engine.AcceptBlock(block2, now); err != nil {
		t.Fatalf("AcceptBlock(block2): %v", err)
	}

	participant, _ := core.ParticipantID(pub.Hex())
	score := engine.rep.Score(participant, now)
	if score != 0 {
		t.Fatalf("equivocating producer's score = %v, want 0 (quarantined)", score)
	}
}
