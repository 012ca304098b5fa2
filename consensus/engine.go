// Package consensus implements the VRF-weighted temporal-consensus core:
// leader lottery, block production and validation, and finality checkpoint
// sealing. The production/validation pipeline keeps the teacher's
// ProduceBlock/ValidateBlock/Run shape from consensus/poa.go; the
// round-robin proposer check is replaced by the probabilistic VRF lottery.
package consensus

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/timechain/timechaind/config"
	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/crypto"
	"github.com/timechain/timechaind/dag"
	"github.com/timechain/timechaind/events"
	"github.com/timechain/timechaind/mempool"
	"github.com/timechain/timechaind/reputation"
	"github.com/timechain/timechaind/temporal"
)

// ErrNotLeader is returned by ProduceBlock when the VRF lottery did not
// select this node for the current slot.
var ErrNotLeader = errors.New("consensus: not leader for this slot")

// genesisWindowSeed is the fixed VDF/VRF input used as the "previous
// checkpoint hash" before any checkpoint has been sealed; must match
// config.CreateGenesisBlock's genesis seed.
const genesisWindowSeed = "timechain-genesis"

// Engine is the temporal-consensus core: it owns no storage itself but
// coordinates the DAG store, mempool, unspent-output set and reputation
// engine to produce and validate blocks.
type Engine struct {
	cfg     *config.Config
	dagStore *dag.Store
	pool    *mempool.Pool
	utxo    core.UnspentOutputSet
	rep     *reputation.Store
	clock   *temporal.Clock
	ledger  *Ledger
	emitter *events.Emitter

	privKey       crypto.PrivateKey
	pubKey        crypto.PublicKey
	participantID string

	// equivocation tracking: slot -> producer -> block hash already seen.
	slotProducerSeen map[uint64]map[string]string

	// checkpoint sealing: finality window -> accepted block hashes seen so
	// far, and the BLS key this node signs its own heartbeat attestation
	// with (see SealCheckpointsUpTo).
	attestationKey       *reputation.AttestationKey
	windowBlocks         map[uint64][]string
	nextCheckpointWindow uint64
}

// New creates an Engine for the local participant identified by privKey.
func New(
	cfg *config.Config,
	dagStore *dag.Store,
	pool *mempool.Pool,
	utxo core.UnspentOutputSet,
	rep *reputation.Store,
	clock *temporal.Clock,
	ledger *Ledger,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) (*Engine, error) {
	pub := privKey.Public()
	participantID, err := core.ParticipantID(pub.Hex())
	if err != nil {
		return nil, fmt.Errorf("consensus: derive participant id: %w", err)
	}
	attestationKey, _, err := reputation.GenerateAttestationKey()
	if err != nil {
		return nil, fmt.Errorf("consensus: generate attestation key: %w", err)
	}
	return &Engine{
		cfg:                  cfg,
		dagStore:             dagStore,
		pool:                 pool,
		utxo:                 utxo,
		rep:                  rep,
		clock:                clock,
		ledger:               ledger,
		emitter:              emitter,
		privKey:              privKey,
		pubKey:               pub,
		participantID:        participantID,
		slotProducerSeen:     make(map[uint64]map[string]string),
		attestationKey:       attestationKey,
		windowBlocks:         make(map[uint64][]string),
		nextCheckpointWindow: clock.CurrentWindow(),
	}, nil
}

// ensureRegistered auto-registers a participant seen producing a block but
// never yet Register'd with the reputation store (a remote producer whose
// Hello handshake this node never received, or raced it). Without this,
// ApplyEvent silently no-ops for it and it would never accrue reputation.
func (e *Engine) ensureRegistered(participant string, now time.Time) {
	if _, ok := e.rep.Get(participant); !ok {
		e.rep.Register(participant, now, reputation.Location{})
	}
}

func (e *Engine) prevCheckpointHash() string {
	if latest := e.ledger.Latest(); latest != nil {
		return latest.Hash
	}
	return genesisWindowSeed
}

// EvaluateLottery runs the VRF-weighted leader lottery for the slot
// containing now and reports whether this node won it.
func (e *Engine) EvaluateLottery(now time.Time) (leader bool, vrfOutput []byte, vrfProof string, err error) {
	slot := CurrentSlot(now)
	seed := SlotSeed(e.prevCheckpointHash(), slot)
	influx := e.rep.InfluxActive(now, float64(e.cfg.FinalityIntervalSeconds))
	weights := EligibleWeights(e.rep, now, influx)
	total := sumWeights(weights)
	myWeight := weights[e.participantID]
	return IsLeader(e.privKey, seed, myWeight, total)
}

// ProduceBlock builds, signs and returns the next block if this node won the
// current slot's leader lottery. It does not mutate the DAG store or the
// unspent-output set; call AcceptBlock (directly, or via gossip round-trip)
// to commit it.
func (e *Engine) ProduceBlock(now time.Time) (*core.Block, error) {
	leader, vrfOutput, vrfProof, err := e.EvaluateLottery(now)
	if err != nil {
		return nil, fmt.Errorf("consensus: evaluate lottery: %w", err)
	}
	if !leader {
		return nil, ErrNotLeader
	}

	limit := e.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	txs := e.pool.Pending(limit)

	parents := e.selectParents()
	if len(parents) == 0 {
		return nil, errors.New("consensus: no tips to build on")
	}

	window := e.clock.CurrentWindow()
	windowSeed := temporal.WindowSeed(e.prevCheckpointHash(), window)
	vdfOutput, vdfProof, err := temporal.Prove(windowSeed, e.cfg.VDFIterations, 0)
	if err != nil {
		return nil, fmt.Errorf("consensus: vdf prove: %w", err)
	}

	block := core.NewBlock(parents, e.pubKey.Hex(), txs)
	block.Header.VRFOutput = vrfOutput
	block.Header.VRFProof = vrfProof
	block.Header.VDFOutput = vdfOutput
	block.Header.VDFProof = vdfProof
	block.Header.VDFWindow = window
	block.Sign(e.privKey)

	return block, nil
}

// selectParents picks 1-max_parents current tips, sorted for determinism.
func (e *Engine) selectParents() []string {
	tips := e.dagStore.Tips()
	if len(tips) == 0 {
		return nil
	}
	sort.Strings(tips)
	max := e.cfg.MaxParents
	if max <= 0 || max > core.MaxParents {
		max = core.MaxParents
	}
	if len(tips) > max {
		tips = tips[:max]
	}
	return tips
}

// ValidateBlock checks a received block's structural and consensus
// invariants without mutating any state, per spec §3's Block invariants.
func (e *Engine) ValidateBlock(block *core.Block, now time.Time) error {
	if err := block.VerifyIntegrity(); err != nil {
		return err
	}
	pub, err := crypto.PubKeyFromHex(block.Header.Producer)
	if err != nil {
		return fmt.Errorf("%w: invalid producer pubkey: %v", core.ErrBadEncoding, err)
	}
	if err := block.VerifySignature(pub); err != nil {
		return err
	}

	if err := e.clock.CheckSkew(block.Header.TimestampSecs, block.Header.TimestampNanos); err != nil {
		return err
	}
	if err := e.clock.AcceptsProofWindow(block.Header.VDFWindow); err != nil {
		return err
	}

	for _, p := range block.Header.Parents {
		if _, err := e.dagStore.GetBlock(p); err != nil {
			return fmt.Errorf("%w: parent %s: %v", core.ErrUnknownParent, p, err)
		}
	}

	ok, err := temporal.Verify(
		temporal.WindowSeed(e.prevCheckpointHash(), block.Header.VDFWindow),
		block.Header.VDFOutput, e.cfg.VDFIterations, block.Header.VDFProof, temporal.DefaultSampleCount)
	if err != nil || !ok {
		return fmt.Errorf("consensus: vdf proof invalid: %w", err)
	}

	slot := CurrentSlot(block.Timestamp())
	if seen, ok := e.slotProducerSeen[slot]; ok {
		if prevHash, producedAlready := seen[block.Header.Producer]; producedAlready && prevHash != block.Hash {
			return fmt.Errorf("consensus: %w: producer %s already produced %s in slot %d",
				core.ErrEquivocation, block.Header.Producer, prevHash, slot)
		}
	}

	return nil
}

// AcceptBlock applies block's transactions to the unspent-output set,
// inserts it into the DAG store, removes its transactions from the mempool,
// and folds the appropriate reputation events. Equivocation is recorded
// against the reputation engine rather than rejected outright: both
// competing blocks may still enter the DAG (spec §8 scenario 2).
func (e *Engine) AcceptBlock(block *core.Block, now time.Time) error {
	producer, err := core.ParticipantID(block.Header.Producer)
	if err != nil {
		return fmt.Errorf("consensus: derive producer id: %w", err)
	}
	e.ensureRegistered(producer, now)

	slot := CurrentSlot(block.Timestamp())
	seen := e.slotProducerSeen[slot]
	if seen == nil {
		seen = make(map[string]string)
		e.slotProducerSeen[slot] = seen
	}
	if prevHash, ok := seen[block.Header.Producer]; ok && prevHash != block.Hash {
		_ = e.rep.ApplyEvent("equivocation:"+block.Hash, producer, reputation.EventEquivocation, now)
		e.emitter.Emit(events.Event{Type: events.EventEquivocation, BlockHash: block.Hash,
			Data: map[string]any{"producer": producer, "slot": slot}})
		if rec, ok := e.rep.Get(producer); ok {
			e.emitter.Emit(events.Event{Type: events.EventQuarantine, Data: map[string]any{
				"participant": producer, "until": rec.QuarantineUntil}})
		}
	}
	seen[block.Header.Producer] = block.Hash

	snap, err := e.utxo.Snapshot()
	if err != nil {
		return fmt.Errorf("consensus: snapshot utxo: %w", err)
	}
	var txIDs []string
	for _, tx := range block.Transactions {
		ownerOf, err := core.OwnerOfFunc(e.utxo, tx.From)
		if err != nil {
			_ = e.utxo.RevertToSnapshot(snap)
			return fmt.Errorf("consensus: resolve spender for tx %s: %w", tx.ID, err)
		}
		if err := tx.Verify(ownerOf); err != nil {
			_ = e.utxo.RevertToSnapshot(snap)
			return fmt.Errorf("consensus: tx %s invalid: %w", tx.ID, err)
		}
		if err := core.ApplyTransaction(e.utxo, tx); err != nil {
			_ = e.utxo.RevertToSnapshot(snap)
			return fmt.Errorf("consensus: apply tx %s: %w", tx.ID, err)
		}
		txIDs = append(txIDs, tx.ID)
	}

	if err := e.dagStore.Insert(block); err != nil && !errors.Is(err, dag.ErrAlreadyKnown) {
		_ = e.utxo.RevertToSnapshot(snap)
		return fmt.Errorf("consensus: insert block: %w", err)
	}

	if height, ok := e.dagStore.BlueScore(block.Hash); ok {
		if subsidy := core.CalcBlockSubsidy(height); subsidy > 0 {
			coinbaseID := core.OutputID("coinbase-"+block.Hash, 0)
			if err := e.utxo.Put(coinbaseID, &core.Output{
				OwnerKeyHash: producer,
				Amount:       subsidy,
				Tier:         core.TierT0,
				BirthHeight:  int64(height),
			}); err != nil {
				_ = e.utxo.RevertToSnapshot(snap)
				return fmt.Errorf("consensus: mint subsidy: %w", err)
			}
		}
	}

	if err := e.utxo.Commit(); err != nil {
		return fmt.Errorf("consensus: commit utxo: %w", err)
	}

	e.pool.Remove(txIDs)

	e.windowBlocks[block.Header.VDFWindow] = append(e.windowBlocks[block.Header.VDFWindow], block.Hash)

	_ = e.rep.ApplyEvent("block-produced:"+block.Hash, producer, reputation.EventBlockProduced, now)

	e.emitter.Emit(events.Event{
		Type:      events.EventBlockAccepted,
		BlockHash: block.Hash,
		Data:      map[string]any{"tx_count": len(block.Transactions), "parents": block.Header.Parents},
	})
	return nil
}

// SealCheckpointsUpTo seals a finality checkpoint for every window strictly
// before the current one that has not yet been sealed: it builds the
// window's block root from the hashes AcceptBlock recorded for it, signs
// and aggregates this node's own heartbeat attestation over the window
// boundary, sums the window's cumulative delay-function work, and appends
// the result to the ledger. Real multi-participant attestation aggregation
// requires collecting peer heartbeats over the wire (see network/peer.go's
// MsgHeartbeat, not yet wired to a handler); until then the aggregate
// carries only this node's own signature.
func (e *Engine) SealCheckpointsUpTo(now time.Time) ([]*Checkpoint, error) {
	current := e.clock.CurrentWindow()
	var sealed []*Checkpoint
	for e.nextCheckpointWindow < current {
		w := e.nextCheckpointWindow
		hashes := e.windowBlocks[w]

		blocks := make([]*core.Block, 0, len(hashes))
		for _, h := range hashes {
			b, err := e.dagStore.GetBlock(h)
			if err != nil {
				continue
			}
			blocks = append(blocks, b)
		}

		boundary := e.clock.BoundaryOf(w)
		sig := e.attestationKey.Sign(windowAttestationMessage(w, boundary.Unix()))
		agg, err := reputation.AggregateAttestations([]bls12381.G1Affine{sig})
		if err != nil {
			return sealed, fmt.Errorf("consensus: aggregate attestations for window %d: %w", w, err)
		}

		cp := NewCheckpoint(w, boundary.Unix(), hashes, agg, CumulativeVDFWorkFor(blocks), e.prevCheckpointHash())
		e.ledger.Append(cp)
		e.emitter.Emit(events.Event{
			Type: events.EventCheckpointEmitted,
			Data: map[string]any{"window": w, "block_count": len(hashes), "hash": cp.Hash},
		})

		delete(e.windowBlocks, w)
		e.nextCheckpointWindow = w + 1
		sealed = append(sealed, cp)
	}
	return sealed, nil
}

// Run starts the per-slot production loop; it blocks until done is closed.
// Each tick also advances the finality-checkpoint ledger up to the current
// window, so checkpoint sealing does not depend on a block having been
// produced this slot.
func (e *Engine) Run(slotInterval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(slotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			block, err := e.ProduceBlock(now)
			switch {
			case err == nil:
				if err := e.AcceptBlock(block, now); err != nil {
					log.Printf("[consensus] accept own block error: %v", err)
				}
			case !errors.Is(err, ErrNotLeader):
				log.Printf("[consensus] produce block error: %v", err)
			}

			if _, err := e.SealCheckpointsUpTo(now); err != nil {
				log.Printf("[consensus] seal checkpoint error: %v", err)
			}
		}
	}
}
