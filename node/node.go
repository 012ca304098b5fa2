// Package node composes C1-C8 into a runnable timechain node. It holds no
// consensus or business logic of its own: it wires config, storage, the DAG
// store, reputation, mempool, consensus engine, peer link and RPC server
// together, directly modeled on the teacher's cmd/node/main.go wiring order,
// pulled out of main into a reusable type the way a library should expose it.
package node

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timechain/timechaind/config"
	"github.com/timechain/timechaind/consensus"
	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/crypto"
	"github.com/timechain/timechaind/dag"
	"github.com/timechain/timechaind/events"
	"github.com/timechain/timechaind/mempool"
	"github.com/timechain/timechaind/network"
	"github.com/timechain/timechaind/reputation"
	"github.com/timechain/timechaind/rpc"
	"github.com/timechain/timechaind/storage"
	"github.com/timechain/timechaind/temporal"
)

const consensusSlotInterval = 2 * time.Second

// regionDiversityTarget is the geography-score divisor (spec §4.4); the
// node does not currently expose it as a config option, so it uses the same
// value the reputation package's own tests exercise.
const regionDiversityTarget = 4

// Node composes the timechain stack: storage, DAG, reputation, mempool,
// consensus engine, peer link and RPC server.
type Node struct {
	cfg           *config.Config
	privKey       crypto.PrivateKey
	participantID string

	db    *storage.LevelDB
	utxo  *storage.UTXOStore
	rep   *reputation.Store
	clock *temporal.Clock

	emitter *events.Emitter
	pool    *mempool.Pool
	dag     *dag.Store
	ledger  *consensus.Ledger
	engine  *consensus.Engine

	p2p     *network.Node
	p2pAddr string
	syncer  *network.Syncer

	rpcServer *rpc.Server
	rpcAddr   string

	mu      sync.Mutex
	stalled bool
	lastFinalSealed time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a Node from cfg and the local participant's private key. It
// opens on-disk storage under cfg.DataDir, seals the genesis block on a
// fresh chain, and wires every component, but does not start the network
// listener, RPC server or consensus loop — call Start for that.
func New(cfg *config.Config, privKey crypto.PrivateKey) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("node: config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("node: mkdir data dir: %w", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		return nil, fmt.Errorf("node: open db: %w", err)
	}

	blockStore := storage.NewLevelBlockStore(db)
	utxo := storage.NewUTXOStore(db)

	dagStore := dag.NewStore(blockStore)
	if err := dagStore.LoadIndex(); err != nil {
		db.Close()
		return nil, fmt.Errorf("node: load dag index: %w", err)
	}

	if len(dagStore.Tips()) == 0 {
		genesis, err := config.CreateGenesisBlock(cfg, privKey)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("node: genesis: %w", err)
		}
		for _, tx := range genesis.Transactions {
			if err := core.ApplyTransaction(utxo, tx); err != nil {
				db.Close()
				return nil, fmt.Errorf("node: apply genesis tx %s: %w", tx.ID, err)
			}
		}
		if err := utxo.Commit(); err != nil {
			db.Close()
			return nil, fmt.Errorf("node: commit genesis utxo: %w", err)
		}
		if err := dagStore.InsertGenesis(genesis); err != nil {
			db.Close()
			return nil, fmt.Errorf("node: insert genesis: %w", err)
		}
		log.Printf("[node] genesis block committed: %s", genesis.Hash)
	}

	rep := reputation.NewStore(regionDiversityTarget)
	participant, err := core.ParticipantID(privKey.Public().Hex())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("node: derive participant id: %w", err)
	}
	rep.Register(participant, time.Now(), reputation.Location{Country: cfg.Country})

	clock := temporal.NewClock(int64(cfg.FinalityIntervalSeconds), int64(cfg.ClockToleranceSeconds))

	emitter := events.NewEmitter()
	pool := mempool.NewPool(emitter)
	ledger := consensus.NewLedger()

	engine, err := consensus.New(cfg, dagStore, pool, utxo, rep, clock, ledger, emitter, privKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("node: consensus engine: %w", err)
	}

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("node: tls: %w", err)
	}
	if tlsCfg != nil {
		log.Println("[node] mTLS enabled for P2P")
	}

	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	p2p := network.NewNode(cfg.NodeID, p2pAddr, pool, utxo, tlsCfg,
		cfg.MinOutboundPeers, cfg.InboundRatioMax, cfg.PerPeerRecvBPS, cfg.PerPeerSendBPS,
		rep, emitter, participant)
	syncer := network.NewSyncer(p2p, dagStore, engine, ledger)

	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(dagStore, pool, utxo, ledger, rep, participant)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)

	n := &Node{
		cfg:           cfg,
		privKey:       privKey,
		participantID: participant,
		db:            db,
		utxo:      utxo,
		rep:       rep,
		clock:     clock,
		emitter:   emitter,
		pool:      pool,
		dag:       dagStore,
		ledger:    ledger,
		engine:    engine,
		p2p:       p2p,
		p2pAddr:   p2pAddr,
		syncer:    syncer,
		rpcServer: rpcServer,
		rpcAddr:   rpcAddr,
		done:      make(chan struct{}),
	}
	rpcHandler.SetOnlineFunc(func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return !n.stalled
	})

	n.wireEvents()
	return n, nil
}

// wireEvents subscribes the node's own propagation and health-tracking
// behaviour to the event bus, the generalization of the teacher's indexer
// subscription in cmd/node/main.go.
func (n *Node) wireEvents() {
	n.emitter.Subscribe(events.EventBlockAccepted, func(ev events.Event) {
		block, err := n.dag.GetBlock(ev.BlockHash)
		if err != nil {
			return
		}
		n.p2p.BroadcastBlock(block)
		n.mu.Lock()
		n.lastFinalSealed = time.Now()
		n.stalled = false
		n.mu.Unlock()
	})
	n.emitter.Subscribe(events.EventQuarantine, func(ev events.Event) {
		log.Printf("[node] participant quarantined: %v", ev.Data)
	})
}

// Start opens the P2P listener and RPC server, dials seed peers, and
// launches the consensus production loop and the stall monitor. It
// returns once every component has started; call Stop (or cancel via signal)
// for graceful shutdown.
func (n *Node) Start() error {
	if err := n.p2p.Start(); err != nil {
		return fmt.Errorf("node: p2p start: %w", err)
	}
	log.Printf("[node] P2P listening on %s", n.p2pAddr)

	var g errgroup.Group
	for _, sp := range n.cfg.SeedPeers {
		sp := sp
		g.Go(func() error {
			if err := n.p2p.AddPeer(sp.ID, sp.Addr); err != nil {
				log.Printf("[node] seed peer %s (%s): %v", sp.ID, sp.Addr, err)
				return nil
			}
			log.Printf("[node] connected to seed peer %s (%s)", sp.ID, sp.Addr)

			peer := n.p2p.Peer(sp.ID)
			if peer == nil {
				return nil
			}
			if cp, err := n.syncer.FetchCheckpointAnchor(peer, 10*time.Second); err != nil {
				log.Printf("[node] checkpoint anchor from %s: %v", sp.ID, err)
			} else {
				log.Printf("[node] anchored to checkpoint window %d from %s", cp.Window, sp.ID)
			}
			if err := n.syncer.BackfillFromPeer(peer, 10*time.Second); err != nil {
				log.Printf("[node] tip backfill from %s: %v", sp.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := n.rpcServer.Start(); err != nil {
		n.p2p.Stop()
		return fmt.Errorf("node: rpc start: %w", err)
	}
	log.Printf("[node] RPC listening on %s", n.rpcAddr)
	if n.cfg.RPCAuthToken != "" {
		log.Println("[node] RPC bearer token authentication enabled")
	}

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.engine.Run(consensusSlotInterval, n.done)
	}()
	go func() {
		defer n.wg.Done()
		n.monitorStall()
	}()

	log.Printf("[node] consensus running (participant: %s)", n.privKey.Public().Hex())
	return nil
}

// monitorStall flags the node as stalled, per spec §7, once more than two
// finality intervals have passed since a block was last accepted and no
// peers are available to sync from. It checks once per finality interval.
func (n *Node) monitorStall() {
	ticker := time.NewTicker(time.Duration(n.cfg.FinalityIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			n.mu.Lock()
			idle := time.Since(n.lastFinalSealed)
			n.mu.Unlock()
			if idle > 2*time.Duration(n.cfg.FinalityIntervalSeconds)*time.Second && n.p2p.PeerCount() == 0 {
				n.mu.Lock()
				n.stalled = true
				n.mu.Unlock()
				log.Printf("[node] stalled: no peers, last block %s ago", idle)
			}
		}
	}
}

// Status reports whether the node is stalled — no peers and no blocks
// accepted for over two finality intervals — and the UTC time of the last
// accepted block, per spec §7.
type Status struct {
	Stalled          bool
	LastFinalUTC     time.Time
	PeerCount        int
	MempoolSize      int
	CurrentWindow    uint64
	ParticipantState consensus.ParticipantState
}

// Status reports the node's current health snapshot.
func (n *Node) Status() Status {
	n.mu.Lock()
	stalled := n.stalled
	lastFinal := n.lastFinalSealed
	n.mu.Unlock()

	var state consensus.ParticipantState
	if rec, ok := n.rep.Get(n.participantID); ok {
		state = consensus.Transition(rec.FirstSeen, time.Now(), rec.QuarantineUntil, !stalled)
	}

	return Status{
		Stalled:          stalled,
		LastFinalUTC:     lastFinal,
		PeerCount:        n.p2p.PeerCount(),
		MempoolSize:      n.pool.Size(),
		CurrentWindow:    n.clock.CurrentWindow(),
		ParticipantState: state,
	}
}

// Stop shuts the node down in the reverse order of Start: consensus loop
// first (so no new blocks are written), then RPC, then P2P, then storage.
func (n *Node) Stop() error {
	close(n.done)
	n.wg.Wait()

	var errs []error
	if err := n.rpcServer.Stop(); err != nil {
		errs = append(errs, err)
	}
	n.p2p.Stop()
	if err := n.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
