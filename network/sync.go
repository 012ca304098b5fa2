package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/timechain/timechaind/consensus"
	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/dag"
	"github.com/timechain/timechaind/events"
)

// BlockAccepter validates and commits a gossiped or synced block; satisfied
// by *consensus.Engine. Kept as an interface here so network need not import
// consensus.
type BlockAccepter interface {
	ValidateBlock(block *core.Block, now time.Time) error
	AcceptBlock(block *core.Block, now time.Time) error
}

// Syncer relays gossiped blocks into the DAG and resolves missing parents by
// requesting them by hash, generalizing the teacher's height-indexed
// GetBlocks/Blocks exchange to the DAG's multi-parent, no-total-order shape.
type Syncer struct {
	node   *Node
	dag    *dag.Store
	engine BlockAccepter
	ledger *consensus.Ledger // nil-safe: checkpoint serving/backfill are skipped if unset

	mu      sync.Mutex
	waiting map[string][]*core.Block // missing parent hash -> blocks waiting on it

	// anchorCh/tipsCh deliver startup-sync responses (see FetchCheckpointAnchor
	// and BackfillFromPeer) back from handleResponse. Buffered so a response
	// arriving with no one waiting is simply dropped rather than blocking the
	// read loop.
	anchorCh chan *consensus.Checkpoint
	tipsCh   chan []string
}

// NewSyncer creates a Syncer and registers its message handlers on node.
// ledger may be nil, in which case checkpoint-anchored backfill is disabled
// and handleRequestByHash answers "checkpoint"/"tips" requests as not-found.
func NewSyncer(node *Node, dagStore *dag.Store, engine BlockAccepter, ledger *consensus.Ledger) *Syncer {
	s := &Syncer{
		node:     node,
		dag:      dagStore,
		engine:   engine,
		ledger:   ledger,
		waiting:  make(map[string][]*core.Block),
		anchorCh: make(chan *consensus.Checkpoint, 1),
		tipsCh:   make(chan []string, 1),
	}
	node.Handle(MsgBlock, s.handleBlock)
	node.Handle(MsgRequestByHash, s.handleRequestByHash)
	node.Handle(MsgResponse, s.handleResponse)
	return s
}

// RequestByHash asks peer for the block or checkpoint identified by hash.
func (s *Syncer) RequestByHash(peer *Peer, hash, kind string) error {
	req, err := json.Marshal(RequestByHashPayload{Hash: hash, Kind: kind})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return peer.Send(ctx, Message{Type: MsgRequestByHash, Payload: req})
}

func (s *Syncer) handleBlock(peer *Peer, msg Message) {
	var block core.Block
	if err := json.Unmarshal(msg.Payload, &block); err != nil {
		log.Printf("[sync] unmarshal block: %v", err)
		return
	}
	s.process(peer, &block)
}

// process validates and accepts block. A missing-parent failure queues the
// block and requests the absent parents from peer instead of discarding it,
// mirroring dag.Store's internal orphan-wait bookkeeping one layer up (full
// validate+accept, not just DAG insertion).
func (s *Syncer) process(peer *Peer, block *core.Block) {
	if s.dag.HasBlock(block.Hash) {
		return
	}
	now := time.Now()
	if err := s.engine.ValidateBlock(block, now); err != nil {
		if errors.Is(err, core.ErrUnknownParent) {
			s.queueWaiting(peer, block)
			return
		}
		log.Printf("[sync] block %s validation failed: %v", block.Hash, err)
		return
	}
	if err := s.engine.AcceptBlock(block, now); err != nil {
		log.Printf("[sync] block %s accept failed: %v", block.Hash, err)
		return
	}
	s.release(peer, block.Hash)
}

func (s *Syncer) queueWaiting(peer *Peer, block *core.Block) {
	s.mu.Lock()
	for _, p := range block.Header.Parents {
		if s.dag.HasBlock(p) {
			continue
		}
		already := false
		for _, b := range s.waiting[p] {
			if b.Hash == block.Hash {
				already = true
				break
			}
		}
		if !already {
			s.waiting[p] = append(s.waiting[p], block)
		}
	}
	missing := make([]string, 0, len(block.Header.Parents))
	for _, p := range block.Header.Parents {
		if !s.dag.HasBlock(p) {
			missing = append(missing, p)
		}
	}
	s.mu.Unlock()

	if len(missing) > 0 && s.node.emitter != nil {
		s.node.emitter.Emit(events.Event{
			Type:      events.EventBlockOrphaned,
			BlockHash: block.Hash,
			Data:      map[string]any{"missing_parents": missing},
		})
	}

	for _, p := range missing {
		if err := s.RequestByHash(peer, p, "block"); err != nil {
			log.Printf("[sync] request parent %s: %v", p, err)
		}
	}
}

func (s *Syncer) release(peer *Peer, newHash string) {
	s.mu.Lock()
	waiters := s.waiting[newHash]
	delete(s.waiting, newHash)
	s.mu.Unlock()
	for _, b := range waiters {
		s.process(peer, b)
	}
}

func (s *Syncer) handleRequestByHash(peer *Peer, msg Message) {
	var req RequestByHashPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	resp := ResponsePayload{Hash: req.Hash, Kind: req.Kind}
	switch req.Kind {
	case "block":
		if b, err := s.dag.GetBlock(req.Hash); err == nil {
			if data, err := json.Marshal(b); err == nil {
				resp.Found = true
				resp.Block = data
			}
		}
	case "checkpoint":
		if s.ledger != nil && req.Hash == LatestCheckpointHash {
			if cp := s.ledger.Latest(); cp != nil {
				if data, err := json.Marshal(cp); err == nil {
					resp.Found = true
					resp.Hash = cp.Hash
					resp.Checkpoint = data
				}
			}
		}
	case "tips":
		tips := s.dag.Tips()
		resp.Found = len(tips) > 0
		resp.Tips = tips
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := peer.Send(ctx, Message{Type: MsgResponse, Payload: data}); err != nil {
		log.Printf("[sync] send response to %s: %v", peer.ID, err)
	}
}

func (s *Syncer) handleResponse(peer *Peer, msg Message) {
	var resp ResponsePayload
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return
	}
	if !resp.Found {
		return
	}
	switch resp.Kind {
	case "block":
		var block core.Block
		if err := json.Unmarshal(resp.Block, &block); err != nil {
			log.Printf("[sync] unmarshal response block: %v", err)
			return
		}
		s.process(peer, &block)
	case "checkpoint":
		var cp consensus.Checkpoint
		if err := json.Unmarshal(resp.Checkpoint, &cp); err != nil {
			log.Printf("[sync] unmarshal response checkpoint: %v", err)
			return
		}
		select {
		case s.anchorCh <- &cp:
		default:
		}
	case "tips":
		select {
		case s.tipsCh <- resp.Tips:
		default:
		}
	}
}

// FetchCheckpointAnchor asks peer for its checkpoint-ledger tip and, if it
// extends our own ledger (empty-ledger trust-on-first-connect, or a direct
// successor of our current tip), appends it. This is the "fetch a checkpoint
// chain first" half of startup backfill: it establishes how far finality has
// progressed on the network before any blocks are requested.
func (s *Syncer) FetchCheckpointAnchor(peer *Peer, timeout time.Duration) (*consensus.Checkpoint, error) {
	if s.ledger == nil {
		return nil, errors.New("sync: no ledger configured for checkpoint backfill")
	}
	if err := s.RequestByHash(peer, LatestCheckpointHash, "checkpoint"); err != nil {
		return nil, fmt.Errorf("request checkpoint anchor: %w", err)
	}
	select {
	case cp := <-s.anchorCh:
		if cp == nil {
			return nil, errors.New("sync: peer has no sealed checkpoint yet")
		}
		local := s.ledger.Latest()
		switch {
		case local == nil:
			s.ledger.Append(cp)
		case cp.Window == local.Window+1 && cp.PrevCheckpointHash == local.Hash:
			s.ledger.Append(cp)
		case cp.Hash == local.Hash:
			// already at this anchor
		default:
			return nil, fmt.Errorf("sync: peer checkpoint (window %d) does not extend local ledger (window %d)", cp.Window, local.Window)
		}
		return cp, nil
	case <-time.After(timeout):
		return nil, errors.New("sync: timed out waiting for checkpoint anchor")
	}
}

// BackfillFromPeer requests peer's current tips and feeds them through the
// ordinary block-processing path; any tip whose parents we lack triggers the
// same orphan parent-chasing cascade process/queueWaiting already use for
// gossiped blocks, walking the DAG backward until it reaches blocks we
// already hold. This is the "fill the DAG backward" half of startup backfill
// — it requires no block list from the checkpoint, since Checkpoint.BlockRoot
// is a commitment, not an enumerable list.
func (s *Syncer) BackfillFromPeer(peer *Peer, timeout time.Duration) error {
	if err := s.RequestByHash(peer, "", "tips"); err != nil {
		return fmt.Errorf("request tips: %w", err)
	}
	select {
	case tips := <-s.tipsCh:
		for _, hash := range tips {
			if s.dag.HasBlock(hash) {
				continue
			}
			if err := s.RequestByHash(peer, hash, "block"); err != nil {
				log.Printf("[sync] request tip %s: %v", hash, err)
			}
		}
		return nil
	case <-time.After(timeout):
		return errors.New("sync: timed out waiting for peer tips")
	}
}
