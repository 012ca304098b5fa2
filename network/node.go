package network

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/events"
	"github.com/timechain/timechaind/mempool"
	"github.com/timechain/timechaind/reputation"
)

// MessageHandler is called for each received message.
type MessageHandler func(peer *Peer, msg Message)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// MaxPerIP and MaxPerSubnet enforce spec §4.8's eclipse-resistance caps: at
// most one connection per IP, three per /24-equivalent subnet.
const (
	MaxPerIP     = 1
	MaxPerSubnet = 3
)

// protectedSlotFraction reserves a share of the peer table for long-standing,
// geographically diverse peers (spec §4.8's protected-slot carve-out) so an
// eclipse attacker flooding new connections cannot churn them all out.
const protectedSlotFraction = 0.25

// protectedPeerMinAge is the minimum connection age and reputation
// first-seen age a peer needs before it becomes eviction-exempt.
const protectedPeerMinAge = time.Hour

// Node listens for incoming peers and manages outgoing connections.
type Node struct {
	nodeID           string
	listenAddr       string
	localParticipant string // this node's own participant id, advertised in Hello
	pool             *mempool.Pool
	utxo             core.UnspentOutputSet
	rep              *reputation.Store // nil-safe: disables protected-slot exemption
	emitter          *events.Emitter   // nil-safe: disables peer connect/disconnect events
	tlsConfig        *tls.Config       // nil → plain TCP
	maxPeers         int
	minOutbound      int
	inboundRatioMax  float64
	recvBPS, sendBPS int64

	mu               sync.RWMutex
	peers            map[string]*Peer
	ipCounts         map[string]int
	subnetCounts     map[string]int
	inboundCount     int
	handlers         map[MsgType]MessageHandler
	connectedSince   map[string]time.Time // peer id -> when it was registered
	peerParticipants map[string]string    // peer id -> participant id, from Hello
	protectedPeers   map[string]bool      // peer id -> eviction-exempt, refreshed lazily

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node that will listen on listenAddr. tlsCfg nil means
// plain TCP; utxo is the live unspent-output view used to admit gossiped
// transactions into pool. rep and emitter may be nil, in which case
// protected-slot exemption and peer connect/disconnect events are disabled;
// localParticipant is this node's own participant id, advertised to peers
// via Hello so they can look up our reputation record for the same purpose.
func NewNode(nodeID, listenAddr string, pool *mempool.Pool, utxo core.UnspentOutputSet, tlsCfg *tls.Config, minOutbound int, inboundRatioMax float64, recvBPS, sendBPS int64, rep *reputation.Store, emitter *events.Emitter, localParticipant string) *Node {
	n := &Node{
		nodeID:           nodeID,
		listenAddr:       listenAddr,
		localParticipant: localParticipant,
		pool:             pool,
		utxo:             utxo,
		rep:              rep,
		emitter:          emitter,
		tlsConfig:        tlsCfg,
		maxPeers:         DefaultMaxPeers,
		minOutbound:      minOutbound,
		inboundRatioMax:  inboundRatioMax,
		recvBPS:          recvBPS,
		sendBPS:          sendBPS,
		peers:            make(map[string]*Peer),
		ipCounts:         make(map[string]int),
		subnetCounts:     make(map[string]int),
		handlers:         make(map[MsgType]MessageHandler),
		connectedSince:   make(map[string]time.Time),
		peerParticipants: make(map[string]string),
		protectedPeers:   make(map[string]bool),
		stopCh:           make(chan struct{}),
	}
	n.Handle(MsgTransaction, n.handleTransaction)
	n.Handle(MsgDisconnect, n.handleDisconnect)
	n.Handle(MsgHello, n.handleHello)
	return n
}

// Handle registers a handler for msg type.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// subnetKey collapses an IPv4 host to its /24 prefix; IPv6 and unparseable
// hosts are capped by full address instead of being left uncapped.
func subnetKey(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) == 4 {
		return strings.Join(parts[:3], ".")
	}
	return host
}

// refreshProtectedLocked recomputes which currently connected peers qualify
// for eclipse-resistance protection: per spec §4.8, a peer must have been
// connected, and its reputation record must have existed, for at least
// protectedPeerMinAge, and no two protected peers may share a region —
// geographic diversity is the point, not raw tenure. Longer-connected
// candidates are preferred when more qualify than there are protected slots.
// Caller must hold n.mu.
func (n *Node) refreshProtectedLocked() {
	if n.rep == nil {
		return
	}
	slots := int(float64(n.maxPeers) * protectedSlotFraction)
	if slots < 1 {
		slots = 1
	}

	type candidate struct {
		id     string
		since  time.Time
		region string
	}
	now := time.Now()
	var candidates []candidate
	for id := range n.peers {
		since, ok := n.connectedSince[id]
		if !ok || now.Sub(since) < protectedPeerMinAge {
			continue
		}
		participant, ok := n.peerParticipants[id]
		if !ok {
			continue
		}
		rec, found := n.rep.Get(participant)
		if !found || now.Sub(rec.FirstSeen) < protectedPeerMinAge || rec.Location.Country == "" {
			continue
		}
		candidates = append(candidates, candidate{id: id, since: since, region: rec.Location.Country})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].since.Before(candidates[j].since) })

	protected := make(map[string]bool, slots)
	regions := make(map[string]bool, slots)
	for _, c := range candidates {
		if len(protected) >= slots {
			break
		}
		if regions[c.region] {
			continue
		}
		protected[c.id] = true
		regions[c.region] = true
	}
	n.protectedPeers = protected
}

// pickEvictionVictimLocked returns the most-recently-connected unprotected
// peer, if any, so acceptLoop can make room for a new connection instead of
// outright rejecting it once the table is full. Caller must hold n.mu.
func (n *Node) pickEvictionVictimLocked() (*Peer, bool) {
	n.refreshProtectedLocked()
	var victim *Peer
	var newest time.Time
	for id, p := range n.peers {
		if n.protectedPeers[id] {
			continue
		}
		since := n.connectedSince[id]
		if victim == nil || since.After(newest) {
			victim, newest = p, since
		}
	}
	return victim, victim != nil
}

// admitLocked enforces the per-IP/per-subnet/inbound-ratio caps of spec
// §4.8 before a new peer is added to the table. Caller must hold n.mu.
func (n *Node) admitLocked(host string, inbound bool) error {
	if n.ipCounts[host] >= MaxPerIP {
		return fmt.Errorf("network: per-IP connection cap (%d) reached for %s", MaxPerIP, host)
	}
	subnet := subnetKey(host)
	if n.subnetCounts[subnet] >= MaxPerSubnet {
		return fmt.Errorf("network: per-subnet connection cap (%d) reached for %s", MaxPerSubnet, subnet)
	}
	if inbound && len(n.peers) > 0 {
		total := len(n.peers) + 1
		if float64(n.inboundCount+1)/float64(total) > n.inboundRatioMax {
			return fmt.Errorf("network: inbound ratio cap (%.0f%%) reached", n.inboundRatioMax*100)
		}
	}
	return nil
}

// AddPeer dials addr and registers the peer as outbound.
func (n *Node) AddPeer(id, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	n.mu.Lock()
	if err := n.admitLocked(host, false); err != nil {
		n.mu.Unlock()
		return err
	}
	n.mu.Unlock()

	flow := NewFlowControl(n.recvBPS, n.sendBPS)
	peer, err := Connect(id, addr, n.tlsConfig, flow)
	if err != nil {
		return err
	}
	n.registerPeer(peer, host, false)
	go n.readLoop(peer)

	hello, err := json.Marshal(HelloPayload{NodeID: n.nodeID, ListenAddr: n.listenAddr, ParticipantID: n.localParticipant, Country: n.localCountry()})
	if err != nil {
		log.Printf("[network] marshal hello: %v", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := peer.Send(ctx, Message{Type: MsgHello, Payload: hello}); err != nil {
		log.Printf("[network] send hello to %s: %v", id, err)
	}
	return nil
}

func (n *Node) registerPeer(peer *Peer, host string, inbound bool) {
	peer.Inbound = inbound
	n.mu.Lock()
	n.peers[peer.ID] = peer
	n.ipCounts[host]++
	n.subnetCounts[subnetKey(host)]++
	n.connectedSince[peer.ID] = time.Now()
	if inbound {
		n.inboundCount++
	}
	n.mu.Unlock()
	if n.emitter != nil {
		n.emitter.Emit(events.Event{
			Type: events.EventPeerConnected,
			Data: map[string]any{"peer_id": peer.ID, "inbound": inbound},
		})
	}
}

// localCountry looks up this node's own reputation record to report the
// Country it was registered with, so Hello need not carry an extra
// constructor parameter of its own.
func (n *Node) localCountry() string {
	if n.rep == nil {
		return ""
	}
	if rec, ok := n.rep.Get(n.localParticipant); ok {
		return rec.Location.Country
	}
	return ""
}

// handleHello records the remote peer's participant id so protected-slot
// eligibility can later be checked against its reputation record, registers
// a reputation record for it on first contact if none exists yet (so a
// remote participant accrues reputation instead of ApplyEvent silently
// no-oping for it), and replies with our own Hello so an inbound peer
// learns ours in turn.
func (n *Node) handleHello(peer *Peer, msg Message) {
	var hello HelloPayload
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		log.Printf("[network] unmarshal hello from %s: %v", peer.ID, err)
		return
	}
	if hello.ParticipantID != "" {
		n.mu.Lock()
		n.peerParticipants[peer.ID] = hello.ParticipantID
		n.mu.Unlock()
		if n.rep != nil {
			if _, found := n.rep.Get(hello.ParticipantID); !found {
				n.rep.Register(hello.ParticipantID, time.Now(), reputation.Location{Country: hello.Country})
			}
		}
	}

	if !peer.Inbound {
		return
	}
	resp, err := json.Marshal(HelloPayload{NodeID: n.nodeID, ListenAddr: n.listenAddr, ParticipantID: n.localParticipant, Country: n.localCountry()})
	if err != nil {
		log.Printf("[network] marshal hello reply: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := peer.Send(ctx, Message{Type: MsgHello, Payload: resp}); err != nil {
		log.Printf("[network] send hello reply to %s: %v", peer.ID, err)
	}
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// PeerCount reports the number of currently connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// OutboundDeficit reports how many more outbound connections are needed to
// meet the configured minimum, used by the orchestrator's dial loop.
func (n *Node) OutboundDeficit() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	outbound := 0
	for _, p := range n.peers {
		if !p.Inbound {
			outbound++
		}
	}
	if d := n.minOutbound - outbound; d > 0 {
		return d
	}
	return 0
}

// Broadcast sends msg to all connected peers. A 10-second deadline per spec
// §4.8 bounds one slow peer from stalling the whole fan-out.
func (n *Node) Broadcast(msg Message) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := p.Send(ctx, msg)
		cancel()
		if err != nil {
			log.Printf("[network] broadcast to %s: %v", p.ID, err)
		}
	}
}

// BroadcastTx serializes tx and sends it to all peers.
func (n *Node) BroadcastTx(tx *core.Transaction) {
	data, err := json.Marshal(tx)
	if err != nil {
		log.Printf("[network] marshal tx: %v", err)
		return
	}
	n.Broadcast(Message{Type: MsgTransaction, Payload: data})
}

// BroadcastBlock serializes block and sends it to all peers.
func (n *Node) BroadcastBlock(block *core.Block) {
	data, err := json.Marshal(block)
	if err != nil {
		log.Printf("[network] marshal block: %v", err)
		return
	}
	n.Broadcast(Message{Type: MsgBlock, Payload: data})
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Printf("[network] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.Lock()
		var evicted *Peer
		if len(n.peers) >= n.maxPeers {
			victim, ok := n.pickEvictionVictimLocked()
			if !ok {
				n.mu.Unlock()
				log.Printf("[network] max peers (%d) reached, no evictable peer, rejecting %s", n.maxPeers, conn.RemoteAddr())
				conn.Close()
				continue
			}
			delete(n.peers, victim.ID)
			delete(n.connectedSince, victim.ID)
			delete(n.peerParticipants, victim.ID)
			delete(n.protectedPeers, victim.ID)
			evicted = victim
		}
		n.mu.Unlock()
		if evicted != nil {
			log.Printf("[network] evicting unprotected peer %s to admit %s", evicted.ID, conn.RemoteAddr())
			evicted.Close()
		}

		remote := conn.RemoteAddr().String()
		host, _, err := net.SplitHostPort(remote)
		if err != nil {
			host = remote
		}
		n.mu.Lock()
		admitErr := n.admitLocked(host, true)
		n.mu.Unlock()
		if admitErr != nil {
			log.Printf("[network] rejecting %s: %v", remote, admitErr)
			conn.Close()
			continue
		}

		flow := NewFlowControl(n.recvBPS, n.sendBPS)
		peer := NewPeer(remote, remote, conn, flow)
		n.registerPeer(peer, host, true)
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[network] readLoop panic from %s: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		_, wasConnected := n.peers[peer.ID]
		delete(n.peers, peer.ID)
		delete(n.connectedSince, peer.ID)
		delete(n.peerParticipants, peer.ID)
		delete(n.protectedPeers, peer.ID)
		host, _, err := net.SplitHostPort(peer.Addr)
		if err != nil {
			host = peer.Addr
		}
		n.ipCounts[host]--
		n.subnetCounts[subnetKey(host)]--
		if peer.Inbound {
			n.inboundCount--
		}
		n.mu.Unlock()
		if wasConnected && n.emitter != nil {
			n.emitter.Emit(events.Event{Type: events.EventPeerDisconnected, Data: map[string]any{"peer_id": peer.ID}})
		}
	}()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		msg, err := peer.Receive(ctx)
		cancel()
		if err != nil {
			return
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}

func (n *Node) handleTransaction(_ *Peer, msg Message) {
	var tx core.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		log.Printf("[network] unmarshal transaction: %v", err)
		return
	}
	if err := n.pool.Add(&tx, n.utxo); err != nil {
		log.Printf("[network] pool add: %v", err)
	}
}

func (n *Node) handleDisconnect(peer *Peer, msg Message) {
	var payload DisconnectPayload
	if err := json.Unmarshal(msg.Payload, &payload); err == nil {
		log.Printf("[network] peer %s disconnecting: %s", peer.ID, payload.Reason)
	}
	peer.Close()
}
