// Package network implements the peer link: length-prefixed TCP transport
// between nodes (mutually authenticated over TLS when a TLS config is
// supplied, plain TCP otherwise), generalized from the teacher's
// JSON-over-TCP framing to the tagged wire message set of spec §6.
package network

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// MsgType labels a network message, per spec §6's wire message set.
type MsgType string

const (
	MsgHello         MsgType = "hello"
	MsgBlock         MsgType = "block"
	MsgTransaction   MsgType = "transaction"
	MsgHeartbeat     MsgType = "heartbeat"
	MsgCheckpoint    MsgType = "checkpoint"
	MsgRequestByHash MsgType = "request-by-hash"
	MsgResponse      MsgType = "response"
	MsgDisconnect    MsgType = "disconnect"
)

// Message is the envelope for all peer-link communication.
type Message struct {
	Type    MsgType         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MaxMessageBytes bounds a single frame so a peer cannot claim an unbounded
// length and force an oversized allocation before the body is even read.
const MaxMessageBytes = 32 * 1024 * 1024

// HelloPayload identifies a peer on connect. ParticipantID is the peer's
// participant id (core.ParticipantID: the hash of the public key it signs
// blocks/heartbeats with), distinct from NodeID (an
// operator-assigned label); it lets the receiving side correlate an inbound
// connection with a reputation.Record for protected-slot eviction exemption.
type HelloPayload struct {
	NodeID        string `json:"node_id"`
	ListenAddr    string `json:"listen_addr"`
	ParticipantID string `json:"participant_id,omitempty"`
	Country       string `json:"country,omitempty"`
}

// RequestByHashPayload asks a peer for a block or checkpoint by hash,
// replacing the teacher's height-indexed GetBlocksRequest now that the DAG
// has no total order to index by. Hash is ignored for Kind "tips"; the
// sentinel "latest" for Kind "checkpoint" asks for the ledger tip instead of
// one specific checkpoint hash.
type RequestByHashPayload struct {
	Hash string `json:"hash"`
	Kind string `json:"kind"` // "block", "checkpoint", or "tips"
}

// LatestCheckpointHash is the RequestByHashPayload.Hash sentinel requesting
// the responder's current checkpoint-ledger tip rather than one named by
// hash.
const LatestCheckpointHash = "latest"

// ResponsePayload answers a RequestByHash. Exactly one of Block/Checkpoint/
// Tips is populated when Found is true.
type ResponsePayload struct {
	Found      bool            `json:"found"`
	Hash       string          `json:"hash"`
	Kind       string          `json:"kind"`
	Block      json.RawMessage `json:"block,omitempty"`
	Checkpoint json.RawMessage `json:"checkpoint,omitempty"`
	Tips       []string        `json:"tips,omitempty"`
}

// DisconnectPayload carries a human-readable reason for an orderly close.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// Peer represents a connected remote node.
type Peer struct {
	ID      string
	Addr    string
	Inbound bool

	conn   net.Conn
	flow   *FlowControl
	mu     sync.Mutex
	closed bool
}

// NewPeer wraps an established TCP connection as a Peer, throttled by flow
// (nil disables throttling, e.g. in tests).
func NewPeer(id, addr string, conn net.Conn, flow *FlowControl) *Peer {
	return &Peer{ID: id, Addr: addr, conn: conn, flow: flow}
}

// Connect dials the remote address and returns a connected Peer.
// If tlsCfg is non-nil the connection is established over mutual TLS.
func Connect(id, addr string, tlsCfg *tls.Config, flow *FlowControl) (*Peer, error) {
	var conn net.Conn
	var err error
	if tlsCfg != nil {
		conn, err = tls.Dial("tcp", addr, tlsCfg)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return NewPeer(id, addr, conn, flow), nil
}

// Send writes a length-prefixed JSON message to the peer, blocking on the
// per-peer send token bucket if one is configured.
func (p *Peer) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.flow != nil {
		if err := p.flow.WaitSend(ctx, len(data)); err != nil {
			return fmt.Errorf("send throttled: %w", err)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("peer %s closed", p.ID)
	}
	// 4-byte big-endian length prefix
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := p.conn.Write(header[:]); err != nil {
		return err
	}
	_, err = p.conn.Write(data)
	return err
}

// Receive reads the next length-prefixed JSON message, blocking on the
// per-peer receive token bucket if one is configured. A 30-second read
// deadline prevents a stalled peer from blocking indefinitely.
func (p *Peer) Receive(ctx context.Context) (Message, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var header [4]byte
	if _, err := io.ReadFull(p.conn, header[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxMessageBytes {
		return Message{}, fmt.Errorf("message too large: %d bytes", length)
	}
	if p.flow != nil {
		if err := p.flow.WaitRecv(ctx, int(length)); err != nil {
			return Message{}, fmt.Errorf("receive throttled: %w", err)
		}
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(p.conn, buf); err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(buf, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Close terminates the peer connection.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.conn.Close()
	}
}
