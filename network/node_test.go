package network

import (
	"testing"
	"time"

	"github.com/timechain/timechaind/events"
	"github.com/timechain/timechaind/internal/testutil"
	"github.com/timechain/timechaind/mempool"
	"github.com/timechain/timechaind/reputation"
)

func newTestNode(t *testing.T, listenAddr string) *Node {
	t.Helper()
	emitter := events.NewEmitter()
	pool := mempool.NewPool(emitter)
	utxo := testutil.NewUTXOStore()
	rep := reputation.NewStore(4)
	return NewNode("node-"+listenAddr, listenAddr, pool, utxo, nil, 2, 0.5, 5<<20, 1<<20, rep, emitter, "node-"+listenAddr)
}

func TestSubnetKeyCollapsesIPv4ToSlash24(t *testing.T) {
	cases := map[string]string{
		"10.0.0.1":   "10.0.0",
		"10.0.0.200": "10.0.0",
		"192.168.1.5": "192.168.1",
		"::1":        "::1",
		"not-an-ip":  "not-an-ip",
	}
	for host, want := range cases {
		if got := subnetKey(host); got != want {
			t.Errorf("subnetKey(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestAdmitLockedEnforcesPerIPCap(t *testing.T) {
	n := newTestNode(t, "127.0.0.1:0")
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.admitLocked("10.0.0.1", false); err != nil {
		t.Fatalf("first connection from host should be admitted: %v", err)
	}
	n.ipCounts["10.0.0.1"]++
	if err := n.admitLocked("10.0.0.1", false); err == nil {
		t.Fatal("expected second connection from the same IP to be rejected")
	}
}

func TestAdmitLockedEnforcesPerSubnetCap(t *testing.T) {
	n := newTestNode(t, "127.0.0.1:0")
	n.mu.Lock()
	defer n.mu.Unlock()
	hosts := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	for _, h := range hosts {
		if err := n.admitLocked(h, false); err != nil {
			t.Fatalf("admitLocked(%s): %v", h, err)
		}
		n.ipCounts[h]++
		n.subnetCounts[subnetKey(h)]++
	}
	if err := n.admitLocked("10.0.0.4", false); err == nil {
		t.Fatal("expected a fourth distinct host in the same subnet to be rejected")
	}
}

func TestAdmitLockedEnforcesInboundRatioCap(t *testing.T) {
	n := newTestNode(t, "127.0.0.1:0")
	n.mu.Lock()
	// Seed one outbound peer so the ratio check has a non-zero denominator.
	n.peers["outbound-1"] = &Peer{ID: "outbound-1"}
	if err := n.admitLocked("10.0.1.1", true); err != nil {
		t.Fatalf("first inbound connection should be admitted: %v", err)
	}
	n.peers["inbound-1"] = &Peer{ID: "inbound-1", Inbound: true}
	n.inboundCount++
	n.mu.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.admitLocked("10.0.1.2", true); err == nil {
		t.Fatal("expected inbound ratio cap to reject a second inbound connection")
	}
}

func TestOutboundDeficitReflectsMinOutbound(t *testing.T) {
	n := newTestNode(t, "127.0.0.1:0")
	if got := n.OutboundDeficit(); got != 2 {
		t.Fatalf("fresh node OutboundDeficit() = %d, want 2", got)
	}
	n.mu.Lock()
	n.peers["out-1"] = &Peer{ID: "out-1"}
	n.mu.Unlock()
	if got := n.OutboundDeficit(); got != 1 {
		t.Fatalf("after one outbound peer OutboundDeficit() = %d, want 1", got)
	}
}

func TestNodeStartAcceptsConnections(t *testing.T) {
	server := newTestNode(t, "127.0.0.1:0")
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer server.Stop()

	addr := server.listener.Addr().String()
	client := newTestNode(t, "127.0.0.1:0")
	if err := client.AddPeer("server", addr); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	defer client.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.PeerCount() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never registered the inbound peer, count=%d", server.PeerCount())
}
