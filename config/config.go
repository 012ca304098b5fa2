package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // remote node ID
	Addr string `json:"addr"` // host:port
}

// GenesisConfig describes the network's bootstrap parameters. Per spec §6's
// issuance schedule there is no pre-allocation; Alloc exists only for test
// networks that want to seed a few spendable outputs at genesis.
type GenesisConfig struct {
	NetworkID string            `json:"network_id"`
	Alloc     map[string]uint64 `json:"alloc,omitempty"` // pubkey hex → initial output amount, test nets only
}

// Config holds all node configuration, extended from the teacher's
// proof-of-authority shape with the temporal-consensus options of spec §6.
type Config struct {
	NodeID  string `json:"node_id"`
	DataDir string `json:"data_dir"`
	RPCPort int    `json:"rpc_port"`
	P2PPort int    `json:"p2p_port"`

	// Country is this node's self-declared ISO 3166-1 alpha-2 location,
	// propagated to peers via Hello and used by the reputation engine's
	// geography dimension and by protected-slot eclipse resistance (spec
	// §4.4, §4.8). Optional; an empty value just forfeits both.
	Country string `json:"country,omitempty"`

	// Temporal proof engine (spec §4.2, §6).
	FinalityIntervalSeconds int    `json:"finality_interval_seconds"` // default 60
	ClockToleranceSeconds   int    `json:"clock_tolerance_seconds"`   // default 5
	VDFIterations           uint64 `json:"vdf_iterations"`            // default 2^24

	// DAG store (spec §4.6).
	MaxParents int `json:"max_parents"` // default 8
	PhantomK   int `json:"phantom_k"`   // default 8

	// Mempool / block size policy (spec §4.5, §6).
	MempoolBytesMax int `json:"mempool_bytes_max"`
	BlockBytesMax   int `json:"block_bytes_max"`
	MaxBlockTxs     int `json:"max_block_txs"` // 0 → 500

	// Peer link flow control (spec §4.8).
	PerPeerRecvBPS  int64   `json:"per_peer_recv_bps"` // default 5*1024*1024
	PerPeerSendBPS  int64   `json:"per_peer_send_bps"` // default 1*1024*1024
	MinOutboundPeers int    `json:"min_outbound_peers"` // default 8
	InboundRatioMax  float64 `json:"inbound_ratio_max"` // default 0.7

	Genesis      GenesisConfig `json:"genesis"`
	SeedPeers    []SeedPeer    `json:"seed_peers,omitempty"`      // initial peers to connect to
	TLS          *TLSConfig    `json:"tls,omitempty"`             // nil → plain TCP
	RPCAuthToken string        `json:"rpc_auth_token,omitempty"`  // empty → no auth
}

// DefaultConfig returns a single-node development configuration with every
// spec §6 option set to its documented default.
func DefaultConfig() *Config {
	return &Config{
		NodeID:  "node0",
		DataDir: "./data",
		RPCPort: 8545,
		P2PPort: 30303,

		FinalityIntervalSeconds: 60,
		ClockToleranceSeconds:   5,
		VDFIterations:           1 << 24,

		MaxParents: 8,
		PhantomK:   8,

		MempoolBytesMax: 64 * 1024 * 1024,
		BlockBytesMax:   4 * 1024 * 1024,
		MaxBlockTxs:     500,

		PerPeerRecvBPS:   5 * 1024 * 1024,
		PerPeerSendBPS:   1 * 1024 * 1024,
		MinOutboundPeers: 8,
		InboundRatioMax:  0.7,

		Genesis: GenesisConfig{
			NetworkID: "timechain-dev",
		},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.NetworkID == "" {
		return fmt.Errorf("genesis.network_id must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if c.FinalityIntervalSeconds <= 0 {
		return fmt.Errorf("finality_interval_seconds must be positive, got %d", c.FinalityIntervalSeconds)
	}
	if c.ClockToleranceSeconds < 0 {
		return fmt.Errorf("clock_tolerance_seconds must not be negative, got %d", c.ClockToleranceSeconds)
	}
	if c.VDFIterations == 0 {
		return fmt.Errorf("vdf_iterations must be positive")
	}
	if c.MaxParents <= 0 || c.MaxParents > 8 {
		return fmt.Errorf("max_parents must be 1-8, got %d", c.MaxParents)
	}
	if c.PhantomK <= 0 {
		return fmt.Errorf("phantom_k must be positive, got %d", c.PhantomK)
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
