package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/timechain/timechaind/crypto"
	"github.com/timechain/timechaind/temporal"
)

// MaxParents is the maximum number of parent references a block may carry.
const MaxParents = 8

// BlockHeader contains the block metadata that is hashed and signed.
type BlockHeader struct {
	Version        uint32   `json:"version"`
	Parents        []string `json:"parents"` // 1-8 parent block hashes
	Producer       string   `json:"producer"` // producer's hex-encoded public key
	VDFWindow      uint64   `json:"vdf_window"` // finality window the delay-function proof is anchored to
	VRFOutput      []byte   `json:"vrf_output"`
	VRFProof       string   `json:"vrf_proof"`
	TxRoot         string   `json:"tx_root"`
	VDFOutput      []byte   `json:"vdf_output"`
	VDFProof       *temporal.Proof `json:"vdf_proof"`
	TimestampSecs  int64    `json:"timestamp_secs"`
	TimestampNanos uint32   `json:"timestamp_nanos"`
}

// Block is a DAG node: a set of transactions under a signed, multi-parent
// header.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// encodeHeader produces the canonical big-endian, length-prefixed byte form
// of the header (sans signature), matching the wire layout of spec §6.
func encodeHeader(h BlockHeader) []byte {
	buf := make([]byte, 0, 512)
	var u32 [4]byte
	var u64 [8]byte

	binary.BigEndian.PutUint32(u32[:], h.Version)
	buf = append(buf, u32[:]...)

	buf = append(buf, byte(len(h.Parents)))
	for _, p := range h.Parents {
		buf = appendLenPrefixed(buf, []byte(p))
	}

	buf = appendLenPrefixed(buf, []byte(h.Producer))
	buf = appendLenPrefixed(buf, h.VRFOutput)
	buf = appendLenPrefixed(buf, []byte(h.VRFProof))
	buf = appendLenPrefixed(buf, []byte(h.TxRoot))
	buf = appendLenPrefixed(buf, h.VDFOutput)

	vdfProofBytes, _ := json.Marshal(h.VDFProof)
	buf = appendLenPrefixed(buf, vdfProofBytes)

	binary.BigEndian.PutUint64(u64[:], uint64(h.TimestampSecs))
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint32(u32[:], h.TimestampNanos)
	buf = append(buf, u32[:]...)
	binary.BigEndian.PutUint64(u64[:], uint64(h.VDFWindow))
	buf = append(buf, u64[:]...)

	return buf
}

// ComputeHash returns the SHA3-256 hash of the canonical header encoding.
func (b *Block) ComputeHash() string {
	return crypto.Hash(encodeHeader(b.Header))
}

// Sign sets Hash and signs the block with the producer's private key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// VerifyIntegrity checks hash consistency, TxRoot correctness, and parent
// count, independent of the producer signature.
func (b *Block) VerifyIntegrity() error {
	if computed := b.ComputeHash(); b.Hash != computed {
		return fmt.Errorf("%w: block hash mismatch: stored %s computed %s", ErrBadEncoding, b.Hash, computed)
	}
	if n := len(b.Header.Parents); n < 1 || n > MaxParents {
		return fmt.Errorf("%w: block must have 1-%d parents, got %d", ErrBadEncoding, MaxParents, n)
	}
	if txRoot := ComputeTxRoot(b.Transactions); b.Header.TxRoot != txRoot {
		return fmt.Errorf("%w: tx_root mismatch", ErrBadEncoding)
	}
	return nil
}

// VerifySignature checks that the producer's signature over b.Hash is valid
// under pub. Callers must call VerifyIntegrity first so Hash is trustworthy.
func (b *Block) VerifySignature(pub crypto.PublicKey) error {
	if err := crypto.Verify(pub, []byte(b.Hash), b.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// Timestamp returns the block's wall-clock timestamp as a time.Time.
func (b *Block) Timestamp() time.Time {
	return time.Unix(b.Header.TimestampSecs, int64(b.Header.TimestampNanos)).UTC()
}

// MarshalBinary returns the canonical wire encoding of the full block:
// header, followed by tx_count and each transaction's signing body, followed
// by the signature — matching the layout in spec §6.
func (b *Block) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(encodeHeader(b.Header))
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(b.Transactions)))
	buf.Write(u32[:])
	for _, tx := range b.Transactions {
		data := encodeBody(tx.body())
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
		buf.Write(lenBuf[:])
		buf.Write(data)
	}
	sigBytes := []byte(b.Signature)
	var sigLen [4]byte
	binary.BigEndian.PutUint32(sigLen[:], uint32(len(sigBytes)))
	buf.Write(sigLen[:])
	buf.Write(sigBytes)
	return buf.Bytes(), nil
}

// ComputeTxRoot builds a deterministic Merkle-style root hash from all
// transaction IDs. Each ID is length-prefixed to prevent boundary ambiguity
// where different ID sets could otherwise produce the same byte sequence.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var buf bytes.Buffer
	for _, tx := range txs {
		buf.Write(appendLenPrefixed(nil, []byte(tx.ID)))
	}
	return crypto.Hash(buf.Bytes())
}

// NewBlock creates an unsigned block with the given parameters. The caller
// is responsible for populating VRF and VDF proof fields before signing.
func NewBlock(parents []string, producer string, txs []*Transaction) *Block {
	now := time.Now().UTC()
	return &Block{
		Header: BlockHeader{
			Version:        1,
			Parents:        parents,
			Producer:       producer,
			TxRoot:         ComputeTxRoot(txs),
			TimestampSecs:  now.Unix(),
			TimestampNanos: uint32(now.Nanosecond()),
		},
		Transactions: txs,
	}
}
