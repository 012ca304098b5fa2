package rpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/timechain/timechaind/consensus"
	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/crypto"
	"github.com/timechain/timechaind/dag"
	"github.com/timechain/timechaind/events"
	"github.com/timechain/timechaind/internal/testutil"
	"github.com/timechain/timechaind/mempool"
	"github.com/timechain/timechaind/reputation"
)

func newTestHandler(t *testing.T) (*Handler, *dag.Store, core.UnspentOutputSet, *mempool.Pool) {
	t.Helper()
	dagStore := dag.NewStore(testutil.NewMemBlockStore())
	utxo := testutil.NewUTXOStore()
	emitter := events.NewEmitter()
	pool := mempool.NewPool(emitter)
	ledger := consensus.NewLedger()

	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	genesis := core.NewBlock(nil, priv.Public().Hex(), nil)
	genesis.Header.Parents = []string{"genesis-seed"}
	genesis.Sign(priv)
	if err := dagStore.InsertGenesis(genesis); err != nil {
		t.Fatalf("InsertGenesis: %v", err)
	}

	rep := reputation.NewStore(4)
	participant, err := core.ParticipantID(priv.Public().Hex())
	if err != nil {
		t.Fatalf("ParticipantID: %v", err)
	}
	rep.Register(participant, time.Now(), reputation.Location{})

	h := NewHandler(dagStore, pool, utxo, ledger, rep, participant)
	return h, dagStore, utxo, pool
}

func rpcParams(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func TestDispatchGetBlockFound(t *testing.T) {
	h, dagStore, _, _ := newTestHandler(t)
	hash := dagStore.Tips()[0]

	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "getBlock", Params: rpcParams(map[string]string{"hash": hash})})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
}

func TestDispatchGetBlockMissingHashParam(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "getBlock", Params: rpcParams(map[string]string{})})
	if resp.Error == nil {
		t.Fatal("expected an error when hash is missing")
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Fatalf("got error code %d, want %d", resp.Error.Code, CodeInvalidParams)
	}
}

func TestDispatchGetTips(t *testing.T) {
	h, dagStore, _, _ := newTestHandler(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "getTips"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	tips, ok := resp.Result.([]string)
	if !ok {
		t.Fatalf("expected []string result, got %T", resp.Result)
	}
	if len(tips) != len(dagStore.Tips()) {
		t.Fatalf("got %d tips, want %d", len(tips), len(dagStore.Tips()))
	}
}

func TestDispatchGetParticipantStateReportsProbationary(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "getParticipantState"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any result, got %T", resp.Result)
	}
	if result["state"] != "probationary" {
		t.Fatalf("got state %v, want probationary for a freshly registered participant", result["state"])
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "bogusMethod"})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound, got %v", resp.Error)
	}
}

func TestDispatchGetMempoolSizeReflectsPool(t *testing.T) {
	h, _, utxo, pool := newTestHandler(t)
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	participant, err := core.ParticipantID(priv.Public().Hex())
	if err != nil {
		t.Fatalf("ParticipantID: %v", err)
	}
	out := &core.Output{OwnerKeyHash: participant, Amount: 1000}
	if err := utxo.Put("seed-tx:0", out); err != nil {
		t.Fatalf("Put seed output: %v", err)
	}
	tx := core.NewTransaction(priv.Public().Hex(),
		[]core.TxInput{{PrevOutputID: "seed-tx:0"}},
		[]core.TxOutput{{Recipient: "someone-else", Amount: 1000}}, 0)
	tx.Sign(priv)

	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "sendTx", Params: rpcParams(tx)})
	if resp.Error != nil {
		t.Fatalf("sendTx: %v", resp.Error)
	}

	sizeResp := h.Dispatch(Request{JSONRPC: "2.0", ID: 2, Method: "getMempoolSize"})
	if sizeResp.Result.(int) != pool.Size() {
		t.Fatalf("getMempoolSize result %v does not match pool.Size() %d", sizeResp.Result, pool.Size())
	}
}

func TestDispatchGetFinalityUnknownWindowIsNone(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "getFinality", Params: rpcParams(map[string]uint64{"window": 999})})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	m, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", resp.Result)
	}
	if m["finality"] != "none" {
		t.Fatalf("got finality %v, want none", m["finality"])
	}
}
