package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/timechain/timechaind/consensus"
	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/dag"
	"github.com/timechain/timechaind/mempool"
	"github.com/timechain/timechaind/reputation"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	dagStore      *dag.Store
	pool          *mempool.Pool
	utxo          core.UnspentOutputSet
	ledger        *consensus.Ledger
	rep           *reputation.Store
	participantID string
	onlineFn      func() bool // nil-safe: defaults to always-online
}

// NewHandler creates an RPC Handler. rep and participantID back
// getParticipantState; onlineFn may be nil (treated as always online) and
// can also be set later via SetOnlineFunc once the caller knows how to
// derive liveness.
func NewHandler(dagStore *dag.Store, pool *mempool.Pool, utxo core.UnspentOutputSet, ledger *consensus.Ledger, rep *reputation.Store, participantID string) *Handler {
	return &Handler{dagStore: dagStore, pool: pool, utxo: utxo, ledger: ledger, rep: rep, participantID: participantID}
}

// SetOnlineFunc installs the liveness predicate getParticipantState uses as
// Transition's online signal.
func (h *Handler) SetOnlineFunc(f func() bool) {
	h.onlineFn = f
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlock":
		return h.getBlock(req)

	case "getTips":
		return okResponse(req.ID, h.dagStore.Tips())

	case "getHeaviestTip":
		return h.getHeaviestTip(req)

	case "getOutput":
		return h.getOutput(req)

	case "getCheckpoint":
		return h.getCheckpoint(req)

	case "getFinality":
		return h.getFinality(req)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.pool.Size())

	case "getParticipantState":
		return h.getParticipantState(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if params.Hash == "" {
		return errResponse(req.ID, CodeInvalidParams, "hash is required")
	}
	block, err := h.dagStore.GetBlock(params.Hash)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getHeaviestTip(req Request) Response {
	hash, ok := h.dagStore.HeaviestTip()
	if !ok {
		return errResponse(req.ID, CodeInternalError, "no tips available")
	}
	return okResponse(req.ID, map[string]string{"hash": hash})
}

func (h *Handler) getOutput(req Request) Response {
	var params struct {
		OutputID string `json:"output_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.OutputID == "" {
		return errResponse(req.ID, CodeInvalidParams, "output_id is required")
	}
	out, err := h.utxo.Get(params.OutputID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, out)
}

func (h *Handler) getCheckpoint(req Request) Response {
	latest := h.ledger.Latest()
	if latest == nil {
		return errResponse(req.ID, CodeInternalError, "no checkpoints sealed yet")
	}
	return okResponse(req.ID, latest)
}

func (h *Handler) getFinality(req Request) Response {
	var params struct {
		Window uint64 `json:"window"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	level := h.ledger.FinalityOf(params.Window)
	return okResponse(req.ID, map[string]any{"window": params.Window, "finality": level.String()})
}

// getParticipantState reports this node's own lifecycle state (spec §4.7),
// computed fresh from its reputation record rather than cached, so it always
// reflects the latest quarantine/liveness facts.
func (h *Handler) getParticipantState(req Request) Response {
	rec, ok := h.rep.Get(h.participantID)
	if !ok {
		return errResponse(req.ID, CodeInternalError, "local participant not registered")
	}
	online := true
	if h.onlineFn != nil {
		online = h.onlineFn()
	}
	state := consensus.Transition(rec.FirstSeen, time.Now(), rec.QuarantineUntil, online)
	return okResponse(req.ID, map[string]any{"participant": h.participantID, "state": string(state)})
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.pool.Add(&tx, h.utxo); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}
