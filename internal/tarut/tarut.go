// Package tarut implements the read-uncommitted transactional KV
// workload: a transaction applies every op against local state and
// replies immediately, shipping only the writes to peers afterward,
// asynchronously and with no isolation guarantee at all.
//
// This is the weakest of the two txn workloads on purpose: a txn here
// never waits on anything, never aborts, and never coordinates with a
// peer before replying. The tradeoff is that a concurrent reader on
// another node can observe a write from a transaction that hasn't
// finished propagating yet — a "dirty read" in the classical sense — in
// exchange for never paying for a version check or a conflict abort. See
// internal/tarct for the read-committed/OCC alternative that trades some
// of that latency back for stronger guarantees.
package tarut

import (
	"time"

	"github.com/glomers/node-fleet/internal/protocol"
	"github.com/glomers/node-fleet/internal/runtime"
)

type replicateBody struct {
	Type  string        `json:"type"`
	MsgID uint64        `json:"msg_id"`
	Txn   []protocol.Op `json:"txn"`
}

// Handler implements runtime.Handler for the read-uncommitted
// transactional KV workload.
type Handler struct {
	Node runtime.Node

	entries map[uint64]*uint64
}

// New constructs a Handler ready to be passed to runtime.Run.
func New() *Handler {
	return &Handler{entries: make(map[uint64]*uint64)}
}

func (h *Handler) TickPeriod() time.Duration { return 0 }
func (h *Handler) Tick() []protocol.Envelope { return nil }

func (h *Handler) Handle(env protocol.Envelope) []protocol.Envelope {
	switch protocol.BodyType(env.Body) {
	case "init":
		return h.handleInit(env)
	case "txn":
		return h.handleTxn(env)
	case "tarut_replicate":
		return h.handleReplicate(env)
	default:
		return nil
	}
}

func (h *Handler) handleInit(env protocol.Envelope) []protocol.Envelope {
	var body protocol.Init
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	h.Node.Init(body.NodeID, body.NodeIDs)

	reply, err := h.Node.InitOk(env.Src, body.MsgID)
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}

// applyTxn runs ops against local state in order, last-writer-wins with
// no version tracking, and returns the reply op list: reads stamped with
// the observed value, writes echoing what they wrote. Reads within the
// same txn see earlier writes in that same txn, since both read and
// write in the same loop against the same map.
func (h *Handler) applyTxn(ops []protocol.Op) []protocol.Op {
	results := make([]protocol.Op, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case "r":
			results = append(results, protocol.Op{Kind: "r", Key: op.Key, Value: h.entries[op.Key]})
		case "w":
			h.entries[op.Key] = op.Value
			results = append(results, protocol.Op{Kind: "w", Key: op.Key, Value: op.Value})
		}
	}
	return results
}

func (h *Handler) handleTxn(env protocol.Envelope) []protocol.Envelope {
	var body protocol.TxnBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	results := h.applyTxn(body.Txn)

	writes := make([]protocol.Op, 0, len(body.Txn))
	for _, op := range body.Txn {
		if op.Kind == "w" {
			writes = append(writes, op)
		}
	}

	var out []protocol.Envelope
	if len(writes) > 0 {
		for _, peer := range h.Node.Peers {
			reply, err := h.Node.Reply(peer, replicateBody{
				Type:  "tarut_replicate",
				MsgID: h.Node.NextMsgID(),
				Txn:   writes,
			})
			if err != nil {
				continue
			}
			out = append(out, reply)
		}
	}

	reply, err := h.Node.Reply(env.Src, protocol.TxnOkBody{
		Type:      "txn_ok",
		MsgID:     h.Node.NextMsgID(),
		InReplyTo: body.MsgID,
		Txn:       results,
	})
	if err != nil {
		return out
	}
	return append(out, reply)
}

// handleReplicate applies a peer's writes idempotently and never
// rebroadcasts — otherwise replication messages would circulate forever.
func (h *Handler) handleReplicate(env protocol.Envelope) []protocol.Envelope {
	var body replicateBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	h.applyTxn(body.Txn)
	return nil
}
