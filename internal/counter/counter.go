// Package counter implements the grow-only counter workload: a per-node
// version-vector CRDT where every node can only increase its own entry,
// and the cluster total converges via periodic full-state gossip.
//
// This is the teacher's VectorClock idea adapted to a simpler job: instead
// of comparing two clocks to detect concurrent writes, every node here
// owns exactly one counter in the vector, so there's never a concurrent
// write to reconcile — only a monotone merge. Each entry tracks a
// "version" (how many times that node has incremented) alongside a
// "value" (the running total for that node); merge keeps whichever side
// has the strictly higher version for each node, the same per-node "only
// accept forward-moving updates" rule as VectorClock.Merge, minus the
// Before/After/Concurrent classification VectorClock needs and a plain
// grow-only counter doesn't.
package counter

import (
	"time"

	"github.com/glomers/node-fleet/internal/protocol"
	"github.com/glomers/node-fleet/internal/runtime"
)

const gossipPeriod = 100 * time.Millisecond

// entry is one node's slice of the counter.
type entry struct {
	Version uint64 `json:"version"`
	Value   uint64 `json:"value"`
}

type addBody struct {
	Type  string `json:"type"`
	MsgID uint64 `json:"msg_id"`
	Delta uint64 `json:"delta"`
}

type addOkBody struct {
	Type      string `json:"type"`
	MsgID     uint64 `json:"msg_id"`
	InReplyTo uint64 `json:"in_reply_to"`
}

type readBody struct {
	Type  string `json:"type"`
	MsgID uint64 `json:"msg_id"`
}

type readOkBody struct {
	Type      string `json:"type"`
	MsgID     uint64 `json:"msg_id"`
	InReplyTo uint64 `json:"in_reply_to"`
	Value     uint64 `json:"value"`
}

type gossipBody struct {
	Type     string           `json:"type"`
	MsgID    uint64           `json:"msg_id"`
	Counters map[string]entry `json:"counters"`
}

// Handler implements runtime.Handler for the grow-only counter workload.
type Handler struct {
	Node runtime.Node

	counters map[string]entry
}

// New constructs a Handler ready to be passed to runtime.Run.
func New() *Handler {
	return &Handler{counters: make(map[string]entry)}
}

func (h *Handler) TickPeriod() time.Duration { return gossipPeriod }

// Tick ships the full counters map to every peer. Unlike broadcast's
// delta gossip, there's no per-peer cursor here: the map is small (one
// entry per cluster node) so shipping it whole every tick is simpler and
// cheap enough not to need the optimization.
func (h *Handler) Tick() []protocol.Envelope {
	if h.Node.ID == "" || len(h.counters) == 0 {
		return nil
	}

	snapshot := make(map[string]entry, len(h.counters))
	for id, e := range h.counters {
		snapshot[id] = e
	}

	var out []protocol.Envelope
	for _, peer := range h.Node.Peers {
		reply, err := h.Node.Reply(peer, gossipBody{
			Type:     "counter_gossip",
			MsgID:    h.Node.NextMsgID(),
			Counters: snapshot,
		})
		if err != nil {
			continue
		}
		out = append(out, reply)
	}
	return out
}

// Handle dispatches one inbound envelope to the counter workload logic.
func (h *Handler) Handle(env protocol.Envelope) []protocol.Envelope {
	switch protocol.BodyType(env.Body) {
	case "init":
		return h.handleInit(env)
	case "add":
		return h.handleAdd(env)
	case "read":
		return h.handleRead(env)
	case "counter_gossip":
		return h.handleGossip(env)
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

	// Pre-populate an entry for every cluster node, including self, so a
	// read before any add still sums to a well-defined zero.
	h.counters[h.Node.ID] = entry{}
	for _, peer := range h.Node.Peers {
		h.counters[peer] = entry{}
	}

	reply, err := h.Node.InitOk(env.Src, body.MsgID)
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}

func (h *Handler) handleAdd(env protocol.Envelope) []protocol.Envelope {
	var body addBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	own := h.counters[h.Node.ID]
	own.Value += body.Delta
	own.Version++
	h.counters[h.Node.ID] = own

	reply, err := h.Node.Reply(env.Src, addOkBody{
		Type:      "add_ok",
		MsgID:     h.Node.NextMsgID(),
		InReplyTo: body.MsgID,
	})
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}

func (h *Handler) handleRead(env protocol.Envelope) []protocol.Envelope {
	var body readBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	var total uint64
	for _, e := range h.counters {
		total += e.Value
	}

	reply, err := h.Node.Reply(env.Src, readOkBody{
		Type:      "read_ok",
		MsgID:     h.Node.NextMsgID(),
		InReplyTo: body.MsgID,
		Value:     total,
	})
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}

// handleGossip merges an incoming counters snapshot: per node, keep
// whichever side has the strictly higher version. A lower-or-equal
// incoming version is a stale or duplicate gossip message and is ignored.
func (h *Handler) handleGossip(env protocol.Envelope) []protocol.Envelope {
	var body gossipBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	for id, incoming := range body.Counters {
		local, ok := h.counters[id]
		if !ok || incoming.Version > local.Version {
			h.counters[id] = incoming
		}
	}
	return nil
}
