// Package kafka implements the multi-node replicated-log workload: a
// single fixed leader (the lexicographically smallest node ID, decided
// once at init) takes every write, replicates it to every follower, and
// acknowledges the client once a quorum of nodes hold the entry.
//
// Problem:
//
// A per-key append log (internal/kvlog) is easy on one node, but the
// moment there's more than one node you need SOME agreement on what
// offset a given write lands at — two nodes can't independently decide
// "this is offset 7" for the same key. The simplest fix that avoids an
// election protocol is to fix the leader once, forever, by a
// deterministic rule every node can compute for itself: the node whose ID
// sorts first. Every write funnels through that one node, which assigns
// offsets and replicates them out; followers just mirror whatever the
// leader tells them to, and answer reads locally (possibly stale, which
// is an accepted tradeoff, not a bug).
//
// How replication acknowledgment works:
//
// Adapted from the teacher's cluster.Replicator — fan out a write to every
// peer, then count acks until a quorum is reached, at which point (and
// only then) tell the client it succeeded. The teacher does this with
// goroutines/channels/timeouts because its replicator runs inside an HTTP
// handler that must eventually return a response. Here the whole node is
// single-threaded and non-blocking (nothing may suspend waiting for an
// ack — see internal/runtime), so the equivalent shape is a Pending table
// keyed by offset: the leader records who's waiting and how many acks
// it's seen, and REPLICATE_OK messages arriving later (as ordinary inbound
// envelopes, not as responses to a blocking call) top up that count until
// it crosses the quorum threshold.
package kafka

import (
	"sort"
	"time"

	"github.com/glomers/node-fleet/internal/kvlog"
	"github.com/glomers/node-fleet/internal/protocol"
	"github.com/glomers/node-fleet/internal/runtime"
)

type sendBody struct {
	Type  string `json:"type"`
	MsgID uint64 `json:"msg_id"`
	Key   string `json:"key"`
	Msg   uint64 `json:"msg"`
}

type sendOkBody struct {
	Type      string `json:"type"`
	MsgID     uint64 `json:"msg_id"`
	InReplyTo uint64 `json:"in_reply_to"`
	Offset    uint64 `json:"offset"`
}

type forwardSendBody struct {
	Type      string `json:"type"`
	MsgID     uint64 `json:"msg_id"`
	OrigSrc   string `json:"orig_src"`
	OrigMsgID uint64 `json:"orig_msg_id"`
	Key       string `json:"key"`
	Msg       uint64 `json:"msg"`
}

type replicateBody struct {
	Type   string `json:"type"`
	MsgID  uint64 `json:"msg_id"`
	Key    string `json:"key"`
	Msg    uint64 `json:"msg"`
	Offset uint64 `json:"offset"`
}

type replicateOkBody struct {
	Type      string `json:"type"`
	MsgID     uint64 `json:"msg_id"`
	InReplyTo uint64 `json:"in_reply_to"`
	Offset    uint64 `json:"offset"`
}

type pollBody struct {
	Type    string            `json:"type"`
	MsgID   uint64            `json:"msg_id"`
	Offsets map[string]uint64 `json:"offsets"`
}

type pollOkBody struct {
	Type      string                  `json:"type"`
	MsgID     uint64                  `json:"msg_id"`
	InReplyTo uint64                  `json:"in_reply_to"`
	Msgs      map[string][][2]uint64  `json:"msgs"`
}

type commitOffsetsBody struct {
	Type    string            `json:"type"`
	MsgID   uint64            `json:"msg_id"`
	Offsets map[string]uint64 `json:"offsets"`
}

type commitOffsetsOkBody struct {
	Type      string `json:"type"`
	MsgID     uint64 `json:"msg_id"`
	InReplyTo uint64 `json:"in_reply_to"`
}

type listCommittedOffsetsBody struct {
	Type  string   `json:"type"`
	MsgID uint64   `json:"msg_id"`
	Keys  []string `json:"keys"`
}

type listCommittedOffsetsOkBody struct {
	Type      string            `json:"type"`
	MsgID     uint64            `json:"msg_id"`
	InReplyTo uint64            `json:"in_reply_to"`
	Offsets   map[string]uint64 `json:"offsets"`
}

// pending tracks one in-flight client write waiting for replication
// quorum. Removed once quorum is reached (or never removed if the leader
// dies first — leader failure is explicitly out of scope, see the
// package doc and spec's Non-goals).
type pending struct {
	client      string
	clientMsgID uint64
	ackFrom     map[string]struct{}
}

// Handler implements runtime.Handler for the multi-node kafka workload.
type Handler struct {
	Node runtime.Node

	leader  string
	logs    *kvlog.Logs
	pending map[uint64]*pending
}

// New constructs a Handler ready to be passed to runtime.Run.
func New() *Handler {
	return &Handler{
		logs:    kvlog.NewLogs(),
		pending: make(map[uint64]*pending),
	}
}

func (h *Handler) TickPeriod() time.Duration { return 0 }
func (h *Handler) Tick() []protocol.Envelope { return nil }

// quorum is the smallest strict majority of the cluster, including the
// leader: ⌈P/2⌉+1 where P = len(peers) (self excluded), i.e. 1, 2 and 3
// for clusters of 1, 3 and 5 nodes.
func (h *Handler) quorum() int {
	n := len(h.Node.Peers)
	return (n+1)/2 + 1
}

func (h *Handler) Handle(env protocol.Envelope) []protocol.Envelope {
	switch protocol.BodyType(env.Body) {
	case "init":
		return h.handleInit(env)
	case "send":
		var body sendBody
		if err := protocol.Unmarshal(env.Body, &body); err != nil {
			return nil
		}
		return h.handleSend(env.Src, body.MsgID, body.Key, body.Msg)
	case "forward_send":
		return h.handleForwardSend(env)
	case "replicate":
		return h.handleReplicate(env)
	case "replicate_ok":
		return h.handleReplicateOk(env)
	case "poll":
		return h.handlePoll(env)
	case "commit_offsets":
		return h.handleCommitOffsets(env)
	case "list_committed_offsets":
		return h.handleListCommittedOffsets(env)
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

	all := append([]string(nil), body.NodeIDs...)
	sort.Strings(all)
	if len(all) > 0 {
		h.leader = all[0]
	}

	reply, err := h.Node.InitOk(env.Src, body.MsgID)
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}

// handleSend is shared by a direct client `send` and an unwrapped
// `forward_send`: either way, client/clientMsgID identify whoever should
// get the eventual send_ok. On a follower it only forwards the write to
// the leader; on the leader it appends, replicates and records Pending.
func (h *Handler) handleSend(client string, clientMsgID uint64, key string, msg uint64) []protocol.Envelope {
	if h.Node.ID != h.leader {
		reply, err := h.Node.Reply(h.leader, forwardSendBody{
			Type:      "forward_send",
			MsgID:     h.Node.NextMsgID(),
			OrigSrc:   client,
			OrigMsgID: clientMsgID,
			Key:       key,
			Msg:       msg,
		})
		if err != nil {
			return nil
		}
		return []protocol.Envelope{reply}
	}

	offset := h.logs.GetOrCreate(key).Append(msg)
	h.pending[offset] = &pending{
		client:      client,
		clientMsgID: clientMsgID,
		ackFrom:     map[string]struct{}{h.Node.ID: {}},
	}

	var out []protocol.Envelope
	for _, peer := range h.Node.Peers {
		reply, err := h.Node.Reply(peer, replicateBody{
			Type:   "replicate",
			MsgID:  h.Node.NextMsgID(),
			Key:    key,
			Msg:    msg,
			Offset: offset,
		})
		if err != nil {
			continue
		}
		out = append(out, reply)
	}

	if h.quorum() <= 1 {
		if reply, err := h.sendOkFor(offset); err == nil {
			out = append(out, reply)
		}
		delete(h.pending, offset)
	}
	return out
}

func (h *Handler) handleForwardSend(env protocol.Envelope) []protocol.Envelope {
	var body forwardSendBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	return h.handleSend(body.OrigSrc, body.OrigMsgID, body.Key, body.Msg)
}

func (h *Handler) handleReplicate(env protocol.Envelope) []protocol.Envelope {
	var body replicateBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	h.logs.GetOrCreate(body.Key).InsertAt(body.Offset, body.Msg)

	reply, err := h.Node.Reply(env.Src, replicateOkBody{
		Type:      "replicate_ok",
		MsgID:     h.Node.NextMsgID(),
		InReplyTo: body.MsgID,
		Offset:    body.Offset,
	})
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}

func (h *Handler) handleReplicateOk(env protocol.Envelope) []protocol.Envelope {
	var body replicateOkBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	p, ok := h.pending[body.Offset]
	if !ok {
		return nil
	}
	if _, already := p.ackFrom[env.Src]; already {
		return nil
	}
	p.ackFrom[env.Src] = struct{}{}

	if len(p.ackFrom) < h.quorum() {
		return nil
	}
	reply, err := h.sendOkFor(body.Offset)
	delete(h.pending, body.Offset)
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}

func (h *Handler) sendOkFor(offset uint64) (protocol.Envelope, error) {
	p := h.pending[offset]
	return h.Node.Reply(p.client, sendOkBody{
		Type:      "send_ok",
		MsgID:     h.Node.NextMsgID(),
		InReplyTo: p.clientMsgID,
		Offset:    offset,
	})
}

// handlePoll, handleCommitOffsets and handleListCommittedOffsets are
// answered locally by whichever node received them — no leader routing,
// per spec: this accepts stale reads on followers as an explicit
// tradeoff. Poll uses the contiguous-prefix interpretation (stop at the
// first offset a replicate hasn't filled in yet) rather than serving a
// sparse result across a hole.
func (h *Handler) handlePoll(env protocol.Envelope) []protocol.Envelope {
	var body pollBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	msgs := make(map[string][][2]uint64, len(body.Offsets))
	for key, from := range body.Offsets {
		log, ok := h.logs.Get(key)
		if !ok {
			continue
		}
		entries := log.ReadContiguousFrom(from)
		pairs := make([][2]uint64, len(entries))
		for i, e := range entries {
			pairs[i] = [2]uint64{e.Offset, e.Msg}
		}
		msgs[key] = pairs
	}

	reply, err := h.Node.Reply(env.Src, pollOkBody{
		Type:      "poll_ok",
		MsgID:     h.Node.NextMsgID(),
		InReplyTo: body.MsgID,
		Msgs:      msgs,
	})
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}

func (h *Handler) handleCommitOffsets(env protocol.Envelope) []protocol.Envelope {
	var body commitOffsetsBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	h.logs.CommitOffsets(body.Offsets)

	reply, err := h.Node.Reply(env.Src, commitOffsetsOkBody{
		Type:      "commit_offsets_ok",
		MsgID:     h.Node.NextMsgID(),
		InReplyTo: body.MsgID,
	})
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}

func (h *Handler) handleListCommittedOffsets(env protocol.Envelope) []protocol.Envelope {
	var body listCommittedOffsetsBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	offsets := h.logs.ListCommittedOffsets(body.Keys)

	reply, err := h.Node.Reply(env.Src, listCommittedOffsetsOkBody{
		Type:      "list_committed_offsets_ok",
		MsgID:     h.Node.NextMsgID(),
		InReplyTo: body.MsgID,
		Offsets:   offsets,
	})
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}
