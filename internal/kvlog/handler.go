package kvlog

import (
	"time"

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

// Handler implements runtime.Handler for the single-node kafka workload:
// a per-key append log with no replication, since there is only one node
// to replicate to.
type Handler struct {
	Node runtime.Node
	logs *Logs
}

// NewHandler constructs a Handler ready to be passed to runtime.Run.
func NewHandler() *Handler {
	return &Handler{logs: NewLogs()}
}

func (h *Handler) TickPeriod() time.Duration { return 0 }
func (h *Handler) Tick() []protocol.Envelope { return nil }

func (h *Handler) Handle(env protocol.Envelope) []protocol.Envelope {
	switch protocol.BodyType(env.Body) {
	case "init":
		return h.handleInit(env)
	case "send":
		return h.handleSend(env)
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

	reply, err := h.Node.InitOk(env.Src, body.MsgID)
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}

func (h *Handler) handleSend(env protocol.Envelope) []protocol.Envelope {
	var body sendBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	offset := h.logs.Send(body.Key, body.Msg)

	reply, err := h.Node.Reply(env.Src, sendOkBody{
		Type:      "send_ok",
		MsgID:     h.Node.NextMsgID(),
		InReplyTo: body.MsgID,
		Offset:    offset,
	})
	if err != nil {
		return nil
	}
	return []protocol.Envelope{reply}
}

func (h *Handler) handlePoll(env protocol.Envelope) []protocol.Envelope {
	var body pollBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	result := h.logs.Poll(body.Offsets)
	msgs := make(map[string][][2]uint64, len(result))
	for key, entries := range result {
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
