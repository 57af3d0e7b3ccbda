// Package runtime is the shared message-loop every workload binary embeds:
// identity, msg_id allocation, envelope dispatch, and a periodic tick for
// workloads that gossip.
//
// Big idea:
//
// Every Gossip Glomers node does the same three things regardless of which
// workload it runs: it learns who it is and who its peers are from a single
// init message, it hands every other inbound envelope to a workload-specific
// handler, and it writes whatever replies that handler produces back out as
// NDJSON. This package is that shared shell. The workload itself only has to
// implement Handler — everything about reading stdin, writing stdout, and
// keeping the msg_id counter monotone lives here once.
package runtime

import (
	"fmt"

	"github.com/glomers/node-fleet/internal/protocol"
)

// Node holds per-process identity: who we are, who our peers are, and the
// msg_id counter every outgoing request body consumes from.
//
// Invariants (spec §3): Id != "" after init; Id is never in Peers;
// nextMsgID strictly increases and is never reused.
type Node struct {
	ID        string
	Peers     []string
	nextMsgID uint64
	inited    bool
}

// Init sets identity and peers from the mandatory init message. Peers is
// node_ids minus self, in the order node_ids arrived. Repeated Init calls
// with different arguments are a protocol violation the spec explicitly
// tolerates rather than panics on — we just re-derive identity from
// whatever arrived most recently.
func (n *Node) Init(nodeID string, nodeIDs []string) {
	n.ID = nodeID
	peers := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if id != nodeID {
			peers = append(peers, id)
		}
	}
	n.Peers = peers
	n.inited = true
}

// Initialized reports whether Init has run yet.
func (n *Node) Initialized() bool {
	return n.inited
}

// NextMsgID returns a freshly allocated, process-unique msg_id.
func (n *Node) NextMsgID() uint64 {
	n.nextMsgID++
	return n.nextMsgID
}

// Reply wraps body as an outbound Envelope addressed to dest, with src set
// to our own id. The caller owns setting msg_id/in_reply_to inside body.
func (n *Node) Reply(dest string, body any) (protocol.Envelope, error) {
	raw, err := protocol.Encode(body)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("encode reply body: %w", err)
	}
	return protocol.Envelope{Src: n.ID, Dest: dest, Body: raw}, nil
}

// InitOk builds the mandatory init_ok reply with a freshly allocated
// msg_id.
func (n *Node) InitOk(dest string, inReplyTo uint64) (protocol.Envelope, error) {
	return n.Reply(dest, protocol.InitOk{
		Type:      "init_ok",
		MsgID:     n.NextMsgID(),
		InReplyTo: inReplyTo,
	})
}

// ErrorReply builds a standard error reply.
func (n *Node) ErrorReply(dest string, inReplyTo uint64, code protocol.ErrorCode, text string) (protocol.Envelope, error) {
	return n.Reply(dest, protocol.ErrorBody{
		MsgID:     n.NextMsgID(),
		InReplyTo: inReplyTo,
		Code:      code,
		Text:      text,
	})
}
