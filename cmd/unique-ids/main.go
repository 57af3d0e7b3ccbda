// Command unique-ids answers generate requests with a 64-bit ID that is
// unique across the whole cluster (internal/idgen), without talking to any
// peer.
package main

import (
	"log"
	"time"

	"github.com/glomers/node-fleet/internal/idgen"
	"github.com/glomers/node-fleet/internal/protocol"
	"github.com/glomers/node-fleet/internal/runtime"
)

type generateBody struct {
	Type  string `json:"type"`
	MsgID uint64 `json:"msg_id"`
}

type generateOkBody struct {
	Type      string `json:"type"`
	MsgID     uint64 `json:"msg_id"`
	InReplyTo uint64 `json:"in_reply_to"`
	ID        uint64 `json:"id"`
}

type handler struct {
	node runtime.Node
	gen  *idgen.Generator
}

func (h *handler) TickPeriod() time.Duration { return 0 }
func (h *handler) Tick() []protocol.Envelope { return nil }

func (h *handler) Handle(env protocol.Envelope) []protocol.Envelope {
	switch protocol.BodyType(env.Body) {
	case "init":
		var body protocol.Init
		if err := protocol.Unmarshal(env.Body, &body); err != nil {
			return nil
		}
		h.node.Init(body.NodeID, body.NodeIDs)
		h.gen = idgen.New(h.node.ID)
		log.SetPrefix("unique-ids[" + h.node.ID + "] ")
		reply, err := h.node.InitOk(env.Src, body.MsgID)
		if err != nil {
			return nil
		}
		return []protocol.Envelope{reply}

	case "generate":
		var body generateBody
		if err := protocol.Unmarshal(env.Body, &body); err != nil {
			return nil
		}
		// Lazily initialize: a generate arriving before init would be a
		// protocol violation, but the generator still has to produce
		// something reasonable rather than panic.
		if h.gen == nil {
			h.gen = idgen.New(h.node.ID)
		}
		reply, err := h.node.Reply(env.Src, generateOkBody{
			Type:      "generate_ok",
			MsgID:     h.node.NextMsgID(),
			InReplyTo: body.MsgID,
			ID:        h.gen.Generate(),
		})
		if err != nil {
			return nil
		}
		return []protocol.Envelope{reply}

	default:
		return nil
	}
}

func main() {
	if err := runtime.Run(&handler{}); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
