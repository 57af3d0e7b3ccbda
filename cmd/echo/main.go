// Command echo is the simplest possible workload: it answers every echo
// request with the text it was given. It exists mainly as a smoke test for
// the runtime package itself.
package main

import (
	"log"
	"time"

	"github.com/glomers/node-fleet/internal/protocol"
	"github.com/glomers/node-fleet/internal/runtime"
)

type echoBody struct {
	Type  string `json:"type"`
	MsgID uint64 `json:"msg_id"`
	Echo  string `json:"echo"`
}

type echoOkBody struct {
	Type      string `json:"type"`
	MsgID     uint64 `json:"msg_id"`
	InReplyTo uint64 `json:"in_reply_to"`
	Echo      string `json:"echo"`
}

type handler struct {
	node runtime.Node
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
		log.SetPrefix("echo[" + h.node.ID + "] ")
		reply, err := h.node.InitOk(env.Src, body.MsgID)
		if err != nil {
			return nil
		}
		return []protocol.Envelope{reply}

	case "echo":
		var body echoBody
		if err := protocol.Unmarshal(env.Body, &body); err != nil {
			return nil
		}
		reply, err := h.node.Reply(env.Src, echoOkBody{
			Type:      "echo_ok",
			MsgID:     h.node.NextMsgID(),
			InReplyTo: body.MsgID,
			Echo:      body.Echo,
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
