package counter

import (
	"testing"

	"github.com/glomers/node-fleet/internal/protocol"
	"github.com/stretchr/testify/require"
)

func mustEnvelope(t *testing.T, src, dest string, body any) protocol.Envelope {
	t.Helper()
	raw, err := protocol.Encode(body)
	require.NoError(t, err)
	return protocol.Envelope{Src: src, Dest: dest, Body: raw}
}

func initHandler(t *testing.T, id string, ids []string) *Handler {
	t.Helper()
	h := New()
	env := mustEnvelope(t, "c1", id, protocol.Init{Type: "init", MsgID: 1, NodeID: id, NodeIDs: ids})
	require.Len(t, h.Handle(env), 1)
	return h
}

func TestInitPrepopulatesEveryNode(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1", "n2", "n3"})
	require.Len(t, h.counters, 3)
	for _, id := range []string{"n1", "n2", "n3"} {
		require.Contains(t, h.counters, id)
	}
}

func TestAddIncrementsOwnEntryAndReadSums(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1", "n2"})

	h.Handle(mustEnvelope(t, "c1", "n1", addBody{Type: "add", MsgID: 2, Delta: 5}))
	h.Handle(mustEnvelope(t, "c1", "n1", addBody{Type: "add", MsgID: 3, Delta: 7}))

	replies := h.Handle(mustEnvelope(t, "c1", "n1", readBody{Type: "read", MsgID: 4}))
	require.Len(t, replies, 1)

	var out readOkBody
	require.NoError(t, protocol.Unmarshal(replies[0].Body, &out))
	require.Equal(t, uint64(12), out.Value)
	require.Equal(t, uint64(2), h.counters["n1"].Version)
}

func TestGossipMergeKeepsHigherVersionOnly(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1", "n2"})

	h.Handle(mustEnvelope(t, "n2", "n1", gossipBody{
		Type:     "counter_gossip",
		MsgID:    1,
		Counters: map[string]entry{"n2": {Version: 3, Value: 30}},
	}))
	require.Equal(t, entry{Version: 3, Value: 30}, h.counters["n2"])

	// Stale gossip (lower version) must not overwrite the newer entry.
	h.Handle(mustEnvelope(t, "n2", "n1", gossipBody{
		Type:     "counter_gossip",
		MsgID:    2,
		Counters: map[string]entry{"n2": {Version: 1, Value: 5}},
	}))
	require.Equal(t, entry{Version: 3, Value: 30}, h.counters["n2"])
}

func TestTickSendsFullCountersToEveryPeer(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1", "n2", "n3"})
	h.Handle(mustEnvelope(t, "c1", "n1", addBody{Type: "add", MsgID: 2, Delta: 1}))

	out := h.Tick()
	require.Len(t, out, 2)
	dests := map[string]bool{}
	for _, env := range out {
		dests[env.Dest] = true
		var body gossipBody
		require.NoError(t, protocol.Unmarshal(env.Body, &body))
		require.Len(t, body.Counters, 3)
	}
	require.True(t, dests["n2"])
	require.True(t, dests["n3"])
}
