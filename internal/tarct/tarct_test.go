package tarct

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

func val(v uint64) *uint64 { return &v }

func initHandler(t *testing.T, id string, ids []string) *Handler {
	t.Helper()
	h := New()
	env := mustEnvelope(t, "c1", id, protocol.Init{Type: "init", MsgID: 1, NodeID: id, NodeIDs: ids})
	require.Len(t, h.Handle(env), 1)
	return h
}

// S5: replicate sets key 1 to 100 at version 5, then a read+write txn
// that observed version 5 must be allowed to commit.
func TestCommitsWhenSnapshotStillValid(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1", "n2"})
	h.store.apply(1, val(100), 5)
	h.commitTs = 5

	out := h.Handle(mustEnvelope(t, "c1", "n1", protocol.TxnBody{
		Type: "txn", MsgID: 7,
		Txn: []protocol.Op{
			{Kind: "r", Key: 1},
			{Kind: "w", Key: 1, Value: val(200)},
		},
	}))

	var txnOk *protocol.TxnOkBody
	var replicated bool
	for _, env := range out {
		switch protocol.BodyType(env.Body) {
		case "txn_ok":
			var body protocol.TxnOkBody
			require.NoError(t, protocol.Unmarshal(env.Body, &body))
			txnOk = &body
		case "tarct_replicate":
			replicated = true
		}
	}
	require.NotNil(t, txnOk)
	require.True(t, replicated)
	require.Equal(t, uint64(100), *txnOk.Txn[0].Value)
	require.Equal(t, uint64(200), *txnOk.Txn[1].Value)
	require.Equal(t, uint64(6), h.store.version(1))
	require.Equal(t, uint64(200), *h.store.get(1))
}

// conflictingKey is the actual production conflict check; exercise it
// directly against a read_set that's gone stale relative to the store,
// the same shape handleTxn builds right before deciding whether to abort.
func TestConflictingKeyDetectsStaleRead(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1", "n2"})
	h.store.apply(1, val(100), 5)

	key, conflict := h.conflictingKey(map[uint64]uint64{1: 4})
	require.True(t, conflict)
	require.Equal(t, uint64(1), key)
}

func TestConflictingKeyAcceptsMatchingSnapshot(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1", "n2"})
	h.store.apply(1, val(100), 5)

	_, conflict := h.conflictingKey(map[uint64]uint64{1: 5})
	require.False(t, conflict)
}

// Stages a txn's read of key 1 (observing version 5), then lets a peer's
// replicate raise that key to version 9 before the staged snapshot is
// checked — reproducing the race S5 describes (an inbound
// tarct_replicate landing between read and commit) without needing
// concurrency — and confirms conflictingKey flags the stale snapshot.
func TestReplicateAfterStagingMakesSnapshotConflict(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1", "n2"})
	h.store.apply(1, val(100), 5)

	st := h.stage([]protocol.Op{
		{Kind: "r", Key: 1},
		{Kind: "w", Key: 1, Value: val(200)},
	})
	require.Equal(t, uint64(5), st.readSet[1])

	h.Handle(mustEnvelope(t, "n2", "n1", replicateBody{
		Type: "tarct_replicate", MsgID: 1,
		Txn: []replicateOp{{Key: 1, Value: val(999), Version: 9}},
	}))

	_, conflict := h.conflictingKey(st.readSet)
	require.True(t, conflict)

	out := h.Handle(mustEnvelope(t, "c1", "n1", protocol.TxnBody{
		Type: "txn", MsgID: 7,
		Txn: []protocol.Op{
			{Kind: "r", Key: 1},
			{Kind: "w", Key: 1, Value: val(200)},
		},
	}))

	// The second Handle call re-stages fresh (observing version 9) so it
	// commits cleanly; the point above is that conflictingKey correctly
	// flags the earlier, now-stale snapshot st on its own.
	require.NotEmpty(t, out)
}

// The conflict check can only ever trip against a read_set staged before
// this call, since a single Handle invocation stages and checks in one
// synchronous pass with nothing able to land in between. Reaching into
// the error-reply plumbing directly keeps this test honest about that:
// it confirms the envelope handleTxn would return on an abort carries
// the right code, without pretending a same-call race is reachable.
func TestErrorReplyCarriesTxnConflictCode(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1"})

	reply, err := h.Node.ErrorReply("c1", 2, protocol.CodeTxnConflict, "transaction aborted: conflict detected")
	require.NoError(t, err)

	var errBody protocol.ErrorBody
	require.NoError(t, protocol.Unmarshal(reply.Body, &errBody))
	require.Equal(t, protocol.CodeTxnConflict, errBody.Code)
	require.Equal(t, uint64(2), errBody.InReplyTo)
}
