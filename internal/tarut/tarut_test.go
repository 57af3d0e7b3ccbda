package tarut

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

func TestTxnReadsEarlierWriteInSameTxn(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1", "n2"})

	out := h.Handle(mustEnvelope(t, "client", "n1", protocol.TxnBody{
		Type: "txn", MsgID: 1,
		Txn: []protocol.Op{
			{Kind: "w", Key: 1, Value: val(42)},
			{Kind: "r", Key: 1},
		},
	}))

	// one tarut_replicate to n2 plus the txn_ok reply
	require.Len(t, out, 2)

	var txnOk *protocol.TxnOkBody
	for _, env := range out {
		if protocol.BodyType(env.Body) == "txn_ok" {
			var body protocol.TxnOkBody
			require.NoError(t, protocol.Unmarshal(env.Body, &body))
			txnOk = &body
		}
	}
	require.NotNil(t, txnOk)
	require.Equal(t, "r", txnOk.Txn[1].Kind)
	require.Equal(t, uint64(42), *txnOk.Txn[1].Value)
}

func TestOnlyWritesAreReplicated(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1", "n2"})

	out := h.Handle(mustEnvelope(t, "client", "n1", protocol.TxnBody{
		Type: "txn", MsgID: 1,
		Txn: []protocol.Op{
			{Kind: "r", Key: 1},
			{Kind: "w", Key: 2, Value: val(99)},
		},
	}))

	var replicate *replicateBody
	for _, env := range out {
		if protocol.BodyType(env.Body) == "tarut_replicate" {
			var body replicateBody
			require.NoError(t, protocol.Unmarshal(env.Body, &body))
			replicate = &body
		}
	}
	require.NotNil(t, replicate)
	require.Len(t, replicate.Txn, 1)
	require.Equal(t, uint64(2), replicate.Txn[0].Key)
}

func TestReplicateAppliesWithoutRebroadcast(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1", "n2"})

	out := h.Handle(mustEnvelope(t, "n2", "n1", replicateBody{
		Type: "tarut_replicate", MsgID: 1,
		Txn: []protocol.Op{{Kind: "w", Key: 5, Value: val(7)}},
	}))
	require.Empty(t, out)
	require.Equal(t, uint64(7), *h.entries[5])
}

func TestReadOfNeverWrittenKeyIsNil(t *testing.T) {
	h := initHandler(t, "n1", []string{"n1"})

	out := h.Handle(mustEnvelope(t, "client", "n1", protocol.TxnBody{
		Type: "txn", MsgID: 1,
		Txn: []protocol.Op{{Kind: "r", Key: 9}},
	}))
	require.Len(t, out, 1)

	var txnOk protocol.TxnOkBody
	require.NoError(t, protocol.Unmarshal(out[0].Body, &txnOk))
	require.Nil(t, txnOk.Txn[0].Value)
}
