package runtime

import (
	"testing"

	"github.com/glomers/node-fleet/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestInitDerivesPeersExcludingSelf(t *testing.T) {
	var n Node
	n.Init("n2", []string{"n1", "n2", "n3"})

	require.Equal(t, "n2", n.ID)
	require.Equal(t, []string{"n1", "n3"}, n.Peers)
	require.True(t, n.Initialized())
}

func TestNextMsgIDStrictlyIncreases(t *testing.T) {
	var n Node
	seen := map[uint64]bool{}
	var prev uint64
	for i := 0; i < 100; i++ {
		id := n.NextMsgID()
		require.False(t, seen[id], "msg_id %d reused", id)
		require.Greater(t, id, prev)
		seen[id] = true
		prev = id
	}
}

func TestInitOkCarriesInReplyTo(t *testing.T) {
	var n Node
	n.Init("n1", []string{"n1"})

	env, err := n.InitOk("c1", 7)
	require.NoError(t, err)
	require.Equal(t, "n1", env.Src)
	require.Equal(t, "c1", env.Dest)

	var body protocol.InitOk
	require.NoError(t, protocol.Unmarshal(env.Body, &body))
	require.Equal(t, "init_ok", body.Type)
	require.Equal(t, uint64(7), body.InReplyTo)
}

func TestErrorReplyCarriesCodeAndText(t *testing.T) {
	var n Node
	n.Init("n1", nil)

	env, err := n.ErrorReply("c1", 3, protocol.CodeTxnConflict, "stale read")
	require.NoError(t, err)

	var body protocol.ErrorBody
	require.NoError(t, protocol.Unmarshal(env.Body, &body))
	require.Equal(t, protocol.CodeTxnConflict, body.Code)
	require.Equal(t, uint64(3), body.InReplyTo)
	require.Equal(t, "stale read", body.Text)
}
