// Package tarct implements the read-committed transactional KV workload
// with optimistic concurrency control: a transaction stages its reads and
// writes locally, checks at commit time whether anything it read has
// since changed, and aborts rather than commit over a stale snapshot.
//
// This trades tarut's "never wait, never abort" simplicity for an actual
// isolation guarantee: a reader here never sees a write from a
// transaction that didn't ultimately commit, because nothing is visible
// until the conflict check passes and commit_ts is advanced. The cost is
// that a transaction can fail outright — callers must be prepared to
// retry on a TxnConflict error, which tarut's callers never have to
// handle.
//
// Conflict check is the textbook OCC shape: remember the version each key
// had when the transaction read it (read_set), then at commit time
// compare that snapshot against the version the key has right now. If
// ANY key moved, someone else committed over our read and we must not
// commit on top of a world that no longer exists — abort instead,
// applying nothing and replicating nothing.
package tarct

import (
	"fmt"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/glomers/node-fleet/internal/protocol"
	"github.com/glomers/node-fleet/internal/runtime"
)

// replicateOp is one committed write in a tarct_replicate batch: the
// wire's 4-element `["w", key, value, version]` array.
type replicateOp struct {
	Key     uint64
	Value   *uint64
	Version uint64
}

func (o replicateOp) MarshalJSON() ([]byte, error) {
	return protocol.Marshal([4]any{"w", o.Key, o.Value, o.Version})
}

func (o *replicateOp) UnmarshalJSON(data []byte) error {
	var raw [4]jsoniter.RawMessage
	if err := protocol.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode tarct replicate op: %w", err)
	}
	if err := protocol.Unmarshal(raw[1], &o.Key); err != nil {
		return err
	}
	var value *uint64
	if err := protocol.Unmarshal(raw[2], &value); err != nil {
		return err
	}
	o.Value = value
	return protocol.Unmarshal(raw[3], &o.Version)
}

type replicateBody struct {
	Type  string        `json:"type"`
	MsgID uint64        `json:"msg_id"`
	Txn   []replicateOp `json:"txn"`
}

// kv is the committed store: a value plus the commit_ts it was last
// written at, per key. The zero version (key never written) is a valid
// read_set entry, not a special case.
type kv struct {
	entries  map[uint64]*uint64
	versions map[uint64]uint64
}

func newKV() *kv {
	return &kv{entries: make(map[uint64]*uint64), versions: make(map[uint64]uint64)}
}

func (k *kv) get(key uint64) *uint64 { return k.entries[key] }
func (k *kv) version(key uint64) uint64 { return k.versions[key] }

// apply installs a write if and only if version is strictly newer than
// what's already there — the same per-key "only move forward" merge rule
// used both for a local commit and for an incoming tarct_replicate.
func (k *kv) apply(key uint64, value *uint64, version uint64) {
	if version > k.versions[key] {
		k.entries[key] = value
		k.versions[key] = version
	}
}

// Handler implements runtime.Handler for the read-committed/OCC
// transactional KV workload.
type Handler struct {
	Node runtime.Node

	store    *kv
	commitTs uint64
}

// New constructs a Handler ready to be passed to runtime.Run.
func New() *Handler {
	return &Handler{store: newKV()}
}

func (h *Handler) TickPeriod() time.Duration { return 0 }
func (h *Handler) Tick() []protocol.Envelope { return nil }

func (h *Handler) Handle(env protocol.Envelope) []protocol.Envelope {
	switch protocol.BodyType(env.Body) {
	case "init":
		return h.handleInit(env)
	case "txn":
		return h.handleTxn(env)
	case "tarct_replicate":
		return h.handleReplicate(env)
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

// stagedTxn is the local snapshot a transaction builds against before
// anything commits: the version each read key had when it was read
// (readSet), the values staged by writes (writeSet, never applied until
// commit), and the reply op list in wire order.
type stagedTxn struct {
	readSet  map[uint64]uint64
	writeSet map[uint64]*uint64
	results  []protocol.Op
}

// stage runs a txn's ops against the current store without mutating it:
// reads consult writeSet first (read-your-writes within the txn), then
// fall back to the committed store, recording the version observed.
// Writes land only in writeSet.
func (h *Handler) stage(ops []protocol.Op) stagedTxn {
	st := stagedTxn{
		readSet:  make(map[uint64]uint64),
		writeSet: make(map[uint64]*uint64),
		results:  make([]protocol.Op, 0, len(ops)),
	}
	for _, op := range ops {
		switch op.Kind {
		case "r":
			var observed *uint64
			if v, staged := st.writeSet[op.Key]; staged {
				observed = v
			} else {
				observed = h.store.get(op.Key)
			}
			st.readSet[op.Key] = h.store.version(op.Key)
			st.results = append(st.results, protocol.Op{Kind: "r", Key: op.Key, Value: observed})
		case "w":
			st.writeSet[op.Key] = op.Value
			st.results = append(st.results, protocol.Op{Kind: "w", Key: op.Key, Value: op.Value})
		}
	}
	return st
}

// conflictingKey reports the first key (if any) whose committed version
// no longer matches what readSet observed — someone else committed over
// this snapshot and the transaction must abort rather than build on top
// of a world that no longer exists. Map iteration order doesn't matter:
// any mismatch aborts the whole txn, not just that key.
func (h *Handler) conflictingKey(readSet map[uint64]uint64) (uint64, bool) {
	for key, seenVersion := range readSet {
		if h.store.version(key) != seenVersion {
			return key, true
		}
	}
	return 0, false
}

// commit advances commit_ts, applies every staged write in key order
// (so replication batches are deterministic across nodes), and returns
// the tarct_replicate envelopes to ship to every peer.
func (h *Handler) commit(writeSet map[uint64]*uint64) []protocol.Envelope {
	h.commitTs++
	ts := h.commitTs

	keys := make([]uint64, 0, len(writeSet))
	for key := range writeSet {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	batch := make([]replicateOp, len(keys))
	for i, key := range keys {
		h.store.apply(key, writeSet[key], ts)
		batch[i] = replicateOp{Key: key, Value: writeSet[key], Version: ts}
	}

	var out []protocol.Envelope
	for _, peer := range h.Node.Peers {
		reply, err := h.Node.Reply(peer, replicateBody{
			Type:  "tarct_replicate",
			MsgID: h.Node.NextMsgID(),
			Txn:   batch,
		})
		if err != nil {
			continue
		}
		out = append(out, reply)
	}
	return out
}

func (h *Handler) handleTxn(env protocol.Envelope) []protocol.Envelope {
	var body protocol.TxnBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}

	st := h.stage(body.Txn)

	if _, conflict := h.conflictingKey(st.readSet); conflict {
		reply, err := h.Node.ErrorReply(env.Src, body.MsgID, protocol.CodeTxnConflict, "transaction aborted: conflict detected")
		if err != nil {
			return nil
		}
		return []protocol.Envelope{reply}
	}

	var out []protocol.Envelope
	if len(st.writeSet) > 0 {
		out = h.commit(st.writeSet)
	}

	reply, err := h.Node.Reply(env.Src, protocol.TxnOkBody{
		Type:      "txn_ok",
		MsgID:     h.Node.NextMsgID(),
		InReplyTo: body.MsgID,
		Txn:       st.results,
	})
	if err != nil {
		return out
	}
	return append(out, reply)
}

func (h *Handler) handleReplicate(env protocol.Envelope) []protocol.Envelope {
	var body replicateBody
	if err := protocol.Unmarshal(env.Body, &body); err != nil {
		return nil
	}
	for _, op := range body.Txn {
		h.store.apply(op.Key, op.Value, op.Version)
		// Keep commit_ts at or above every version seen, so the next
		// local commit is newer than any replicated write.
		if op.Version > h.commitTs {
			h.commitTs = op.Version
		}
	}
	return nil
}
