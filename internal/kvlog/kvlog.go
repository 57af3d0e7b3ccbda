// Package kvlog is the per-key append log shared by both kafka workloads:
// an ordered, offset-addressed list of messages per key, plus a
// per-key committed-offset watermark.
//
// The single-node kafka workload uses this package directly: every append
// goes through Append, which always assigns the next contiguous offset, so
// there are never any holes to worry about. The multi-node kafka workload
// (internal/kafka) builds on top of Log's lower-level InsertAt, because a
// follower receiving out-of-order replicate messages has to be able to
// write entry N+1 before entry N arrives.
package kvlog

// Entry is one (offset, message) pair, the shape poll_ok's msgs field
// serializes as a 2-element array.
type Entry struct {
	Offset uint64
	Msg    uint64
}

// Log is a single key's append-only entry list.
type Log struct {
	entries    map[uint64]uint64
	nextOffset uint64
	committed  uint64
}

func newLog() *Log {
	return &Log{entries: make(map[uint64]uint64)}
}

// Append adds msg at the next offset and returns that offset.
func (l *Log) Append(msg uint64) uint64 {
	offset := l.nextOffset
	l.entries[offset] = msg
	l.nextOffset++
	return offset
}

// InsertAt writes msg at an explicit offset, used by a kafka follower
// applying a replicate message. Unlike Append, this can leave a
// temporary hole if offset is ahead of what's been seen so far.
func (l *Log) InsertAt(offset, msg uint64) {
	l.entries[offset] = msg
	if offset+1 > l.nextOffset {
		l.nextOffset = offset + 1
	}
}

// ReadFrom returns every present entry at or after from, in ascending
// offset order. On a log that only ever grows via Append, this is
// inherently contiguous. On a log that also accepts InsertAt (kafka
// followers), this can return a sparse result across a hole — callers
// that require the contiguous-prefix interpretation should use
// ReadContiguousFrom instead.
func (l *Log) ReadFrom(from uint64) []Entry {
	out := make([]Entry, 0, len(l.entries))
	for off := from; off < l.nextOffset; off++ {
		if msg, ok := l.entries[off]; ok {
			out = append(out, Entry{Offset: off, Msg: msg})
		}
	}
	return out
}

// ReadContiguousFrom returns entries starting at from, stopping at the
// first missing offset — the interpretation a kafka follower's poll must
// use, since a gap means a replicate message hasn't arrived yet and later
// entries shouldn't be served out of order ahead of it.
func (l *Log) ReadContiguousFrom(from uint64) []Entry {
	var out []Entry
	for off := from; ; off++ {
		msg, ok := l.entries[off]
		if !ok {
			break
		}
		out = append(out, Entry{Offset: off, Msg: msg})
	}
	return out
}

// Commit advances the committed watermark to max(current, offset). A
// commit of an offset beyond the log's current end is permitted — it's a
// future commit intent, not an error.
func (l *Log) Commit(offset uint64) {
	if offset > l.committed {
		l.committed = offset
	}
}

// CommittedOffset returns the current committed watermark.
func (l *Log) CommittedOffset() uint64 {
	return l.committed
}

// Logs is the per-key collection of Log, keyed by the workload's string
// keys.
type Logs struct {
	keys map[string]*Log
}

// NewLogs constructs an empty Logs.
func NewLogs() *Logs {
	return &Logs{keys: make(map[string]*Log)}
}

// GetOrCreate returns the Log for key, creating it if this is the first
// time key has been seen.
func (l *Logs) GetOrCreate(key string) *Log {
	log, ok := l.keys[key]
	if !ok {
		log = newLog()
		l.keys[key] = log
	}
	return log
}

// Get returns the Log for key if it exists, without creating one.
func (l *Logs) Get(key string) (*Log, bool) {
	log, ok := l.keys[key]
	return log, ok
}

// Send appends msg to key's log, creating the log if needed, and returns
// the assigned offset.
func (l *Logs) Send(key string, msg uint64) uint64 {
	return l.GetOrCreate(key).Append(msg)
}

// Poll serves each requested key's entries at or after the requested
// offset, in offset order. Keys not present in this node's logs are
// silently omitted from the result rather than erroring.
func (l *Logs) Poll(offsets map[string]uint64) map[string][]Entry {
	result := make(map[string][]Entry, len(offsets))
	for key, from := range offsets {
		if log, ok := l.keys[key]; ok {
			result[key] = log.ReadFrom(from)
		}
	}
	return result
}

// CommitOffsets advances the committed watermark for each (key, offset)
// pair, creating the key's log if it hasn't been written to yet.
func (l *Logs) CommitOffsets(offsets map[string]uint64) {
	for key, off := range offsets {
		l.GetOrCreate(key).Commit(off)
	}
}

// ListCommittedOffsets returns the committed watermark for each requested
// key that exists; unknown keys are silently omitted.
func (l *Logs) ListCommittedOffsets(keys []string) map[string]uint64 {
	result := make(map[string]uint64, len(keys))
	for _, key := range keys {
		if log, ok := l.keys[key]; ok {
			result[key] = log.CommittedOffset()
		}
	}
	return result
}
