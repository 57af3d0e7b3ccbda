// Package idgen generates 64-bit IDs that are unique across every node in
// a cluster without any coordination between them.
//
// Big idea:
//
// Split the 64 bits into three fields that can never collide for different
// reasons: a timestamp (so IDs minted apart in time differ), a per-node
// hash (so IDs minted on different nodes at the same millisecond differ),
// and a per-millisecond sequence (so IDs minted on the SAME node in the
// SAME millisecond still differ). As long as no node mints more than 4096
// IDs in a single millisecond and no two node IDs hash to the same 10-bit
// value (see New), the three fields together guarantee global uniqueness
// with zero network round-trips.
package idgen

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	timeBits = 42
	nodeBits = 10
	seqBits  = 12

	timeMask = (uint64(1) << timeBits) - 1
	nodeMask = (uint64(1) << nodeBits) - 1
)

// Generator mints IDs for one node. The zero value is not usable; build
// one with New.
type Generator struct {
	mu       sync.Mutex
	nodeHash uint64
	lastMs   uint64
	seq      uint64
}

// New builds a Generator whose node-hash field is derived from nodeID.
// Using a hash instead of, say, a small integer index means the generator
// needs no coordination with the rest of the cluster to pick a disjoint
// slot — two distinct node IDs collide in the 10-bit hash space only with
// the ordinary birthday-bound probability of any 1024-bucket hash, which
// the workload's cluster sizes never approach.
func New(nodeID string) *Generator {
	return &Generator{
		nodeHash: xxhash.Sum64String(nodeID) & nodeMask,
	}
}

// Generate returns a fresh, process-and-cluster-unique ID. Safe for
// concurrent use, though the runtime's single-threaded handler model means
// it is only ever called from one goroutine in practice.
func (g *Generator) Generate() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := uint64(time.Now().UnixMilli()) & timeMask
	if ms == g.lastMs {
		g.seq++
	} else {
		g.lastMs = ms
		g.seq = 0
	}

	return (ms << (nodeBits + seqBits)) | (g.nodeHash << seqBits) | g.seq
}
