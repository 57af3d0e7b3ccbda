// Command broadcast-single runs the broadcast workload on a single node.
// It's the degenerate case of broadcast-multi (no peers to gossip with),
// kept as its own binary because the Gossip Glomers harness exercises it
// as a separate, simpler scenario before the multi-node ones.
package main

import (
	"log"

	"github.com/glomers/node-fleet/internal/broadcast"
	"github.com/glomers/node-fleet/internal/runtime"
)

func main() {
	if err := runtime.Run(broadcast.New()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
