// Command broadcast-multi runs the broadcast workload across a cluster,
// using delta gossip over a random k-regular overlay (internal/broadcast)
// to converge every node's message set.
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
