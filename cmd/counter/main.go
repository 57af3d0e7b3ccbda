// Command counter runs the grow-only counter workload: every node tracks
// its own per-node version-vector entry (internal/counter) and gossips the
// full map to its peers every 100ms.
package main

import (
	"log"

	"github.com/glomers/node-fleet/internal/counter"
	"github.com/glomers/node-fleet/internal/runtime"
)

func main() {
	if err := runtime.Run(counter.New()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
