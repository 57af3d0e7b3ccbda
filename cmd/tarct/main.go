// Command tarct runs the read-committed transactional KV workload
// (internal/tarct): transactions stage reads and writes locally, check for
// conflicts against the committed store at commit time, and abort rather
// than commit over a stale snapshot.
package main

import (
	"log"

	"github.com/glomers/node-fleet/internal/runtime"
	"github.com/glomers/node-fleet/internal/tarct"
)

func main() {
	if err := runtime.Run(tarct.New()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
