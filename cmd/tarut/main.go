// Command tarut runs the read-uncommitted transactional KV workload
// (internal/tarut): transactions apply and reply immediately, with writes
// shipped to peers asynchronously and no isolation between nodes.
package main

import (
	"log"

	"github.com/glomers/node-fleet/internal/runtime"
	"github.com/glomers/node-fleet/internal/tarut"
)

func main() {
	if err := runtime.Run(tarut.New()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
