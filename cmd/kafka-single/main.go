// Command kafka-single runs the single-node replicated-log workload: a
// per-key append log (internal/kvlog) with no peer replication, since
// there's only one node to hold the data.
package main

import (
	"log"

	"github.com/glomers/node-fleet/internal/kvlog"
	"github.com/glomers/node-fleet/internal/runtime"
)

func main() {
	if err := runtime.Run(kvlog.NewHandler()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
