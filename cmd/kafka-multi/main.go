// Command kafka-multi runs the multi-node replicated-log workload:
// deterministic leader election, quorum-acknowledged replication, and
// forwarding from followers (internal/kafka).
package main

import (
	"log"

	"github.com/glomers/node-fleet/internal/kafka"
	"github.com/glomers/node-fleet/internal/runtime"
)

func main() {
	if err := runtime.Run(kafka.New()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
