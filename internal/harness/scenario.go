package harness

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/glomers/node-fleet/internal/protocol"
)

// Step is one exchange in a Scenario: send Body to the node under test
// (from From, default "c1"), then wait WaitMS milliseconds for replies and
// check that every type in ExpectTypes shows up somewhere in what arrived.
type Step struct {
	From        string         `json:"from,omitempty"`
	Body        map[string]any `json:"body"`
	WaitMS      int            `json:"wait_ms,omitempty"`
	ExpectTypes []string       `json:"expect_types,omitempty"`
}

// Scenario drives one node binary through an init handshake followed by
// a sequence of Steps. It's the NDJSON-fixture analogue of a table-driven
// test, meant for exercising a compiled binary end-to-end rather than a
// Handler in-process.
type Scenario struct {
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
	Steps   []Step   `json:"steps"`
}

// StepResult records what happened when a Step ran.
type StepResult struct {
	Step     Step
	Received []protocol.Envelope
	Missing  []string // expected types that never showed up
}

// Passed reports whether every expected type in this step's result arrived.
func (r StepResult) Passed() bool { return len(r.Missing) == 0 }

const defaultWait = 150 * time.Millisecond

// Run starts binaryPath, drives it through the init handshake and every
// step in order, and returns one StepResult per step. It does not stop
// at the first failing step — callers see the full run.
func Run(ctx context.Context, binaryPath string, sc Scenario) ([]StepResult, error) {
	proc, err := Start(ctx, binaryPath)
	if err != nil {
		return nil, err
	}
	defer proc.Close()

	initBody, err := protocol.Encode(protocol.Init{
		Type: "init", MsgID: 1, NodeID: sc.NodeID, NodeIDs: sc.NodeIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode init: %w", err)
	}
	if err := proc.Send(protocol.Envelope{Src: "c0", Dest: sc.NodeID, Body: initBody}); err != nil {
		return nil, err
	}
	if _, ok := proc.Next(2 * time.Second); !ok {
		return nil, fmt.Errorf("node %s never replied to init", binaryPath)
	}

	results := make([]StepResult, 0, len(sc.Steps))
	for _, step := range sc.Steps {
		from := step.From
		if from == "" {
			from = "c1"
		}
		body, err := protocol.Encode(step.Body)
		if err != nil {
			return nil, fmt.Errorf("encode step body: %w", err)
		}
		if err := proc.Send(protocol.Envelope{Src: from, Dest: sc.NodeID, Body: body}); err != nil {
			return nil, err
		}

		wait := defaultWait
		if step.WaitMS > 0 {
			wait = time.Duration(step.WaitMS) * time.Millisecond
		}
		received := proc.Drain(wait)

		seen := make(map[string]bool, len(received))
		for _, env := range received {
			seen[protocol.BodyType(env.Body)] = true
		}
		var missing []string
		for _, want := range step.ExpectTypes {
			if !seen[want] {
				missing = append(missing, want)
			}
		}
		results = append(results, StepResult{Step: step, Received: received, Missing: missing})
	}
	return results, nil
}

// LoadScenario reads a Scenario from a JSON fixture file on disk.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var sc Scenario
	if err := protocol.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return sc, nil
}
