// cmd/harness is the CLI entry point, built with Cobra, for driving a
// compiled node binary through a scripted NDJSON exchange.
//
// Usage:
//
//	nodeharness run ./echo fixtures/echo.json
//	nodeharness fixture fixtures/echo.json
//	nodeharness trace ./broadcast-multi
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/glomers/node-fleet/internal/harness"
	"github.com/glomers/node-fleet/internal/protocol"
)

func main() {
	root := &cobra.Command{
		Use:   "nodeharness",
		Short: "Scenario runner for Gossip Glomers node binaries",
	}

	root.AddCommand(runCmd(), fixtureCmd(), traceCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── run ──────────────────────────────────────────────────────────────────────

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <binary> <fixture.json>",
		Short: "Drive a node binary through a fixture and report pass/fail per step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := harness.LoadScenario(args[1])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			results, err := harness.Run(ctx, args[0], sc)
			if err != nil {
				return err
			}

			failed := 0
			for i, r := range results {
				if r.Passed() {
					fmt.Printf("step %d: ok (%d replies)\n", i, len(r.Received))
					continue
				}
				failed++
				fmt.Printf("step %d: FAILED, missing types %v, got %d replies\n", i, r.Missing, len(r.Received))
			}
			if failed > 0 {
				return fmt.Errorf("%d/%d steps failed", failed, len(results))
			}
			fmt.Printf("all %d steps passed\n", len(results))
			return nil
		},
	}
}

// ─── fixture ──────────────────────────────────────────────────────────────────

func fixtureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fixture <fixture.json>",
		Short: "Parse a fixture file and print it back, to check it's well-formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := harness.LoadScenario(args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(sc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

// ─── trace ────────────────────────────────────────────────────────────────────

func traceCmd() *cobra.Command {
	var nodeID string
	var peers []string

	cmd := &cobra.Command{
		Use:   "trace <binary>",
		Short: "Send init, then relay stdin lines to the node and print every reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			proc, err := harness.Start(ctx, args[0])
			if err != nil {
				return err
			}
			defer proc.Close()

			initBody, err := protocol.Encode(protocol.Init{
				Type: "init", MsgID: 1, NodeID: nodeID, NodeIDs: peers,
			})
			if err != nil {
				return err
			}
			if err := proc.Send(protocol.Envelope{Src: "c0", Dest: nodeID, Body: initBody}); err != nil {
				return err
			}
			if env, ok := proc.Next(2 * time.Second); ok {
				fmt.Printf("<- %s\n", string(env.Body))
			}

			decoder := json.NewDecoder(os.Stdin)
			for {
				var body map[string]any
				if err := decoder.Decode(&body); err != nil {
					break
				}
				raw, err := protocol.Encode(body)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				if err := proc.Send(protocol.Envelope{Src: "c1", Dest: nodeID, Body: raw}); err != nil {
					return err
				}
				for _, reply := range proc.Drain(200 * time.Millisecond) {
					fmt.Printf("<- %s\n", string(reply.Body))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&nodeID, "node-id", "n1", "node ID to present in init")
	cmd.Flags().StringSliceVar(&peers, "node-ids", []string{"n1"}, "full cluster node_ids list for init")
	return cmd
}
