// Command pingpong runs spec.md §8 scenario S1: two nodes alternate writes
// to offset 0 of page 0 of the shared region, each incrementing a shared
// counter on its turn, until the counter reaches a target value.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dsmmcken/ivy-dsm/internal/workload"
)

var rounds int
var pollInterval time.Duration

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pingpong <config-path> <node-id>",
		Short: "Run the two-node ping-pong counter workload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.NewEntry(logrus.StandardLogger())
			n, err := workload.Bootstrap(args[0], args[1], log)
			if err != nil {
				return err
			}
			n.Start()
			errCh := n.ListenInBackground()

			if err := runPingPong(n.Memory, n.ID, len(n.Cluster.Nodes), n.Cluster.BaseAddr, rounds, pollInterval); err != nil {
				return err
			}
			log.WithField("node_id", n.ID).Info("pingpong: done, serving RPCs forever")
			return <-errCh
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 100, "number of increments to reach before stopping")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Millisecond, "how often to re-check the counter while waiting for a turn")
	return cmd
}

// runPingPong alternates turns by parity: node N's turn is whenever the
// counter's value modulo numNodes equals N. It busy-polls with
// pollInterval between checks, which is the same "no cancellation, retry
// forever" posture the RPC transport uses for call_blocking (spec.md §5).
func runPingPong(mem *workload.Memory, selfID, numNodes int, baseAddr uintptr, rounds int, pollInterval time.Duration) error {
	for {
		counter, err := mem.ReadUint32(baseAddr)
		if err != nil {
			return err
		}
		if int(counter) >= rounds {
			return nil
		}
		if int(counter)%numNodes == selfID {
			if err := mem.WriteUint32(baseAddr, counter+1); err != nil {
				return err
			}
			continue
		}
		time.Sleep(pollInterval)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
