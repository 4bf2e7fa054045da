// Command latency measures coherence round-trip latency: it runs the same
// turn-taking protocol as pingpong but times each handoff, reporting
// min/max/average time between a node releasing the page and regaining
// write access to it.
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
		Use:   "latency <config-path> <node-id>",
		Short: "Measure page hand-off latency between two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.NewEntry(logrus.StandardLogger())
			n, err := workload.Bootstrap(args[0], args[1], log)
			if err != nil {
				return err
			}
			n.Start()
			errCh := n.ListenInBackground()

			stats, err := runLatency(n.Memory, n.ID, len(n.Cluster.Nodes), n.Cluster.BaseAddr, rounds, pollInterval)
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"node_id": n.ID,
				"rounds":  stats.rounds,
				"min":     stats.min,
				"max":     stats.max,
				"avg":     stats.avg(),
			}).Info("latency: measurement complete")
			fmt.Fprintf(cmd.OutOrStdout(), "rounds=%d min=%s max=%s avg=%s\n", stats.rounds, stats.min, stats.max, stats.avg())
			return <-errCh
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 50, "number of hand-offs to time")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 500*time.Microsecond, "how often to re-check for a turn while waiting")
	return cmd
}

type latencyStats struct {
	rounds int
	min    time.Duration
	max    time.Duration
	total  time.Duration
}

func (s latencyStats) avg() time.Duration {
	if s.rounds == 0 {
		return 0
	}
	return s.total / time.Duration(s.rounds)
}

// runLatency is runPingPong's counter protocol with per-round timing: a
// round is timed from the start of the node's wait (right after its
// previous write, or at the start of the run), through polling for its
// turn, to the moment its write lands.
func runLatency(mem *workload.Memory, selfID, numNodes int, baseAddr uintptr, rounds int, pollInterval time.Duration) (latencyStats, error) {
	stats := latencyStats{min: time.Duration(1<<63 - 1)}

	for r := 0; r < rounds; r++ {
		waitStart := time.Now()
		for {
			counter, err := mem.ReadUint32(baseAddr)
			if err != nil {
				return stats, err
			}
			if int(counter)%numNodes == selfID {
				if err := mem.WriteUint32(baseAddr, counter+1); err != nil {
					return stats, err
				}
				break
			}
			time.Sleep(pollInterval)
		}
		elapsed := time.Since(waitStart)

		stats.rounds++
		stats.total += elapsed
		if elapsed < stats.min {
			stats.min = elapsed
		}
		if elapsed > stats.max {
			stats.max = elapsed
		}
	}
	return stats, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
