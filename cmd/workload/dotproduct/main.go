// Command dotproduct computes the dot product of two vectors split evenly
// across the cluster: each node multiplies its own slice, writes its
// partial sum into the shared region, and one watcher node sums the
// partials once every node has reported.
package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dsmmcken/ivy-dsm/internal/workload"
)

var elemsPerNode int
var wait bool
var pollInterval time.Duration

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dotproduct <config-path> <node-id>",
		Short: "Compute a dot product split across the cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.NewEntry(logrus.StandardLogger())
			n, err := workload.Bootstrap(args[0], args[1], log)
			if err != nil {
				return err
			}
			n.Start()
			errCh := n.ListenInBackground()

			numNodes := len(n.Cluster.Nodes)
			a, b := deterministicVectors(n.ID, elemsPerNode)
			partial := partialDotProduct(a, b)

			if err := reportPartial(n.Memory, n.Cluster.BaseAddr, numNodes, n.ID, partial); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"node_id": n.ID, "partial": partial}).Info("dotproduct: partial sum reported")

			if wait {
				total, err := waitAndSum(n.Memory, n.Cluster.BaseAddr, numNodes, pollInterval)
				if err != nil {
					return err
				}
				log.WithField("total", total).Info("dotproduct: all partials collected")
				fmt.Fprintf(cmd.OutOrStdout(), "%g\n", total)
				return nil
			}
			return <-errCh
		},
	}
	cmd.Flags().IntVar(&elemsPerNode, "elems", 16, "number of vector elements this node contributes")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until every node reports, sum the partials, print the total, then exit")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 5*time.Millisecond, "how often to re-check completion flags while waiting")
	return cmd
}

// deterministicVectors generates reproducible per-node slices of the two
// input vectors, so runs are comparable without a shared input file.
func deterministicVectors(nodeID, n int) (a, b []float64) {
	a = make([]float64, n)
	b = make([]float64, n)
	for i := range a {
		a[i] = float64(nodeID + i + 1)
		b[i] = float64(2*nodeID + i + 1)
	}
	return a, b
}

func partialDotProduct(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Header layout: numNodes float64 partial sums (8 bytes each) starting at
// baseAddr, followed by numNodes completion flag bytes.
func flagsOffset(numNodes int) uintptr { return uintptr(numNodes) * 8 }

func reportPartial(mem *workload.Memory, baseAddr uintptr, numNodes, selfID int, partial float64) error {
	if err := mem.WriteUint64(baseAddr+uintptr(selfID)*8, math.Float64bits(partial)); err != nil {
		return err
	}
	return mem.WriteByte(baseAddr+flagsOffset(numNodes)+uintptr(selfID), 1)
}

func waitAndSum(mem *workload.Memory, baseAddr uintptr, numNodes int, pollInterval time.Duration) (float64, error) {
	for {
		done := true
		for i := 0; i < numNodes; i++ {
			b, err := mem.ReadByte(baseAddr + flagsOffset(numNodes) + uintptr(i))
			if err != nil {
				return 0, err
			}
			if b != 1 {
				done = false
				break
			}
		}
		if done {
			break
		}
		time.Sleep(pollInterval)
	}

	var total float64
	for i := 0; i < numNodes; i++ {
		bits, err := mem.ReadUint64(baseAddr + uintptr(i)*8)
		if err != nil {
			return 0, err
		}
		total += math.Float64frombits(bits)
	}
	return total, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
