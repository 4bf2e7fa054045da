// Command sort runs spec.md §8 scenario S6: N worker nodes each sort a
// disjoint slice of the shared region and signal completion via a header
// byte, polled by whichever node watches for the cluster to finish.
package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
	"github.com/dsmmcken/ivy-dsm/internal/workload"
)

var chunkSize int
var wait bool
var pollInterval time.Duration

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sort <config-path> <node-id>",
		Short: "Sort a disjoint per-node slice of the shared region",
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
			chunk := reverseSortedChunk(n.ID, chunkSize)
			if err := runSort(n.Memory, n.ID, numNodes, n.Cluster.BaseAddr, chunk); err != nil {
				return err
			}
			log.WithField("node_id", n.ID).Info("sort: chunk sorted and flagged complete")

			if wait {
				if err := waitForCompletion(n.Memory, n.Cluster.BaseAddr, numNodes, pollInterval); err != nil {
					return err
				}
				log.Info("sort: all nodes reported complete")
				return nil
			}
			return <-errCh
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 64, "number of uint32 elements this node sorts")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until every node signals completion, then exit instead of serving forever")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 5*time.Millisecond, "how often to re-check the completion flags while waiting")
	return cmd
}

// reverseSortedChunk generates a deterministic, descending (maximally
// unsorted) slice so the post-sort ordering check is meaningful.
func reverseSortedChunk(nodeID, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32((nodeID+1)*1000 + (n - i))
	}
	return out
}

// runSort sorts chunk locally and writes it into this node's data page
// (page index 1+selfID), then raises its completion flag (one byte per
// node in the header page at the region's base address).
func runSort(mem *workload.Memory, selfID, numNodes int, baseAddr uintptr, chunk []uint32) error {
	sorted := append([]uint32(nil), chunk...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	buf := make([]byte, len(sorted)*4)
	for i, v := range sorted {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	dataAddr := baseAddr + pagedir.PageSize*uintptr(1+selfID)
	if err := mem.Write(dataAddr, buf); err != nil {
		return err
	}
	return mem.WriteByte(baseAddr+uintptr(selfID), 1)
}

// waitForCompletion polls the header page's per-node flags until every
// node has signaled it finished sorting its chunk.
func waitForCompletion(mem *workload.Memory, baseAddr uintptr, numNodes int, pollInterval time.Duration) error {
	for {
		done := true
		for i := 0; i < numNodes; i++ {
			b, err := mem.ReadByte(baseAddr + uintptr(i))
			if err != nil {
				return err
			}
			if b != 1 {
				done = false
				break
			}
		}
		if done {
			return nil
		}
		time.Sleep(pollInterval)
	}
}

// readSortedChunk reads back one node's sorted chunk, for callers (tests,
// dsmmon-style inspection) that want to verify the result.
func readSortedChunk(mem *workload.Memory, baseAddr uintptr, nodeID, n int) ([]uint32, error) {
	dataAddr := baseAddr + pagedir.PageSize*uintptr(1+nodeID)
	buf, err := mem.Read(dataAddr, n*4)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
