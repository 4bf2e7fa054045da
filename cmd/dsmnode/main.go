// Command dsmnode runs one DSM cluster node: it loads the cluster config,
// reserves the shared memory region, installs the fault interceptor, and
// serves the coherence engine's RPCs until killed. It never touches the
// shared region itself — cmd/workload/* binaries do that; dsmnode is the
// bare coherence participant a workload can also embed directly.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dsmmcken/ivy-dsm/internal/dsmerr"
	"github.com/dsmmcken/ivy-dsm/internal/workload"
)

func newRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "dsmnode <config-path> <node-id>",
		Short: "Run a single node of an IVY page-coherence cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			return run(args[0], args[1], logrus.NewEntry(log))
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func run(configPath, nodeIDArg string, log *logrus.Entry) error {
	n, err := workload.Bootstrap(configPath, nodeIDArg, log)
	if err != nil {
		return err
	}
	n.Start()
	bindDebugEndpoint(n.Server, n.Engine)

	log.WithFields(logrus.Fields{
		"node_id":    n.ID,
		"is_manager": n.IsManager,
		"listen":     n.Cluster.Nodes[n.ID],
	}).Info("dsmnode: starting")

	if err := n.Server.Listen(n.Cluster.Nodes[n.ID]); err != nil {
		return dsmerr.Wrap(dsmerr.KindOSSignal, "rpc server exited", err)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
