// Command dsmmon is a live operator view of a DSM cluster's page
// directory: it polls the manager's GET /debug/directory endpoint and
// renders a table of owner/copyset/access per page. Read-only — it never
// issues a coherence RPC itself.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/dsmmcken/ivy-dsm/internal/clipref"
	"github.com/dsmmcken/ivy-dsm/internal/config"
)

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dsmmon <config-path>",
		Short: "Live TUI of a DSM cluster's manager-side page directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cluster, err := config.Load(args[0])
			if err != nil {
				return err
			}
			prefs, err := clipref.Load()
			if err != nil {
				return err
			}

			addr := cluster.Nodes[cluster.ManagerID]
			p := tea.NewProgram(NewModel(addr, prefs.Color))
			_, err = p.Run()
			return err
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
