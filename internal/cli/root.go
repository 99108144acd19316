// Package cli implements curbctl, the operator CLI: offline replay and
// camera table import, schema migrations, and a client for a running
// curbwatchd.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/curbwatch/internal/api"
)

// DefaultAddr is where curbwatchd listens by default.
const DefaultAddr = "http://127.0.0.1:8080"

type globals struct {
	addr       string
	jsonOutput bool
}

// NewRootCommand builds the curbctl command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "curbctl",
		Short: "curbctl - operate a curbwatch detector",
		Long: `curbctl replays recorded sensor streams through the detector, imports
camera tables, migrates the state database and talks to a running
curbwatchd.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.addr, "addr", DefaultAddr, "curbwatchd base URL")
	root.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(
		newReplayCmd(g),
		newCamerasCmd(),
		newMigrateCmd(g),
		newVersionCmd(g),
	)
	root.AddCommand(newDaemonCmds(g)...)
	return root
}

// Execute runs curbctl with os.Args.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func (g *globals) client() *api.Client {
	return api.NewClient(g.addr, nil)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
