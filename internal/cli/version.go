package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/curbwatch/internal/version"
)

func newVersionCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"version":    version.Version,
					"git_sha":    version.GitSHA,
					"build_time": version.BuildTime,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Banner("curbctl"))
			return nil
		},
	}
}
