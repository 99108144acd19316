package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/curbwatch/internal/config"
	"github.com/banshee-data/curbwatch/internal/evidence"
	"github.com/banshee-data/curbwatch/internal/security"
)

// newDaemonCmds returns the commands that talk to a running curbwatchd.
func newDaemonCmds(g *globals) []*cobra.Command {
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the detector state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if g.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "State:     %s (v%d)\n", st.State, st.Detection.Version)
			if st.Location.Found() {
				fmt.Fprintf(w, "Location:  %.5f,%.5f via %s\n", st.Location.Fix.Lat, st.Location.Fix.Lng, st.Location.Source)
			}
			if !st.LastFix.IsZero() {
				fmt.Fprintf(w, "Last fix:  %s  %.1f %s\n", st.LastFix.Timestamp.Format(time.RFC3339), st.Speed, st.Units)
			}
			fmt.Fprintf(w, "Cameras:   %d loaded, %d awaiting clearance\n", st.Cameras, len(st.PendingAlerts))
			fmt.Fprintf(w, "Evidence:  %d queued, %d dropped\n", st.EvidenceQueued, st.EvidenceLost)
			fmt.Fprintf(w, "Bridge:    %d submitted, %d skipped, %d rejected\n", st.Bridge.Submitted, st.Bridge.Skipped, st.Bridge.Rejected)
			return nil
		},
	}

	var (
		drain bool
		dir   string
	)
	evidenceCmd := &cobra.Command{
		Use:   "evidence",
		Short: "List queued evidence bundles",
		Long: `Evidence prints the queued evidence bundles. With --dir each bundle is
written to its own file named after the camera and bundle ID instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bundles, err := g.client().Evidence(cmd.Context(), drain)
			if err != nil {
				return err
			}
			if dir == "" {
				return writeJSON(cmd.OutOrStdout(), bundles)
			}
			paths, err := writeBundles(dir, bundles)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	evidenceCmd.Flags().BoolVar(&drain, "drain", false, "hand the queue over and empty it")
	evidenceCmd.Flags().StringVar(&dir, "dir", "", "write one JSON file per bundle into this directory")

	notParked := &cobra.Command{
		Use:   "not-parked",
		Short: "Cancel a parking detection and lock out the spot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := g.client().NotParked(cmd.Context())
			if err != nil {
				return err
			}
			if g.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "State: %s\n", resp.State)
			if resp.Zone != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Locked out %.0fm around %.5f,%.5f until %s\n",
					resp.Zone.Zone.RadiusM, resp.Zone.Zone.Center.Lat, resp.Zone.Zone.Center.Lng, resp.Zone.Expires.Format(time.RFC3339))
			}
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Force the detector to IDLE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := g.client().Reset(cmd.Context())
			if err != nil {
				return err
			}
			if g.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), ev)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", ev.From, ev.To, ev.Trigger)
			return nil
		},
	}

	configCmd := &cobra.Command{
		Use:   "config [patch.json]",
		Short: "Show the tuning configuration, or apply a partial one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cfg, err := g.client().Config(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var patch config.TuningConfig
			if err := json.Unmarshal(data, &patch); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			merged, err := g.client().UpdateConfig(cmd.Context(), &patch)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), merged)
		},
	}

	var (
		component string
		limit     int
	)
	decisions := &cobra.Command{
		Use:   "decisions",
		Short: "Print the newest decision log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := g.client().Decisions(cmd.Context(), component, limit)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), lines)
			return err
		},
	}
	decisions.Flags().StringVar(&component, "component", "", "only entries from this component (parking, dwell, camera, evidence, engine)")
	decisions.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries")

	return []*cobra.Command{status, evidenceCmd, notParked, reset, configCmd, decisions}
}

// writeBundles stores each bundle as <camera>-<id>.json under dir.
func writeBundles(dir string, bundles []evidence.Bundle) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(bundles))
	for _, b := range bundles {
		p, err := security.ExportPath(dir, b.CameraID+"-"+b.ID+".json")
		if err != nil {
			return paths, err
		}
		data, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			return paths, err
		}
		if err := os.WriteFile(p, append(data, '\n'), 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
