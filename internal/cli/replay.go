package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/curbwatch/internal/camera"
	"github.com/banshee-data/curbwatch/internal/config"
	"github.com/banshee-data/curbwatch/internal/decisionlog"
	"github.com/banshee-data/curbwatch/internal/engine"
	"github.com/banshee-data/curbwatch/internal/location"
	"github.com/banshee-data/curbwatch/internal/parking"
	"github.com/banshee-data/curbwatch/internal/timeutil"
)

// ReplaySummary is what a replay produced.
type ReplaySummary struct {
	engine.ReplayStats
	FinalState     parking.State  `json:"final_state"`
	DrivingStarted []time.Time    `json:"driving_started"`
	Parked         []ParkedAt     `json:"parked"`
	Alerts         []camera.Alert `json:"alerts"`
	Decisions      int            `json:"decisions"`
}

// ParkedAt is one parking detection.
type ParkedAt struct {
	At       time.Time         `json:"at"`
	Location location.Snapshot `json:"location"`
}

func newReplayCmd(g *globals) *cobra.Command {
	var (
		configPath  string
		camerasPath string
		outPath     string
	)
	cmd := &cobra.Command{
		Use:   "replay <signals.jsonl>",
		Short: "Run the detector over a recorded signal stream",
		Long: `Replay feeds a recorded signal stream through a fresh detector with a
simulated clock that follows the event timestamps. The decision log is
written to --out; the same input always yields the same log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			cfg := config.DefaultTuningConfig()
			if configPath != "" {
				if cfg, err = config.LoadTuningConfig(configPath); err != nil {
					return err
				}
			}
			var table *camera.Table
			if camerasPath != "" {
				if table, err = camera.LoadFile(camerasPath); err != nil {
					return err
				}
			}

			summary, decisions, err := runReplay(in, cfg, table)
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := writeDecisions(outPath, decisions, cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			if g.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			printSummary(cmd.ErrOrStderr(), summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "tuning config JSON file")
	cmd.Flags().StringVar(&camerasPath, "cameras", "", "camera table (.yaml or .csv)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", `decision log output path ("-" for stdout)`)
	return cmd
}

// runReplay drives a detector over r and returns the summary and the full
// decision log.
func runReplay(r io.Reader, cfg *config.TuningConfig, table *camera.Table) (ReplaySummary, *decisionlog.Memory, error) {
	var summary ReplaySummary
	decisions := &decisionlog.Memory{}
	clock := timeutil.NewMockClock(time.Time{})

	eng := engine.New(engine.Options{
		Config:   cfg,
		Clock:    clock,
		Recorder: decisions,
		Cameras:  table,
		Listener: engine.ListenerFuncs{
			DrivingStarted: func(at time.Time, _ location.Snapshot) {
				summary.DrivingStarted = append(summary.DrivingStarted, at)
			},
			ParkingDetected: func(at time.Time, loc location.Snapshot) {
				summary.Parked = append(summary.Parked, ParkedAt{At: at, Location: loc})
			},
			CameraAlert: func(a camera.Alert) {
				summary.Alerts = append(summary.Alerts, a)
			},
		},
	})

	stats, err := engine.Replay(r, eng, clock)
	summary.ReplayStats = stats
	summary.FinalState = eng.State()
	summary.Decisions = len(decisions.Entries())
	return summary, decisions, err
}

func writeDecisions(path string, decisions *decisionlog.Memory, stdout io.Writer) error {
	if path == "-" {
		_, err := decisions.WriteTo(stdout)
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := decisions.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, s ReplaySummary) {
	fmt.Fprintf(w, "Applied %d signals (%d skipped), %d decisions\n", s.Applied, s.Skipped, s.Decisions)
	for _, at := range s.DrivingStarted {
		fmt.Fprintf(w, "  driving  %s\n", at.Format(time.RFC3339))
	}
	for _, p := range s.Parked {
		fmt.Fprintf(w, "  parked   %s  %.5f,%.5f (%s)\n", p.At.Format(time.RFC3339), p.Location.Fix.Lat, p.Location.Fix.Lng, p.Location.Source)
	}
	for _, a := range s.Alerts {
		fmt.Fprintf(w, "  camera   %s  %s %s %q %.0fm\n", a.At.Format(time.RFC3339), a.CameraID, a.Type, a.Address, a.DistanceMeters)
	}
	fmt.Fprintf(w, "Final state: %s\n", s.FinalState)
}
