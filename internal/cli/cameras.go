package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/curbwatch/internal/camera"
	"github.com/banshee-data/curbwatch/internal/db"
)

func newCamerasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cameras",
		Short: "Manage the camera table",
	}
	cmd.AddCommand(newCamerasImportCmd(), newCamerasExportCmd())
	return cmd
}

func newCamerasImportCmd() *cobra.Command {
	var (
		typeName string
		outPath  string
		dbPath   string
	)
	cmd := &cobra.Command{
		Use:   "import <export.csv>",
		Short: "Convert a city open-data CSV export into a camera table",
		Long: `Import reads a city camera export and writes it as a YAML camera table,
or stores it directly in a state database with --db. Exports without a
type column are speed cameras unless --type or the file name says
otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := camera.Speed
			if strings.Contains(strings.ToLower(filepath.Base(args[0])), "red") {
				typ = camera.RedLight
			}
			if typeName != "" {
				t, err := camera.ParseType(typeName)
				if err != nil {
					return err
				}
				typ = t
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			defs, err := camera.ParseCSV(f, typ)
			if err != nil {
				return err
			}
			table, err := camera.NewTable(defs)
			if err != nil {
				return err
			}

			if dbPath != "" {
				database, err := db.NewDB(dbPath)
				if err != nil {
					return err
				}
				defer database.Close()
				if err := database.ReplaceCameras(table.All()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Stored %d cameras in %s\n", table.Len(), dbPath)
				return nil
			}

			if outPath == "" || outPath == "-" {
				return camera.WriteYAML(cmd.OutOrStdout(), table.All())
			}
			out, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := camera.WriteYAML(out, table.All()); err != nil {
				out.Close()
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d cameras to %s\n", table.Len(), outPath)
			return out.Close()
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "camera type for exports without a type column (speed or redlight)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "YAML output path (stdout when empty)")
	cmd.Flags().StringVar(&dbPath, "db", "", "store into this state database instead of writing YAML")
	return cmd
}

func newCamerasExportCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the camera table stored in a state database as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.NewDB(dbPath)
			if err != nil {
				return err
			}
			defer database.Close()
			defs, err := database.LoadCameras()
			if err != nil {
				return err
			}
			return camera.WriteYAML(cmd.OutOrStdout(), defs)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "curbwatch.db", "state database")
	return cmd
}
