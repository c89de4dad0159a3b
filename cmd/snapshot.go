package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/snapshot"
)

// import command flags
var (
	importThreatsPath       string
	importVerificationsPath string
	importFeedsPath         string
)

var importCmd = &cobra.Command{
	Use:     "import",
	Short:   "Import legacy JSON cache snapshots",
	GroupID: "snapshot",
	Long: `Load flat JSON cache files into the database. Bad records are
logged and skipped; a single record never aborts the batch.`,
	Example: `  threatcache import --threats data/threats-cache.json
  threatcache import --verifications data/verification-cache.json --feeds data/feed-quality-metrics.json`,
	RunE: runImport,
}

// export command flags
var exportPath string

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Export cached threats to a JSON snapshot",
	GroupID: "snapshot",
	RunE:    runExport,
}

func init() {
	importCmd.Flags().StringVar(&importThreatsPath, "threats", "",
		"Threats snapshot file")
	importCmd.Flags().StringVar(&importVerificationsPath, "verifications", "",
		"Verification snapshot file")
	importCmd.Flags().StringVar(&importFeedsPath, "feeds", "",
		"Feed metrics snapshot file")

	exportCmd.Flags().StringVar(&exportPath, "out", "data/threats-export.json",
		"Output file")
}

func runImport(cmd *cobra.Command, args []string) error {
	if importThreatsPath == "" && importVerificationsPath == "" && importFeedsPath == "" {
		return fmt.Errorf("nothing to import: pass --threats, --verifications or --feeds")
	}

	s, err := openStore(false)
	if err != nil {
		return err
	}
	defer s.Close()

	if importThreatsPath != "" {
		n, err := snapshot.ImportThreats(cmd.Context(), s, importThreatsPath)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d threats\n", n)
	}
	if importVerificationsPath != "" {
		n, err := snapshot.ImportVerifications(cmd.Context(), s, importVerificationsPath)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d verifications\n", n)
	}
	if importFeedsPath != "" {
		n, err := snapshot.ImportFeedMetrics(cmd.Context(), s, importFeedsPath)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d feed metrics\n", n)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	s, err := openStore(true)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := snapshot.ExportThreats(cmd.Context(), s, exportPath)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d threats to %s\n", n, exportPath)
	return nil
}
