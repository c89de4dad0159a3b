package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/internal/report"
)

// report command flags
var reportSinceHours int

var reportCmd = &cobra.Command{
	Use:     "report",
	Short:   "Generate a plain-text threat digest",
	GroupID: "query",
	Long: `Assemble a digest of the cache for a recency window: headline
counters, daily trends, the highest-risk threats and feed health.`,
	Example: `  threatcache report
  threatcache report --since 168 > digest.txt`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().IntVar(&reportSinceHours, "since", 168,
		"Recency window in hours")
}

func runReport(cmd *cobra.Command, args []string) error {
	s, err := openStore(true)
	if err != nil {
		return err
	}
	defer s.Close()

	data, err := report.Generate(cmd.Context(), s, reportSinceHours)
	if err != nil {
		return err
	}
	return report.WriteText(os.Stdout, data)
}
