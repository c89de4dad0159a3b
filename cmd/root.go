// Package cmd provides the CLI commands for the threat-intel cache using Cobra.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/store/sqlite"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "threatcache",
	Short: "Local threat intelligence cache",
	Long: `threatcache is the query and maintenance surface for the local
threat intelligence cache. Ingestion writes advisories into an embedded
SQLite store; this tool answers queries against it and runs maintenance.

Examples:
  threatcache stats --since 24                     # Dashboard counters
  threatcache search "CVE-2024-1234"               # Full-text search
  threatcache search apache --where 'risk_score > 7 && kev_listed'
  threatcache kev --limit 20                       # Known-exploited threats
  threatcache sweep                                # Remove expired cache rows
  threatcache import --threats data/threats-cache.json`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore constructs the store handle every subcommand works against.
func openStore(readOnly bool) (*sqlite.CacheStore, error) {
	return sqlite.New(sqlite.Config{Path: dbPath, ReadOnly: readOnly})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "data/threatcache.db",
		"Path to the cache database file")

	rootCmd.AddGroup(
		&cobra.Group{ID: "query", Title: "Query Commands:"},
		&cobra.Group{ID: "maintenance", Title: "Maintenance Commands:"},
		&cobra.Group{ID: "snapshot", Title: "Snapshot Commands:"},
	)

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(trendsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(kevCmd)
	rootCmd.AddCommand(feedsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(vacuumCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
