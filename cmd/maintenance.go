package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var maintLog = logrus.WithField("component", "maintenance")

var sweepVacuum bool

var sweepCmd = &cobra.Command{
	Use:     "sweep",
	Short:   "Delete expired CVE and verification cache rows",
	GroupID: "maintenance",
	Long: `Remove derived cache rows whose TTL has passed. Primary threat data
and feed metrics are never expired. A failure aborts the sweep; nothing is
retried.`,
	RunE: runSweep,
}

var vacuumCmd = &cobra.Command{
	Use:     "vacuum",
	Short:   "Reclaim database space after deletions",
	GroupID: "maintenance",
	Long: `Rewrite the database file to reclaim free pages. Safe to run while
readers are active; do not run while the ingestion writer is active.`,
	RunE: runVacuum,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepVacuum, "vacuum", false,
		"Run a vacuum after the sweep")
}

func runSweep(cmd *cobra.Command, args []string) error {
	s, err := openStore(false)
	if err != nil {
		return err
	}
	defer s.Close()

	removed, err := s.CleanupExpired(cmd.Context())
	if err != nil {
		return err
	}
	maintLog.WithField("removed", removed).Info("expired cache rows deleted")

	if sweepVacuum {
		if err := s.Vacuum(cmd.Context()); err != nil {
			return err
		}
		maintLog.Info("vacuum complete")
	}
	return nil
}

func runVacuum(cmd *cobra.Command, args []string) error {
	s, err := openStore(false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Vacuum(cmd.Context()); err != nil {
		return err
	}
	maintLog.Info("vacuum complete")
	return nil
}
