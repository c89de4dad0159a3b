package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/filter"
	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/model"
)

// stats command flags
var statsSinceHours int

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show threat statistics for a recency window",
	GroupID: "query",
	Example: `  threatcache stats
  threatcache stats --since 168`,
	RunE: runStats,
}

// trends command flags
var trendsDays int

var trendsCmd = &cobra.Command{
	Use:     "trends",
	Short:   "Show daily threat counts",
	GroupID: "query",
	Example: `  threatcache trends --days 7`,
	RunE:    runTrends,
}

// search command flags
var (
	searchLimit int
	searchWhere string
)

var searchCmd = &cobra.Command{
	Use:     "search <query>",
	Short:   "Full-text search over cached threats",
	GroupID: "query",
	Long: `Search threat titles, summaries, CVE lists and source names.
An optional --where expression narrows the results further, e.g.
  --where 'risk_score > 7 && kev_listed'
  --where 'priority in ["critical", "high"]'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

// kev command flags
var kevLimit int

var kevCmd = &cobra.Command{
	Use:     "kev",
	Short:   "List known-exploited (KEV) threats",
	GroupID: "query",
	RunE:    runKEV,
}

var feedsCmd = &cobra.Command{
	Use:     "feeds",
	Short:   "Show feed quality metrics",
	GroupID: "query",
	RunE:    runFeeds,
}

func init() {
	statsCmd.Flags().IntVar(&statsSinceHours, "since", 24,
		"Recency window in hours")
	trendsCmd.Flags().IntVar(&trendsDays, "days", 7,
		"Number of days of history")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 50,
		"Maximum number of results")
	searchCmd.Flags().StringVar(&searchWhere, "where", "",
		"Filter expression applied to results")
	kevCmd.Flags().IntVar(&kevLimit, "limit", 50,
		"Maximum number of results")
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := openStore(true)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.GetThreatStats(cmd.Context(), statsSinceHours)
	if err != nil {
		return err
	}

	fmt.Printf("Threats in the last %dh:\n", statsSinceHours)
	for _, p := range model.PriorityLevels() {
		fmt.Printf("  %-10s %d\n", p, stats.CountFor(p))
	}
	fmt.Printf("  %-10s %d\n", "kev", stats.KEVCount)
	fmt.Printf("  %-10s %d\n", "epss>=0.7", stats.HighEPSSCount)
	fmt.Printf("  %-10s %d\n", "total", stats.TotalCount)
	return nil
}

func runTrends(cmd *cobra.Command, args []string) error {
	s, err := openStore(true)
	if err != nil {
		return err
	}
	defer s.Close()

	trends, err := s.GetThreatTrends(cmd.Context(), trendsDays)
	if err != nil {
		return err
	}

	fmt.Printf("%-12s %7s %9s %6s %5s\n", "DAY", "TOTAL", "CRITICAL", "HIGH", "KEV")
	for _, p := range trends {
		fmt.Printf("%-12s %7d %9d %6d %5d\n", p.Day, p.Total, p.Critical, p.High, p.KEV)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	var f *filter.Filter
	if searchWhere != "" {
		var err error
		f, err = filter.Compile(searchWhere)
		if err != nil {
			return err
		}
	}

	s, err := openStore(true)
	if err != nil {
		return err
	}
	defer s.Close()

	threats, err := s.SearchThreats(cmd.Context(), strings.Join(args, " "), searchLimit)
	if err != nil {
		return err
	}
	printThreats(filter.Apply(threats, f))
	return nil
}

func runKEV(cmd *cobra.Command, args []string) error {
	s, err := openStore(true)
	if err != nil {
		return err
	}
	defer s.Close()

	threats, err := s.GetKEVThreats(cmd.Context(), kevLimit)
	if err != nil {
		return err
	}
	printThreats(threats)
	return nil
}

func runFeeds(cmd *cobra.Command, args []string) error {
	s, err := openStore(true)
	if err != nil {
		return err
	}
	defer s.Close()

	metrics, err := s.GetAllFeedMetrics(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("%-30s %7s %6s %6s\n", "FEED", "SCORE", "24H", "ERRS")
	for _, m := range metrics {
		name := m.FeedName
		if name == "" {
			name = m.FeedURL
		}
		fmt.Printf("%-30s %7.1f %6d %6d\n", name, m.OverallScore, m.ItemsCollected24h, m.ErrorCount24h)
	}
	return nil
}

func printThreats(threats []*model.ThreatRecord) {
	if len(threats) == 0 {
		fmt.Println("no matching threats")
		return
	}
	for _, t := range threats {
		kev := " "
		if t.KEVListed {
			kev = "*"
		}
		fmt.Printf("%s [%-8s] risk=%.1f %s%s\n",
			t.PublishedUTC.Format("2006-01-02"), t.Priority, t.RiskScore, kev, t.Title)
		if len(t.CVEs) > 0 {
			fmt.Printf("             %s (%s)\n", strings.Join(t.CVEs, ", "), t.SourceName)
		}
	}
}
