// Package report assembles executive digest data from the threat cache.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/model"
	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/store"
)

// Data holds everything a rendered digest needs: window counters, daily
// trend, the highest-risk items and feed health.
type Data struct {
	GeneratedAt time.Time
	WindowHours int

	Stats  *model.ThreatStats
	Trends []model.TrendPoint

	TopThreats []*ThreatSummary
	KEVThreats []*ThreatSummary

	Feeds []*model.FeedMetric
}

// ThreatSummary is a simplified threat for display.
type ThreatSummary struct {
	ID        string
	Title     string
	Priority  string
	RiskScore float64
	CVEs      string
	Source    string
	Published string
	KEVListed bool
}

// Generate builds digest data for the given recency window.
func Generate(ctx context.Context, r store.Reader, windowHours int) (*Data, error) {
	data := &Data{
		GeneratedAt: time.Now().UTC(),
		WindowHours: windowHours,
	}

	stats, err := r.GetThreatStats(ctx, windowHours)
	if err != nil {
		return nil, fmt.Errorf("report stats: %w", err)
	}
	data.Stats = stats

	days := windowHours / 24
	if days < 1 {
		days = 1
	}
	trends, err := r.GetThreatTrends(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("report trends: %w", err)
	}
	data.Trends = trends

	top, err := r.GetThreatsByPriority(ctx, "", windowHours, 10)
	if err != nil {
		return nil, fmt.Errorf("report top threats: %w", err)
	}
	data.TopThreats = summarize(top)

	kev, err := r.GetKEVThreats(ctx, 10)
	if err != nil {
		return nil, fmt.Errorf("report kev threats: %w", err)
	}
	data.KEVThreats = summarize(kev)

	feeds, err := r.GetAllFeedMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("report feeds: %w", err)
	}
	data.Feeds = feeds

	return data, nil
}

func summarize(threats []*model.ThreatRecord) []*ThreatSummary {
	out := make([]*ThreatSummary, 0, len(threats))
	for _, t := range threats {
		out = append(out, &ThreatSummary{
			ID:        t.ID,
			Title:     t.Title,
			Priority:  string(t.Priority),
			RiskScore: t.RiskScore,
			CVEs:      strings.Join(t.CVEs, ", "),
			Source:    t.SourceName,
			Published: t.PublishedUTC.Format("2006-01-02"),
			KEVListed: t.KEVListed,
		})
	}
	return out
}

// WriteText renders the digest as plain text.
func WriteText(w io.Writer, d *Data) error {
	fmt.Fprintf(w, "Threat Intelligence Digest - last %dh (generated %s)\n\n",
		d.WindowHours, d.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(w, "Volume: %d total, %d critical, %d high, %d KEV-listed, %d with EPSS >= 0.7\n\n",
		d.Stats.TotalCount, d.Stats.CriticalCount, d.Stats.HighCount,
		d.Stats.KEVCount, d.Stats.HighEPSSCount)

	if len(d.Trends) > 0 {
		fmt.Fprintln(w, "Daily trend:")
		for _, p := range d.Trends {
			fmt.Fprintf(w, "  %s  total=%d critical=%d high=%d kev=%d\n",
				p.Day, p.Total, p.Critical, p.High, p.KEV)
		}
		fmt.Fprintln(w)
	}

	writeThreatSection(w, "Top threats by risk:", d.TopThreats)
	writeThreatSection(w, "Known-exploited threats:", d.KEVThreats)

	if len(d.Feeds) > 0 {
		fmt.Fprintln(w, "Feed health:")
		for _, f := range d.Feeds {
			name := f.FeedName
			if name == "" {
				name = f.FeedURL
			}
			fmt.Fprintf(w, "  %-30s score=%.1f items24h=%d errors24h=%d\n",
				name, f.OverallScore, f.ItemsCollected24h, f.ErrorCount24h)
		}
	}
	return nil
}

func writeThreatSection(w io.Writer, header string, threats []*ThreatSummary) {
	if len(threats) == 0 {
		return
	}
	fmt.Fprintln(w, header)
	for _, t := range threats {
		kev := ""
		if t.KEVListed {
			kev = " [KEV]"
		}
		fmt.Fprintf(w, "  %s [%-8s] risk=%.1f %s%s\n", t.Published, t.Priority, t.RiskScore, t.Title, kev)
		if t.CVEs != "" {
			fmt.Fprintf(w, "             %s (%s)\n", t.CVEs, t.Source)
		}
	}
	fmt.Fprintln(w)
}
