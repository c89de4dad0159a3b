// Package filter provides display-filter expressions over threat records
// using expr-lang/expr. Consumers compile an expression once and apply it
// to query results client-side, e.g.:
//
//	risk_score > 7.0 && kev_listed
//	priority in ["critical", "high"] && has_cve("CVE-2024-1234")
//	source_name contains "CISA" || epss_score >= 0.7
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/model"
)

// ThreatEnv is the evaluation environment for one threat record. Field
// names mirror the persisted column names so an expression reads like a
// query predicate.
type ThreatEnv struct {
	ID             string   `expr:"id"`
	SourceType     string   `expr:"source_type"`
	SourceName     string   `expr:"source_name"`
	Title          string   `expr:"title"`
	Summary        string   `expr:"summary"`
	CVEs           []string `expr:"cves"`
	CVSSv3         float64  `expr:"cvss_v3"`
	EPSSScore      float64  `expr:"epss_score"`
	EPSSPercentile float64  `expr:"epss_percentile"`
	KEVListed      bool     `expr:"kev_listed"`
	ExploitStatus  string   `expr:"exploit_status"`
	Reliability    string   `expr:"admiralty_source_reliability"`
	Credibility    int      `expr:"admiralty_info_credibility"`
	Priority       string   `expr:"priority"`
	RiskScore      float64  `expr:"risk_score"`
	CrownJewels    []string `expr:"affected_crown_jewels"`
	ExposureMatch  []string `expr:"asset_exposure_match"`
	AgeHours       float64  `expr:"age_hours"`

	HasCVE          func(string) bool `expr:"has_cve"`
	Affects         func(string) bool `expr:"affects"`
	PriorityAtLeast func(string) bool `expr:"priority_at_least"`
}

// Filter is a compiled threat filter expression.
type Filter struct {
	source  string
	program *vm.Program
}

// Compile parses and type-checks a filter expression against ThreatEnv.
func Compile(expression string) (*Filter, error) {
	program, err := expr.Compile(expression,
		expr.Env(ThreatEnv{}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expression, err)
	}
	return &Filter{source: expression, program: program}, nil
}

// String returns the original expression.
func (f *Filter) String() string {
	return f.source
}

// Match evaluates the filter against one threat. Evaluation errors count
// as no-match.
func (f *Filter) Match(t *model.ThreatRecord) bool {
	result, err := expr.Run(f.program, threatToEnv(t))
	if err != nil {
		return false
	}
	b, ok := result.(bool)
	return ok && b
}

// Apply returns the subset of threats matching the filter, preserving the
// input order. A nil filter matches everything.
func Apply(threats []*model.ThreatRecord, f *Filter) []*model.ThreatRecord {
	if f == nil {
		return threats
	}
	var out []*model.ThreatRecord
	for _, t := range threats {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// priorityOrder maps levels to descending urgency for priority_at_least.
var priorityOrder = map[string]int{
	string(model.PriorityCritical):  5,
	string(model.PriorityHigh):      4,
	string(model.PriorityMedium):    3,
	string(model.PriorityLow):       2,
	string(model.PriorityWatchlist): 1,
}

func ageHours(t *model.ThreatRecord) float64 {
	return time.Since(t.PublishedUTC).Hours()
}

func threatToEnv(t *model.ThreatRecord) ThreatEnv {
	env := ThreatEnv{
		ID:             t.ID,
		SourceType:     t.SourceType,
		SourceName:     t.SourceName,
		Title:          t.Title,
		Summary:        t.Summary,
		CVEs:           t.CVEs,
		CVSSv3:         t.CVSSv3,
		EPSSScore:      t.EPSSScore,
		EPSSPercentile: t.EPSSPercentile,
		KEVListed:      t.KEVListed,
		ExploitStatus:  t.ExploitStatus,
		Reliability:    t.SourceReliability,
		Credibility:    t.InfoCredibility,
		Priority:       string(t.Priority),
		RiskScore:      t.RiskScore,
		CrownJewels:    t.AffectedCrownJewels,
		ExposureMatch:  t.AssetExposureMatch,
	}
	if !t.PublishedUTC.IsZero() {
		env.AgeHours = ageHours(t)
	}

	env.HasCVE = func(id string) bool {
		for _, cve := range t.CVEs {
			if strings.EqualFold(cve, id) {
				return true
			}
		}
		return false
	}
	env.Affects = func(label string) bool {
		for _, cj := range t.AffectedCrownJewels {
			if strings.EqualFold(cj, label) {
				return true
			}
		}
		for _, m := range t.AssetExposureMatch {
			if strings.EqualFold(m, label) {
				return true
			}
		}
		return false
	}
	env.PriorityAtLeast = func(level string) bool {
		return priorityOrder[string(t.Priority)] >= priorityOrder[strings.ToLower(level)]
	}
	return env
}
