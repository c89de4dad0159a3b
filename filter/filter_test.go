package filter

import (
	"testing"
	"time"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/model"
)

func testThreat() *model.ThreatRecord {
	return &model.ThreatRecord{
		ID:                  "t1",
		SourceType:          "rss",
		SourceName:          "CISA Alerts",
		Title:               "Critical RCE in ExampleServer",
		Summary:             "Remote code execution via crafted packet.",
		CVEs:                []string{"CVE-2024-1234"},
		CVSSv3:              9.8,
		EPSSScore:           0.92,
		KEVListed:           true,
		ExploitStatus:       "ITW",
		SourceReliability:   "B",
		InfoCredibility:     2,
		Priority:            model.PriorityCritical,
		RiskScore:           9.5,
		PublishedUTC:        time.Now().UTC().Add(-2 * time.Hour),
		AffectedCrownJewels: []string{"AD"},
		AssetExposureMatch:  []string{"internet-facing"},
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		expression string
		wantErr    bool
	}{
		{"risk_score > 7.0", false},
		{"kev_listed && priority == \"critical\"", false},
		{"has_cve(\"CVE-2024-1234\")", false},
		{"risk_score >", true},      // syntax error
		{"no_such_field > 1", true}, // unknown identifier
		{"risk_score + 1", true},    // not boolean
		{"title contains 7", true},  // type mismatch
	}
	for _, tt := range tests {
		_, err := Compile(tt.expression)
		if (err != nil) != tt.wantErr {
			t.Errorf("Compile(%q) error = %v, wantErr %v", tt.expression, err, tt.wantErr)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		expression string
		want       bool
	}{
		{"risk_score > 7.0", true},
		{"risk_score > 9.5", false},
		{"kev_listed", true},
		{"priority == \"critical\"", true},
		{"priority in [\"critical\", \"high\"]", true},
		{"source_name contains \"CISA\"", true},
		{"cvss_v3 >= 9.0 && epss_score >= 0.7", true},
		{"exploit_status == \"PoC\"", false},
		{"admiralty_source_reliability == \"B\"", true},
		{"admiralty_info_credibility <= 2", true},
		{"\"CVE-2024-1234\" in cves", true},
		{"has_cve(\"CVE-2024-1234\")", true},
		{"has_cve(\"cve-2024-1234\")", true}, // case-insensitive
		{"has_cve(\"CVE-2020-0001\")", false},
		{"affects(\"AD\")", true},
		{"affects(\"internet-facing\")", true},
		{"affects(\"Exchange\")", false},
		{"priority_at_least(\"high\")", true},
		{"priority_at_least(\"critical\")", true},
		{"age_hours < 24", true},
		{"age_hours > 24", false},
	}
	for _, tt := range tests {
		f, err := Compile(tt.expression)
		if err != nil {
			t.Errorf("Compile(%q): %v", tt.expression, err)
			continue
		}
		if got := f.Match(testThreat()); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.expression, got, tt.want)
		}
	}
}

func TestPriorityAtLeastOrdering(t *testing.T) {
	low := testThreat()
	low.Priority = model.PriorityLow

	f, err := Compile("priority_at_least(\"medium\")")
	if err != nil {
		t.Fatal(err)
	}
	if f.Match(low) {
		t.Error("low threat matched priority_at_least(medium)")
	}

	medium := testThreat()
	medium.Priority = model.PriorityMedium
	if !f.Match(medium) {
		t.Error("medium threat did not match priority_at_least(medium)")
	}
}

func TestApply(t *testing.T) {
	a := testThreat()
	b := testThreat()
	b.ID = "t2"
	b.RiskScore = 3.0
	threats := []*model.ThreatRecord{a, b}

	f, err := Compile("risk_score > 5.0")
	if err != nil {
		t.Fatal(err)
	}

	got := Apply(threats, f)
	if len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("Apply() = %v records, want only t1", len(got))
	}

	// Nil filter passes everything through unchanged.
	if got := Apply(threats, nil); len(got) != 2 {
		t.Errorf("Apply(nil) = %d records, want 2", len(got))
	}
}

func TestString(t *testing.T) {
	const src = "risk_score > 7.0"
	f, err := Compile(src)
	if err != nil {
		t.Fatal(err)
	}
	if f.String() != src {
		t.Errorf("String() = %q, want %q", f.String(), src)
	}
}
