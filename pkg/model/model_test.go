package model

import (
	"strings"
	"testing"
	"time"
)

func TestPriorityLevelValid(t *testing.T) {
	tests := []struct {
		level PriorityLevel
		want  bool
	}{
		{PriorityCritical, true},
		{PriorityHigh, true},
		{PriorityMedium, true},
		{PriorityLow, true},
		{PriorityWatchlist, true},
		{"", false},
		{"urgent", false},
		{"Critical", false},
	}
	for _, tt := range tests {
		if got := tt.level.Valid(); got != tt.want {
			t.Errorf("PriorityLevel(%q).Valid() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestValidReliability(t *testing.T) {
	tests := []struct {
		rating string
		want   bool
	}{
		{"A", true},
		{"C", true},
		{"F", true},
		{"G", false},
		{"a", false},
		{"", false},
		{"AB", false},
	}
	for _, tt := range tests {
		if got := ValidReliability(tt.rating); got != tt.want {
			t.Errorf("ValidReliability(%q) = %v, want %v", tt.rating, got, tt.want)
		}
	}
}

func TestValidCredibility(t *testing.T) {
	tests := []struct {
		rating int
		want   bool
	}{
		{1, true},
		{3, true},
		{6, true},
		{0, false},
		{7, false},
		{-1, false},
	}
	for _, tt := range tests {
		if got := ValidCredibility(tt.rating); got != tt.want {
			t.Errorf("ValidCredibility(%d) = %v, want %v", tt.rating, got, tt.want)
		}
	}
}

func TestNewThreatRecordDefaults(t *testing.T) {
	r := NewThreatRecord("threat-1")
	if r.ID != "threat-1" {
		t.Errorf("ID = %q, want threat-1", r.ID)
	}
	if r.SourceReliability != "C" {
		t.Errorf("SourceReliability = %q, want C", r.SourceReliability)
	}
	if r.InfoCredibility != 3 {
		t.Errorf("InfoCredibility = %d, want 3", r.InfoCredibility)
	}
	if r.Priority != PriorityMedium {
		t.Errorf("Priority = %q, want medium", r.Priority)
	}
}

func TestThreatRecordValidate(t *testing.T) {
	valid := func() *ThreatRecord {
		r := NewThreatRecord("threat-1")
		r.PublishedUTC = time.Now().UTC()
		return r
	}

	tests := []struct {
		name    string
		mutate  func(*ThreatRecord)
		wantErr string
	}{
		{"valid", func(r *ThreatRecord) {}, ""},
		{"empty id", func(r *ThreatRecord) { r.ID = "" }, "empty id"},
		{"bad priority", func(r *ThreatRecord) { r.Priority = "severe" }, "invalid priority"},
		{"bad reliability", func(r *ThreatRecord) { r.SourceReliability = "X" }, "invalid source reliability"},
		{"bad credibility", func(r *ThreatRecord) { r.InfoCredibility = 9 }, "invalid info credibility"},
		{"missing published", func(r *ThreatRecord) { r.PublishedUTC = time.Time{} }, "missing published"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := r.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCacheRecordValidate(t *testing.T) {
	if err := (&CVERecord{CVEID: "CVE-2024-1234"}).Validate(); err != nil {
		t.Errorf("CVERecord.Validate() = %v, want nil", err)
	}
	if err := (&CVERecord{}).Validate(); err == nil {
		t.Error("CVERecord.Validate() with empty id = nil, want error")
	}
	if err := (&VerificationRecord{ThreatID: "threat-1"}).Validate(); err != nil {
		t.Errorf("VerificationRecord.Validate() = %v, want nil", err)
	}
	if err := (&VerificationRecord{}).Validate(); err == nil {
		t.Error("VerificationRecord.Validate() with empty threat id = nil, want error")
	}
	if err := (&FeedMetric{FeedURL: "https://example.com/feed"}).Validate(); err != nil {
		t.Errorf("FeedMetric.Validate() = %v, want nil", err)
	}
	if err := (&FeedMetric{FeedName: "named"}).Validate(); err == nil {
		t.Error("FeedMetric.Validate() with empty url = nil, want error")
	}
}

func TestNewFeedMetricDefaults(t *testing.T) {
	m := NewFeedMetric("CISA Alerts", "https://example.com/feed")
	if m.AccessibilityScore != 100.0 || m.UniquenessScore != 100.0 {
		t.Errorf("accessibility/uniqueness = %.1f/%.1f, want 100/100",
			m.AccessibilityScore, m.UniquenessScore)
	}
	if m.RelevanceScore != 50.0 || m.TimelinessScore != 50.0 {
		t.Errorf("relevance/timeliness = %.1f/%.1f, want 50/50",
			m.RelevanceScore, m.TimelinessScore)
	}
	if m.OverallScore != 75.0 {
		t.Errorf("overall = %.1f, want 75", m.OverallScore)
	}
	if m.LastCheck.IsZero() {
		t.Error("LastCheck not set")
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want string // RFC3339 rendering of the expected instant
	}{
		{"2024-03-15T10:30:00Z", "2024-03-15T10:30:00Z"},
		{"2024-03-15T10:30:00.123Z", "2024-03-15T10:30:00Z"},
		{"2024-03-15T10:30:00+02:00", "2024-03-15T08:30:00Z"},
		{"2024-03-15T10:30:00", "2024-03-15T10:30:00Z"},
		{"2024-03-15T10:30:00.123456", "2024-03-15T10:30:00Z"},
		{"2024-03-15 10:30:00", "2024-03-15T10:30:00Z"},
		{"2024-03-15", "2024-03-15T00:00:00Z"},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.in)
		if err != nil {
			t.Errorf("ParseTime(%q): %v", tt.in, err)
			continue
		}
		if got.Truncate(time.Second).Format(time.RFC3339) != tt.want {
			t.Errorf("ParseTime(%q) = %s, want %s", tt.in, got.Format(time.RFC3339), tt.want)
		}
	}
}

func TestParseTimeEmpty(t *testing.T) {
	got, err := ParseTime("")
	if err != nil {
		t.Fatalf("ParseTime(\"\"): %v", err)
	}
	if !got.IsZero() {
		t.Errorf("ParseTime(\"\") = %v, want zero time", got)
	}
}

func TestParseTimeInvalid(t *testing.T) {
	for _, in := range []string{"yesterday", "15/03/2024", "2024-13-99T99:99:99Z"} {
		if _, err := ParseTime(in); err == nil {
			t.Errorf("ParseTime(%q) = nil error, want failure", in)
		}
	}
}

func TestThreatStatsCountFor(t *testing.T) {
	s := &ThreatStats{
		CriticalCount: 5, HighCount: 4, MediumCount: 3, LowCount: 2, WatchlistCount: 1,
	}
	tests := []struct {
		level PriorityLevel
		want  int
	}{
		{PriorityCritical, 5},
		{PriorityHigh, 4},
		{PriorityMedium, 3},
		{PriorityLow, 2},
		{PriorityWatchlist, 1},
		{"bogus", 0},
	}
	for _, tt := range tests {
		if got := s.CountFor(tt.level); got != tt.want {
			t.Errorf("CountFor(%q) = %d, want %d", tt.level, got, tt.want)
		}
	}
}
