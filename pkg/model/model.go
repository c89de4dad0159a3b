// Package model defines the record types persisted by the threat-intel cache.
// These are storage-friendly values: list fields are plain string slices and
// are serialized to JSON only at the storage boundary.
package model

import (
	"fmt"
	"time"
)

// ────────────────────────────────────────────────────────────────────────────────
// Enumerations
// ────────────────────────────────────────────────────────────────────────────────

// PriorityLevel is the triage category assigned to a threat.
type PriorityLevel string

const (
	PriorityCritical  PriorityLevel = "critical"
	PriorityHigh      PriorityLevel = "high"
	PriorityMedium    PriorityLevel = "medium"
	PriorityLow       PriorityLevel = "low"
	PriorityWatchlist PriorityLevel = "watchlist"
)

// PriorityLevels returns all levels in descending order of urgency.
func PriorityLevels() []PriorityLevel {
	return []PriorityLevel{
		PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityWatchlist,
	}
}

// Valid reports whether p is one of the fixed priority categories.
func (p PriorityLevel) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityWatchlist:
		return true
	}
	return false
}

// ValidReliability reports whether r is a NATO Admiralty source rating (A-F).
func ValidReliability(r string) bool {
	return len(r) == 1 && r[0] >= 'A' && r[0] <= 'F'
}

// ValidCredibility reports whether c is an Admiralty information credibility
// rating (1-6).
func ValidCredibility(c int) bool {
	return c >= 1 && c <= 6
}

// ────────────────────────────────────────────────────────────────────────────────
// ThreatRecord
// ────────────────────────────────────────────────────────────────────────────────

// ThreatRecord is one observed advisory or event. The id is the primary key;
// writes are last-writer-wins upserts and primary threat data never expires.
type ThreatRecord struct {
	ID         string `json:"id"`
	SourceType string `json:"source_type"` // rss, vendor, cert
	SourceName string `json:"source_name"`
	SourceURL  string `json:"source_url"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`

	PublishedUTC time.Time `json:"published_utc"`
	CollectedUTC time.Time `json:"collected_utc"`

	// CVE data
	CVEs []string `json:"cves"`

	// Enrichment data
	CVSSv3         float64 `json:"cvss_v3"`
	EPSSScore      float64 `json:"epss_score"`
	EPSSPercentile float64 `json:"epss_percentile"`
	KEVListed      bool    `json:"kev_listed"`
	ExploitStatus  string  `json:"exploit_status,omitempty"` // ITW, PoC, or empty

	// Admiralty ratings
	SourceReliability string `json:"admiralty_source_reliability"` // A-F
	InfoCredibility   int    `json:"admiralty_info_credibility"`   // 1-6

	// Processing metadata
	Priority  PriorityLevel `json:"priority_level"`
	RiskScore float64       `json:"risk_score"`

	// Verification
	VerificationConfidence float64   `json:"verification_confidence,omitempty"`
	VerificationMethod     string    `json:"verification_method,omitempty"`
	VerificationTimestamp  time.Time `json:"verification_timestamp,omitempty"`

	// Crown jewel correlation
	AffectedCrownJewels []string `json:"affected_crown_jewels"`
	AssetExposureMatch  []string `json:"asset_exposure_match"`

	// Deduplication key: an opaque content hash computed by the caller.
	// Not unique-constrained in storage; exposed only as a lookup aid.
	DedupeKey string `json:"dedupe_key"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NewThreatRecord returns a record with the same defaults the ingestion
// pipeline assumes: Admiralty C/3, medium priority, zero risk.
func NewThreatRecord(id string) *ThreatRecord {
	return &ThreatRecord{
		ID:                id,
		SourceReliability: "C",
		InfoCredibility:   3,
		Priority:          PriorityMedium,
	}
}

// Validate rejects malformed input before it reaches storage.
func (t *ThreatRecord) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("threat record: empty id")
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("threat record %s: invalid priority level %q", t.ID, t.Priority)
	}
	if !ValidReliability(t.SourceReliability) {
		return fmt.Errorf("threat record %s: invalid source reliability %q (want A-F)", t.ID, t.SourceReliability)
	}
	if !ValidCredibility(t.InfoCredibility) {
		return fmt.Errorf("threat record %s: invalid info credibility %d (want 1-6)", t.ID, t.InfoCredibility)
	}
	if t.PublishedUTC.IsZero() {
		return fmt.Errorf("threat record %s: missing published timestamp", t.ID)
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// CVERecord
// ────────────────────────────────────────────────────────────────────────────────

// CVERecord is the enrichment cache entry for one vulnerability identifier.
// An entry with CacheExpires in the past reads as not-present; physical
// removal is deferred to the maintenance sweep.
type CVERecord struct {
	CVEID            string    `json:"cve_id"`
	CVSSv3Score      float64   `json:"cvss_v3_score"`
	CVSSv3Vector     string    `json:"cvss_v3_vector"`
	CVSSv4Score      float64   `json:"cvss_v4_score"`
	EPSSScore        float64   `json:"epss_score"`
	EPSSPercentile   float64   `json:"epss_percentile"`
	KEVListed        bool      `json:"kev_listed"`
	KEVDateAdded     time.Time `json:"kev_date_added,omitempty"`
	KEVDueDate       time.Time `json:"kev_due_date,omitempty"`
	Description      string    `json:"description"`
	AffectedProducts []string  `json:"affected_products"`
	References       []string  `json:"references"`
	PublishedDate    time.Time `json:"published_date,omitempty"`
	LastModified     time.Time `json:"last_modified,omitempty"`
	CachedAt         time.Time `json:"cached_at,omitempty"`
	CacheExpires     time.Time `json:"cache_expires,omitempty"`
}

// Validate rejects records that cannot be keyed.
func (c *CVERecord) Validate() error {
	if c.CVEID == "" {
		return fmt.Errorf("cve record: empty cve_id")
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// VerificationRecord
// ────────────────────────────────────────────────────────────────────────────────

// VerificationRecord caches a cross-source corroboration result for one
// threat. Same expiry semantics as CVERecord.
type VerificationRecord struct {
	ThreatID            string    `json:"threat_id"`
	Verified            bool      `json:"verified"`
	ConfidenceScore     float64   `json:"confidence_score"`
	Method              string    `json:"verification_method"` // structured, jina, hybrid
	SourcesConsulted    []string  `json:"sources_consulted"`
	NVDMatch            bool      `json:"nvd_match"`
	CISAKEVMatch        bool      `json:"cisa_kev_match"`
	VendorAdvisoryMatch bool      `json:"vendor_advisory_match"`
	WebSourcesCount     int       `json:"web_sources_count"`
	VerifiedAt          time.Time `json:"verified_at,omitempty"`
	CacheExpires        time.Time `json:"cache_expires,omitempty"`
	CostUSD             float64   `json:"cost_usd"`
}

// Validate rejects records that cannot be keyed.
func (v *VerificationRecord) Validate() error {
	if v.ThreatID == "" {
		return fmt.Errorf("verification record: empty threat_id")
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// FeedMetric
// ────────────────────────────────────────────────────────────────────────────────

// FeedMetric is the latest health/quality snapshot for one ingestion source,
// keyed by feed URL. The engine keeps no history; rolling window counters
// are maintained by the caller.
type FeedMetric struct {
	FeedName string `json:"feed_name"`
	FeedURL  string `json:"feed_url"`

	// Accessibility
	LastCheck      time.Time `json:"last_check"`
	LastSuccess    time.Time `json:"last_success,omitempty"`
	ResponseTimeMS int       `json:"response_time_ms"`
	HTTPStatus     int       `json:"http_status"`
	ErrorCount24h  int       `json:"error_count_24h"`

	// Content
	ItemsCollected24h      int     `json:"items_collected_24h"`
	ItemsCollected7d       int     `json:"items_collected_7d"`
	SecurityRelevanceScore float64 `json:"security_relevance_score"`
	DuplicateRate          float64 `json:"duplicate_rate"`
	AvgCVEsPerItem         float64 `json:"avg_cves_per_item"`

	// Quality sub-scores
	AccessibilityScore float64 `json:"accessibility_score"`
	RelevanceScore     float64 `json:"relevance_score"`
	TimelinessScore    float64 `json:"timeliness_score"`
	UniquenessScore    float64 `json:"uniqueness_score"`
	OverallScore       float64 `json:"overall_score"`
}

// NewFeedMetric returns a metric snapshot with neutral quality defaults.
func NewFeedMetric(name, url string) *FeedMetric {
	return &FeedMetric{
		FeedName:           name,
		FeedURL:            url,
		LastCheck:          time.Now().UTC(),
		AccessibilityScore: 100.0,
		RelevanceScore:     50.0,
		TimelinessScore:    50.0,
		UniquenessScore:    100.0,
		OverallScore:       75.0,
	}
}

// Validate rejects records that cannot be keyed.
func (m *FeedMetric) Validate() error {
	if m.FeedURL == "" {
		return fmt.Errorf("feed metric: empty feed_url")
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Aggregation results
// ────────────────────────────────────────────────────────────────────────────────

// ThreatStats summarizes threats published inside a recency window.
type ThreatStats struct {
	CriticalCount  int `json:"critical_count"`
	HighCount      int `json:"high_count"`
	MediumCount    int `json:"medium_count"`
	LowCount       int `json:"low_count"`
	WatchlistCount int `json:"watchlist_count"`
	KEVCount       int `json:"kev_count"`
	HighEPSSCount  int `json:"high_epss_count"`
	TotalCount     int `json:"total_count"`
}

// CountFor returns the per-priority count.
func (s *ThreatStats) CountFor(p PriorityLevel) int {
	switch p {
	case PriorityCritical:
		return s.CriticalCount
	case PriorityHigh:
		return s.HighCount
	case PriorityMedium:
		return s.MediumCount
	case PriorityLow:
		return s.LowCount
	case PriorityWatchlist:
		return s.WatchlistCount
	}
	return 0
}

// TrendPoint is one day of threat volume. Days with no records are simply
// absent from a trend series.
type TrendPoint struct {
	Day      string `json:"day"` // YYYY-MM-DD
	Total    int    `json:"total"`
	Critical int    `json:"critical"`
	High     int    `json:"high"`
	KEV      int    `json:"kev"`
}
