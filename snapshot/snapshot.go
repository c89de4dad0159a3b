// Package snapshot provides one-shot bulk loaders between the cache store
// and the flat JSON snapshot format used by earlier file-based caches.
// Import is per-record recoverable: a bad record is logged and skipped, the
// batch continues. None of this runs on the steady-state hot path.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/model"
	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/store"
)

var log = logrus.WithField("component", "snapshot")

// VerificationTTL is the lifetime applied to imported verification
// entries, matching the refresh cadence of the verification pipeline.
const VerificationTTL = 7 * 24 * time.Hour

// ────────────────────────────────────────────────────────────────────────────────
// Wire format
// ────────────────────────────────────────────────────────────────────────────────

// ThreatDocument is the top-level threats snapshot: either a bare array or
// an object with a "threats" key.
type ThreatDocument struct {
	ExportedAt  string       `json:"exported_at,omitempty"`
	ThreatCount int          `json:"threat_count,omitempty"`
	Threats     []ThreatItem `json:"threats"`
}

// ThreatItem mirrors the threats table column names: timestamps are
// ISO-8601 strings (possibly zone-less, from the legacy cache) and arrays
// are native lists.
type ThreatItem struct {
	ID                     string   `json:"id"`
	SourceType             string   `json:"source_type"`
	SourceName             string   `json:"source_name"`
	SourceURL              string   `json:"source_url"`
	Title                  string   `json:"title"`
	Summary                string   `json:"summary"`
	PublishedUTC           string   `json:"published_utc"`
	CollectedUTC           string   `json:"collected_utc"`
	CVEs                   []string `json:"cves"`
	CVSSv3                 float64  `json:"cvss_v3"`
	EPSSScore              float64  `json:"epss_score"`
	EPSSPercentile         float64  `json:"epss_percentile"`
	KEVListed              bool     `json:"kev_listed"`
	ExploitStatus          string   `json:"exploit_status"`
	SourceReliability      string   `json:"admiralty_source_reliability"`
	InfoCredibility        int      `json:"admiralty_info_credibility"`
	PriorityLevel          string   `json:"priority_level"`
	RiskScore              float64  `json:"risk_score"`
	VerificationConfidence float64  `json:"verification_confidence"`
	VerificationMethod     string   `json:"verification_method"`
	VerificationTimestamp  string   `json:"verification_timestamp"`
	AffectedCrownJewels    []string `json:"affected_crown_jewels"`
	AssetExposureMatch     []string `json:"asset_exposure_match"`
	DedupeKey              string   `json:"dedupe_key"`
}

// VerificationDocument is the legacy verification cache: a map keyed by
// threat id.
type VerificationDocument struct {
	Verifications map[string]VerificationItem `json:"verifications"`
}

// VerificationItem uses the legacy cache's short field names.
type VerificationItem struct {
	Verified            bool     `json:"verified"`
	Confidence          float64  `json:"confidence"`
	Method              string   `json:"method"`
	Sources             []string `json:"sources"`
	NVDMatch            bool     `json:"nvd_match"`
	CISAKEVMatch        bool     `json:"cisa_kev_match"`
	VendorAdvisoryMatch bool     `json:"vendor_advisory_match"`
	LastVerified        string   `json:"last_verified"`
}

// FeedDocument is the legacy feed quality file.
type FeedDocument struct {
	Feeds   []FeedItem `json:"feeds"`
	Metrics []FeedItem `json:"metrics"`
}

// FeedItem accepts both the old and the new key spellings.
type FeedItem struct {
	Name         string  `json:"name"`
	FeedName     string  `json:"feed_name"`
	URL          string  `json:"url"`
	FeedURL      string  `json:"feed_url"`
	LastCheck    string  `json:"last_check"`
	OverallScore float64 `json:"overall_score"`
	QualityScore float64 `json:"quality_score"`
}

// ────────────────────────────────────────────────────────────────────────────────
// Import
// ────────────────────────────────────────────────────────────────────────────────

// ImportThreats loads a threats snapshot file and upserts each record.
// Returns the number of records migrated.
func ImportThreats(ctx context.Context, w store.Writer, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read threats snapshot: %w", err)
	}

	var doc ThreatDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		// Some old exports were a bare array.
		var items []ThreatItem
		if err2 := json.Unmarshal(data, &items); err2 != nil {
			return 0, fmt.Errorf("parse threats snapshot: %w", err)
		}
		doc.Threats = items
	}

	migrated := 0
	for _, item := range doc.Threats {
		record, err := item.toRecord()
		if err != nil {
			log.WithError(err).WithField("id", item.ID).Warn("skipping threat record")
			continue
		}
		if err := w.UpsertThreat(ctx, record); err != nil {
			log.WithError(err).WithField("id", item.ID).Warn("skipping threat record")
			continue
		}
		migrated++
	}

	log.WithFields(logrus.Fields{"path": path, "migrated": migrated}).Info("imported threats snapshot")
	return migrated, nil
}

func (item ThreatItem) toRecord() (*model.ThreatRecord, error) {
	published, err := model.ParseTime(item.PublishedUTC)
	if err != nil {
		return nil, err
	}
	collected, err := model.ParseTime(item.CollectedUTC)
	if err != nil {
		return nil, err
	}
	// Older snapshots predate the verification fields; a bad timestamp
	// there should not drop the whole record.
	verifiedAt, _ := model.ParseTime(item.VerificationTimestamp)

	record := &model.ThreatRecord{
		ID:                     item.ID,
		SourceType:             item.SourceType,
		SourceName:             item.SourceName,
		SourceURL:              item.SourceURL,
		Title:                  item.Title,
		Summary:                item.Summary,
		PublishedUTC:           published,
		CollectedUTC:           collected,
		CVEs:                   item.CVEs,
		CVSSv3:                 item.CVSSv3,
		EPSSScore:              item.EPSSScore,
		EPSSPercentile:         item.EPSSPercentile,
		KEVListed:              item.KEVListed,
		ExploitStatus:          item.ExploitStatus,
		SourceReliability:      item.SourceReliability,
		InfoCredibility:        item.InfoCredibility,
		Priority:               model.PriorityLevel(item.PriorityLevel),
		RiskScore:              item.RiskScore,
		VerificationConfidence: item.VerificationConfidence,
		VerificationMethod:     item.VerificationMethod,
		VerificationTimestamp:  verifiedAt,
		AffectedCrownJewels:    item.AffectedCrownJewels,
		AssetExposureMatch:     item.AssetExposureMatch,
		DedupeKey:              item.DedupeKey,
	}
	if record.SourceReliability == "" {
		record.SourceReliability = "C"
	}
	if record.InfoCredibility == 0 {
		record.InfoCredibility = 3
	}
	if record.Priority == "" {
		record.Priority = model.PriorityMedium
	}
	return record, nil
}

// ImportVerifications loads a legacy verification cache file. Returns the
// number of entries migrated.
func ImportVerifications(ctx context.Context, w store.Writer, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read verification snapshot: %w", err)
	}

	var doc VerificationDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse verification snapshot: %w", err)
	}

	migrated := 0
	for threatID, item := range doc.Verifications {
		verifiedAt, _ := model.ParseTime(item.LastVerified)
		record := &model.VerificationRecord{
			ThreatID:            threatID,
			Verified:            item.Verified,
			ConfidenceScore:     item.Confidence,
			Method:              item.Method,
			SourcesConsulted:    item.Sources,
			NVDMatch:            item.NVDMatch,
			CISAKEVMatch:        item.CISAKEVMatch,
			VendorAdvisoryMatch: item.VendorAdvisoryMatch,
			VerifiedAt:          verifiedAt,
		}
		if record.Method == "" {
			record.Method = "structured"
		}
		if err := w.CacheVerification(ctx, record, VerificationTTL); err != nil {
			log.WithError(err).WithField("threat_id", threatID).Warn("skipping verification record")
			continue
		}
		migrated++
	}

	log.WithFields(logrus.Fields{"path": path, "migrated": migrated}).Info("imported verification snapshot")
	return migrated, nil
}

// ImportFeedMetrics loads a legacy feed quality file. Returns the number of
// feeds migrated.
func ImportFeedMetrics(ctx context.Context, w store.Writer, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read feed metrics snapshot: %w", err)
	}

	var doc FeedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse feed metrics snapshot: %w", err)
	}
	feeds := doc.Feeds
	if len(feeds) == 0 {
		feeds = doc.Metrics
	}

	migrated := 0
	for _, item := range feeds {
		name := item.FeedName
		if name == "" {
			name = item.Name
		}
		url := item.FeedURL
		if url == "" {
			url = item.URL
		}

		metric := model.NewFeedMetric(name, url)
		if lastCheck, err := model.ParseTime(item.LastCheck); err == nil && !lastCheck.IsZero() {
			metric.LastCheck = lastCheck
		}
		if item.OverallScore > 0 {
			metric.OverallScore = item.OverallScore
		} else if item.QualityScore > 0 {
			metric.OverallScore = item.QualityScore
		}

		if err := w.UpdateFeedMetrics(ctx, metric); err != nil {
			log.WithError(err).WithField("feed_url", url).Warn("skipping feed metric")
			continue
		}
		migrated++
	}

	log.WithFields(logrus.Fields{"path": path, "migrated": migrated}).Info("imported feed metrics snapshot")
	return migrated, nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Export
// ────────────────────────────────────────────────────────────────────────────────

// ExportWindowHours is the recency window exported by default (30 days).
const ExportWindowHours = 720

// ExportThreats reads threats back through the query API and writes them
// as a snapshot document. Returns the number of records written.
func ExportThreats(ctx context.Context, r store.Reader, path string) (int, error) {
	threats, err := r.GetThreatsByPriority(ctx, "", ExportWindowHours, 10000)
	if err != nil {
		return 0, fmt.Errorf("read threats for export: %w", err)
	}

	doc := ThreatDocument{
		ExportedAt:  time.Now().UTC().Format(time.RFC3339),
		ThreatCount: len(threats),
		Threats:     make([]ThreatItem, 0, len(threats)),
	}
	for _, t := range threats {
		doc.Threats = append(doc.Threats, toItem(t))
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode threats snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return 0, fmt.Errorf("write threats snapshot: %w", err)
	}

	log.WithFields(logrus.Fields{"path": path, "count": len(threats)}).Info("exported threats snapshot")
	return len(threats), nil
}

func toItem(t *model.ThreatRecord) ThreatItem {
	return ThreatItem{
		ID:                     t.ID,
		SourceType:             t.SourceType,
		SourceName:             t.SourceName,
		SourceURL:              t.SourceURL,
		Title:                  t.Title,
		Summary:                t.Summary,
		PublishedUTC:           formatRFC3339(t.PublishedUTC),
		CollectedUTC:           formatRFC3339(t.CollectedUTC),
		CVEs:                   t.CVEs,
		CVSSv3:                 t.CVSSv3,
		EPSSScore:              t.EPSSScore,
		EPSSPercentile:         t.EPSSPercentile,
		KEVListed:              t.KEVListed,
		ExploitStatus:          t.ExploitStatus,
		SourceReliability:      t.SourceReliability,
		InfoCredibility:        t.InfoCredibility,
		PriorityLevel:          string(t.Priority),
		RiskScore:              t.RiskScore,
		VerificationConfidence: t.VerificationConfidence,
		VerificationMethod:     t.VerificationMethod,
		VerificationTimestamp:  formatRFC3339(t.VerificationTimestamp),
		AffectedCrownJewels:    t.AffectedCrownJewels,
		AssetExposureMatch:     t.AssetExposureMatch,
		DedupeKey:              t.DedupeKey,
	}
}

func formatRFC3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
