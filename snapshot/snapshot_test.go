package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/model"
	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.CacheStore {
	t.Helper()
	s, err := sqlite.New(sqlite.Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestImportThreats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := writeFile(t, "threats.json", `{
		"exported_at": "2024-03-15T12:00:00Z",
		"threat_count": 3,
		"threats": [
			{
				"id": "t1",
				"source_type": "rss",
				"source_name": "CISA Alerts",
				"title": "Critical RCE in ExampleServer",
				"summary": "Remote code execution.",
				"published_utc": "2024-03-15T10:30:00",
				"collected_utc": "2024-03-15 11:00:00",
				"cves": ["CVE-2024-1234"],
				"cvss_v3": 9.8,
				"kev_listed": true,
				"admiralty_source_reliability": "B",
				"admiralty_info_credibility": 2,
				"priority_level": "critical",
				"risk_score": 9.5,
				"affected_crown_jewels": ["AD"]
			},
			{
				"id": "t2",
				"source_type": "vendor",
				"source_name": "Vendor Blog",
				"title": "Minor fix",
				"published_utc": "2024-03-14"
			},
			{
				"id": "bad",
				"title": "No published timestamp"
			}
		]
	}`)

	migrated, err := ImportThreats(ctx, s, path)
	require.NoError(t, err)
	assert.Equal(t, 2, migrated, "the record without a published timestamp is skipped")

	got, err := s.GetThreat(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Critical RCE in ExampleServer", got.Title)
	assert.Equal(t, []string{"CVE-2024-1234"}, got.CVEs)
	assert.True(t, got.KEVListed)
	assert.Equal(t, model.PriorityCritical, got.Priority)
	// Zone-less legacy timestamps read as UTC.
	assert.True(t, got.PublishedUTC.Equal(time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)))

	// Missing ratings fall back to pipeline defaults.
	got, err = s.GetThreat(ctx, "t2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "C", got.SourceReliability)
	assert.Equal(t, 3, got.InfoCredibility)
	assert.Equal(t, model.PriorityMedium, got.Priority)

	got, err = s.GetThreat(ctx, "bad")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestImportThreatsBareArray(t *testing.T) {
	s := newTestStore(t)

	path := writeFile(t, "threats.json", `[
		{"id": "t1", "title": "Legacy export", "published_utc": "2024-03-15T10:30:00Z"}
	]`)

	migrated, err := ImportThreats(context.Background(), s, path)
	require.NoError(t, err)
	assert.Equal(t, 1, migrated)
}

func TestImportThreatsBadFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := ImportThreats(ctx, s, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := writeFile(t, "garbage.json", `not json at all`)
	_, err = ImportThreats(ctx, s, path)
	assert.Error(t, err)
}

func TestImportVerifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := writeFile(t, "verifications.json", `{
		"verifications": {
			"t1": {
				"verified": true,
				"confidence": 0.85,
				"method": "hybrid",
				"sources": ["nvd", "cisa-kev"],
				"nvd_match": true,
				"cisa_kev_match": true,
				"last_verified": "2024-03-15T12:00:00"
			},
			"t2": {
				"verified": false,
				"confidence": 0.2
			}
		}
	}`)

	migrated, err := ImportVerifications(ctx, s, path)
	require.NoError(t, err)
	assert.Equal(t, 2, migrated)

	got, err := s.GetVerification(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Verified)
	assert.Equal(t, 0.85, got.ConfidenceScore)
	assert.Equal(t, "hybrid", got.Method)
	assert.Equal(t, []string{"nvd", "cisa-kev"}, got.SourcesConsulted)

	// Legacy entries without a method get the structured default.
	got, err = s.GetVerification(ctx, "t2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "structured", got.Method)
}

func TestImportFeedMetrics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Old key spellings: name/url/quality_score.
	path := writeFile(t, "feeds.json", `{
		"feeds": [
			{
				"name": "CISA Alerts",
				"url": "https://example.com/cisa",
				"last_check": "2024-03-15T12:00:00Z",
				"quality_score": 88.5
			},
			{
				"feed_name": "Vendor Blog",
				"feed_url": "https://example.com/vendor",
				"overall_score": 72.0
			}
		]
	}`)

	migrated, err := ImportFeedMetrics(ctx, s, path)
	require.NoError(t, err)
	assert.Equal(t, 2, migrated)

	got, err := s.GetFeedMetric(ctx, "https://example.com/cisa")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "CISA Alerts", got.FeedName)
	assert.Equal(t, 88.5, got.OverallScore)

	got, err = s.GetFeedMetric(ctx, "https://example.com/vendor")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 72.0, got.OverallScore)
}

func TestExportThreatsRoundTrip(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()

	record := &model.ThreatRecord{
		ID:                "t1",
		SourceType:        "rss",
		SourceName:        "CISA Alerts",
		Title:             "Critical RCE in ExampleServer",
		PublishedUTC:      time.Now().UTC().Add(-time.Hour),
		CVEs:              []string{"CVE-2024-1234"},
		KEVListed:         true,
		SourceReliability: "B",
		InfoCredibility:   2,
		Priority:          model.PriorityCritical,
		RiskScore:         9.5,
		DedupeKey:         "dedupe-t1",
	}
	require.NoError(t, src.UpsertThreat(ctx, record))

	path := filepath.Join(t.TempDir(), "export.json")
	count, err := ExportThreats(ctx, src, path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	dst := newTestStore(t)
	migrated, err := ImportThreats(ctx, dst, path)
	require.NoError(t, err)
	assert.Equal(t, 1, migrated)

	got, err := dst.GetThreat(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.Title, got.Title)
	assert.Equal(t, record.CVEs, got.CVEs)
	assert.Equal(t, record.Priority, got.Priority)
	assert.Equal(t, record.RiskScore, got.RiskScore)
	assert.Equal(t, record.DedupeKey, got.DedupeKey)
	assert.True(t, record.PublishedUTC.Truncate(time.Second).Equal(got.PublishedUTC))
}
