package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/model"
)

// UpsertThreat inserts or updates a threat record keyed by id. On conflict
// every mutable field takes the new value; created_at is preserved and
// updated_at is refreshed to the write time.
//
// The full-text index is maintained in the same transaction as the table
// write: the old index entry is removed first, then the new one inserted.
// Reversing that order would transiently duplicate the entry.
func (s *CacheStore) UpsertThreat(ctx context.Context, t *model.ThreatRecord) error {
	if err := t.Validate(); err != nil {
		return err
	}

	cves, _ := json.Marshal(t.CVEs)
	crownJewels, _ := json.Marshal(t.AffectedCrownJewels)
	exposure, _ := json.Marshal(t.AssetExposureMatch)
	now := time.Now().UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert threat: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO threats (
			id, source_type, source_name, source_url, title, summary,
			published_utc, collected_utc, cves, cvss_v3, epss_score,
			epss_percentile, kev_listed, exploit_status,
			admiralty_source_reliability, admiralty_info_credibility,
			priority_level, risk_score, verification_confidence,
			verification_method, verification_timestamp,
			affected_crown_jewels, asset_exposure_match, dedupe_key,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_type = excluded.source_type,
			source_name = excluded.source_name,
			source_url = excluded.source_url,
			title = excluded.title,
			summary = excluded.summary,
			published_utc = excluded.published_utc,
			collected_utc = excluded.collected_utc,
			cves = excluded.cves,
			cvss_v3 = excluded.cvss_v3,
			epss_score = excluded.epss_score,
			epss_percentile = excluded.epss_percentile,
			kev_listed = excluded.kev_listed,
			exploit_status = excluded.exploit_status,
			admiralty_source_reliability = excluded.admiralty_source_reliability,
			admiralty_info_credibility = excluded.admiralty_info_credibility,
			priority_level = excluded.priority_level,
			risk_score = excluded.risk_score,
			verification_confidence = excluded.verification_confidence,
			verification_method = excluded.verification_method,
			verification_timestamp = excluded.verification_timestamp,
			affected_crown_jewels = excluded.affected_crown_jewels,
			asset_exposure_match = excluded.asset_exposure_match,
			dedupe_key = excluded.dedupe_key,
			updated_at = excluded.updated_at`,
		t.ID, t.SourceType, t.SourceName, t.SourceURL, t.Title, t.Summary,
		formatTime(t.PublishedUTC), formatTime(t.CollectedUTC),
		string(cves), t.CVSSv3, t.EPSSScore, t.EPSSPercentile,
		boolToInt(t.KEVListed), nullStr(t.ExploitStatus),
		t.SourceReliability, t.InfoCredibility,
		string(t.Priority), t.RiskScore,
		t.VerificationConfidence, nullStr(t.VerificationMethod),
		formatTime(t.VerificationTimestamp),
		string(crownJewels), string(exposure), t.DedupeKey,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert threat %s: %w", t.ID, err)
	}

	// Shadow index: remove old entry, then add the new one.
	if _, err := tx.ExecContext(ctx, `DELETE FROM threats_fts WHERE id = ?`, t.ID); err != nil {
		return fmt.Errorf("fts delete for %s: %w", t.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO threats_fts (id, title, summary, cves, source_name)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Summary, strings.Join(t.CVEs, " "), t.SourceName,
	)
	if err != nil {
		return fmt.Errorf("fts insert for %s: %w", t.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert threat %s: %w", t.ID, err)
	}
	return nil
}

// DeleteThreat removes a threat row together with its full-text index
// entry. Deleting an absent id is a no-op.
func (s *CacheStore) DeleteThreat(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete threat: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM threats_fts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("fts delete for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM threats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete threat %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete threat %s: %w", id, err)
	}
	return nil
}

// CacheCVE stores enrichment data for one CVE with a time-to-live. A zero
// ttl produces an entry that is already expired for readers.
func (s *CacheStore) CacheCVE(ctx context.Context, c *model.CVERecord, ttl time.Duration) error {
	if err := c.Validate(); err != nil {
		return err
	}

	products, _ := json.Marshal(c.AffectedProducts)
	references, _ := json.Marshal(c.References)
	now := time.Now().UTC()
	expires := now.Add(ttl).Format(timeLayout)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cve_cache (
			cve_id, cvss_v3_score, cvss_v3_vector, cvss_v4_score,
			epss_score, epss_percentile, kev_listed, kev_date_added,
			kev_due_date, description, affected_products, references_json,
			published_date, last_modified, cached_at, cache_expires
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cve_id) DO UPDATE SET
			cvss_v3_score = excluded.cvss_v3_score,
			cvss_v3_vector = excluded.cvss_v3_vector,
			cvss_v4_score = excluded.cvss_v4_score,
			epss_score = excluded.epss_score,
			epss_percentile = excluded.epss_percentile,
			kev_listed = excluded.kev_listed,
			kev_date_added = excluded.kev_date_added,
			kev_due_date = excluded.kev_due_date,
			description = excluded.description,
			affected_products = excluded.affected_products,
			references_json = excluded.references_json,
			published_date = excluded.published_date,
			last_modified = excluded.last_modified,
			cached_at = excluded.cached_at,
			cache_expires = excluded.cache_expires`,
		c.CVEID, c.CVSSv3Score, nullStr(c.CVSSv3Vector), c.CVSSv4Score,
		c.EPSSScore, c.EPSSPercentile, boolToInt(c.KEVListed),
		formatTime(c.KEVDateAdded), formatTime(c.KEVDueDate),
		c.Description, string(products), string(references),
		formatTime(c.PublishedDate), formatTime(c.LastModified),
		now.Format(timeLayout), expires,
	)
	if err != nil {
		return fmt.Errorf("cache cve %s: %w", c.CVEID, err)
	}
	return nil
}

// CacheVerification stores a corroboration result for one threat with a
// time-to-live.
func (s *CacheStore) CacheVerification(ctx context.Context, v *model.VerificationRecord, ttl time.Duration) error {
	if err := v.Validate(); err != nil {
		return err
	}

	sources, _ := json.Marshal(v.SourcesConsulted)
	now := time.Now().UTC()
	expires := now.Add(ttl).Format(timeLayout)

	verifiedAt := formatTime(v.VerifiedAt)
	if verifiedAt == nil {
		verifiedAt = now.Format(timeLayout)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_cache (
			threat_id, verified, confidence_score, verification_method,
			sources_consulted, nvd_match, cisa_kev_match,
			vendor_advisory_match, web_sources_count, verified_at,
			cache_expires, cost_usd
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(threat_id) DO UPDATE SET
			verified = excluded.verified,
			confidence_score = excluded.confidence_score,
			verification_method = excluded.verification_method,
			sources_consulted = excluded.sources_consulted,
			nvd_match = excluded.nvd_match,
			cisa_kev_match = excluded.cisa_kev_match,
			vendor_advisory_match = excluded.vendor_advisory_match,
			web_sources_count = excluded.web_sources_count,
			verified_at = excluded.verified_at,
			cache_expires = excluded.cache_expires,
			cost_usd = excluded.cost_usd`,
		v.ThreatID, boolToInt(v.Verified), v.ConfidenceScore,
		nullStr(v.Method), string(sources),
		boolToInt(v.NVDMatch), boolToInt(v.CISAKEVMatch),
		boolToInt(v.VendorAdvisoryMatch), v.WebSourcesCount,
		verifiedAt, expires, v.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("cache verification %s: %w", v.ThreatID, err)
	}
	return nil
}

// UpdateFeedMetrics stores the latest quality snapshot for a feed,
// replacing any previous snapshot for the same URL.
func (s *CacheStore) UpdateFeedMetrics(ctx context.Context, m *model.FeedMetric) error {
	if err := m.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feed_metrics (
			feed_url, feed_name, last_check, last_success, response_time_ms,
			http_status, error_count_24h, items_collected_24h, items_collected_7d,
			security_relevance_score, duplicate_rate, avg_cves_per_item,
			accessibility_score, relevance_score, timeliness_score,
			uniqueness_score, overall_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feed_url) DO UPDATE SET
			feed_name = excluded.feed_name,
			last_check = excluded.last_check,
			last_success = excluded.last_success,
			response_time_ms = excluded.response_time_ms,
			http_status = excluded.http_status,
			error_count_24h = excluded.error_count_24h,
			items_collected_24h = excluded.items_collected_24h,
			items_collected_7d = excluded.items_collected_7d,
			security_relevance_score = excluded.security_relevance_score,
			duplicate_rate = excluded.duplicate_rate,
			avg_cves_per_item = excluded.avg_cves_per_item,
			accessibility_score = excluded.accessibility_score,
			relevance_score = excluded.relevance_score,
			timeliness_score = excluded.timeliness_score,
			uniqueness_score = excluded.uniqueness_score,
			overall_score = excluded.overall_score`,
		m.FeedURL, m.FeedName,
		formatTime(m.LastCheck), formatTime(m.LastSuccess),
		m.ResponseTimeMS, m.HTTPStatus, m.ErrorCount24h,
		m.ItemsCollected24h, m.ItemsCollected7d,
		m.SecurityRelevanceScore, m.DuplicateRate, m.AvgCVEsPerItem,
		m.AccessibilityScore, m.RelevanceScore, m.TimelinessScore,
		m.UniquenessScore, m.OverallScore,
	)
	if err != nil {
		return fmt.Errorf("update feed metrics %s: %w", m.FeedURL, err)
	}
	return nil
}
