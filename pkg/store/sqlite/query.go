package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/model"
)

const threatColumns = `id, source_type, source_name, source_url, title, summary,
	published_utc, collected_utc, cves, cvss_v3, epss_score, epss_percentile,
	kev_listed, exploit_status, admiralty_source_reliability,
	admiralty_info_credibility, priority_level, risk_score,
	verification_confidence, verification_method, verification_timestamp,
	affected_crown_jewels, asset_exposure_match, dedupe_key, created_at, updated_at`

// GetThreat returns a single threat by id, or nil if absent.
func (s *CacheStore) GetThreat(ctx context.Context, id string) (*model.ThreatRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threatColumns+` FROM threats WHERE id = ?`, id)

	t, err := scanThreat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get threat %s: %w", id, err)
	}
	return t, nil
}

// GetThreatsByPriority returns threats published within the last sinceHours,
// optionally restricted to one priority level, ordered by risk score
// descending with published timestamp descending as the tie-break.
func (s *CacheStore) GetThreatsByPriority(ctx context.Context, priority model.PriorityLevel, sinceHours, limit int) ([]*model.ThreatRecord, error) {
	if priority != "" && !priority.Valid() {
		return nil, fmt.Errorf("invalid priority level %q", priority)
	}
	since := time.Now().UTC().Add(-time.Duration(sinceHours) * time.Hour).Format(timeLayout)

	query := `SELECT ` + threatColumns + ` FROM threats WHERE published_utc >= ?`
	args := []any{since}
	if priority != "" {
		query += ` AND priority_level = ?`
		args = append(args, string(priority))
	}
	query += ` ORDER BY risk_score DESC, published_utc DESC LIMIT ?`
	args = append(args, limit)

	return s.queryThreats(ctx, query, args...)
}

// GetKEVThreats returns known-exploited threats, most recently published
// first. Risk score is deliberately not a tie-break here: KEV listing is
// itself the priority signal.
func (s *CacheStore) GetKEVThreats(ctx context.Context, limit int) ([]*model.ThreatRecord, error) {
	return s.queryThreats(ctx, `
		SELECT `+threatColumns+` FROM threats
		WHERE kev_listed = 1
		ORDER BY published_utc DESC
		LIMIT ?`, limit)
}

// GetThreatsByExposure returns threats whose crown-jewel or exposure label
// lists contain any of the supplied labels. Matching is a LIKE over the
// serialized array with the element quoted, so whole-element matches only.
func (s *CacheStore) GetThreatsByExposure(ctx context.Context, labels []string, limit int) ([]*model.ThreatRecord, error) {
	if len(labels) == 0 {
		return nil, nil
	}

	var clauses []string
	var args []any
	for _, label := range labels {
		clauses = append(clauses,
			`affected_crown_jewels LIKE ? ESCAPE '\' OR asset_exposure_match LIKE ? ESCAPE '\'`)
		p := likePattern(label)
		args = append(args, p, p)
	}
	args = append(args, limit)

	query := `SELECT ` + threatColumns + ` FROM threats WHERE ` +
		strings.Join(clauses, " OR ") +
		` ORDER BY risk_score DESC, published_utc DESC LIMIT ?`

	return s.queryThreats(ctx, query, args...)
}

// SearchThreats runs a full-text query over the shadow index and returns
// matches in relevance order.
func (s *CacheStore) SearchThreats(ctx context.Context, query string, limit int) ([]*model.ThreatRecord, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	return s.queryThreats(ctx, `
		SELECT `+qualifyColumns("t", threatColumns)+` FROM threats t
		JOIN threats_fts fts ON t.id = fts.id
		WHERE threats_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, limit)
}

// ftsQuery prepares a caller-supplied query string for FTS5. Queries that
// already use explicit phrase syntax pass through untouched; otherwise each
// term is quoted so identifiers like CVE-2024-1234 are phrase matches
// instead of FTS5 syntax errors.
func ftsQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	if strings.Contains(query, `"`) {
		return query
	}
	terms := strings.Fields(query)
	for i, term := range terms {
		terms[i] = `"` + term + `"`
	}
	return strings.Join(terms, " ")
}

// FindByDedupeKey returns the most recently updated threat with the given
// dedupe key, or nil. Duplicate handling beyond this lookup is a caller
// concern.
func (s *CacheStore) FindByDedupeKey(ctx context.Context, key string) (*model.ThreatRecord, error) {
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+threatColumns+` FROM threats
		WHERE dedupe_key = ?
		ORDER BY updated_at DESC
		LIMIT 1`, key)

	t, err := scanThreat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by dedupe key: %w", err)
	}
	return t, nil
}

// GetThreatStats aggregates the dashboard counters for the recency window.
func (s *CacheStore) GetThreatStats(ctx context.Context, sinceHours int) (*model.ThreatStats, error) {
	since := time.Now().UTC().Add(-time.Duration(sinceHours) * time.Hour).Format(timeLayout)

	stats := &model.ThreatStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN priority_level = 'critical' THEN 1 END),
			COUNT(CASE WHEN priority_level = 'high' THEN 1 END),
			COUNT(CASE WHEN priority_level = 'medium' THEN 1 END),
			COUNT(CASE WHEN priority_level = 'low' THEN 1 END),
			COUNT(CASE WHEN priority_level = 'watchlist' THEN 1 END),
			COUNT(CASE WHEN kev_listed = 1 THEN 1 END),
			COUNT(CASE WHEN epss_score >= 0.7 THEN 1 END),
			COUNT(*)
		FROM threats WHERE published_utc >= ?`, since).Scan(
		&stats.CriticalCount, &stats.HighCount, &stats.MediumCount,
		&stats.LowCount, &stats.WatchlistCount,
		&stats.KEVCount, &stats.HighEPSSCount, &stats.TotalCount,
	)
	if err != nil {
		return nil, fmt.Errorf("threat stats: %w", err)
	}
	return stats, nil
}

// GetThreatTrends returns daily counts over the last N days, grouped by the
// date portion of the published timestamp, most recent day first. Days with
// no records are absent.
func (s *CacheStore) GetThreatTrends(ctx context.Context, days int) ([]model.TrendPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			date(published_utc) AS day,
			COUNT(*) AS total,
			SUM(CASE WHEN priority_level = 'critical' THEN 1 ELSE 0 END) AS critical,
			SUM(CASE WHEN priority_level = 'high' THEN 1 ELSE 0 END) AS high,
			SUM(CASE WHEN kev_listed = 1 THEN 1 ELSE 0 END) AS kev
		FROM threats
		WHERE published_utc >= date('now', ?)
		GROUP BY date(published_utc)
		ORDER BY day DESC`, fmt.Sprintf("-%d days", days))
	if err != nil {
		return nil, fmt.Errorf("threat trends: %w", err)
	}
	defer rows.Close()

	var trends []model.TrendPoint
	for rows.Next() {
		var p model.TrendPoint
		if err := rows.Scan(&p.Day, &p.Total, &p.Critical, &p.High, &p.KEV); err != nil {
			return nil, err
		}
		trends = append(trends, p)
	}
	return trends, rows.Err()
}

// GetCVE returns cached enrichment for a CVE id. An expired row reads the
// same as an absent one; physical deletion waits for the sweep.
func (s *CacheStore) GetCVE(ctx context.Context, cveID string) (*model.CVERecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cve_id, cvss_v3_score, cvss_v3_vector, cvss_v4_score,
		       epss_score, epss_percentile, kev_listed, kev_date_added,
		       kev_due_date, description, affected_products, references_json,
		       published_date, last_modified, cached_at, cache_expires
		FROM cve_cache WHERE cve_id = ?`, cveID)

	c := &model.CVERecord{}
	var vector, description sql.NullString
	var products, references sql.NullString
	var kevListed int
	var kevAdded, kevDue, published, modified, cachedAt, expires sql.NullString

	err := row.Scan(
		&c.CVEID, &c.CVSSv3Score, &vector, &c.CVSSv4Score,
		&c.EPSSScore, &c.EPSSPercentile, &kevListed, &kevAdded,
		&kevDue, &description, &products, &references,
		&published, &modified, &cachedAt, &expires,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cve %s: %w", cveID, err)
	}

	c.CacheExpires = nullTime(expires)
	if !c.CacheExpires.IsZero() && !c.CacheExpires.After(time.Now().UTC()) {
		return nil, nil // stale reads as not-found
	}

	c.CVSSv3Vector = vector.String
	c.KEVListed = kevListed != 0
	c.KEVDateAdded = nullTime(kevAdded)
	c.KEVDueDate = nullTime(kevDue)
	c.Description = description.String
	c.AffectedProducts = decodeStrings(products)
	c.References = decodeStrings(references)
	c.PublishedDate = nullTime(published)
	c.LastModified = nullTime(modified)
	c.CachedAt = nullTime(cachedAt)
	return c, nil
}

// GetVerification returns the cached corroboration result for a threat id.
// Expired rows read as not-found.
func (s *CacheStore) GetVerification(ctx context.Context, threatID string) (*model.VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT threat_id, verified, confidence_score, verification_method,
		       sources_consulted, nvd_match, cisa_kev_match,
		       vendor_advisory_match, web_sources_count, verified_at,
		       cache_expires, cost_usd
		FROM verification_cache WHERE threat_id = ?`, threatID)

	v := &model.VerificationRecord{}
	var verified, nvd, kev, vendor int
	var method, sources, verifiedAt, expires sql.NullString

	err := row.Scan(
		&v.ThreatID, &verified, &v.ConfidenceScore, &method,
		&sources, &nvd, &kev, &vendor, &v.WebSourcesCount,
		&verifiedAt, &expires, &v.CostUSD,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verification %s: %w", threatID, err)
	}

	v.CacheExpires = nullTime(expires)
	if !v.CacheExpires.IsZero() && !v.CacheExpires.After(time.Now().UTC()) {
		return nil, nil
	}

	v.Verified = verified != 0
	v.Method = method.String
	v.SourcesConsulted = decodeStrings(sources)
	v.NVDMatch = nvd != 0
	v.CISAKEVMatch = kev != 0
	v.VendorAdvisoryMatch = vendor != 0
	v.VerifiedAt = nullTime(verifiedAt)
	return v, nil
}

// GetFeedMetric returns the latest snapshot for one feed URL, or nil.
func (s *CacheStore) GetFeedMetric(ctx context.Context, feedURL string) (*model.FeedMetric, error) {
	row := s.db.QueryRowContext(ctx,
		feedMetricSelect+` WHERE feed_url = ?`, feedURL)

	m, err := scanFeedMetric(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feed metric %s: %w", feedURL, err)
	}
	return m, nil
}

// GetAllFeedMetrics returns every feed snapshot, best overall score first.
func (s *CacheStore) GetAllFeedMetrics(ctx context.Context) ([]*model.FeedMetric, error) {
	rows, err := s.db.QueryContext(ctx, feedMetricSelect+` ORDER BY overall_score DESC`)
	if err != nil {
		return nil, fmt.Errorf("feed metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*model.FeedMetric
	for rows.Next() {
		m, err := scanFeedMetric(rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

const feedMetricSelect = `
	SELECT feed_url, feed_name, last_check, last_success, response_time_ms,
	       http_status, error_count_24h, items_collected_24h, items_collected_7d,
	       security_relevance_score, duplicate_rate, avg_cves_per_item,
	       accessibility_score, relevance_score, timeliness_score,
	       uniqueness_score, overall_score
	FROM feed_metrics`

// qualifyColumns prefixes every column in a comma-separated list with a
// table alias, for queries where a join makes bare names ambiguous.
func qualifyColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// ────────────────────────────────────────────────────────────────────────────────
// Scanner helpers
// ────────────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *CacheStore) queryThreats(ctx context.Context, query string, args ...any) ([]*model.ThreatRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query threats: %w", err)
	}
	defer rows.Close()

	var threats []*model.ThreatRecord
	for rows.Next() {
		t, err := scanThreat(rows)
		if err != nil {
			return nil, err
		}
		threats = append(threats, t)
	}
	return threats, rows.Err()
}

func scanThreat(row rowScanner) (*model.ThreatRecord, error) {
	t := &model.ThreatRecord{}
	var sourceURL, summary, exploitStatus, reliability sql.NullString
	var verificationMethod, dedupeKey, priority sql.NullString
	var cves, crownJewels, exposure sql.NullString
	var published, collected, verifiedAt, createdAt, updatedAt sql.NullString
	var cvss, epss, epssPct, risk, verificationConf sql.NullFloat64
	var kevListed, credibility sql.NullInt64

	err := row.Scan(
		&t.ID, &t.SourceType, &t.SourceName, &sourceURL, &t.Title, &summary,
		&published, &collected, &cves, &cvss, &epss, &epssPct,
		&kevListed, &exploitStatus, &reliability, &credibility,
		&priority, &risk, &verificationConf, &verificationMethod,
		&verifiedAt, &crownJewels, &exposure, &dedupeKey,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.SourceURL = sourceURL.String
	t.Summary = summary.String
	t.PublishedUTC = nullTime(published)
	t.CollectedUTC = nullTime(collected)
	t.CVEs = decodeStrings(cves)
	t.CVSSv3 = cvss.Float64
	t.EPSSScore = epss.Float64
	t.EPSSPercentile = epssPct.Float64
	t.KEVListed = kevListed.Int64 != 0
	t.ExploitStatus = exploitStatus.String
	t.SourceReliability = reliability.String
	if t.SourceReliability == "" {
		t.SourceReliability = "C"
	}
	t.InfoCredibility = int(credibility.Int64)
	if t.InfoCredibility == 0 {
		t.InfoCredibility = 3
	}
	t.Priority = model.PriorityLevel(priority.String)
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	t.RiskScore = risk.Float64
	t.VerificationConfidence = verificationConf.Float64
	t.VerificationMethod = verificationMethod.String
	t.VerificationTimestamp = nullTime(verifiedAt)
	t.AffectedCrownJewels = decodeStrings(crownJewels)
	t.AssetExposureMatch = decodeStrings(exposure)
	t.DedupeKey = dedupeKey.String
	t.CreatedAt = nullTime(createdAt)
	t.UpdatedAt = nullTime(updatedAt)
	return t, nil
}

func scanFeedMetric(row rowScanner) (*model.FeedMetric, error) {
	m := &model.FeedMetric{}
	var lastCheck, lastSuccess sql.NullString

	err := row.Scan(
		&m.FeedURL, &m.FeedName, &lastCheck, &lastSuccess,
		&m.ResponseTimeMS, &m.HTTPStatus, &m.ErrorCount24h,
		&m.ItemsCollected24h, &m.ItemsCollected7d,
		&m.SecurityRelevanceScore, &m.DuplicateRate, &m.AvgCVEsPerItem,
		&m.AccessibilityScore, &m.RelevanceScore, &m.TimelinessScore,
		&m.UniquenessScore, &m.OverallScore,
	)
	if err != nil {
		return nil, err
	}

	m.LastCheck = nullTime(lastCheck)
	m.LastSuccess = nullTime(lastSuccess)
	return m, nil
}

// decodeStrings unpacks a serialized JSON array column; malformed or empty
// blobs decode to nil.
func decodeStrings(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}
