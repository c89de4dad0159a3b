// Package sqlite provides the SQLite implementation of store.Store.
//
// The full-text index requires an FTS5-enabled driver, which
// mattn/go-sqlite3 does not compile in by default. Build and test with
//
//	go build -tags sqlite_fts5
//	go test -tags sqlite_fts5 ./...
//
// Without the tag, New fails while creating the threats_fts table.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/model"
	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/store"
)

// timeLayout is the fixed-width UTC timestamp format used for every
// persisted time column. Fixed width keeps lexicographic comparison in SQL
// equivalent to chronological comparison.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Config holds configuration for the SQLite cache store.
type Config struct {
	// Path to the SQLite database file. Parent directories are created
	// if absent.
	Path string

	// ReadOnly opens the database in read-only mode (maintenance and
	// write operations will fail).
	ReadOnly bool
}

var _ store.Store = (*CacheStore)(nil)

// CacheStore is the SQLite implementation of store.Store. It holds no
// shared mutable state beyond the database file itself: it is safe to
// construct multiple handles against the same path, subject to SQLite's
// single-writer discipline.
type CacheStore struct {
	db   *sql.DB
	path string
}

// New opens (and if necessary creates) the cache database at cfg.Path.
// Schema creation is idempotent: opening an already-initialized file is a
// no-op for existing tables and indexes.
func New(cfg Config) (*CacheStore, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL keeps readers from blocking behind the single writer; NORMAL
	// synchronous is the durability tradeoff this cache accepts. The DSN
	// must be a file: URI or the driver ignores mode=ro.
	dsn := "file:" + cfg.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	if cfg.ReadOnly {
		dsn += "&mode=ro"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}

	s := &CacheStore{db: db, path: cfg.Path}

	if !cfg.ReadOnly {
		if err := s.initSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return s, nil
}

// Close closes the database.
func (s *CacheStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *CacheStore) Path() string {
	return s.path
}

// ────────────────────────────────────────────────────────────────────────────────
// Schema Initialization
// ────────────────────────────────────────────────────────────────────────────────

func (s *CacheStore) initSchema() error {
	schema := `
-- Primary threat table. Threat rows are never expired or deleted by the
-- engine; only derived caches below carry a TTL.
CREATE TABLE IF NOT EXISTS threats (
	id                            TEXT PRIMARY KEY,
	source_type                   TEXT NOT NULL,
	source_name                   TEXT NOT NULL,
	source_url                    TEXT,
	title                         TEXT NOT NULL,
	summary                       TEXT,
	published_utc                 TEXT NOT NULL,
	collected_utc                 TEXT NOT NULL,
	cves                          TEXT,  -- JSON array
	cvss_v3                       REAL,
	epss_score                    REAL,
	epss_percentile               REAL,
	kev_listed                    INTEGER DEFAULT 0,
	exploit_status                TEXT,
	admiralty_source_reliability  TEXT DEFAULT 'C',
	admiralty_info_credibility    INTEGER DEFAULT 3,
	priority_level                TEXT DEFAULT 'medium',
	risk_score                    REAL DEFAULT 0.0,
	verification_confidence       REAL,
	verification_method           TEXT,
	verification_timestamp        TEXT,
	affected_crown_jewels         TEXT,  -- JSON array
	asset_exposure_match          TEXT,  -- JSON array
	dedupe_key                    TEXT,
	created_at                    TEXT,
	updated_at                    TEXT
);

-- Full-text shadow index over the searchable threat fields. Kept in sync
-- by the write path (see write.go), not by triggers, so the ordering
-- invariant is visible and testable in Go.
CREATE VIRTUAL TABLE IF NOT EXISTS threats_fts USING fts5(
	id,
	title,
	summary,
	cves,
	source_name
);

-- CVE enrichment cache
CREATE TABLE IF NOT EXISTS cve_cache (
	cve_id           TEXT PRIMARY KEY,
	cvss_v3_score    REAL,
	cvss_v3_vector   TEXT,
	cvss_v4_score    REAL,
	epss_score       REAL,
	epss_percentile  REAL,
	kev_listed       INTEGER DEFAULT 0,
	kev_date_added   TEXT,
	kev_due_date     TEXT,
	description      TEXT,
	affected_products TEXT,  -- JSON array
	references_json  TEXT,   -- JSON array
	published_date   TEXT,
	last_modified    TEXT,
	cached_at        TEXT,
	cache_expires    TEXT
);

-- Verification cache
CREATE TABLE IF NOT EXISTS verification_cache (
	threat_id             TEXT PRIMARY KEY,
	verified              INTEGER DEFAULT 0,
	confidence_score      REAL DEFAULT 0.0,
	verification_method   TEXT,
	sources_consulted     TEXT,  -- JSON array
	nvd_match             INTEGER DEFAULT 0,
	cisa_kev_match        INTEGER DEFAULT 0,
	vendor_advisory_match INTEGER DEFAULT 0,
	web_sources_count     INTEGER DEFAULT 0,
	verified_at           TEXT,
	cache_expires         TEXT,
	cost_usd              REAL DEFAULT 0.0
);

-- Latest health snapshot per ingestion feed (no history)
CREATE TABLE IF NOT EXISTS feed_metrics (
	feed_url                 TEXT PRIMARY KEY,
	feed_name                TEXT NOT NULL,
	last_check               TEXT,
	last_success             TEXT,
	response_time_ms         INTEGER DEFAULT 0,
	http_status              INTEGER DEFAULT 0,
	error_count_24h          INTEGER DEFAULT 0,
	items_collected_24h      INTEGER DEFAULT 0,
	items_collected_7d       INTEGER DEFAULT 0,
	security_relevance_score REAL DEFAULT 0.0,
	duplicate_rate           REAL DEFAULT 0.0,
	avg_cves_per_item        REAL DEFAULT 0.0,
	accessibility_score      REAL DEFAULT 100.0,
	relevance_score          REAL DEFAULT 50.0,
	timeliness_score         REAL DEFAULT 50.0,
	uniqueness_score         REAL DEFAULT 100.0,
	overall_score            REAL DEFAULT 75.0
);

-- Indexes for the hot query paths
CREATE INDEX IF NOT EXISTS idx_threats_priority ON threats(priority_level);
CREATE INDEX IF NOT EXISTS idx_threats_published ON threats(published_utc DESC);
CREATE INDEX IF NOT EXISTS idx_threats_kev ON threats(kev_listed);
CREATE INDEX IF NOT EXISTS idx_threats_cvss ON threats(cvss_v3 DESC);
CREATE INDEX IF NOT EXISTS idx_threats_dedupe ON threats(dedupe_key);
CREATE INDEX IF NOT EXISTS idx_cve_cache_expires ON cve_cache(cache_expires);
CREATE INDEX IF NOT EXISTS idx_verification_expires ON verification_cache(cache_expires);
`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", schemaErr(err))
	}
	return nil
}

// schemaErr decorates driver errors with a known build-time cause so the
// failure points at the fix instead of the symptom.
func schemaErr(err error) error {
	if strings.Contains(err.Error(), "no such module: fts5") {
		return fmt.Errorf("%w (driver built without FTS5; rebuild with -tags sqlite_fts5)", err)
	}
	return err
}

// ────────────────────────────────────────────────────────────────────────────────
// Time and null helpers
// ────────────────────────────────────────────────────────────────────────────────

// formatTime renders t in the persisted layout, or NULL for the zero time.
func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func nullTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	// Rows written by this engine carry timeLayout; rows migrated from
	// legacy snapshots may carry other ISO-8601 shapes.
	t, _ := model.ParseTime(ns.String)
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// likePattern builds a LIKE pattern matching one whole element of a
// serialized array column. The label is JSON-encoded first, producing the
// exact quoted-and-escaped byte sequence the write path stores, then LIKE
// metacharacters are escaped. A label is only ever a whole-element match,
// never a substring of a longer one.
func likePattern(label string) string {
	encoded, _ := json.Marshal(label)
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(string(encoded))
	return `%` + escaped + `%`
}
