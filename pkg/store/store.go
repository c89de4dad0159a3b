// Package store defines the storage interface for the threat-intel cache.
package store

import (
	"context"
	"time"

	"github.com/campbellmcgregor/nomad-threat-intel-framework/pkg/model"
)

// Store is the full cache engine contract. Construct a handle explicitly
// (see pkg/store/sqlite.New) and pass it to every component that needs it;
// there is no package-level singleton.
type Store interface {
	Reader
	Writer
	Maintainer

	// Close releases the underlying database handle.
	Close() error
}

// Reader defines the query and aggregation operations. Readers never block
// behind an in-progress write, and a missing key is (nil, nil), not an error.
type Reader interface {
	// GetThreat returns a threat by id, or nil if absent.
	GetThreat(ctx context.Context, id string) (*model.ThreatRecord, error)

	// GetThreatsByPriority returns threats published within the last
	// sinceHours, optionally restricted to one priority level (empty
	// priority means all levels), ordered by risk score descending then
	// published timestamp descending.
	GetThreatsByPriority(ctx context.Context, priority model.PriorityLevel, sinceHours, limit int) ([]*model.ThreatRecord, error)

	// GetKEVThreats returns known-exploited threats ordered by published
	// timestamp descending. KEV listing is itself the priority signal, so
	// risk score is intentionally not part of the ordering.
	GetKEVThreats(ctx context.Context, limit int) ([]*model.ThreatRecord, error)

	// GetThreatsByExposure returns threats whose crown-jewel or exposure
	// label lists contain any of the supplied labels.
	GetThreatsByExposure(ctx context.Context, labels []string, limit int) ([]*model.ThreatRecord, error)

	// SearchThreats runs a full-text query over id, title, summary, CVE
	// list and source name, ranked by relevance.
	SearchThreats(ctx context.Context, query string, limit int) ([]*model.ThreatRecord, error)

	// FindByDedupeKey returns the threat carrying the given dedupe key, or
	// nil. The key is not unique-constrained; this is a lookup aid only.
	FindByDedupeKey(ctx context.Context, key string) (*model.ThreatRecord, error)

	// GetThreatStats aggregates counts for the recency window.
	GetThreatStats(ctx context.Context, sinceHours int) (*model.ThreatStats, error)

	// GetThreatTrends returns one point per day with records over the last
	// N days, most recent first. Empty days are absent.
	GetThreatTrends(ctx context.Context, days int) ([]model.TrendPoint, error)

	// GetCVE returns cached enrichment for a CVE id. Expired entries read
	// as not-present.
	GetCVE(ctx context.Context, cveID string) (*model.CVERecord, error)

	// GetVerification returns the cached corroboration result for a threat
	// id. Expired entries read as not-present.
	GetVerification(ctx context.Context, threatID string) (*model.VerificationRecord, error)

	// GetFeedMetric returns the latest snapshot for one feed URL, or nil.
	GetFeedMetric(ctx context.Context, feedURL string) (*model.FeedMetric, error)

	// GetAllFeedMetrics returns all feed snapshots, best overall score first.
	GetAllFeedMetrics(ctx context.Context) ([]*model.FeedMetric, error)
}

// Writer defines the insert-or-replace operations, one per entity type.
// Each write is a single atomic unit; there is no transaction spanning
// entity types.
type Writer interface {
	// UpsertThreat inserts or updates a threat keyed by id. On conflict
	// every mutable field is overwritten, created_at is preserved and
	// updated_at is refreshed. The full-text index is updated within the
	// same transaction.
	UpsertThreat(ctx context.Context, t *model.ThreatRecord) error

	// DeleteThreat removes a threat and its full-text index entry.
	DeleteThreat(ctx context.Context, id string) error

	// CacheCVE stores enrichment data with a time-to-live.
	CacheCVE(ctx context.Context, c *model.CVERecord, ttl time.Duration) error

	// CacheVerification stores a corroboration result with a time-to-live.
	CacheVerification(ctx context.Context, v *model.VerificationRecord, ttl time.Duration) error

	// UpdateFeedMetrics stores the latest snapshot for a feed.
	UpdateFeedMetrics(ctx context.Context, m *model.FeedMetric) error
}

// Maintainer defines the offline maintenance operations.
type Maintainer interface {
	// CleanupExpired deletes CVE and verification rows whose expiry is
	// strictly in the past. Threats and feed metrics are never expired.
	CleanupExpired(ctx context.Context) (int64, error)

	// Vacuum reclaims space after deletions. Safe alongside readers; do
	// not run while a writer is active.
	Vacuum(ctx context.Context) error
}
