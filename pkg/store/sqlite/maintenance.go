package sqlite

import (
	"context"
	"fmt"
	"time"
)

// CleanupExpired deletes every CVE and verification cache row whose expiry
// is strictly before the current wall-clock time. Each deletion statement
// is self-contained, so an I/O failure cannot leave a partial sweep inside
// one table. Threat and feed-metric rows are never touched.
func (s *CacheStore) CleanupExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(timeLayout)

	var removed int64
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cve_cache WHERE cache_expires < ?`, now)
	if err != nil {
		return removed, fmt.Errorf("sweep cve cache: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM verification_cache WHERE cache_expires < ?`, now)
	if err != nil {
		return removed, fmt.Errorf("sweep verification cache: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	return removed, nil
}

// Vacuum rewrites the database file to reclaim space freed by deletions.
// Run it from maintenance jobs only; it is safe alongside readers but must
// not be assumed safe while a writer is active.
func (s *CacheStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
