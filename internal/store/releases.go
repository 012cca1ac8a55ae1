package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CachedRelease is a persisted release lookup
type CachedRelease struct {
	QueryKey   string
	ReleaseID  string
	Title      string
	TrackCount int
	CachedAt   time.Time
}

// GetCachedRelease returns the cached release for key. found reports whether
// the key is known at all; a known key with a nil release is a cached miss.
func (s *Store) GetCachedRelease(key string) (rel *CachedRelease, found bool, err error) {
	var r CachedRelease
	var title sql.NullString
	var cachedAt sql.NullString
	err = s.db.QueryRow(`
		SELECT query_key, release_id, title, track_count, cached_at
		FROM musicbrainz_releases WHERE query_key = ?
	`, key).Scan(&r.QueryKey, &r.ReleaseID, &title, &r.TrackCount, &cachedAt)
	switch {
	case err == nil:
		r.Title = title.String
		r.CachedAt = parseTime(cachedAt)
		if _, err := s.db.Exec(`UPDATE musicbrainz_releases SET hit_count = hit_count + 1 WHERE query_key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("failed to bump hit count: %w", err)
		}
		return &r, true, nil
	case err != sql.ErrNoRows:
		return nil, false, fmt.Errorf("failed to query release cache: %w", err)
	}

	var miss int
	err = s.db.QueryRow(`SELECT 1 FROM musicbrainz_misses WHERE query_key = ?`, key).Scan(&miss)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query miss cache: %w", err)
	}
	return nil, true, nil
}

// PutCachedRelease stores a successful lookup
func (s *Store) PutCachedRelease(r *CachedRelease) error {
	_, err := s.db.Exec(`
		INSERT INTO musicbrainz_releases (query_key, release_id, title, track_count, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(query_key) DO UPDATE SET
			release_id = excluded.release_id,
			title = excluded.title,
			track_count = excluded.track_count,
			cached_at = excluded.cached_at
	`, r.QueryKey, r.ReleaseID, r.Title, r.TrackCount, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to cache release: %w", err)
	}
	_, err = s.db.Exec(`DELETE FROM musicbrainz_misses WHERE query_key = ?`, r.QueryKey)
	return err
}

// PutReleaseMiss records that key has no matching release
func (s *Store) PutReleaseMiss(key string) error {
	_, err := s.db.Exec(`
		INSERT INTO musicbrainz_misses (query_key, cached_at) VALUES (?, ?)
		ON CONFLICT(query_key) DO UPDATE SET cached_at = excluded.cached_at
	`, key, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to cache release miss: %w", err)
	}
	return nil
}

// ClearReleaseCache removes cached lookups older than olderThan; zero clears everything
func (s *Store) ClearReleaseCache(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	if olderThan == 0 {
		cutoff = formatTime(time.Now().Add(time.Hour))
	}

	var total int64
	for _, table := range []string{"musicbrainz_releases", "musicbrainz_misses"} {
		res, err := s.db.Exec(`DELETE FROM `+table+` WHERE cached_at < ?`, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to clear %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// ReleaseCacheStats returns the number of cached releases, misses and total hits
func (s *Store) ReleaseCacheStats() (releases, misses int, hits int64, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM musicbrainz_releases`).Scan(&releases, &hits)
	if err != nil {
		return 0, 0, 0, err
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM musicbrainz_misses`).Scan(&misses)
	return releases, misses, hits, err
}
