package store

import (
	"database/sql"
	"fmt"
)

// Edition is one physical copy of an album release: a folder of tracks.
// Editions live in a flat table keyed by id; groups reference them by id.
type Edition struct {
	ID             int64
	Path           string
	Root           string
	Artist         string
	ArtistKey      string
	Title          string
	TitleKey       string
	Format         string
	BitrateKbps    int
	SampleRate     int
	BitDepth       int
	TotalSize      int64
	ExpectedTracks int // from tags, 0 when unknown
	ReleaseID      string
	ReleaseTagged  bool // ReleaseID came from the tracks' tags, not a search
	AIVerified     bool
	NoMove         bool
	Moved          bool
	Signature      string
	LastScanID     string

	Tracks []*Track // ordered by index, loaded on demand
}

// Track is one audio file of an edition
type Track struct {
	EditionID   int64
	Index       int
	Disc        int
	Title       string
	DurationMs  int
	BitrateKbps int
	SampleRate  int
	BitDepth    int
	Format      string
	Path        string
	SizeBytes   int64
	IsBonus     bool
}

// SizeMB returns the edition's total size in megabytes
func (e *Edition) SizeMB() float64 {
	return float64(e.TotalSize) / (1024 * 1024)
}

const editionColumns = `id, path, root, artist, artist_key, title, title_key, format,
	bitrate_kbps, sample_rate, bit_depth, total_size, expected_tracks, release_id,
	release_tagged, ai_verified, no_move, moved, signature, last_scan_id`

// SaveEdition upserts an edition by path and replaces its track list in one
// transaction. The edition keeps its id across rescans.
func (s *Store) SaveEdition(e *Edition, tracks []*Track) (int64, error) {
	var id int64
	err := s.Transaction(func(tx *sql.Tx) error {
		err := tx.QueryRow(`
			INSERT INTO editions (path, root, artist, artist_key, title, title_key, format,
				bitrate_kbps, sample_rate, bit_depth, total_size, expected_tracks, release_id,
				release_tagged, signature, last_scan_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				root = excluded.root,
				artist = excluded.artist,
				artist_key = excluded.artist_key,
				title = excluded.title,
				title_key = excluded.title_key,
				format = excluded.format,
				bitrate_kbps = excluded.bitrate_kbps,
				sample_rate = excluded.sample_rate,
				bit_depth = excluded.bit_depth,
				total_size = excluded.total_size,
				expected_tracks = excluded.expected_tracks,
				release_id = excluded.release_id,
				release_tagged = excluded.release_tagged,
				signature = excluded.signature,
				last_scan_id = excluded.last_scan_id,
				moved = 0
			RETURNING id
		`, e.Path, e.Root, e.Artist, e.ArtistKey, e.Title, e.TitleKey, e.Format,
			e.BitrateKbps, e.SampleRate, e.BitDepth, e.TotalSize, e.ExpectedTracks, e.ReleaseID,
			boolToInt(e.ReleaseTagged), e.Signature, e.LastScanID).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to upsert edition: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM tracks WHERE edition_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear tracks: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO tracks (edition_id, idx, disc, title, duration_ms, bitrate_kbps,
				sample_rate, bit_depth, format, path, size_bytes, is_bonus)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare track insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range tracks {
			_, err := stmt.Exec(id, t.Index, t.Disc, t.Title, t.DurationMs, t.BitrateKbps,
				t.SampleRate, t.BitDepth, t.Format, t.Path, t.SizeBytes, boolToInt(t.IsBonus))
			if err != nil {
				return fmt.Errorf("failed to insert track %s: %w", t.Path, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

// TouchEdition marks an unchanged edition as seen by scanID
func (s *Store) TouchEdition(id int64, scanID string) error {
	_, err := s.db.Exec(`UPDATE editions SET last_scan_id = ? WHERE id = ?`, scanID, id)
	return err
}

// GetEdition returns an edition with its tracks, or nil
func (s *Store) GetEdition(id int64) (*Edition, error) {
	row := s.db.QueryRow(`SELECT `+editionColumns+` FROM editions WHERE id = ?`, id)
	e, err := scanEdition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edition: %w", err)
	}
	if e.Tracks, err = s.GetTracks(id); err != nil {
		return nil, err
	}
	return e, nil
}

// GetEditionByPath returns an edition without tracks, or nil
func (s *Store) GetEditionByPath(path string) (*Edition, error) {
	row := s.db.QueryRow(`SELECT `+editionColumns+` FROM editions WHERE path = ?`, path)
	e, err := scanEdition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edition by path: %w", err)
	}
	return e, nil
}

// ListEditionsSeenIn returns the editions seen by a scan that are still in
// place, with tracks, ordered by artist key then path
func (s *Store) ListEditionsSeenIn(scanID string) ([]*Edition, error) {
	rows, err := s.db.Query(`
		SELECT `+editionColumns+` FROM editions
		WHERE last_scan_id = ? AND moved = 0
		ORDER BY artist_key, path
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list editions: %w", err)
	}

	var editions []*Edition
	for rows.Next() {
		e, err := scanEdition(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		editions = append(editions, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range editions {
		if e.Tracks, err = s.GetTracks(e.ID); err != nil {
			return nil, err
		}
	}
	return editions, nil
}

// SetEditionMoved flips the moved flag after a committed move or a restore
func (s *Store) SetEditionMoved(id int64, moved bool) error {
	_, err := s.db.Exec(`UPDATE editions SET moved = ? WHERE id = ?`, boolToInt(moved), id)
	return err
}

// MarkEditionMoved is SetEditionMoved inside a ledger transaction
func (s *Store) MarkEditionMoved(tx *sql.Tx, id int64, moved bool) error {
	_, err := tx.Exec(`UPDATE editions SET moved = ? WHERE id = ?`, boolToInt(moved), id)
	return err
}

// SetEditionFlags updates the review flags of an edition
func (s *Store) SetEditionFlags(id int64, aiVerified, noMove bool) error {
	_, err := s.db.Exec(`UPDATE editions SET ai_verified = ?, no_move = ? WHERE id = ?`,
		boolToInt(aiVerified), boolToInt(noMove), id)
	return err
}

// SetReleaseInfo stores a provider release id and expected track count.
// The id is marked untagged.
func (s *Store) SetReleaseInfo(id int64, releaseID string, expected int) error {
	_, err := s.db.Exec(`
		UPDATE editions SET release_id = ?, release_tagged = 0,
			expected_tracks = CASE WHEN ? > 0 THEN ? ELSE expected_tracks END
		WHERE id = ?
	`, releaseID, expected, expected, id)
	return err
}

// GetTracks returns an edition's tracks ordered by index
func (s *Store) GetTracks(editionID int64) ([]*Track, error) {
	rows, err := s.db.Query(`
		SELECT edition_id, idx, disc, title, duration_ms, bitrate_kbps, sample_rate,
			bit_depth, format, path, size_bytes, is_bonus
		FROM tracks WHERE edition_id = ? ORDER BY idx
	`, editionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*Track
	for rows.Next() {
		var t Track
		var title, format sql.NullString
		var isBonus int
		if err := rows.Scan(&t.EditionID, &t.Index, &t.Disc, &title, &t.DurationMs, &t.BitrateKbps,
			&t.SampleRate, &t.BitDepth, &format, &t.Path, &t.SizeBytes, &isBonus); err != nil {
			return nil, err
		}
		t.Title = title.String
		t.Format = format.String
		t.IsBonus = isBonus == 1
		tracks = append(tracks, &t)
	}
	return tracks, rows.Err()
}

// GetTrackByPath returns the track stored at path, or nil
func (s *Store) GetTrackByPath(path string) (*Track, error) {
	var t Track
	var title, format sql.NullString
	var isBonus int
	err := s.db.QueryRow(`
		SELECT edition_id, idx, disc, title, duration_ms, bitrate_kbps, sample_rate,
			bit_depth, format, path, size_bytes, is_bonus
		FROM tracks WHERE path = ?
	`, path).Scan(&t.EditionID, &t.Index, &t.Disc, &title, &t.DurationMs, &t.BitrateKbps,
		&t.SampleRate, &t.BitDepth, &format, &t.Path, &t.SizeBytes, &isBonus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	t.Title = title.String
	t.Format = format.String
	t.IsBonus = isBonus == 1
	return &t, nil
}

// MarkBonusTracks sets is_bonus on the given track paths of an edition and
// clears it on the others
func (s *Store) MarkBonusTracks(editionID int64, paths []string) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE tracks SET is_bonus = 0 WHERE edition_id = ?`, editionID); err != nil {
			return err
		}
		for _, p := range paths {
			if _, err := tx.Exec(`UPDATE tracks SET is_bonus = 1 WHERE edition_id = ? AND path = ?`, editionID, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReassignTrack moves a track row to another edition under a new path and
// index. It is the only mutation a scanned track ever sees.
func (s *Store) ReassignTrack(tx *sql.Tx, fromEdition int64, fromPath string, toEdition int64, toPath string, toIndex int, bonus bool) error {
	res, err := tx.Exec(`
		UPDATE tracks SET edition_id = ?, path = ?, idx = ?, is_bonus = ?
		WHERE edition_id = ? AND path = ?
	`, toEdition, toPath, toIndex, boolToInt(bonus), fromEdition, fromPath)
	if err != nil {
		return fmt.Errorf("failed to reassign track: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("track %s not found in edition %d", fromPath, fromEdition)
	}
	return nil
}

// NextTrackIndex returns one past the highest track index of an edition
func (s *Store) NextTrackIndex(editionID int64) (int, error) {
	var max int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(idx), 0) FROM tracks WHERE edition_id = ?`, editionID).Scan(&max)
	return max + 1, err
}

func scanEdition(row rowScanner) (*Edition, error) {
	var e Edition
	var format, releaseID, lastScan sql.NullString
	var tagged, aiVerified, noMove, moved int
	err := row.Scan(&e.ID, &e.Path, &e.Root, &e.Artist, &e.ArtistKey, &e.Title, &e.TitleKey, &format,
		&e.BitrateKbps, &e.SampleRate, &e.BitDepth, &e.TotalSize, &e.ExpectedTracks, &releaseID,
		&tagged, &aiVerified, &noMove, &moved, &e.Signature, &lastScan)
	if err != nil {
		return nil, err
	}
	e.Format = format.String
	e.ReleaseID = releaseID.String
	e.ReleaseTagged = tagged == 1
	e.LastScanID = lastScan.String
	e.AIVerified = aiVerified == 1
	e.NoMove = noMove == 1
	e.Moved = moved == 1
	return &e, nil
}
