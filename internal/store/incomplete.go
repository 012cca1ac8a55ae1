package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// IndexRange is a contiguous run of missing track indexes, inclusive
type IndexRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// IncompleteItem is one edition classified as missing tracks
type IncompleteItem struct {
	ScanID         string
	AlbumID        int64
	Artist         string
	Album          string
	Path           string
	Tags           []string
	ExpectedTracks int
	ActualTracks   int
	ExpectedSource string
	MissingRanges  []IndexRange
	Moved          bool
}

// ReplaceIncompleteItems swaps a scan's incomplete classification
func (s *Store) ReplaceIncompleteItems(scanID string, items []*IncompleteItem) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM incomplete_items WHERE scan_id = ? AND moved = 0`, scanID); err != nil {
			return fmt.Errorf("failed to clear incomplete items: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO incomplete_items (scan_id, album_id, artist, album, path, tags,
				expected_tracks, actual_tracks, expected_source, missing_ranges)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(scan_id, album_id) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, it := range items {
			tags, _ := json.Marshal(it.Tags)
			ranges, _ := json.Marshal(it.MissingRanges)
			if _, err := stmt.Exec(scanID, it.AlbumID, it.Artist, it.Album, it.Path, string(tags),
				it.ExpectedTracks, it.ActualTracks, it.ExpectedSource, string(ranges)); err != nil {
				return fmt.Errorf("failed to insert incomplete item: %w", err)
			}
		}
		return nil
	})
}

// ListIncompleteItems returns a scan's incomplete albums ordered by artist and album
func (s *Store) ListIncompleteItems(scanID string) ([]*IncompleteItem, error) {
	rows, err := s.db.Query(`
		SELECT scan_id, album_id, artist, album, path, tags, expected_tracks, actual_tracks,
			expected_source, missing_ranges, moved
		FROM incomplete_items WHERE scan_id = ?
		ORDER BY artist, album, album_id
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete items: %w", err)
	}
	defer rows.Close()

	var items []*IncompleteItem
	for rows.Next() {
		var it IncompleteItem
		var artist, album, tags, source, ranges sql.NullString
		var moved int
		if err := rows.Scan(&it.ScanID, &it.AlbumID, &artist, &album, &it.Path, &tags,
			&it.ExpectedTracks, &it.ActualTracks, &source, &ranges, &moved); err != nil {
			return nil, err
		}
		it.Artist = artist.String
		it.Album = album.String
		it.ExpectedSource = source.String
		it.Moved = moved == 1
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &it.Tags); err != nil {
				return nil, fmt.Errorf("failed to decode tags: %w", err)
			}
		}
		if ranges.Valid && ranges.String != "" {
			if err := json.Unmarshal([]byte(ranges.String), &it.MissingRanges); err != nil {
				return nil, fmt.Errorf("failed to decode missing ranges: %w", err)
			}
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// SetIncompleteMoved flags an item as quarantined or back in place
func (s *Store) SetIncompleteMoved(tx *sql.Tx, scanID string, albumID int64, moved bool) error {
	_, err := tx.Exec(`UPDATE incomplete_items SET moved = ? WHERE scan_id = ? AND album_id = ?`,
		boolToInt(moved), scanID, albumID)
	return err
}
