package store

import (
	"database/sql"
	"fmt"
)

// Checkpoint marks an album folder as fully scanned at a given signature
type Checkpoint struct {
	AlbumKey  string
	Signature string
	EditionID int64
	ScanID    string
}

// GetCheckpoint returns the checkpoint for an album key, or nil
func (s *Store) GetCheckpoint(albumKey string) (*Checkpoint, error) {
	var c Checkpoint
	err := s.db.QueryRow(`
		SELECT album_key, signature, edition_id, scan_id
		FROM album_checkpoints WHERE album_key = ?
	`, albumKey).Scan(&c.AlbumKey, &c.Signature, &c.EditionID, &c.ScanID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &c, nil
}

// PutCheckpoint records that an album finished scanning
func (s *Store) PutCheckpoint(c *Checkpoint) error {
	_, err := s.db.Exec(`
		INSERT INTO album_checkpoints (album_key, signature, edition_id, scan_id, completed_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(album_key) DO UPDATE SET
			signature = excluded.signature,
			edition_id = excluded.edition_id,
			scan_id = excluded.scan_id,
			completed_at = CURRENT_TIMESTAMP
	`, c.AlbumKey, c.Signature, c.EditionID, c.ScanID)
	if err != nil {
		return fmt.Errorf("failed to put checkpoint: %w", err)
	}
	return nil
}

// DeleteCheckpoint forces the album to be rescanned next time
func (s *Store) DeleteCheckpoint(albumKey string) error {
	_, err := s.db.Exec(`DELETE FROM album_checkpoints WHERE album_key = ?`, albumKey)
	return err
}
