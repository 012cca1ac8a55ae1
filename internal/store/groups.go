package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Group statuses
const (
	GroupPending  = "pending"
	GroupResolved = "resolved"
	GroupDeduped  = "deduped"
)

// AlbumGroup is the logical work that one or more editions represent.
// Members are edition ids ordered by rank once scored.
type AlbumGroup struct {
	GroupKey      string
	ScanID        string
	ArtistKey     string
	TitleKey      string
	Artist        string
	Title         string
	EditionIDs    []int64
	Scores        []float64
	KeptEditionID int64 // 0 while undecided
	NoMove        bool
	NoMoveReason  string
	Margin        float64
	AIRationale   string
	MergeList     []string // track paths from losing editions
	Status        string
}

// KeptIndex returns the position of the kept edition, or -1
func (g *AlbumGroup) KeptIndex() int {
	if g.KeptEditionID == 0 {
		return -1
	}
	for i, id := range g.EditionIDs {
		if id == g.KeptEditionID {
			return i
		}
	}
	return -1
}

// ReplaceArtistGroups swaps the groups of one artist for a scan in a single
// transaction. Rebuilding an artist is a replace-in-place update.
func (s *Store) ReplaceArtistGroups(scanID, artistKey string, groups []*AlbumGroup) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM group_members WHERE group_key IN (
				SELECT group_key FROM album_groups WHERE artist_key = ?
			)
		`, artistKey); err != nil {
			return fmt.Errorf("failed to clear group members: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM album_groups WHERE artist_key = ?`, artistKey); err != nil {
			return fmt.Errorf("failed to clear groups: %w", err)
		}
		for _, g := range groups {
			g.ScanID = scanID
			if err := insertGroup(tx, g); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveGroup rewrites a single group and its membership
func (s *Store) SaveGroup(g *AlbumGroup) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM group_members WHERE group_key = ?`, g.GroupKey); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM album_groups WHERE group_key = ?`, g.GroupKey); err != nil {
			return err
		}
		return insertGroup(tx, g)
	})
}

func insertGroup(tx *sql.Tx, g *AlbumGroup) error {
	mergeJSON, err := json.Marshal(g.MergeList)
	if err != nil {
		return err
	}
	var kept interface{}
	if g.KeptEditionID != 0 {
		kept = g.KeptEditionID
	}
	status := g.Status
	if status == "" {
		status = GroupPending
	}

	_, err = tx.Exec(`
		INSERT INTO album_groups (group_key, scan_id, artist_key, title_key, artist, title,
			kept_edition_id, no_move, no_move_reason, margin, ai_rationale, merge_list, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.GroupKey, g.ScanID, g.ArtistKey, g.TitleKey, g.Artist, g.Title, kept,
		boolToInt(g.NoMove), g.NoMoveReason, g.Margin, g.AIRationale, string(mergeJSON), status)
	if err != nil {
		return fmt.Errorf("failed to insert group %s: %w", g.GroupKey, err)
	}

	for i, id := range g.EditionIDs {
		// An edition belongs to exactly one group
		if _, err := tx.Exec(`DELETE FROM group_members WHERE edition_id = ?`, id); err != nil {
			return err
		}
		score := 0.0
		if i < len(g.Scores) {
			score = g.Scores[i]
		}
		if _, err := tx.Exec(`
			INSERT INTO group_members (group_key, edition_id, position, score)
			VALUES (?, ?, ?, ?)
		`, g.GroupKey, id, i, score); err != nil {
			return fmt.Errorf("failed to insert group member: %w", err)
		}
	}
	return nil
}

const groupColumns = `group_key, scan_id, artist_key, title_key, artist, title, kept_edition_id,
	no_move, no_move_reason, margin, ai_rationale, merge_list, status`

// GetGroup returns a group with its members, or nil
func (s *Store) GetGroup(groupKey string) (*AlbumGroup, error) {
	row := s.db.QueryRow(`SELECT `+groupColumns+` FROM album_groups WHERE group_key = ?`, groupKey)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	if err := s.loadMembers(g); err != nil {
		return nil, err
	}
	return g, nil
}

// ListGroups returns the groups of a scan that hold at least minEditions members
func (s *Store) ListGroups(scanID string, minEditions int) ([]*AlbumGroup, error) {
	rows, err := s.db.Query(`
		SELECT `+groupColumns+` FROM album_groups g
		WHERE scan_id = ?
		  AND (SELECT COUNT(*) FROM group_members m WHERE m.group_key = g.group_key) >= ?
		ORDER BY artist_key, title_key, group_key
	`, scanID, minEditions)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	var groups []*AlbumGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, g := range groups {
		if err := s.loadMembers(g); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// SetGroupStatus updates a group's lifecycle status
func (s *Store) SetGroupStatus(groupKey, status string) error {
	_, err := s.db.Exec(`UPDATE album_groups SET status = ? WHERE group_key = ?`, status, groupKey)
	return err
}

func (s *Store) loadMembers(g *AlbumGroup) error {
	rows, err := s.db.Query(`
		SELECT edition_id, score FROM group_members
		WHERE group_key = ? ORDER BY position
	`, g.GroupKey)
	if err != nil {
		return fmt.Errorf("failed to load group members: %w", err)
	}
	defer rows.Close()

	g.EditionIDs = nil
	g.Scores = nil
	for rows.Next() {
		var id int64
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return err
		}
		g.EditionIDs = append(g.EditionIDs, id)
		g.Scores = append(g.Scores, score)
	}
	return rows.Err()
}

func scanGroup(row rowScanner) (*AlbumGroup, error) {
	var g AlbumGroup
	var kept sql.NullInt64
	var noMove int
	var reason, rationale, mergeJSON sql.NullString
	err := row.Scan(&g.GroupKey, &g.ScanID, &g.ArtistKey, &g.TitleKey, &g.Artist, &g.Title, &kept,
		&noMove, &reason, &g.Margin, &rationale, &mergeJSON, &g.Status)
	if err != nil {
		return nil, err
	}
	g.KeptEditionID = kept.Int64
	g.NoMove = noMove == 1
	g.NoMoveReason = reason.String
	g.AIRationale = rationale.String
	if mergeJSON.Valid && mergeJSON.String != "" && mergeJSON.String != "null" {
		if err := json.Unmarshal([]byte(mergeJSON.String), &g.MergeList); err != nil {
			return nil, fmt.Errorf("failed to decode merge list: %w", err)
		}
	}
	return &g, nil
}
