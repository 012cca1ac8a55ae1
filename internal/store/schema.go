package store

// schemaV1 is the initial library schema
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scan_runs (
	scan_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	albums_total INTEGER NOT NULL DEFAULT 0,
	albums_scanned INTEGER NOT NULL DEFAULT 0,
	artists_total INTEGER NOT NULL DEFAULT 0,
	artists_processed INTEGER NOT NULL DEFAULT 0,
	scan_errors INTEGER NOT NULL DEFAULT 0,
	groups_found INTEGER NOT NULL DEFAULT 0,
	albums_moved INTEGER NOT NULL DEFAULT 0,
	space_saved_mb REAL NOT NULL DEFAULT 0,
	ai_failed INTEGER NOT NULL DEFAULT 0,
	ai_recovered INTEGER NOT NULL DEFAULT 0,
	ai_unresolved INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
);

CREATE TABLE IF NOT EXISTS editions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	root TEXT NOT NULL,
	artist TEXT NOT NULL,
	artist_key TEXT NOT NULL,
	title TEXT NOT NULL,
	title_key TEXT NOT NULL,
	format TEXT,
	bitrate_kbps INTEGER,
	sample_rate INTEGER,
	bit_depth INTEGER,
	total_size INTEGER NOT NULL DEFAULT 0,
	expected_tracks INTEGER NOT NULL DEFAULT 0,
	release_id TEXT,
	ai_verified INTEGER NOT NULL DEFAULT 0,
	no_move INTEGER NOT NULL DEFAULT 0,
	moved INTEGER NOT NULL DEFAULT 0,
	signature TEXT NOT NULL,
	last_scan_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_editions_artist ON editions(artist_key);
CREATE INDEX IF NOT EXISTS idx_editions_scan ON editions(last_scan_id);

CREATE TABLE IF NOT EXISTS tracks (
	edition_id INTEGER NOT NULL REFERENCES editions(id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	disc INTEGER NOT NULL DEFAULT 1,
	title TEXT,
	duration_ms INTEGER,
	bitrate_kbps INTEGER,
	sample_rate INTEGER,
	bit_depth INTEGER,
	format TEXT,
	path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	is_bonus INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (edition_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_tracks_path ON tracks(path);

CREATE TABLE IF NOT EXISTS album_checkpoints (
	album_key TEXT PRIMARY KEY,
	signature TEXT NOT NULL,
	edition_id INTEGER NOT NULL,
	scan_id TEXT NOT NULL,
	completed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS album_groups (
	group_key TEXT PRIMARY KEY,
	scan_id TEXT NOT NULL,
	artist_key TEXT NOT NULL,
	title_key TEXT NOT NULL,
	artist TEXT NOT NULL,
	title TEXT NOT NULL,
	kept_edition_id INTEGER,
	no_move INTEGER NOT NULL DEFAULT 0,
	no_move_reason TEXT,
	margin REAL NOT NULL DEFAULT 0,
	ai_rationale TEXT,
	merge_list TEXT,
	status TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_groups_scan ON album_groups(scan_id);
CREATE INDEX IF NOT EXISTS idx_groups_artist ON album_groups(artist_key);

CREATE TABLE IF NOT EXISTS group_members (
	group_key TEXT NOT NULL REFERENCES album_groups(group_key) ON DELETE CASCADE,
	edition_id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	score REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (group_key, edition_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_group_members_edition ON group_members(edition_id);

CREATE TABLE IF NOT EXISTS moves (
	move_id TEXT PRIMARY KEY,
	scan_id TEXT NOT NULL,
	move_reason TEXT NOT NULL,
	status TEXT NOT NULL,
	artist TEXT,
	album_id INTEGER NOT NULL,
	group_key TEXT,
	track_index INTEGER,
	original_path TEXT NOT NULL,
	moved_to_path TEXT NOT NULL,
	size_mb REAL NOT NULL DEFAULT 0,
	restored INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	created_at DATETIME NOT NULL,
	committed_at DATETIME,
	restored_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_moves_scan ON moves(scan_id);
CREATE INDEX IF NOT EXISTS idx_moves_original ON moves(original_path);
CREATE INDEX IF NOT EXISTS idx_moves_status ON moves(status);

CREATE TABLE IF NOT EXISTS incomplete_items (
	scan_id TEXT NOT NULL,
	album_id INTEGER NOT NULL,
	artist TEXT,
	album TEXT,
	path TEXT NOT NULL,
	tags TEXT,
	expected_tracks INTEGER NOT NULL,
	actual_tracks INTEGER NOT NULL,
	expected_source TEXT,
	missing_ranges TEXT,
	moved INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (scan_id, album_id)
);

CREATE TABLE IF NOT EXISTS ai_failures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_id TEXT NOT NULL,
	group_key TEXT NOT NULL,
	kind TEXT NOT NULL,
	recoverable INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	error TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_ai_failures_scan ON ai_failures(scan_id, status);
`

// schemaV2 adds the metadata provider caches. Positive and negative lookups
// live in separate tables so a miss never shadows a later hit.
const schemaV2 = `
CREATE TABLE IF NOT EXISTS musicbrainz_releases (
	query_key TEXT PRIMARY KEY,
	release_id TEXT NOT NULL,
	title TEXT,
	track_count INTEGER NOT NULL DEFAULT 0,
	cached_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	hit_count INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS musicbrainz_misses (
	query_key TEXT PRIMARY KEY,
	cached_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// schemaV3 records whether an edition's release id was read from its own
// tags. Ids filled in from a provider search are only hints.
const schemaV3 = `
ALTER TABLE editions ADD COLUMN release_tagged INTEGER NOT NULL DEFAULT 0;
`
