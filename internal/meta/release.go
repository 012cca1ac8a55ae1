package meta

import "context"

// ReleaseQuery describes an album to look up in a release database
type ReleaseQuery struct {
	ReleaseID string // known release id, if tagged
	Artist    string
	Album     string
	Tracks    int // track count hint used to prefer the matching release
}

// ReleaseInfo is the canonical release identity for an album
type ReleaseInfo struct {
	ReleaseID  string
	Title      string
	TrackCount int
}

// ReleaseProvider resolves canonical release ids and expected track counts.
// A nil info with a nil error means the provider knows nothing about the album.
type ReleaseProvider interface {
	LookupRelease(ctx context.Context, q ReleaseQuery) (*ReleaseInfo, error)
}

// NoReleases is the provider used when lookups are disabled
type NoReleases struct{}

func (NoReleases) LookupRelease(context.Context, ReleaseQuery) (*ReleaseInfo, error) {
	return nil, nil
}
