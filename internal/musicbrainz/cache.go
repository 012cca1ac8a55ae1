package musicbrainz

import (
	"context"
	"errors"
	"fmt"

	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/probe"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// releaseSource is the remote side of the cache
type releaseSource interface {
	LookupRelease(ctx context.Context, mbid string) (*Release, error)
	SearchRelease(ctx context.Context, artist, album string, tracks int) (*Release, error)
}

// Cache resolves releases through memory, then the database, then the API.
// Misses are remembered in both layers; transport failures are not.
type Cache struct {
	store  *store.Store
	client releaseSource
	mem    *probe.Cache[*meta.ReleaseInfo]
}

// NewCache creates a release cache backed by st
func NewCache(st *store.Store, client *Client) *Cache {
	return newCache(st, client)
}

func newCache(st *store.Store, client releaseSource) *Cache {
	return &Cache{
		store:  st,
		client: client,
		mem:    probe.NewCache[*meta.ReleaseInfo](),
	}
}

// LookupRelease implements meta.ReleaseProvider
func (c *Cache) LookupRelease(ctx context.Context, q meta.ReleaseQuery) (*meta.ReleaseInfo, error) {
	key := queryKey(q)
	if key == "" {
		return nil, nil
	}

	info, err := c.mem.GetOrCompute(key, func() (*meta.ReleaseInfo, error) {
		return c.resolve(ctx, key, q)
	})
	if errors.Is(err, probe.ErrNoMatch) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Cache) resolve(ctx context.Context, key string, q meta.ReleaseQuery) (*meta.ReleaseInfo, error) {
	cached, found, err := c.store.GetCachedRelease(key)
	if err != nil {
		return nil, err
	}
	if found {
		if cached == nil {
			return nil, probe.ErrNoMatch
		}
		return &meta.ReleaseInfo{ReleaseID: cached.ReleaseID, Title: cached.Title, TrackCount: cached.TrackCount}, nil
	}

	var rel *Release
	if q.ReleaseID != "" {
		rel, err = c.client.LookupRelease(ctx, q.ReleaseID)
	} else {
		rel, err = c.client.SearchRelease(ctx, q.Artist, q.Album, q.Tracks)
	}
	if err != nil {
		return nil, fmt.Errorf("musicbrainz lookup %s: %w", key, err)
	}

	if rel == nil {
		if err := c.store.PutReleaseMiss(key); err != nil {
			util.WarnLog("Failed to cache MusicBrainz miss for %s: %v", key, err)
		}
		return nil, probe.ErrNoMatch
	}

	info := &meta.ReleaseInfo{ReleaseID: rel.ID, Title: rel.Title, TrackCount: rel.Tracks()}
	if err := c.store.PutCachedRelease(&store.CachedRelease{
		QueryKey:   key,
		ReleaseID:  info.ReleaseID,
		Title:      info.Title,
		TrackCount: info.TrackCount,
	}); err != nil {
		util.WarnLog("Failed to cache MusicBrainz release for %s: %v", key, err)
	}
	return info, nil
}

// Stats returns the in-memory cache counters
func (c *Cache) Stats() probe.Stats {
	return c.mem.Stats()
}

// queryKey is the cache key of a query: the release id when known, otherwise
// the normalized artist and title plus the track hint
func queryKey(q meta.ReleaseQuery) string {
	if q.ReleaseID != "" {
		return "id:" + q.ReleaseID
	}
	album := meta.NormalizeAlbumTitle(q.Album, true)
	if album == "" {
		return ""
	}
	return fmt.Sprintf("q:%s|%s|%d", meta.NormalizeArtist(q.Artist), album, q.Tracks)
}
