package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/franz/edition-janitor/internal/util"
)

const (
	// BaseURL is the MusicBrainz API base URL
	BaseURL = "https://musicbrainz.org/ws/2"

	// UserAgent identifies this application to MusicBrainz, which rejects
	// anonymous clients
	UserAgent = "EditionJanitor/0.4.0 (https://github.com/franz/edition-janitor)"

	// RateLimit is the minimum spacing between requests (MusicBrainz requirement)
	RateLimit = 1 * time.Second

	// minSearchScore is the lowest search score accepted as a match
	minSearchScore = 90
)

// Client handles MusicBrainz API requests with rate limiting
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
}

// NewClient creates a new MusicBrainz API client
func NewClient() *Client {
	return NewClientWithBaseURL(BaseURL)
}

// NewClientWithBaseURL creates a client against a mirror or test server
func NewClientWithBaseURL(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: UserAgent,
		limiter:   rate.NewLimiter(rate.Every(RateLimit), 1),
	}
}

// SetRateLimit replaces the request spacing
func (c *Client) SetRateLimit(every time.Duration) {
	c.limiter = rate.NewLimiter(rate.Every(every), 1)
}

// Release is a release as returned by lookup and search
type Release struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Score      int     `json:"score"`
	TrackCount int     `json:"track-count"`
	Status     string  `json:"status"`
	Date       string  `json:"date"`
	Media      []Media `json:"media"`
}

// Media is one disc of a release
type Media struct {
	Position   int    `json:"position"`
	Format     string `json:"format"`
	TrackCount int    `json:"track-count"`
}

// Tracks returns the total track count over all media
func (r *Release) Tracks() int {
	if r.TrackCount > 0 {
		return r.TrackCount
	}
	total := 0
	for _, m := range r.Media {
		total += m.TrackCount
	}
	return total
}

// ReleaseSearchResult is the search endpoint response
type ReleaseSearchResult struct {
	Releases []Release `json:"releases"`
	Count    int       `json:"count"`
	Offset   int       `json:"offset"`
}

// LookupRelease fetches one release by its MBID. A nil release with nil error
// means the id is unknown.
func (c *Client) LookupRelease(ctx context.Context, mbid string) (*Release, error) {
	if mbid == "" {
		return nil, fmt.Errorf("MBID cannot be empty")
	}

	urlStr := fmt.Sprintf("%s/release/%s?fmt=json&inc=media", c.baseURL, url.PathEscape(mbid))
	util.DebugLog("MusicBrainz API: looking up release %s", mbid)

	var release Release
	found, err := c.get(ctx, urlStr, &release)
	if err != nil || !found {
		return nil, err
	}
	return &release, nil
}

// SearchRelease finds the best release for an artist and album title. When
// tracks is positive, a high-scoring release with that many tracks is preferred.
func (c *Client) SearchRelease(ctx context.Context, artist, album string, tracks int) (*Release, error) {
	if album == "" {
		return nil, fmt.Errorf("album title cannot be empty")
	}

	query := fmt.Sprintf(`release:"%s"`, escapeLucene(album))
	if artist != "" {
		query += fmt.Sprintf(` AND artist:"%s"`, escapeLucene(artist))
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("fmt", "json")
	params.Set("limit", "10")
	urlStr := fmt.Sprintf("%s/release/?%s", c.baseURL, params.Encode())

	util.DebugLog("MusicBrainz API: searching release %q by %q", album, artist)

	var result ReleaseSearchResult
	if _, err := c.get(ctx, urlStr, &result); err != nil {
		return nil, err
	}

	best := pickRelease(result.Releases, tracks)
	if best == nil {
		util.DebugLog("MusicBrainz: no confident match for %q by %q", album, artist)
		return nil, nil
	}
	util.DebugLog("MusicBrainz: matched %q (score: %d, MBID: %s)", best.Title, best.Score, best.ID)
	return best, nil
}

// pickRelease returns the top-scoring release above the score floor,
// preferring one whose track count equals the hint
func pickRelease(releases []Release, tracks int) *Release {
	var best *Release
	for i := range releases {
		r := &releases[i]
		if r.Score < minSearchScore {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		if tracks > 0 && r.Tracks() == tracks && best.Tracks() != tracks {
			best = r
		}
	}
	return best
}

// get performs a rate-limited GET and decodes the JSON body into out.
// A 404 returns found=false with no error.
func (c *Client) get(ctx context.Context, urlStr string, out interface{}) (found bool, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusServiceUnavailable:
		return false, fmt.Errorf("MusicBrainz service unavailable (503) - rate limit exceeded or maintenance")
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}

var luceneEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeLucene(s string) string {
	return luceneEscaper.Replace(s)
}
