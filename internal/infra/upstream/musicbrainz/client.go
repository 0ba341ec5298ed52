// Package musicbrainz resolves artist names to MusicBrainz identifiers, which
// the catalogue requires when adding an artist.
package musicbrainz

import (
	"context"
	"net/url"
	"strings"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/upstream/httpx"
	"github.com/ahrav/sonolive/pkg/common/logger"
)

// DefaultBaseURL is the MusicBrainz web service root.
const DefaultBaseURL = "https://musicbrainz.org/ws/2"

// minNameRatio is the name similarity, out of 100, a search hit needs to be
// accepted as the requested artist.
const minNameRatio = 90

// Artist is one search hit.
type Artist struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Client searches MusicBrainz.
type Client struct {
	http *httpx.Client
	// fallbackToTop accepts the best-scored hit when no name matches.
	fallbackToTop bool
	logger        *logger.Logger
}

// New creates a client. The underlying httpx client must send a descriptive
// User-Agent.
func New(http *httpx.Client, fallbackToTop bool, logger *logger.Logger) *Client {
	return &Client{http: http, fallbackToTop: fallbackToTop, logger: logger.With("component", "musicbrainz")}
}

// SearchArtists returns the hits for name in MusicBrainz order.
func (c *Client) SearchArtists(ctx context.Context, name string) ([]Artist, error) {
	var body struct {
		Artists []Artist `json:"artists"`
	}
	q := url.Values{"query": {"artist:" + name}, "fmt": {"json"}}
	if err := c.http.GetJSON(ctx, "search", "/artist/", q, nil, &body); err != nil {
		return nil, err
	}
	return body.Artists, nil
}

// SearchSeeds returns the distinct artist names matching a free-text query,
// in MusicBrainz order.
func (c *Client) SearchSeeds(ctx context.Context, query string) ([]string, error) {
	artists, err := c.SearchArtists(ctx, query)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(artists))
	for _, a := range artists {
		names = append(names, a.Name)
	}
	names = discovery.DedupeNames(names)
	c.logger.Info(ctx, "artist search", "query", query, "hits", len(artists), "seeds", len(names))
	return names, nil
}

// ResolveMBID returns the MusicBrainz id for name, or "" when nothing close
// enough was found.
func (c *Client) ResolveMBID(ctx context.Context, name string) (string, error) {
	artists, err := c.SearchArtists(ctx, name)
	if err != nil {
		return "", err
	}

	for _, a := range artists {
		if NameRatio(name, a.Name) > minNameRatio {
			c.logger.Info(ctx, "resolved artist", "artist", name, "match", a.Name, "mbid", a.ID)
			return a.ID, nil
		}
	}
	if c.fallbackToTop && len(artists) > 0 {
		c.logger.Info(ctx, "falling back to top search result",
			"artist", name, "match", artists[0].Name, "mbid", artists[0].ID)
		return artists[0].ID, nil
	}
	return "", nil
}

// NameRatio scores how alike two artist names are from 0 to 100. Names are
// compared case-insensitively both as written and with diacritics folded,
// and the better score wins.
func NameRatio(a, b string) int {
	raw := ratio(strings.ToLower(a), strings.ToLower(b))
	folded := ratio(discovery.NormalizeIdentity(a), discovery.NormalizeIdentity(b))
	return max(raw, folded)
}

// ratio is the indel similarity 2*LCS/(len(a)+len(b)) scaled to 100.
func ratio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return 200 * prev[len(rb)] / total
}
