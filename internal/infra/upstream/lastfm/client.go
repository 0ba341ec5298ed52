// Package lastfm is a minimal client for the Last.fm web services used for
// discovery: similar artists, artist metadata, top tracks and user charts.
package lastfm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/upstream/httpx"
)

// DefaultBaseURL is the Last.fm API root.
const DefaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

// Last.fm reports most failures as a JSON error code, often with a 200.
const (
	errInvalidParameters = 6
	errOperationFailed   = 8
	errServiceOffline    = 11
	errTemporary         = 16
	errRateLimited       = 29
)

// ErrNotConfigured is returned by every call when no API key is set.
var ErrNotConfigured = errors.New("lastfm: api key not configured")

// Similar is one entry of an artist's similar-artist list.
type Similar struct {
	Name  string
	Match float64
}

// ArtistInfo is the metadata shown on a candidate card and in previews.
type ArtistInfo struct {
	Name      string
	Tags      []string
	Listeners int64
	Plays     int64
	Bio       string
}

// Client calls Last.fm.
type Client struct {
	http   *httpx.Client
	apiKey string
}

// New creates a client. An empty apiKey yields a client whose calls fail with
// ErrNotConfigured.
func New(http *httpx.Client, apiKey string) *Client {
	return &Client{http: http, apiKey: strings.TrimSpace(apiKey)}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

type apiError struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	op := strings.TrimPrefix(method, "artist.")
	if !c.Configured() {
		return discovery.NewPermanentError("lastfm."+op, ErrNotConfigured)
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("method", method)
	q.Set("api_key", c.apiKey)
	q.Set("format", "json")

	resp, err := c.http.Do(ctx, op, httpx.Request{Path: "", Query: q})
	if resp != nil {
		var ae apiError
		if jsonErr := resp.DecodeJSON(&ae); jsonErr == nil && ae.Code != 0 {
			return classifyAPIError("lastfm."+op, ae)
		}
	}
	if err != nil {
		return err
	}
	if err := resp.DecodeJSON(out); err != nil {
		return discovery.NewTransientError("lastfm."+op, err)
	}
	return nil
}

func classifyAPIError(op string, ae apiError) error {
	err := fmt.Errorf("lastfm error %d: %s", ae.Code, ae.Message)
	switch ae.Code {
	case errOperationFailed, errServiceOffline, errTemporary, errRateLimited:
		return discovery.NewTransientError(op, err)
	default:
		return discovery.NewPermanentError(op, err)
	}
}

// IsNotFound reports whether err is Last.fm's "no such artist or user".
func IsNotFound(err error) bool {
	var ae *discovery.AdapterError
	return errors.As(err, &ae) && ae.Class == discovery.ClassPermanent &&
		strings.Contains(err.Error(), "lastfm error "+strconv.Itoa(errInvalidParameters))
}

// SimilarArtists returns up to limit artists similar to artist, most similar
// first.
func (c *Client) SimilarArtists(ctx context.Context, artist string, limit int) ([]Similar, error) {
	var body struct {
		SimilarArtists struct {
			Artist []struct {
				Name  string `json:"name"`
				Match string `json:"match"`
			} `json:"artist"`
		} `json:"similarartists"`
	}
	params := url.Values{
		"artist":      {artist},
		"limit":       {strconv.Itoa(limit)},
		"autocorrect": {"1"},
	}
	if err := c.call(ctx, "artist.getsimilar", params, &body); err != nil {
		return nil, err
	}

	out := make([]Similar, 0, len(body.SimilarArtists.Artist))
	for _, a := range body.SimilarArtists.Artist {
		if strings.TrimSpace(a.Name) == "" {
			continue
		}
		match, err := strconv.ParseFloat(a.Match, 64)
		if err != nil {
			match = -1
		}
		out = append(out, Similar{Name: a.Name, Match: match})
	}
	return out, nil
}

// ArtistInfo returns tags, counts and biography for artist.
func (c *Client) ArtistInfo(ctx context.Context, artist string) (ArtistInfo, error) {
	var body struct {
		Artist struct {
			Name  string `json:"name"`
			Stats struct {
				Listeners string `json:"listeners"`
				Playcount string `json:"playcount"`
			} `json:"stats"`
			Tags struct {
				Tag []struct {
					Name string `json:"name"`
				} `json:"tag"`
			} `json:"tags"`
			Bio struct {
				Content string `json:"content"`
				Summary string `json:"summary"`
			} `json:"bio"`
		} `json:"artist"`
	}
	params := url.Values{"artist": {artist}, "autocorrect": {"1"}}
	if err := c.call(ctx, "artist.getinfo", params, &body); err != nil {
		return ArtistInfo{}, err
	}

	info := ArtistInfo{
		Name:      body.Artist.Name,
		Listeners: parseCount(body.Artist.Stats.Listeners),
		Plays:     parseCount(body.Artist.Stats.Playcount),
		Bio:       strings.TrimSpace(body.Artist.Bio.Content),
	}
	if info.Name == "" {
		info.Name = artist
	}
	if info.Bio == "" {
		info.Bio = strings.TrimSpace(body.Artist.Bio.Summary)
	}
	// Casers are stateful and cannot be shared across goroutines.
	title := cases.Title(language.English)
	for i, t := range body.Artist.Tags.Tag {
		if i == 5 {
			break
		}
		info.Tags = append(info.Tags, title.String(t.Name))
	}
	return info, nil
}

// TopTracks returns the titles of artist's most played tracks.
func (c *Client) TopTracks(ctx context.Context, artist string, limit int) ([]string, error) {
	var body struct {
		TopTracks struct {
			Track []struct {
				Name string `json:"name"`
			} `json:"track"`
		} `json:"toptracks"`
	}
	params := url.Values{"artist": {artist}, "limit": {strconv.Itoa(limit)}, "autocorrect": {"1"}}
	if err := c.call(ctx, "artist.gettoptracks", params, &body); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(body.TopTracks.Track))
	for _, t := range body.TopTracks.Track {
		if t.Name != "" {
			out = append(out, t.Name)
		}
	}
	return out, nil
}

// SearchArtists returns artist names matching query, best match first.
func (c *Client) SearchArtists(ctx context.Context, query string) ([]string, error) {
	var body struct {
		Results struct {
			ArtistMatches struct {
				Artist []struct {
					Name string `json:"name"`
				} `json:"artist"`
			} `json:"artistmatches"`
		} `json:"results"`
	}
	if err := c.call(ctx, "artist.search", url.Values{"artist": {query}, "limit": {"10"}}, &body); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(body.Results.ArtistMatches.Artist))
	for _, a := range body.Results.ArtistMatches.Artist {
		out = append(out, a.Name)
	}
	return out, nil
}

// UserTopArtists returns the most listened artists of a Last.fm user.
func (c *Client) UserTopArtists(ctx context.Context, user string, limit int) ([]string, error) {
	var body struct {
		TopArtists struct {
			Artist []struct {
				Name string `json:"name"`
			} `json:"artist"`
		} `json:"topartists"`
	}
	params := url.Values{"user": {user}, "limit": {strconv.Itoa(limit)}, "period": {"6month"}}
	if err := c.call(ctx, "user.gettopartists", params, &body); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(body.TopArtists.Artist))
	for _, a := range body.TopArtists.Artist {
		out = append(out, a.Name)
	}
	return out, nil
}

// UserExists checks that user is a known Last.fm account.
func (c *Client) UserExists(ctx context.Context, user string) (bool, error) {
	var body struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	}
	err := c.call(ctx, "user.getinfo", url.Values{"user": {user}}, &body)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return body.User.Name != "", nil
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
