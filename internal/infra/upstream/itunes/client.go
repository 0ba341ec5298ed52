// Package itunes finds 30-second track previews in the iTunes Search API.
package itunes

import (
	"context"
	"net/url"

	"github.com/ahrav/sonolive/internal/infra/upstream/httpx"
)

// DefaultBaseURL is the iTunes Search API root.
const DefaultBaseURL = "https://itunes.apple.com"

// Track is a search hit with a playable preview.
type Track struct {
	PreviewURL string
	Track      string
	Artist     string
}

// Client searches iTunes.
type Client struct{ http *httpx.Client }

// New creates a client.
func New(http *httpx.Client) *Client { return &Client{http: http} }

// FindPreview returns the first of up to five music tracks matching term that
// carries a preview URL. ok is false when none does.
func (c *Client) FindPreview(ctx context.Context, term string) (Track, bool, error) {
	var body struct {
		Results []struct {
			PreviewURL string `json:"previewUrl"`
			TrackName  string `json:"trackName"`
			ArtistName string `json:"artistName"`
		} `json:"results"`
	}
	q := url.Values{
		"term":   {term},
		"entity": {"musicTrack"},
		"limit":  {"5"},
		"media":  {"music"},
	}
	if err := c.http.GetJSON(ctx, "search", "/search", q, nil, &body); err != nil {
		return Track{}, false, err
	}

	for _, r := range body.Results {
		if r.PreviewURL == "" {
			continue
		}
		return Track{PreviewURL: r.PreviewURL, Track: r.TrackName, Artist: r.ArtistName}, true, nil
	}
	return Track{}, false, nil
}
