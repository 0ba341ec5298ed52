// Package youtube searches the YouTube Data API for a playable video.
package youtube

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/upstream/httpx"
)

// DefaultBaseURL is the YouTube Data API root.
const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("youtube: api key not configured")

// Client searches YouTube.
type Client struct {
	http   *httpx.Client
	apiKey string
}

// New creates a client. An empty apiKey disables it.
func New(http *httpx.Client, apiKey string) *Client {
	return &Client{http: http, apiKey: strings.TrimSpace(apiKey)}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// SearchVideo returns the id of the top video for query, or "" when there is
// none.
func (c *Client) SearchVideo(ctx context.Context, query string) (string, error) {
	if !c.Configured() {
		return "", discovery.NewPermanentError("youtube.search", ErrNotConfigured)
	}

	var body struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
		} `json:"items"`
	}
	q := url.Values{
		"part":       {"snippet"},
		"q":          {query},
		"key":        {c.apiKey},
		"type":       {"video"},
		"maxResults": {"1"},
	}
	if err := c.http.GetJSON(ctx, "search", "/search", q, nil, &body); err != nil {
		return "", err
	}
	if len(body.Items) == 0 {
		return "", nil
	}
	return body.Items[0].ID.VideoID, nil
}
