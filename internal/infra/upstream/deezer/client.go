// Package deezer looks up artist artwork.
package deezer

import (
	"context"
	"net/url"

	"github.com/ahrav/sonolive/internal/infra/upstream/httpx"
)

// DefaultBaseURL is the Deezer public API root.
const DefaultBaseURL = "https://api.deezer.com"

// Client searches Deezer.
type Client struct{ http *httpx.Client }

// New creates a client.
func New(http *httpx.Client) *Client { return &Client{http: http} }

// ArtworkURL returns the largest picture of the best match for name, or ""
// when Deezer has none.
func (c *Client) ArtworkURL(ctx context.Context, name string) (string, error) {
	var body struct {
		Data []struct {
			Picture       string `json:"picture"`
			PictureMedium string `json:"picture_medium"`
			PictureLarge  string `json:"picture_large"`
			PictureXL     string `json:"picture_xl"`
		} `json:"data"`
	}
	if err := c.http.GetJSON(ctx, "search", "/search/artist", url.Values{"q": {name}}, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", nil
	}

	a := body.Data[0]
	for _, u := range []string{a.PictureXL, a.PictureLarge, a.PictureMedium, a.Picture} {
		if u != "" {
			return u, nil
		}
	}
	return "", nil
}
