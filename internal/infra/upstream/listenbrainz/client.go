// Package listenbrainz reads a user's listening statistics from ListenBrainz.
package listenbrainz

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/upstream/httpx"
)

// DefaultBaseURL is the ListenBrainz API root.
const DefaultBaseURL = "https://api.listenbrainz.org"

// Client calls ListenBrainz. Its read endpoints need no token.
type Client struct{ http *httpx.Client }

// New creates a client.
func New(http *httpx.Client) *Client { return &Client{http: http} }

func userPath(user, suffix string) string {
	return "/1/user/" + url.PathEscape(user) + suffix
}

// UserExists reports whether user has a ListenBrainz account.
func (c *Client) UserExists(ctx context.Context, user string) (bool, error) {
	var body struct {
		Payload struct {
			Count int64 `json:"count"`
		} `json:"payload"`
	}
	resp, err := c.http.Do(ctx, "listen_count", httpx.Request{Path: userPath(user, "/listen-count")})
	if resp != nil && resp.Status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return false, discovery.NewTransientError("listenbrainz.listen_count", err)
	}
	return true, nil
}

// TopArtists returns the artists user listened to most. Users whose
// statistics have not been computed yet have none.
func (c *Client) TopArtists(ctx context.Context, user string, count int) ([]string, error) {
	resp, err := c.http.Do(ctx, "top_artists", httpx.Request{
		Path:  "/1/stats/user/" + url.PathEscape(user) + "/artists",
		Query: url.Values{"count": {strconv.Itoa(count)}, "range": {"quarter"}},
	})
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNoContent || len(resp.Body) == 0 {
		return nil, nil
	}

	var body struct {
		Payload struct {
			Artists []struct {
				ArtistName string `json:"artist_name"`
			} `json:"artists"`
		} `json:"payload"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, discovery.NewTransientError("listenbrainz.top_artists", err)
	}

	out := make([]string, 0, len(body.Payload.Artists))
	for _, a := range body.Payload.Artists {
		if a.ArtistName != "" {
			out = append(out, a.ArtistName)
		}
	}
	return out, nil
}

// IsUnknownUser reports whether err is ListenBrainz rejecting the user name.
func IsUnknownUser(err error) bool {
	var se *httpx.StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}
