package listenbrainz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/sonolive/internal/infra/upstream/httpx"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/1/user/rob/listen-count", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"payload":{"count":1234}}`))
	})
	mux.HandleFunc("/1/stats/user/rob/artists", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("count"))
		_, _ = w.Write([]byte(`{"payload":{"artists":[{"artist_name":"Boards of Canada"},{"artist_name":""},{"artist_name":"Autechre"}]}}`))
	})
	mux.HandleFunc("/1/stats/user/fresh/artists", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(httpx.New(httpx.Config{Name: "listenbrainz", BaseURL: srv.URL, RPS: 1000}, noop.NewTracerProvider().Tracer("test")))
}

func TestUserExists(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)

	ok, err := c.UserExists(context.Background(), "rob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.UserExists(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTopArtists(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)

	got, err := c.TopArtists(context.Background(), "rob", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"Boards of Canada", "Autechre"}, got)

	got, err = c.TopArtists(context.Background(), "fresh", 50)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTopArtists_UnknownUser(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)

	_, err := c.TopArtists(context.Background(), "ghost", 50)
	require.Error(t, err)
	assert.True(t, IsUnknownUser(err))
}
