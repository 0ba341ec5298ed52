package youtube

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

func TestSearchVideo(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "k", q.Get("key"))
		assert.Equal(t, "video", q.Get("type"))
		if q.Get("q") == "Air Sexy Boy" {
			_, _ = w.Write([]byte(`{"items":[{"id":{"videoId":"abc123"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c := New(httpx.New(httpx.Config{Name: "youtube", BaseURL: srv.URL, RPS: 1000}, noop.NewTracerProvider().Tracer("test")), "k")

	id, err := c.SearchVideo(context.Background(), "Air Sexy Boy")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	id, err = c.SearchVideo(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSearchVideo_NotConfigured(t *testing.T) {
	t.Parallel()
	c := New(httpx.New(httpx.Config{Name: "youtube"}, noop.NewTracerProvider().Tracer("test")), "")
	assert.False(t, c.Configured())

	_, err := c.SearchVideo(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
