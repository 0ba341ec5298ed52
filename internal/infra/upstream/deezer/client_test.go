package deezer

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

func TestArtworkURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "xl preferred", body: `{"data":[{"picture":"p","picture_large":"l","picture_xl":"xl"}]}`, want: "xl"},
		{name: "falls back to medium", body: `{"data":[{"picture":"p","picture_medium":"m"}]}`, want: "m"},
		{name: "first hit only", body: `{"data":[{"picture":""},{"picture_xl":"other"}]}`, want: ""},
		{name: "no hits", body: `{"data":[]}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/search/artist", r.URL.Path)
				assert.Equal(t, "Air", r.URL.Query().Get("q"))
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(httpx.New(httpx.Config{Name: "deezer", BaseURL: srv.URL, RPS: 1000}, noop.NewTracerProvider().Tracer("test")))
			got, err := c.ArtworkURL(context.Background(), "Air")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
