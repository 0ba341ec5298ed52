package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/sonolive/internal/domain/discovery"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return New(Config{
		Name:       "test",
		BaseURL:    baseURL,
		UserAgent:  "sonolive-test/1.0",
		RPS:        1000,
		Burst:      100,
		MaxRetries: 3,
	}, noop.NewTracerProvider().Tracer("test"), WithBackoff(time.Millisecond, time.Second))
}

func adapterClass(t *testing.T, err error) discovery.AdapterErrorClass {
	t.Helper()
	var ae *discovery.AdapterError
	require.True(t, errors.As(err, &ae), "expected adapter error, got %T: %v", err, err)
	return ae.Class
}

func TestGetJSON_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/artist", r.URL.Path)
		assert.Equal(t, "air", r.URL.Query().Get("q"))
		assert.Equal(t, "sonolive-test/1.0", r.UserAgent())
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte(`{"name":"Air"}`))
	}))
	t.Cleanup(srv.Close)

	var out struct{ Name string }
	err := newTestClient(t, srv.URL).GetJSON(context.Background(), "artist", "/v1/artist",
		url.Values{"q": {"air"}}, http.Header{"X-Api-Key": {"k"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Air", out.Name)
}

func TestDo_RetriesTransientFailures(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), "get", Request{Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDo_TransientAfterRetriesExhausted(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	_, err := newTestClient(t, srv.URL).Do(context.Background(), "get", Request{Path: "/"})
	require.Error(t, err)
	assert.Equal(t, discovery.ClassTransient, adapterClass(t, err))
	assert.EqualValues(t, 4, calls.Load())
}

func TestDo_ClientErrorIsPermanentAndKeepsBody(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`[{"errorMessage":"Invalid Path"}]`))
	}))
	t.Cleanup(srv.Close)

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), "add",
		Request{Method: http.MethodPost, Path: "/", Body: map[string]string{"a": "b"}})
	require.Error(t, err)
	assert.Equal(t, discovery.ClassPermanent, adapterClass(t, err))
	assert.EqualValues(t, 1, calls.Load())
	require.NotNil(t, resp)
	assert.Contains(t, string(resp.Body), "Invalid Path")
}

func TestDo_UnreachableIsConnectivity(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newTestClient(t, addr).Do(context.Background(), "get", Request{Path: "/"})
	require.Error(t, err)
	assert.True(t, discovery.IsConnectivity(err))
	assert.ErrorContains(t, err, "test.get")
}

func TestDo_AbsolutePathIgnoresBaseURL(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/other", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	_, err := newTestClient(t, "http://invalid.invalid").Do(context.Background(), "get", Request{Path: srv.URL + "/other"})
	require.NoError(t, err)
}

func TestGetJSON_MalformedBodyIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	t.Cleanup(srv.Close)

	var out map[string]any
	err := newTestClient(t, srv.URL).GetJSON(context.Background(), "get", "/", nil, nil, &out)
	require.Error(t, err)
	assert.Equal(t, discovery.ClassTransient, adapterClass(t, err))
}
