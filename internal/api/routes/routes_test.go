package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/sonolive/internal/api"
	"github.com/ahrav/sonolive/internal/api/mux"
	"github.com/ahrav/sonolive/internal/config"
	"github.com/ahrav/sonolive/internal/config/credentials/memory"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/upstream/requests"
	"github.com/ahrav/sonolive/pkg/common/logger"
)

type fakeSessions struct {
	snap discovery.Snapshot
	err  error
}

func (f fakeSessions) Snapshot(context.Context) (discovery.Snapshot, error) { return f.snap, f.err }

type fakeObservers struct {
	mu     sync.Mutex
	joined []discovery.Principal
}

func (f *fakeObservers) ServeWebsocket(_ context.Context, ws *websocket.Conn, p discovery.Principal) error {
	f.mu.Lock()
	f.joined = append(f.joined, p)
	f.mu.Unlock()
	defer ws.Close()
	return ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"session_snapshot"}`))
}

func newTestAPI(t *testing.T, sessions fakeSessions) (*httptest.Server, *fakeObservers, *requests.Store) {
	t.Helper()

	metrics, err := api.NewAPIMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	creds, err := memory.NewCredentialStore([]config.TokenConfig{
		{Token: "admin-token", UserID: "root", Role: "admin"},
		{Token: "user-token", UserID: "ana", Role: "user"},
	})
	require.NoError(t, err)

	observers := new(fakeObservers)
	store := requests.NewStore(nil, logger.Noop())

	handler := mux.WebAPI(mux.Config{
		Build:       "test",
		ServiceName: "sonolive-test",
		Log:         logger.Noop(),
		Tracer:      tracenoop.NewTracerProvider().Tracer("test"),
		Metrics:     metrics,
		Credentials: creds,
		Observers:   observers,
		Sessions:    sessions,
		Requests:    store,
	}, Routes())

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, observers, store
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("X-Api-Key", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestAPI(t, fakeSessions{})

	resp := get(t, srv.URL+"/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "test", body["build"])

	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/v1/readiness", "").StatusCode)
}

func TestReadinessFailsWhenSessionIsDown(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestAPI(t, fakeSessions{err: errors.New("orchestrator stopped")})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv.URL+"/v1/readiness", "").StatusCode)
}

func TestSessionRequiresToken(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestAPI(t, fakeSessions{})

	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/v1/session", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/v1/session", "bogus").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/v1/session?token=user-token", "").StatusCode)
}

func TestSessionSnapshot(t *testing.T) {
	t.Parallel()

	snap := discovery.Snapshot{Seq: 7}
	snap.State = discovery.StateRunning
	snap.Candidates = []discovery.Candidate{discovery.NewCandidate("Air", discovery.Attributes{})}
	srv, _, _ := newTestAPI(t, fakeSessions{snap: snap})

	resp := get(t, srv.URL+"/v1/session", "user-token")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got discovery.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, discovery.StateRunning, got.State)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, "air", got.Candidates[0].Identity)
}

func TestRequestsAreAdminOnly(t *testing.T) {
	t.Parallel()

	srv, _, store := newTestAPI(t, fakeSessions{})
	_, err := store.Submit(context.Background(), "ana", "Slowdive")
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, get(t, srv.URL+"/v1/requests", "user-token").StatusCode)

	resp := get(t, srv.URL+"/v1/requests", "admin-token")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Requests []requests.Request `json:"requests"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Requests, 1)
	assert.Equal(t, "slowdive", body.Requests[0].Identity)
}

func TestResolveRequest(t *testing.T) {
	t.Parallel()

	srv, _, store := newTestAPI(t, fakeSessions{})
	_, err := store.Submit(context.Background(), "ana", "Slowdive")
	require.NoError(t, err)

	post := func(path, body string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("X-Api-Key", "admin-token")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post("/v1/requests/ana/slowdive", `{"status":"maybe"}`))
	assert.Equal(t, http.StatusNotFound, post("/v1/requests/ana/ride", `{"status":"approved"}`))
	assert.Equal(t, http.StatusNoContent, post("/v1/requests/ana/slowdive", `{"status":"approved"}`))
	assert.Empty(t, store.Pending())
}

func TestWebsocketUpgrade(t *testing.T) {
	t.Parallel()

	srv, observers, _ := newTestAPI(t, fakeSessions{})
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"X-Api-Key": []string{"admin-token"}})
	require.NoError(t, err)
	defer ws.Close()

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"session_snapshot"}`, string(data))

	observers.mu.Lock()
	defer observers.mu.Unlock()
	require.Len(t, observers.joined, 1)
	assert.Equal(t, "root", observers.joined[0].UserID)
}
