package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/sfmovies/filmlocations/internal/api"
	"github.com/sfmovies/filmlocations/internal/relay"
	"github.com/sfmovies/filmlocations/internal/storage"
	"github.com/sfmovies/filmlocations/internal/storage/memory"
	"github.com/sfmovies/filmlocations/internal/storage/storagetest"
	"github.com/sfmovies/filmlocations/pkg/core"
	"github.com/sfmovies/filmlocations/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend counts queries reaching storage.
type countingBackend struct {
	storage.Backend
	searches atomic.Int32
	popular  atomic.Int32
}

func (b *countingBackend) Search(ctx context.Context, terms []string, limit int) ([]core.LocationRecord, error) {
	b.searches.Add(1)
	return b.Backend.Search(ctx, terms, limit)
}

func (b *countingBackend) MostPopular(ctx context.Context, limit int) ([]core.LocationRecord, error) {
	b.popular.Add(1)
	return b.Backend.MostPopular(ctx, limit)
}

type trackerFunc func(ctx context.Context, id string) error

func (f trackerFunc) Track(ctx context.Context, id string) error { return f(ctx, id) }

func newBackend(t *testing.T) *countingBackend {
	t.Helper()
	b := memory.NewSeeded(1)
	require.NoError(t, b.Init())
	_, err := b.Upsert(context.Background(), storage.Items(storagetest.Fixture))
	require.NoError(t, err)
	return &countingBackend{Backend: b}
}

func newServer(t *testing.T, deps Dependencies, cfg RouterConfig) *httptest.Server {
	t.Helper()
	s, err := NewService(deps)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Router(cfg))
	t.Cleanup(srv.Close)
	return srv
}

func getLocations(t *testing.T, url string) []core.RawLocation {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out []core.RawLocation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func ids(locs []core.RawLocation) []string {
	out := make([]string, len(locs))
	for i, l := range locs {
		out[i] = string(l.ID)
	}
	return out
}

func post(t *testing.T, url string, header map[string]string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestNewServiceRequiresBackend(t *testing.T) {
	_, err := NewService(Dependencies{})
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	srv := newServer(t, Dependencies{Backend: newBackend(t)}, RouterConfig{})

	tests := []struct {
		name string
		path string
		want []string
	}{
		{"query param", "/api/locations/search?q=clint,%20eastwood", []string{"dp1", "dp2"}},
		{"trailing slash", "/api/locations/search/?q=Vertigo", []string{"vt1"}},
		{"path param", "/api/locations/search/bullitt", []string{"bu1"}},
		{"escaped path param", "/api/locations/search/steve%20mcqueen", []string{"bu1"}},
		{"and over terms", "/api/locations/search?q=eastwood+1958", []string{}},
		{"year", "/api/locations/search?q=1988", []string{"dp1", "dp2"}},
		{"empty", "/api/locations/search?q=%20,%20", []string{}},
		{"no query", "/api/locations/search", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(getLocations(t, srv.URL+tt.path)))
		})
	}
}

func TestSearchWireShape(t *testing.T) {
	srv := newServer(t, Dependencies{Backend: newBackend(t)}, RouterConfig{})

	resp, err := http.Get(srv.URL + "/api/locations/search?q=vertigo")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "Vertigo", out[0]["title"])
	assert.Equal(t, "1958", out[0]["release_year"])
	assert.Equal(t, "Barbara Bel Geddes", out[0]["actor_3"])
	assert.Equal(t, "Fort Point", out[0]["locations"])
	assert.InDelta(t, 37.8107, out[0]["lat"], 1e-9)
	assert.InDelta(t, -122.4770, out[0]["lng"], 1e-9)
}

func TestSearchIsCached(t *testing.T) {
	backend := newBackend(t)
	srv := newServer(t, Dependencies{Backend: backend}, RouterConfig{})

	first := getLocations(t, srv.URL+"/api/locations/search?q=Dead+Pool")
	second := getLocations(t, srv.URL+"/api/locations/search?q=pool,%20DEAD")

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), backend.searches.Load(), "sanitized queries share a cache entry")
}

func TestMostPopular(t *testing.T) {
	backend := newBackend(t)
	srv := newServer(t, Dependencies{Backend: backend}, RouterConfig{})
	popular := srv.URL + "/api/locations/most_popular"

	assert.Equal(t, []string{"bu1", "dp1", "dp2", "vt1"}, ids(getLocations(t, popular)))
	assert.Equal(t, []string{"bu1", "dp1", "dp2", "vt1"}, ids(getLocations(t, popular)))
	assert.Equal(t, int32(1), backend.popular.Load())

	assert.Equal(t, http.StatusNoContent, post(t, srv.URL+"/api/locations/vt1/click", nil))
	assert.Equal(t, http.StatusNoContent, post(t, srv.URL+"/api/locations/vt1/click", nil))
	assert.Equal(t, http.StatusNoContent, post(t, srv.URL+"/api/locations/dp2/click", nil))

	assert.Equal(t, []string{"vt1", "dp2", "bu1", "dp1"}, ids(getLocations(t, popular)),
		"a click invalidates the cached ranking")
	assert.Equal(t, int32(2), backend.popular.Load())
}

func TestExplore(t *testing.T) {
	srv := newServer(t, Dependencies{Backend: newBackend(t), PopularLimit: 3}, RouterConfig{})

	got := ids(getLocations(t, srv.URL+"/api/locations/explore"))
	assert.Len(t, got, 3)
	for _, id := range got {
		assert.Contains(t, []string{"dp1", "dp2", "vt1", "bu1"}, id)
	}
}

func TestClick(t *testing.T) {
	var (
		mu      sync.Mutex
		tracked []string
	)
	tracker := trackerFunc(func(ctx context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		tracked = append(tracked, id)
		if id == "dp2" {
			return errors.New("influx down")
		}
		return nil
	})
	backend := newBackend(t)
	srv := newServer(t, Dependencies{Backend: backend, Tracker: tracker, APIKey: "k"}, RouterConfig{})

	tests := []struct {
		name   string
		id     string
		header map[string]string
		want   int
	}{
		{"missing key", "dp1", nil, http.StatusUnauthorized},
		{"wrong key", "dp1", map[string]string{api.APIKeyHeader: "nope"}, http.StatusUnauthorized},
		{"ok", "dp1", map[string]string{api.APIKeyHeader: "k"}, http.StatusNoContent},
		{"tracker failure is not fatal", "dp2", map[string]string{api.APIKeyHeader: "k"}, http.StatusNoContent},
		{"unknown id", "nope", map[string]string{api.APIKeyHeader: "k"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, post(t, srv.URL+"/api/locations/"+tt.id+"/click", tt.header))
		})
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"dp1", "dp2"}, tracked)
	assert.Equal(t, int64(1), backend.Backend.(*memory.Backend).Clicks("dp1"))
}

func TestClickThroughAPIClient(t *testing.T) {
	srv := newServer(t, Dependencies{Backend: newBackend(t), APIKey: "k"}, RouterConfig{})
	client := api.New(srv.URL, "k")

	require.NoError(t, client.TrackClick(context.Background(), "bu1"))
	assert.ErrorIs(t, client.TrackClick(context.Background(), "missing"), api.ErrTransport)

	records, err := client.MostPopular(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "bu1", records[0].ID)
	assert.Equal(t, "Bullitt", records[0].Title)

	records, err = client.Search(context.Background(), "hitchcock")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "vt1", records[0].ID)

	assert.NoError(t, client.Healthcheck(context.Background()))
}

func TestHealthcheck(t *testing.T) {
	srv := newServer(t, Dependencies{Backend: newBackend(t)}, RouterConfig{})

	resp, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(4), body["locations"])
}

func TestRateLimit(t *testing.T) {
	srv := newServer(t, Dependencies{Backend: newBackend(t)}, RouterConfig{RateLimit: 2})

	codes := make([]int, 0, 3)
	for range 3 {
		resp, err := http.Get(srv.URL + "/api/locations/explore")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	resp, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "healthcheck is not rate limited")
}

func TestCORS(t *testing.T) {
	srv := newServer(t, Dependencies{Backend: newBackend(t)}, RouterConfig{AllowedOrigins: []string{"https://map.example"}})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/locations/explore", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://map.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://map.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMapRelay(t *testing.T) {
	hub := relay.New(relay.Config{Secret: "s3cret"})
	t.Cleanup(hub.Close)
	srv := newServer(t, Dependencies{Backend: newBackend(t)}, RouterConfig{MapRelay: hub})
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := ws.DefaultDialer.Dial(wsURL+"/ws/map/client", nil)
	require.ErrorIs(t, err, ws.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	client, _, err := ws.DefaultDialer.Dial(wsURL+"/ws/map/client?secret=s3cret", nil)
	require.NoError(t, err)
	defer client.Close()
	page, _, err := ws.DefaultDialer.Dial(wsURL+"/ws/map/page", nil)
	require.NoError(t, err)
	defer page.Close()
	require.Eventually(t, func() bool { return hub.ClientConnected() && hub.Pages() == 1 }, time.Second, 5*time.Millisecond)

	frame, err := streaming.Marshal(streaming.TypeReset, streaming.ResetPayload{Zoom: 12})
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(ws.TextMessage, frame))
	require.NoError(t, page.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, got, err := page.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, string(frame), string(got))
}

func TestMapRelayDisabled(t *testing.T) {
	srv := newServer(t, Dependencies{Backend: newBackend(t)}, RouterConfig{})
	resp, err := http.Get(srv.URL + "/ws/map/page")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
