package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/sfmovies/filmlocations/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelay(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()
	hub := New(cfg)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/map/client", hub.ServeClient)
	mux.HandleFunc("/ws/map/page", hub.ServePage)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *ws.Conn {
	t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *ws.Conn, msgType string, payload any) {
	t.Helper()
	frame, err := streaming.Marshal(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(ws.TextMessage, frame))
}

func read(t *testing.T, conn *ws.Conn) streaming.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var env streaming.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

func handle(t *testing.T, env streaming.Envelope) uint64 {
	t.Helper()
	var m streaming.MarkerPayload
	require.NoError(t, json.Unmarshal(env.Payload, &m))
	return m.Handle
}

func (h *Hub) snapshotLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.state.snapshot())
}

func TestServeClient_Secret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		query    string
		wantCode int
	}{
		{"no secret configured", "", "", http.StatusSwitchingProtocols},
		{"matching secret", "s3cret", "?secret=s3cret", http.StatusSwitchingProtocols},
		{"wrong secret", "s3cret", "?secret=nope", http.StatusUnauthorized},
		{"missing secret", "s3cret", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := newRelay(t, Config{Secret: tt.secret})
			conn, resp, err := ws.DefaultDialer.Dial(url+"/ws/map/client"+tt.query, nil)
			if conn != nil {
				defer conn.Close()
			}
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantCode == http.StatusSwitchingProtocols {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ws.ErrBadHandshake)
			}
		})
	}
}

func TestClientFramesFanOut(t *testing.T) {
	hub, url := newRelay(t, Config{})
	client := dial(t, url+"/ws/map/client")
	pages := []*ws.Conn{dial(t, url+"/ws/map/page"), dial(t, url+"/ws/map/page")}
	require.Eventually(t, func() bool { return hub.Pages() == 2 }, time.Second, 5*time.Millisecond)

	send(t, client, streaming.TypePlaceMarker, streaming.PlaceMarkerPayload{Handle: 7, Lat: 37.8, Lng: -122.4, Label: "Vertigo"})
	for _, page := range pages {
		env := read(t, page)
		assert.Equal(t, streaming.TypePlaceMarker, env.Type)
		assert.Equal(t, uint64(7), handle(t, env))
	}
}

func TestPageInputReachesClient(t *testing.T) {
	hub, url := newRelay(t, Config{})
	client := dial(t, url+"/ws/map/client")
	page := dial(t, url+"/ws/map/page")
	require.Eventually(t, func() bool { return hub.ClientConnected() && hub.Pages() == 1 }, time.Second, 5*time.Millisecond)

	// only input types travel from a page to the engine
	send(t, page, streaming.TypeReset, streaming.ResetPayload{Zoom: 3})
	require.NoError(t, page.WriteMessage(ws.TextMessage, []byte("not json")))
	send(t, page, streaming.TypeQuery, streaming.QueryPayload{Text: "vert"})
	send(t, page, streaming.TypeMarkerClick, streaming.MarkerPayload{Handle: 4})

	env := read(t, client)
	assert.Equal(t, streaming.TypeQuery, env.Type)
	var q streaming.QueryPayload
	require.NoError(t, json.Unmarshal(env.Payload, &q))
	assert.Equal(t, "vert", q.Text)

	env = read(t, client)
	assert.Equal(t, streaming.TypeMarkerClick, env.Type)
	assert.Equal(t, uint64(4), handle(t, env))
}

func TestLatePageGetsCurrentMap(t *testing.T) {
	hub, url := newRelay(t, Config{})
	client := dial(t, url+"/ws/map/client")

	send(t, client, streaming.TypePlaceMarker, streaming.PlaceMarkerPayload{Handle: 99})
	send(t, client, streaming.TypeReset, streaming.ResetPayload{CenterLat: 37.77, CenterLng: -122.44, Zoom: 12})
	send(t, client, streaming.TypePlaceMarker, streaming.PlaceMarkerPayload{Handle: 3})
	send(t, client, streaming.TypePlaceMarker, streaming.PlaceMarkerPayload{Handle: 1})
	send(t, client, streaming.TypePlaceMarker, streaming.PlaceMarkerPayload{Handle: 2})
	send(t, client, streaming.TypeRemoveMarker, streaming.MarkerPayload{Handle: 2})
	send(t, client, streaming.TypeShowPopup, streaming.ShowPopupPayload{Handle: 3, Content: "<b>Vertigo</b>"})
	send(t, client, streaming.TypeNotify, streaming.NotifyPayload{Message: "hello"})
	send(t, client, streaming.TypeFitBounds, streaming.FitBoundsPayload{Zoom: 14})
	require.Eventually(t, func() bool { return hub.snapshotLen() == 5 }, time.Second, 5*time.Millisecond)

	page := dial(t, url+"/ws/map/page")
	var types []string
	for range 5 {
		types = append(types, read(t, page).Type)
	}
	assert.Equal(t, []string{
		streaming.TypeReset,
		streaming.TypePlaceMarker,
		streaming.TypePlaceMarker,
		streaming.TypeFitBounds,
		streaming.TypeShowPopup,
	}, types)
}

func TestNewClientReplacesOld(t *testing.T) {
	hub, url := newRelay(t, Config{})
	first := dial(t, url+"/ws/map/client")
	require.Eventually(t, hub.ClientConnected, time.Second, 5*time.Millisecond)
	second := dial(t, url+"/ws/map/client")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "unexpected error: %v", err)

	page := dial(t, url+"/ws/map/page")
	require.Eventually(t, func() bool { return hub.Pages() == 1 }, time.Second, 5*time.Millisecond)
	send(t, page, streaming.TypeSelect, streaming.SelectPayload{Index: 2})
	assert.Equal(t, streaming.TypeSelect, read(t, second).Type)
}

func TestClientDisconnect(t *testing.T) {
	hub, url := newRelay(t, Config{})
	client := dial(t, url+"/ws/map/client")
	require.Eventually(t, hub.ClientConnected, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return !hub.ClientConnected() }, time.Second, 5*time.Millisecond)

	// page input without an engine is dropped
	page := dial(t, url+"/ws/map/page")
	require.Eventually(t, func() bool { return hub.Pages() == 1 }, time.Second, 5*time.Millisecond)
	send(t, page, streaming.TypeQuery, streaming.QueryPayload{Text: "x"})
	assert.Equal(t, 1, hub.Pages())
}

func TestClose(t *testing.T) {
	hub, url := newRelay(t, Config{})
	page := dial(t, url+"/ws/map/page")
	require.Eventually(t, func() bool { return hub.Pages() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Pages())
	require.NoError(t, page.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := page.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "unexpected error: %v", err)

	late := dial(t, url+"/ws/map/page")
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Pages())
	hub.Close()
}

func TestPageOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no list", nil, "https://evil.example", true},
		{"wildcard", []string{"*"}, "https://evil.example", true},
		{"listed", []string{"https://map.example"}, "https://map.example", true},
		{"not listed", []string{"https://map.example"}, "https://evil.example", false},
		{"non-browser", []string{"https://map.example"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := New(Config{AllowedOrigins: tt.allowed})
			r := httptest.NewRequest(http.MethodGet, "/ws/map/page", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, hub.pageOrigin(r))
		})
	}
}

func TestMapState(t *testing.T) {
	frame := func(msgType string, payload any) (streaming.Envelope, []byte) {
		raw, err := streaming.Marshal(msgType, payload)
		require.NoError(t, err)
		var env streaming.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env, raw
	}
	type step struct {
		msgType string
		payload any
	}
	tests := []struct {
		name  string
		steps []step
		want  []string
	}{
		{"empty", nil, nil},
		{"popup dropped with its marker", []step{
			{streaming.TypePlaceMarker, streaming.PlaceMarkerPayload{Handle: 1}},
			{streaming.TypeShowPopup, streaming.ShowPopupPayload{Handle: 1}},
			{streaming.TypeRemoveMarker, streaming.MarkerPayload{Handle: 1}},
		}, nil},
		{"closed popup", []step{
			{streaming.TypePlaceMarker, streaming.PlaceMarkerPayload{Handle: 1}},
			{streaming.TypeShowPopup, streaming.ShowPopupPayload{Handle: 1}},
			{streaming.TypeClosePopup, streaming.MarkerPayload{Handle: 1}},
		}, []string{streaming.TypePlaceMarker}},
		{"latest suggestions win", []step{
			{streaming.TypeSuggestions, streaming.SuggestionsPayload{}},
			{streaming.TypeSuggestions, streaming.SuggestionsPayload{Items: []streaming.SuggestionItem{{Index: 0, Label: "Vertigo"}}}},
			{streaming.TypeNotify, streaming.NotifyPayload{Message: "hi"}},
		}, []string{streaming.TypeSuggestions}},
		{"reset clears", []step{
			{streaming.TypePlaceMarker, streaming.PlaceMarkerPayload{Handle: 1}},
			{streaming.TypeFitBounds, streaming.FitBoundsPayload{}},
			{streaming.TypeReset, streaming.ResetPayload{}},
		}, []string{streaming.TypeReset}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s mapState
			for _, st := range tt.steps {
				s.apply(frame(st.msgType, st.payload))
			}
			var got []string
			for _, raw := range s.snapshot() {
				var env streaming.Envelope
				require.NoError(t, json.Unmarshal(raw, &env))
				got = append(got, env.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
