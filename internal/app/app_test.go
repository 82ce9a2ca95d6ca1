package app

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sfmovies/filmlocations/internal/dispatcher"
	"github.com/sfmovies/filmlocations/internal/display"
	"github.com/sfmovies/filmlocations/internal/render"
	"github.com/sfmovies/filmlocations/internal/surface/memory"
	"github.com/sfmovies/filmlocations/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	deadPool = core.LocationRecord{
		ID: "dp1", Title: "The Dead Pool", ReleaseYear: "1988", Director: "Buddy Van Horn",
		Actors:       [core.ActorSlots]string{"Clint Eastwood", "Liam Neeson", ""},
		LocationText: "Embarcadero Center", Coordinate: core.Coordinate{Lat: 37.7952, Lng: -122.3985},
	}
	vertigo = core.LocationRecord{
		ID: "vt1", Title: "Vertigo", ReleaseYear: "1958", Director: "Alfred Hitchcock",
		Actors:       [core.ActorSlots]string{"James Stewart", "Kim Novak", ""},
		LocationText: "Fort Point", Coordinate: core.Coordinate{Lat: 37.8107, Lng: -122.4770},
	}
	bullitt = core.LocationRecord{
		ID: "bu1", Title: "Bullitt", ReleaseYear: "1968", Director: "Peter Yates",
		Actors:       [core.ActorSlots]string{"Steve McQueen", "", ""},
		LocationText: "Taylor Street", Coordinate: core.Coordinate{Lat: 37.7989, Lng: -122.4149},
	}
)

type fakeAPI struct {
	mu          sync.Mutex
	popular     []core.LocationRecord
	popularErr  error
	popularGate chan struct{}
	results     map[string][]core.LocationRecord
	searches    []string
}

func (f *fakeAPI) MostPopular(ctx context.Context) ([]core.LocationRecord, error) {
	if f.popularGate != nil {
		<-f.popularGate
	}
	return f.popular, f.popularErr
}

func (f *fakeAPI) Search(ctx context.Context, query string) ([]core.LocationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, query)
	return f.results[query], nil
}

type exploringAPI struct {
	*fakeAPI
	sample []core.LocationRecord
}

func (e exploringAPI) Explore(context.Context) ([]core.LocationRecord, error) {
	return e.sample, nil
}

type fakeTracker struct {
	mu  sync.Mutex
	ids []string
}

func (t *fakeTracker) Track(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = append(t.ids, id)
	return nil
}

func newApp(t *testing.T, api *fakeAPI) (*App, *memory.Surface, *fakeTracker) {
	t.Helper()
	renderer, err := render.New(300)
	require.NoError(t, err)
	surface := memory.New()
	tracker := &fakeTracker{}

	a, err := New(Config{TrackTimeout: time.Second}, Dependencies{
		API:      api,
		Surface:  surface,
		Renderer: renderer,
		Tracker:  tracker,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, surface, tracker
}

// settle runs queued loop work until every request has completed and been applied.
func settle(a *App) {
	a.Loop.RunPending()
	a.Search.Wait()
	a.Loop.RunPending()
}

func displayedIDs(a *App) []string {
	var out []string
	for _, e := range a.Display.Entries() {
		out = append(out, e.Record.ID)
	}
	return out
}

func TestCloseReleasesMarkers(t *testing.T) {
	a, surface, _ := newApp(t, &fakeAPI{popular: []core.LocationRecord{vertigo, deadPool}})
	require.NoError(t, a.Bootstrap(context.Background()))
	settle(a)

	handles := a.Display.Entries()
	require.Len(t, handles, 2)
	require.NoError(t, surface.Click(handles[0].Marker))
	require.Len(t, surface.OpenPopups(), 1)

	a.Close()

	assert.Zero(t, a.Display.Len())
	assert.Empty(t, surface.Markers())
	assert.Empty(t, surface.OpenPopups())
	assert.ErrorIs(t, surface.Click(handles[1].Marker), memory.ErrUnknownMarker)

	a.Close()
	assert.Zero(t, a.Display.Len(), "closing twice is harmless")
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{}, Dependencies{})
	assert.Error(t, err)
}

func TestBootstrap(t *testing.T) {
	a, surface, _ := newApp(t, &fakeAPI{popular: []core.LocationRecord{vertigo, deadPool}})

	require.NoError(t, a.Bootstrap(context.Background()))
	settle(a)

	assert.Equal(t, []string{"vt1", "dp1"}, displayedIDs(a))
	assert.Len(t, surface.Markers(), 2)
	assert.Empty(t, surface.Notifications())
	assert.Empty(t, surface.Suggestions(), "the popular list does not fill the autocomplete")
}

func TestBootstrapFailure(t *testing.T) {
	api := &fakeAPI{
		popularErr: errors.New("connection refused"),
		results:    map[string][]core.LocationRecord{"bullitt": {bullitt}},
	}
	a, surface, _ := newApp(t, api)

	require.NoError(t, a.Bootstrap(context.Background()))
	settle(a)

	assert.Equal(t, 0, a.Display.Len())
	assert.Equal(t, []string{"Failed to load films."}, surface.Notifications())

	_, err := a.Dispatch(dispatcher.Event{Command: CommandQuery, Args: []string{"bullitt"}})
	require.NoError(t, err)
	settle(a)
	assert.Equal(t, []string{"bu1"}, displayedIDs(a), "search still works after a failed bootstrap")
}

func TestBootstrapCancelled(t *testing.T) {
	a, _, _ := newApp(t, &fakeAPI{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Bootstrap(ctx), context.Canceled)
}

func TestSearchIssuedDuringBootstrapWins(t *testing.T) {
	api := &fakeAPI{
		popular:     []core.LocationRecord{deadPool, bullitt},
		popularGate: make(chan struct{}),
		results:     map[string][]core.LocationRecord{"vertigo": {vertigo}},
	}
	a, _, _ := newApp(t, api)

	require.NoError(t, a.Bootstrap(context.Background()))
	a.Loop.RunPending()

	_, err := a.Dispatch(dispatcher.Event{Command: CommandQuery, Args: []string{"vertigo"}})
	require.NoError(t, err)
	a.Loop.RunPending()

	close(api.popularGate)
	settle(a)

	assert.Equal(t, []string{"vt1"}, displayedIDs(a))
}

func TestShortQueryIgnored(t *testing.T) {
	api := &fakeAPI{}
	a, _, _ := newApp(t, api)

	_, err := a.Dispatch(dispatcher.Event{Command: CommandQuery, Args: []string{"v"}})
	require.NoError(t, err)
	settle(a)

	assert.Empty(t, api.searches)
	assert.Equal(t, uint64(0), a.Search.Token())
}

func TestSelectSuggestion(t *testing.T) {
	api := &fakeAPI{results: map[string][]core.LocationRecord{
		"clint": {deadPool, bullitt},
	}}
	a, surface, _ := newApp(t, api)

	_, err := a.Dispatch(dispatcher.Event{Command: CommandQuery, Args: []string{"clint"}})
	require.NoError(t, err)
	settle(a)

	suggestions := surface.Suggestions()
	require.Len(t, suggestions, 2)
	assert.Equal(t, "The Dead Pool, Clint Eastwood, Buddy Van Horn, Embarcadero Center", suggestions[0].Label)

	id, err := a.handleSelect(dispatcher.Event{Command: CommandSelect, Args: []string{"1"}})
	require.NoError(t, err)
	assert.Equal(t, "bu1", id)
	assert.Equal(t, []string{"bu1"}, displayedIDs(a))
}

func TestSelectInvalid(t *testing.T) {
	a, _, _ := newApp(t, &fakeAPI{})

	tests := []struct {
		name string
		arg  string
		want error
	}{
		{"no suggestions yet", "0", ErrNoSuggestion},
		{"negative", "-1", ErrNoSuggestion},
		{"not a number", "first", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.handleSelect(dispatcher.Event{Command: CommandSelect, Args: []string{tt.arg}})
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestClickOpensPopupAndTracks(t *testing.T) {
	a, surface, tracker := newApp(t, &fakeAPI{popular: []core.LocationRecord{deadPool, vertigo}})
	require.NoError(t, a.Bootstrap(context.Background()))
	settle(a)

	entries := a.Display.Entries()
	require.Len(t, entries, 2)
	handle := strconv.FormatUint(uint64(entries[1].Marker), 10)

	_, err := a.Dispatch(dispatcher.Event{Command: CommandClick, Args: []string{handle}})
	require.NoError(t, err)
	a.Loop.RunPending()
	a.Display.WaitTracking()

	id, ok := a.Display.OpenPopup()
	require.True(t, ok)
	assert.Equal(t, "vt1", id)
	assert.Equal(t, []display.MarkerHandle{entries[1].Marker}, surface.OpenPopups())

	tracker.mu.Lock()
	assert.Equal(t, []string{"vt1"}, tracker.ids)
	tracker.mu.Unlock()
}

func TestClickUnknownHandle(t *testing.T) {
	a, _, _ := newApp(t, &fakeAPI{})

	tests := []string{"99", "not-a-handle"}
	for _, arg := range tests {
		t.Run(arg, func(t *testing.T) {
			_, err := a.handleClick(dispatcher.Event{Command: CommandClick, Args: []string{arg}})
			assert.Error(t, err)
		})
	}
}

func TestExplore(t *testing.T) {
	renderer, err := render.New(300)
	require.NoError(t, err)
	a, err := New(Config{}, Dependencies{
		API:      exploringAPI{fakeAPI: &fakeAPI{}, sample: []core.LocationRecord{vertigo, bullitt}},
		Surface:  memory.New(),
		Renderer: renderer,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Dispatch(dispatcher.Event{Command: CommandExplore})
	require.NoError(t, err)
	settle(a)
	assert.Equal(t, []string{"vt1", "bu1"}, displayedIDs(a))
}

func TestExploreUnsupported(t *testing.T) {
	a, _, _ := newApp(t, &fakeAPI{})
	_, err := a.handleExplore(dispatcher.Event{Command: CommandExplore})
	assert.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	a, _, _ := newApp(t, &fakeAPI{})
	_, err := a.Dispatch(dispatcher.Event{Command: "zoom"})
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	a, _, _ := newApp(t, &fakeAPI{popular: []core.LocationRecord{bullitt}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.NoError(t, a.Bootstrap(ctx))
	assert.Eventually(t, func() bool {
		var n int
		a.Loop.Do(func() { n = a.Display.Len() })
		return n == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestLogAttrs(t *testing.T) {
	a, _, _ := newApp(t, &fakeAPI{popular: []core.LocationRecord{bullitt, vertigo}})
	require.NoError(t, a.Bootstrap(context.Background()))
	settle(a)

	attrs := a.LogAttrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, "token", attrs[0].Key)
	assert.Equal(t, uint64(1), attrs[0].Value.Uint64())
	assert.Equal(t, "displayed", attrs[1].Key)
	assert.Equal(t, int64(2), attrs[1].Value.Int64())
}
