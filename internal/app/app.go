// Package app wires the event loop, the display set and the search
// controller of the film map client into one explicit context object.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sfmovies/filmlocations/internal/config"
	"github.com/sfmovies/filmlocations/internal/dispatcher"
	"github.com/sfmovies/filmlocations/internal/display"
	"github.com/sfmovies/filmlocations/internal/logging"
	"github.com/sfmovies/filmlocations/internal/search"
)

// UI commands routed through the dispatcher.
const (
	CommandQuery   = "query"
	CommandSelect  = "select"
	CommandClick   = "click"
	CommandExplore = "explore"
)

// ErrNoSuggestion is returned when a select event names no current suggestion.
var ErrNoSuggestion = errors.New("no such suggestion")

// Surface is a map surface that can also replay a user click on a marker.
type Surface interface {
	display.MapSurface
	Click(h display.MarkerHandle) error
}

// Config holds the client settings.
type Config struct {
	Search       search.Config
	TrackTimeout time.Duration
	LoopSize     int
}

// ConfigFromViper reads the client.* and api.* settings.
func ConfigFromViper() Config {
	return Config{
		Search: search.Config{
			MinQueryLength: config.GetInt("client.minQueryLength"),
			MaxSuggestions: config.GetInt("client.maxSuggestions"),
			LabelFields:    config.GetStringSlice("client.suggestionFields"),
			RequestTimeout: config.GetDuration("api.timeout"),
			FailureMessage: config.GetString("client.notification"),
		},
		TrackTimeout: config.GetDuration("client.trackTimeout"),
		LoopSize:     config.GetInt("client.loopSize"),
	}
}

// Dependencies holds the collaborators of an App.
type Dependencies struct {
	API      search.Searcher
	Surface  Surface
	Renderer display.PopupRenderer
	Tracker  display.RankTracker // optional
	// Suggestions and Notifier default to Surface when it implements them.
	Suggestions search.SuggestionSink
	Notifier    search.Notifier
	Logger      *slog.Logger
}

// App is the film map client.
type App struct {
	Loop       *dispatcher.Loop
	Dispatcher *dispatcher.Dispatcher
	Display    *display.Set
	Search     *search.Controller

	surface Surface
	logger  *slog.Logger
}

// New builds an App. The loop is not running until Run is called.
func New(cfg Config, deps Dependencies) (*App, error) {
	if deps.API == nil || deps.Surface == nil || deps.Renderer == nil {
		return nil, errors.New("app: API, Surface and Renderer are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Suggestions == nil {
		deps.Suggestions, _ = deps.Surface.(search.SuggestionSink)
	}
	if deps.Notifier == nil {
		deps.Notifier, _ = deps.Surface.(search.Notifier)
	}

	loopLogger := logging.NewDispatcherLogger(logger.With("component", "loop"))
	loop, err := dispatcher.NewLoop(cfg.LoopSize, loopLogger)
	if err != nil {
		return nil, fmt.Errorf("creating event loop: %w", err)
	}
	d, err := dispatcher.New(logging.NewDispatcherLogger(logger.With("component", "dispatcher")))
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	var opts []display.Option
	if cfg.TrackTimeout > 0 {
		opts = append(opts, display.WithTrackTimeout(cfg.TrackTimeout))
	}
	set := display.New(display.Dependencies{
		Surface:  deps.Surface,
		Renderer: deps.Renderer,
		Tracker:  deps.Tracker,
		Logger:   logger.With("component", "display"),
	}, opts...)

	ctrl := search.New(cfg.Search, search.Dependencies{
		Searcher:    deps.API,
		Display:     set,
		Suggestions: deps.Suggestions,
		Notifier:    deps.Notifier,
		Scheduler:   loop,
		Logger:      logger.With("component", "search"),
	})

	a := &App{
		Loop:       loop,
		Dispatcher: d,
		Display:    set,
		Search:     ctrl,
		surface:    deps.Surface,
		logger:     logger,
	}
	a.registerCommands()
	return a, nil
}

func (a *App) registerCommands() {
	a.Dispatcher.Register(CommandQuery, a.handleQuery, dispatcher.OnLoop(a.Loop), dispatcher.Logged())
	a.Dispatcher.Register(CommandSelect, a.handleSelect, dispatcher.OnLoop(a.Loop), dispatcher.Logged())
	a.Dispatcher.Register(CommandClick, a.handleClick, dispatcher.OnLoop(a.Loop), dispatcher.Logged())
	a.Dispatcher.Register(CommandExplore, a.handleExplore, dispatcher.OnLoop(a.Loop), dispatcher.Logged())
}

func (a *App) handleQuery(e dispatcher.Event) (any, error) {
	a.Search.OnQueryChanged(strings.Join(e.Args, " "))
	return nil, nil
}

func (a *App) handleSelect(e dispatcher.Event) (any, error) {
	i, err := strconv.Atoi(strings.TrimSpace(e.Arg(0)))
	if err != nil {
		return nil, fmt.Errorf("invalid suggestion index %q: %w", e.Arg(0), err)
	}
	suggestions := a.Search.Suggestions()
	if i < 0 || i >= len(suggestions) {
		return nil, fmt.Errorf("select %d: %w", i, ErrNoSuggestion)
	}
	a.Search.OnSuggestionSelected(suggestions[i].Record)
	return suggestions[i].Record.ID, nil
}

func (a *App) handleExplore(dispatcher.Event) (any, error) {
	if !a.Search.LoadExplore() {
		return nil, errors.New("location API cannot explore")
	}
	return nil, nil
}

func (a *App) handleClick(e dispatcher.Event) (any, error) {
	h, err := display.ParseHandle(e.Arg(0))
	if err != nil {
		return nil, err
	}
	return nil, a.surface.Click(h)
}

// Dispatch routes a UI event onto the loop.
func (a *App) Dispatch(e dispatcher.Event) (any, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return a.Dispatcher.Dispatch(e)
}

// Bootstrap loads the most popular locations once. A search issued before
// the response arrives wins; a failure leaves the map empty and notifies.
func (a *App) Bootstrap(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.Loop.Post(a.Search.LoadPopular) {
		return errors.New("event loop stopped")
	}
	return nil
}

// Run drives the event loop until ctx is done.
func (a *App) Run(ctx context.Context) error {
	err := a.Loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// LogAttrs reports the current query token and displayed count, for log
// records.
func (a *App) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Uint64("token", a.Search.Token()),
		slog.Int("displayed", a.Display.Len()),
	}
}

// Close stops the loop, abandons in-flight requests, releases every marker
// and waits for rank tracking to finish. Call it before disposing of the
// surface.
func (a *App) Close() {
	a.Loop.Stop()
	a.Search.Close()
	// nothing else mutates the display once the loop and requests are done
	a.Display.Clear()
	a.Display.WaitTracking()
}
