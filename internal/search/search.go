// Package search drives the display from user queries and the autocomplete
// list. Every request carries a token; only the response to the most
// recently issued request is ever applied.
package search

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/sfmovies/filmlocations/internal/util"
	"github.com/sfmovies/filmlocations/pkg/core"
)

// Searcher fetches location records from the location API.
type Searcher interface {
	Search(ctx context.Context, query string) ([]core.LocationRecord, error)
	MostPopular(ctx context.Context) ([]core.LocationRecord, error)
}

// Explorer is implemented by searchers that can return a random sample.
type Explorer interface {
	Explore(ctx context.Context) ([]core.LocationRecord, error)
}

// Display receives the full result set.
type Display interface {
	ReplaceAll(records []core.LocationRecord)
}

// SuggestionSink shows the autocomplete list.
type SuggestionSink interface {
	ShowSuggestions(suggestions []core.Suggestion)
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(msg string)
}

// Scheduler runs completions on the event loop.
type Scheduler interface {
	Post(fn func()) bool
}

// Config holds the controller settings.
type Config struct {
	MinQueryLength int
	MaxSuggestions int
	LabelFields    []string
	RequestTimeout time.Duration
	FailureMessage string
}

// DefaultConfig returns the settings the map ships with.
func DefaultConfig() Config {
	return Config{
		MinQueryLength: 2,
		MaxSuggestions: 6,
		LabelFields:    []string{"title", "actor_1", "director", "locations"},
		RequestTimeout: 30 * time.Second,
		FailureMessage: "Failed to load films.",
	}
}

// Dependencies holds the collaborators of a Controller.
type Dependencies struct {
	Searcher    Searcher
	Display     Display
	Suggestions SuggestionSink // optional
	Notifier    Notifier
	Scheduler   Scheduler
	Logger      *slog.Logger
}

// Controller turns query changes and suggestion picks into display updates.
// Its On* methods must run on the event loop.
type Controller struct {
	cfg      Config
	searcher Searcher
	display  Display
	sink     SuggestionSink
	notifier Notifier
	sched    Scheduler
	logger   *slog.Logger

	seq      atomic.Uint64
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	suggestions []core.Suggestion
}

// New creates a Controller. Zero config values fall back to DefaultConfig.
func New(cfg Config, deps Dependencies) *Controller {
	def := DefaultConfig()
	if cfg.MinQueryLength <= 0 {
		cfg.MinQueryLength = def.MinQueryLength
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = def.MaxSuggestions
	}
	if len(cfg.LabelFields) == 0 {
		cfg.LabelFields = def.LabelFields
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.FailureMessage == "" {
		cfg.FailureMessage = def.FailureMessage
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		searcher: deps.Searcher,
		display:  deps.Display,
		sink:     deps.Suggestions,
		notifier: deps.Notifier,
		sched:    deps.Scheduler,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnQueryChanged searches for text unless it is shorter than MinQueryLength.
func (c *Controller) OnQueryChanged(text string) {
	if utf8.RuneCountInString(text) < c.cfg.MinQueryLength {
		return
	}

	c.issue("search", func(ctx context.Context) ([]core.LocationRecord, error) {
		return c.searcher.Search(ctx, text)
	}, func(records []core.LocationRecord) {
		c.display.ReplaceAll(records)
		c.showSuggestions(Suggest(records, c.cfg.MaxSuggestions, c.cfg.LabelFields))
	})
}

// OnSuggestionSelected narrows the display to rec. Any search still in
// flight is superseded.
func (c *Controller) OnSuggestionSelected(rec core.LocationRecord) {
	c.seq.Add(1)
	c.display.ReplaceAll([]core.LocationRecord{rec})
}

// LoadPopular fetches the most popular locations and displays them. It shares
// the search token sequence, so a search issued meanwhile wins.
func (c *Controller) LoadPopular() {
	c.issue("most_popular", c.searcher.MostPopular, c.display.ReplaceAll)
}

// LoadExplore displays a random sample of locations. It reports false when
// the searcher cannot explore.
func (c *Controller) LoadExplore() bool {
	ex, ok := c.searcher.(Explorer)
	if !ok {
		return false
	}
	c.issue("explore", ex.Explore, c.display.ReplaceAll)
	return true
}

// Token returns the most recently issued request token.
func (c *Controller) Token() uint64 {
	return c.seq.Load()
}

// Suggestions returns the last suggestion list shown.
func (c *Controller) Suggestions() []core.Suggestion {
	return c.suggestions
}

// Wait blocks until every in-flight request has posted its completion.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Close abandons in-flight requests and waits for their goroutines.
func (c *Controller) Close() {
	c.cancel()
	c.inflight.Wait()
}

func (c *Controller) issue(kind string, fetch func(context.Context) ([]core.LocationRecord, error), apply func([]core.LocationRecord)) {
	token := c.seq.Add(1)
	c.logger.Debug("request issued", "kind", kind, "token", token)

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
		records, err := fetch(ctx)
		cancel()

		posted := c.sched.Post(func() {
			c.complete(kind, token, records, err, apply)
		})
		if !posted {
			c.logger.Debug("event loop stopped, dropping response", "kind", kind, "token", token)
		}
	}()
}

func (c *Controller) complete(kind string, token uint64, records []core.LocationRecord, err error, apply func([]core.LocationRecord)) {
	if latest := c.seq.Load(); token != latest {
		c.logger.Debug("discarding stale response", "kind", kind, "token", token, "latest", latest)
		return
	}
	if err != nil {
		c.logger.Warn("request failed", "kind", kind, "token", token, "error", err)
		if c.notifier != nil {
			c.notifier.Notify(c.cfg.FailureMessage)
		}
		return
	}
	c.logger.Debug("applying response", "kind", kind, "token", token, "records", len(records))
	apply(records)
}

func (c *Controller) showSuggestions(s []core.Suggestion) {
	c.suggestions = s
	if c.sink != nil {
		c.sink.ShowSuggestions(s)
	}
}

// Suggest builds at most limit suggestions from records, in order.
func Suggest(records []core.LocationRecord, limit int, fields []string) []core.Suggestion {
	n := min(len(records), limit)
	if n <= 0 {
		return []core.Suggestion{}
	}
	out := make([]core.Suggestion, n)
	for i := 0; i < n; i++ {
		out[i] = core.Suggestion{Label: Label(records[i], fields), Record: records[i]}
	}
	return out
}

// Label joins the non-empty values of fields, in the given order.
func Label(rec core.LocationRecord, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = rec.Field(f)
	}
	return util.JoinNonEmpty(", ", parts...)
}
