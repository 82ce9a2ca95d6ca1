// Package rank reports popup opens to whatever keeps the popularity ranking.
package rank

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sfmovies/filmlocations/internal/queue"
)

// Tracker records that a location was clicked.
type Tracker interface {
	Track(ctx context.Context, id string) error
}

// ClickPoster is the part of the API client used by HTTPTracker.
type ClickPoster interface {
	TrackClick(ctx context.Context, id string) error
}

// HTTPTracker posts clicks to the location API server.
type HTTPTracker struct {
	client ClickPoster
}

// NewHTTPTracker creates a tracker backed by client.
func NewHTTPTracker(client ClickPoster) *HTTPTracker {
	return &HTTPTracker{client: client}
}

func (t *HTTPTracker) Track(ctx context.Context, id string) error {
	return t.client.TrackClick(ctx, id)
}

// ClickWriter is implemented by the influx manager.
type ClickWriter interface {
	WriteClick(id string, at time.Time) error
}

// InfluxTracker writes one time series point per click.
type InfluxTracker struct {
	writer ClickWriter
	now    func() time.Time
}

// NewInfluxTracker creates a tracker writing to w.
func NewInfluxTracker(w ClickWriter) *InfluxTracker {
	return &InfluxTracker{writer: w, now: time.Now}
}

func (t *InfluxTracker) Track(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.writer.WriteClick(id, t.now())
}

// Multi fans a click out to every tracker and joins their errors.
type Multi []Tracker

func (m Multi) Track(ctx context.Context, id string) error {
	var errs []error
	for _, t := range m {
		if err := t.Track(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultFlushInterval is the Batched flush period when none is given.
const DefaultFlushInterval = 2 * time.Second

// Batched queues clicks and forwards them to an inner tracker on Flush or
// every interval while Run is active. Track never blocks on the inner tracker.
type Batched struct {
	inner    Tracker
	pending  *queue.Queue[string]
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	flushMu sync.Mutex
}

// NewBatched wraps inner. A zero interval uses DefaultFlushInterval.
func NewBatched(inner Tracker, interval time.Duration, logger *slog.Logger) *Batched {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batched{
		inner:    inner,
		pending:  queue.New[string](),
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

func (b *Batched) Track(ctx context.Context, id string) error {
	b.pending.Push(id)
	return nil
}

// Pending returns the number of queued clicks.
func (b *Batched) Pending() int {
	return b.pending.Len()
}

// Flush sends every queued click. Ids whose send failed are queued again.
func (b *Batched) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	ids := b.pending.Drain()
	var (
		errs   []error
		failed []string
	)
	for _, id := range ids {
		if err := b.inner.Track(ctx, id); err != nil {
			errs = append(errs, err)
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		b.pending.Push(failed...)
	}
	return errors.Join(errs...)
}

// Run flushes every interval until ctx is done, then flushes once more.
func (b *Batched) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush(context.Background())
		case <-ctx.Done():
			b.flush(context.Background())
			return
		}
	}
}

func (b *Batched) flush(parent context.Context) {
	if b.pending.Empty() {
		return
	}
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		b.logger.Warn("flush clicks failed", "pending", b.pending.Len(), "error", err)
	}
}
