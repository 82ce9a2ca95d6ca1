package dispatcher

import (
	"context"
	"fmt"

	"github.com/sfmovies/filmlocations/internal/channel"
	"go.opentelemetry.io/otel/metric"
)

// DefaultLoopSize is the mailbox size used by NewLoop when size <= 0.
const DefaultLoopSize = 256

// Loop runs posted functions one at a time on the goroutine that calls Run.
// All display and search state is mutated from inside posted functions.
type Loop struct {
	queue  channel.Channel[func()]
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc

	processed metric.Int64Counter
	panics    metric.Int64Counter
}

// NewLoop creates a stopped loop with a mailbox of the given size.
func NewLoop(size int, logger Logger) (*Loop, error) {
	if size <= 0 {
		size = DefaultLoopSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		queue:  channel.New[func()](size),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	m := meter()
	var err error

	gauge, err := m.Int64ObservableGauge(
		"loop.queue.size",
		metric.WithDescription("Current number of tasks waiting for the event loop"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loop queue gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(l.queue.Len()))
		return nil
	}, gauge)
	if err != nil {
		return nil, fmt.Errorf("registering loop queue callback: %w", err)
	}

	l.processed, err = m.Int64Counter(
		"loop.tasks.processed",
		metric.WithDescription("Total tasks run by the event loop"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loop processed counter: %w", err)
	}

	l.panics, err = m.Int64Counter(
		"loop.tasks.panicked",
		metric.WithDescription("Total tasks that panicked on the event loop"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loop panic counter: %w", err)
	}

	return l, nil
}

// Post queues fn. It blocks while the mailbox is full and returns false
// once the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	if l.ctx.Err() != nil {
		return false
	}
	return l.queue.SendContext(l.ctx, fn) == nil
}

// Do posts fn and waits until it has run. It must not be called from the
// loop goroutine.
func (l *Loop) Do(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// Run executes posted functions until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("event loop started")
	defer l.logger.Debug("event loop stopped")

	for {
		select {
		case fn := <-l.queue.Receive():
			l.exec(fn)
		case <-ctx.Done():
			l.cancel()
			return ctx.Err()
		case <-l.ctx.Done():
			return nil
		}
	}
}

// RunPending executes every function already queued without blocking and
// returns how many ran.
func (l *Loop) RunPending() int {
	n := 0
	for {
		select {
		case fn := <-l.queue.Receive():
			l.exec(fn)
			n++
		default:
			return n
		}
	}
}

// Stop makes Run return and rejects further posts.
func (l *Loop) Stop() {
	l.cancel()
}

// Stopped reports whether Stop has been called or Run's context ended.
func (l *Loop) Stopped() bool {
	return l.ctx.Err() != nil
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(context.Background(), 1)
			l.logger.Error("event loop task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
	l.processed.Add(context.Background(), 1)
}
