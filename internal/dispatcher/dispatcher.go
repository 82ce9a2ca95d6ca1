package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Event is a named UI command, such as a query change or a marker click,
// arriving from a surface or the terminal.
type Event struct {
	Command   string
	Args      []string
	Timestamp time.Time
}

// Arg returns the i-th argument or "".
func (e Event) Arg(i int) string {
	if i < 0 || i >= len(e.Args) {
		return ""
	}
	return e.Args[i]
}

type HandlerFunc func(Event) (any, error)

type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
	loop       *Loop
}

// Buffered runs the handler on its own goroutine behind a queue of size
// events. Dispatch fails when the queue is full unless Blocking is also set.
func Buffered(size int) Option {
	return func(c *config) { c.bufferSize = size }
}

func Blocking() Option {
	return func(c *config) { c.blocking = true }
}

// Logged wraps the handler with debug and error logging.
func Logged() Option {
	return func(c *config) { c.logged = true }
}

// OnLoop runs the handler on l. Dispatch returns as soon as the event is
// posted. OnLoop takes precedence over Buffered.
func OnLoop(l *Loop) Option {
	return func(c *config) { c.loop = l }
}

type metrics struct {
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
}

func (m metrics) done(command string) {
	m.processed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", command)))
}

func (m metrics) drop(command string) {
	m.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", command)))
}

// Dispatcher maps command names to handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	buffers  map[string]chan Event
	logger   Logger
	metrics  metrics
}

// New registers the dispatcher's instruments on the global meter.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		buffers:  make(map[string]chan Event),
		logger:   logger,
	}
	if err := d.instrument(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) instrument() error {
	m := meter()
	var err error

	if d.metrics.queueSize, err = m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Events waiting in buffered handler queues")); err != nil {
		return fmt.Errorf("creating queue size gauge: %w", err)
	}
	if _, err = m.RegisterCallback(d.observeQueues, d.metrics.queueSize); err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}
	if d.metrics.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Events handled off the caller's goroutine")); err != nil {
		return fmt.Errorf("creating processed counter: %w", err)
	}
	if d.metrics.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Events rejected by a full queue or a stopped loop")); err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}
	return nil
}

func (d *Dispatcher) observeQueues(_ context.Context, o metric.Observer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for cmd, buf := range d.buffers {
		o.ObserveInt64(d.metrics.queueSize, int64(len(buf)),
			metric.WithAttributes(attribute.String("command", cmd)))
	}
	return nil
}

// Register replaces any handler already bound to command.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.loop != nil {
		h = d.onLoop(command, cfg.loop, h)
	} else if cfg.bufferSize > 0 {
		h = d.withBuffer(command, cfg.bufferSize, cfg.blocking, h)
	}
	if cfg.logged {
		h = d.withLogging(command, h)
	}

	d.mu.Lock()
	d.handlers[command] = h
	d.mu.Unlock()
}

// Dispatch stamps e with the current time if it has none and calls the
// handler registered for e.Command.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	d.mu.RLock()
	h, ok := d.handlers[e.Command]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", e.Command)
	}
	return h(e)
}

func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[command]
	return ok
}

func (d *Dispatcher) withBuffer(command string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	queue := make(chan Event, size)

	d.mu.Lock()
	d.buffers[command] = queue
	d.mu.Unlock()

	go func() {
		for e := range queue {
			if _, err := h(e); err != nil {
				d.logger.Error("buffered event failed", "command", command, "error", err)
			}
			d.metrics.done(command)
		}
	}()

	return func(e Event) (any, error) {
		if blocking {
			queue <- e
			return "queued", nil
		}
		select {
		case queue <- e:
			return "queued", nil
		default:
			d.metrics.drop(command)
			return nil, fmt.Errorf("queue full: %s", command)
		}
	}
}

func (d *Dispatcher) onLoop(command string, l *Loop, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		posted := l.Post(func() {
			if _, err := h(e); err != nil {
				d.logger.Error("event failed", "command", command, "error", err)
			}
			d.metrics.done(command)
		})
		if !posted {
			d.metrics.drop(command)
			return nil, fmt.Errorf("loop stopped: %s", command)
		}
		return "posted", nil
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "args", len(e.Args))

		result, err := h(e)
		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
			return result, err
		}
		d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		return result, nil
	}
}
