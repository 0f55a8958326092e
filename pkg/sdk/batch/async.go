package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nicktill/tinyevents/pkg/event"
	"github.com/nicktill/tinyevents/pkg/sdk/consumer"
)

// Async defaults
const (
	DefaultQueueSize     = 1000
	DefaultFlushInterval = 10 * time.Second
)

// AsyncConfig holds configuration for the asynchronous batch consumer
type AsyncConfig struct {
	Config

	// QueueSize bounds the records waiting for the worker. Send blocks
	// while the queue is full.
	QueueSize int

	// FlushInterval is how often the worker flushes on its own. Zero means
	// DefaultFlushInterval; a negative value disables periodic flushing.
	FlushInterval time.Duration

	// OnError receives every error the worker observes, in order, on a
	// goroutine of its own. The caller that triggered the work has already
	// returned by then. It may call back into the consumer.
	OnError func(error)
}

type op struct {
	rec   *event.Record
	flush bool
	done  chan error
}

// AsyncConsumer runs a batch Consumer on a dedicated worker goroutine.
// Send and Flush hand work to the worker and return without waiting for
// delivery. Records keep their submission order.
type AsyncConsumer struct {
	inner   *Consumer
	ops     chan op
	done    chan struct{}
	logger  *slog.Logger
	onError func(error)

	mu     sync.RWMutex
	closed bool

	errMu    sync.Mutex
	errs     []error
	errReady chan struct{}
	notified chan struct{}
}

// NewAsync creates an asynchronous batch consumer and starts its worker
func NewAsync(cfg AsyncConfig) (*AsyncConsumer, error) {
	inner, err := New(cfg.Config)
	if err != nil {
		return nil, err
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	a := &AsyncConsumer{
		inner:   inner,
		ops:     make(chan op, cfg.QueueSize),
		done:    make(chan struct{}),
		logger:  componentLogger(cfg.Logger, "async_batch"),
		onError: cfg.OnError,
	}
	if a.onError != nil {
		a.errReady = make(chan struct{}, 1)
		a.notified = make(chan struct{})
		go a.notify()
	}
	go a.run(cfg.FlushInterval)
	return a, nil
}

// Send hands rec to the worker. Delivery errors go to OnError.
func (a *AsyncConsumer) Send(rec *event.Record) error {
	return a.enqueue(op{rec: rec})
}

// Flush asks the worker to flush and returns immediately.
func (a *AsyncConsumer) Flush() error {
	return a.enqueue(op{flush: true})
}

// FlushWait asks the worker to flush and waits for the outcome, or for ctx.
func (a *AsyncConsumer) FlushWait(ctx context.Context) error {
	done := make(chan error, 1)
	if err := a.enqueue(op{flush: true, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records, waits for the worker to drain the queue and
// closes the underlying consumer. Later calls do nothing.
func (a *AsyncConsumer) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ops)
	a.mu.Unlock()

	<-a.done
	if a.onError != nil {
		close(a.errReady)
		<-a.notified
	}
	return a.inner.Close()
}

// IsStrict reports false: batch delivery skips validation.
func (a *AsyncConsumer) IsStrict() bool {
	return false
}

// Pending returns the records buffered by the worker, excluding ones still
// waiting in the queue.
func (a *AsyncConsumer) Pending() int {
	return a.inner.Pending()
}

func (a *AsyncConsumer) enqueue(o op) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return consumer.ErrClosed
	}
	a.ops <- o
	return nil
}

// run processes queued work in order until the queue is closed.
func (a *AsyncConsumer) run(interval time.Duration) {
	defer close(a.done)

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case o, ok := <-a.ops:
			if !ok {
				return
			}
			a.handle(o)
		case <-tick:
			a.report(a.inner.Flush())
		}
	}
}

func (a *AsyncConsumer) handle(o op) {
	if !o.flush {
		a.report(a.inner.Send(o.rec))
		return
	}
	err := a.inner.Flush()
	if o.done != nil {
		o.done <- err
		return
	}
	a.report(err)
}

func (a *AsyncConsumer) report(err error) {
	if err == nil {
		return
	}
	a.logger.Warn("background delivery failed", slog.String("error", err.Error()))
	if a.onError == nil {
		return
	}
	a.errMu.Lock()
	a.errs = append(a.errs, err)
	a.errMu.Unlock()
	select {
	case a.errReady <- struct{}{}:
	default:
	}
}

// notify hands reported errors to OnError off the worker, so a callback
// blocked on a full queue cannot stall the goroutine that drains it.
func (a *AsyncConsumer) notify() {
	defer close(a.notified)
	for range a.errReady {
		a.drainErrors()
	}
	a.drainErrors()
}

func (a *AsyncConsumer) drainErrors() {
	a.errMu.Lock()
	errs := a.errs
	a.errs = nil
	a.errMu.Unlock()

	for _, err := range errs {
		a.onError(err)
	}
}
