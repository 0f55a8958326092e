package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nicktill/tinyevents/pkg/event"
	"github.com/nicktill/tinyevents/pkg/sdk/consumer"
	"github.com/nicktill/tinyevents/pkg/sdk/instrument"
	"github.com/nicktill/tinyevents/pkg/sdk/transport"
)

// MaxBatchSize caps the records sent per request, whatever is configured.
const MaxBatchSize = 20

// Config holds configuration for the batch consumer
type Config struct {
	ServerURL string
	AppID     string

	// BatchSize is the flush threshold and the records per request.
	// Zero or values above MaxBatchSize mean MaxBatchSize.
	BatchSize int

	// Timeout bounds one request; zero means transport.DefaultTimeout.
	Timeout time.Duration

	Compress bool

	// ThrowOnError makes failed flushes return their error. Otherwise
	// failures are logged and the unattempted records stay queued.
	ThrowOnError bool

	// Transport overrides the HTTP transport built from the fields above.
	Transport transport.Transport

	Logger  *slog.Logger
	Metrics instrument.Recorder
}

// Consumer buffers records and posts them in batches. Send triggers a flush
// when the buffer reaches the batch size.
//
// Delivery is at most once: every attempted batch leaves the queue, whether
// the attempt succeeds or not. Nothing is retried.
type Consumer struct {
	config    Config
	transport transport.Transport
	closer    func()
	logger    *slog.Logger
	metrics   instrument.Recorder

	mu      sync.Mutex
	records []*event.Record
	closed  bool
}

// New creates a synchronous batch consumer
func New(cfg Config) (*Consumer, error) {
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = transport.DefaultTimeout
	}

	c := &Consumer{
		config:  cfg,
		logger:  componentLogger(cfg.Logger, "batch"),
		metrics: instrument.OrNoop(cfg.Metrics),
		records: make([]*event.Record, 0, cfg.BatchSize),
	}

	if cfg.Transport != nil {
		c.transport = cfg.Transport
	} else {
		if cfg.AppID == "" {
			return nil, fmt.Errorf("app id is required")
		}
		tr, err := transport.NewHTTP(transport.Config{
			ServerURL: cfg.ServerURL,
			AppID:     cfg.AppID,
			Timeout:   cfg.Timeout,
			Compress:  cfg.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		c.transport = tr
		c.closer = tr.Close
	}
	return c, nil
}

// Send queues rec and flushes once a full batch is buffered.
func (c *Consumer) Send(rec *event.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return consumer.ErrClosed
	}
	c.records = append(c.records, rec)
	c.metrics.RecordSend(context.Background(), "batch", 1)

	if len(c.records) >= c.config.BatchSize {
		return c.flushLocked()
	}
	return nil
}

// Flush sends every queued record, batch by batch, oldest first.
func (c *Consumer) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

// Close flushes and releases the transport. Later calls do nothing.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	err := c.flushLocked()
	if c.closer != nil {
		c.closer()
	}
	return err
}

// IsStrict reports false: batch delivery skips validation.
func (c *Consumer) IsStrict() bool {
	return false
}

// Pending returns the number of queued records.
func (c *Consumer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// flushLocked drains the queue. Callers must hold c.mu.
func (c *Consumer) flushLocked() error {
	for len(c.records) > 0 {
		n := min(c.config.BatchSize, len(c.records))
		batch := c.records[:n]

		payload, err := event.EncodeBatch(batch)
		if err != nil {
			c.drop(n)
			serr := &consumer.SerializationError{Records: n, Err: err}
			c.metrics.RecordFlush(context.Background(), "batch", n, 0, serr)
			if c.config.ThrowOnError {
				return serr
			}
			c.logger.Warn("dropping batch that cannot be serialized",
				slog.Int("records", n),
				slog.String("error", err.Error()))
			continue
		}

		err = c.send(payload, n)
		c.drop(n)
		if err != nil {
			if c.config.ThrowOnError {
				return fmt.Errorf("failed to send batch: %w", err)
			}
			c.logger.Warn("batch delivery failed",
				slog.Int("records", n),
				slog.Int("queued", len(c.records)),
				slog.String("error", err.Error()))
			return nil
		}
	}
	return nil
}

func (c *Consumer) send(payload []byte, n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	start := time.Now()
	err := c.transport.Send(ctx, payload)
	c.metrics.RecordFlush(ctx, "batch", n, time.Since(start), err)
	return err
}

// drop removes the n oldest records.
func (c *Consumer) drop(n int) {
	clear(c.records[:n])
	c.records = c.records[n:]
}

func componentLogger(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", name))
}
