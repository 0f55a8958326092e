// Package debug implements a consumer that sends every record on its own,
// synchronously, to the receiver's debug endpoint. It is meant for checking
// instrumentation during development; every failure reaches the caller.
package debug

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

// Config holds configuration for the debug consumer
type Config struct {
	ServerURL string
	AppID     string
	Timeout   time.Duration

	// DryRun asks the receiver to check records without storing them.
	DryRun bool

	// Transport overrides the debug transport built from the fields above.
	Transport transport.Transport

	Logger  *slog.Logger
	Metrics instrument.Recorder
}

// Consumer transmits one record per Send
type Consumer struct {
	timeout   time.Duration
	transport transport.Transport
	closer    func()
	logger    *slog.Logger
	metrics   instrument.Recorder

	mu     sync.RWMutex
	closed bool
}

// New creates a debug consumer
func New(cfg Config) (*Consumer, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = transport.DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Consumer{
		timeout: cfg.Timeout,
		logger:  logger.With(slog.String("component", "debug")),
		metrics: instrument.OrNoop(cfg.Metrics),
	}

	if cfg.Transport != nil {
		c.transport = cfg.Transport
		return c, nil
	}
	if cfg.AppID == "" {
		return nil, fmt.Errorf("app id is required")
	}
	tr, err := transport.NewDebug(transport.Config{
		ServerURL: cfg.ServerURL,
		AppID:     cfg.AppID,
		Timeout:   cfg.Timeout,
	}, cfg.DryRun)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	c.transport = tr
	c.closer = tr.Close
	return c, nil
}

// Send encodes and transmits rec, returning any failure.
func (c *Consumer) Send(rec *event.Record) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return consumer.ErrClosed
	}

	data, err := event.Encode(rec)
	if err != nil {
		return &consumer.SerializationError{Records: 1, Err: err}
	}
	c.metrics.RecordSend(context.Background(), "debug", 1)
	c.logger.Debug("sending record", slog.String("data", string(data)))

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	err = c.transport.Send(ctx, data)
	c.metrics.RecordFlush(ctx, "debug", 1, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to send record: %w", err)
	}
	return nil
}

// Flush does nothing; records are never buffered.
func (c *Consumer) Flush() error {
	return nil
}

// Close releases idle connections. Later calls do nothing.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.closer != nil {
		c.closer()
	}
	return nil
}

// IsStrict reports true: records are validated before they are sent.
func (c *Consumer) IsStrict() bool {
	return true
}
