// Package memory implements a consumer that keeps records in memory.
// Records are lost on exit. Useful for testing and development.
package memory

import (
	"sync"

	"github.com/nicktill/tinyevents/pkg/event"
	"github.com/nicktill/tinyevents/pkg/sdk/consumer"
)

// Consumer stores every accepted record in memory
type Consumer struct {
	strict bool

	mu      sync.RWMutex
	records []*event.Record
	flushes int
	closed  bool
}

// New creates an in-memory consumer. A strict consumer makes the client
// validate records before they are accepted.
func New(strict bool) *Consumer {
	return &Consumer{
		strict:  strict,
		records: make([]*event.Record, 0, 1024),
	}
}

// Send stores rec
func (c *Consumer) Send(rec *event.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return consumer.ErrClosed
	}
	c.records = append(c.records, rec)
	return nil
}

// Flush counts the call; stored records are already delivered.
func (c *Consumer) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return nil
}

// Close stops accepting records. Stored records stay readable.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsStrict reports the strictness the consumer was created with.
func (c *Consumer) IsStrict() bool {
	return c.strict
}

// Records returns the stored records, oldest first.
func (c *Consumer) Records() []*event.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*event.Record, len(c.records))
	copy(result, c.records)
	return result
}

// Flushes returns how many times Flush was called.
func (c *Consumer) Flushes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flushes
}

// Closed reports whether Close was called.
func (c *Consumer) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Reset drops all stored records.
func (c *Consumer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = c.records[:0]
	c.flushes = 0
}
