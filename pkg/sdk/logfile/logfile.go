// Package logfile implements a consumer that appends records to rotating
// local files, one JSON object per line, for a log shipper to pick up.
//
// Files are named {dir}/{prefix}.{date}_{seq}. The date part is
// 2006-01-02 with daily rotation and 2006-01-02-15 with hourly rotation. With
// a size cap the sequence number advances past files that reached it.
package logfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nicktill/tinyevents/pkg/event"
	"github.com/nicktill/tinyevents/pkg/sdk/consumer"
	"github.com/nicktill/tinyevents/pkg/sdk/instrument"
)

// RotateMode selects how often a new file is started
type RotateMode int

const (
	RotateDaily RotateMode = iota
	RotateHourly
)

func (m RotateMode) String() string {
	if m == RotateHourly {
		return "hourly"
	}
	return "daily"
}

// ParseRotateMode parses "daily" or "hourly".
func ParseRotateMode(s string) (RotateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily":
		return RotateDaily, nil
	case "hourly":
		return RotateHourly, nil
	default:
		return RotateDaily, fmt.Errorf("unknown rotate mode %q", s)
	}
}

func (m RotateMode) layout() string {
	if m == RotateHourly {
		return "2006-01-02-15"
	}
	return "2006-01-02"
}

// Defaults
const (
	DefaultPrefix        = "log"
	DefaultBufferSize    = 8192
	DefaultFlushInterval = 10 * time.Second
)

// tickEvery is how often the background task checks the flush interval.
var tickEvery = time.Second

// Config holds configuration for the file consumer
type Config struct {
	Directory  string
	RotateMode RotateMode

	// FileSizeMB caps each file; zero or less means unbounded.
	FileSizeMB int

	FilePrefix string

	// BufferSize is the number of buffered bytes that triggers a flush.
	BufferSize int

	// FlushInterval is the longest buffered data waits when Async is set.
	FlushInterval time.Duration

	// Async enables the background flush task.
	Async bool

	// Registry shares file handles between consumers; nil means DefaultRegistry.
	Registry *Registry

	Logger  *slog.Logger
	Metrics instrument.Recorder
}

// DefaultConfig returns the default configuration for dir
func DefaultConfig(dir string) Config {
	return Config{
		Directory:     dir,
		RotateMode:    RotateDaily,
		FilePrefix:    DefaultPrefix,
		BufferSize:    DefaultBufferSize,
		FlushInterval: DefaultFlushInterval,
		Async:         true,
	}
}

// Consumer buffers encoded records in memory and appends them to the
// current file once the buffer fills, on Flush, or from the background task.
type Consumer struct {
	config   Config
	dir      string
	registry *Registry
	logger   *slog.Logger
	metrics  instrument.Recorder
	now      func() time.Time

	mu        sync.Mutex
	buf       bytes.Buffer
	records   int
	handle    *Handle
	lastFlush time.Time
	closed    bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the directory if needed and returns a file consumer
func New(cfg Config) (*Consumer, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	dir, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if cfg.FilePrefix == "" {
		cfg.FilePrefix = DefaultPrefix
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}

	c := &Consumer{
		config:    cfg,
		dir:       dir,
		registry:  cfg.Registry,
		logger:    componentLogger(cfg.Logger),
		metrics:   instrument.OrNoop(cfg.Metrics),
		now:       time.Now,
		lastFlush: time.Now(),
	}
	c.buf.Grow(cfg.BufferSize)

	if cfg.Async {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.run(ctx)
	}
	return c, nil
}

// Send encodes rec as one line and flushes if the buffer is full.
func (c *Consumer) Send(rec *event.Record) error {
	line, err := event.Encode(rec)
	if err != nil {
		return &consumer.SerializationError{Records: 1, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return consumer.ErrClosed
	}
	c.buf.Write(line)
	c.buf.WriteByte('\n')
	c.records++
	c.metrics.RecordSend(context.Background(), "logger", 1)

	if c.buf.Len() >= c.config.BufferSize {
		return c.flushLocked()
	}
	return nil
}

// Flush appends the buffer to the current file.
func (c *Consumer) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

// Close stops the background task, flushes and releases the file handle.
// Later calls do nothing.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.flushLocked()
	if c.handle != nil {
		if rerr := c.registry.Release(c.handle); rerr != nil && err == nil {
			err = fmt.Errorf("failed to close log file: %w", rerr)
		}
		c.handle = nil
	}
	return err
}

// IsStrict reports false: file output skips validation.
func (c *Consumer) IsStrict() bool {
	return false
}

// Buffered returns the number of bytes waiting to be written.
func (c *Consumer) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}

// FileName returns the file that data written at the given time goes to.
// With a size cap it probes sequence numbers until it finds a file that is
// absent or below the cap.
func (c *Consumer) FileName(at time.Time) (string, error) {
	base := filepath.Join(c.dir, c.config.FilePrefix+"."+at.Format(c.config.RotateMode.layout())+"_")
	if c.config.FileSizeMB <= 0 {
		return base + "0", nil
	}

	limit := int64(c.config.FileSizeMB) * humanize.MiByte
	for seq := 0; ; seq++ {
		name := base + strconv.Itoa(seq)
		info, err := os.Stat(name)
		if errors.Is(err, fs.ErrNotExist) {
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if info.Size() < limit {
			return name, nil
		}
	}
}

// flushLocked writes the buffer out. The buffer is kept when the write
// fails. Callers must hold c.mu.
func (c *Consumer) flushLocked() error {
	if c.buf.Len() == 0 {
		return nil
	}

	name, err := c.FileName(c.now())
	if err != nil {
		return err
	}
	if c.handle != nil && c.handle.Path() != name {
		c.rotate(name)
	}
	if c.handle == nil {
		h, err := c.registry.Acquire(name)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		c.handle = h
	}

	start := time.Now()
	_, err = c.handle.Write(c.buf.Bytes())
	c.metrics.RecordFlush(context.Background(), "logger", c.records, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to write log file: %w", err)
	}

	c.buf.Reset()
	c.records = 0
	c.lastFlush = c.now()
	return nil
}

// rotate releases the handle of the previous file.
func (c *Consumer) rotate(next string) {
	prev := c.handle.Path()
	attrs := []any{slog.String("from", prev), slog.String("to", next)}
	if info, err := os.Stat(prev); err == nil {
		attrs = append(attrs, slog.String("size", humanize.IBytes(uint64(info.Size()))))
	}
	c.logger.Info("rotating log file", attrs...)

	if err := c.registry.Release(c.handle); err != nil {
		c.logger.Warn("failed to close log file",
			slog.String("path", prev),
			slog.String("error", err.Error()))
	}
	c.handle = nil
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick flushes when buffered data has waited longer than FlushInterval.
func (c *Consumer) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf.Len() == 0 || c.now().Sub(c.lastFlush) < c.config.FlushInterval {
		return
	}
	if err := c.flushLocked(); err != nil {
		c.logger.Warn("background flush failed",
			slog.Int("buffered_bytes", c.buf.Len()),
			slog.String("error", err.Error()))
	}
}

func componentLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", "logger"))
}
