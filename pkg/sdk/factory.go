package sdk

import (
	"fmt"
	"time"

	"github.com/nicktill/tinyevents/pkg/config"
	"github.com/nicktill/tinyevents/pkg/sdk/batch"
	"github.com/nicktill/tinyevents/pkg/sdk/consumer"
	"github.com/nicktill/tinyevents/pkg/sdk/debug"
	"github.com/nicktill/tinyevents/pkg/sdk/logfile"
)

// NewFromConfig builds the consumer cfg selects and a client on top of it.
// cfg.EnableUUID applies unless opts override it.
func NewFromConfig(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	opts = append([]Option{WithUUID(cfg.EnableUUID)}, opts...)

	c, err := newConsumer(cfg, resolve(opts))
	if err != nil {
		return nil, err
	}
	client, err := New(c, opts...)
	if err != nil {
		c.Close()
		return nil, err
	}
	return client, nil
}

func newConsumer(cfg config.Config, o options) (consumer.Consumer, error) {
	switch cfg.Mode {
	case config.ModeLogger:
		return newLogConsumer(cfg.Logger, o)
	case config.ModeBatch:
		return batch.New(batchConfig(cfg.Batch, o))
	case config.ModeAsyncBatch:
		return batch.NewAsync(batch.AsyncConfig{
			Config:        batchConfig(cfg.Batch, o),
			QueueSize:     cfg.Batch.QueueSize,
			FlushInterval: time.Duration(cfg.Batch.FlushInterval),
		})
	case config.ModeDebug:
		return debug.New(debug.Config{
			ServerURL: cfg.Debug.ServerURL,
			AppID:     cfg.Debug.AppID,
			Timeout:   time.Duration(cfg.Debug.Timeout),
			DryRun:    cfg.Debug.DryRun,
			Logger:    o.logger,
			Metrics:   o.metrics,
		})
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func newLogConsumer(lc config.LoggerConfig, o options) (consumer.Consumer, error) {
	mode, err := logfile.ParseRotateMode(lc.RotateMode)
	if err != nil {
		return nil, err
	}
	sizeMB, err := lc.MaxFileSizeMB()
	if err != nil {
		return nil, err
	}
	return logfile.New(logfile.Config{
		Directory:     lc.Directory,
		RotateMode:    mode,
		FileSizeMB:    sizeMB,
		FilePrefix:    lc.FilePrefix,
		BufferSize:    lc.BufferSize,
		FlushInterval: time.Duration(lc.FlushInterval),
		Async:         lc.Async,
		Logger:        o.logger,
		Metrics:       o.metrics,
	})
}

func batchConfig(bc config.BatchConfig, o options) batch.Config {
	return batch.Config{
		ServerURL:    bc.ServerURL,
		AppID:        bc.AppID,
		BatchSize:    bc.BatchSize,
		Timeout:      time.Duration(bc.Timeout),
		Compress:     bc.Compress,
		ThrowOnError: bc.ThrowOnError,
		Logger:       o.logger,
		Metrics:      o.metrics,
	}
}
