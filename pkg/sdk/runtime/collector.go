// Package runtime contributes Go runtime state to track events as dynamic
// public properties.
package runtime

import (
	"runtime"
	"sync"
	"time"

	"github.com/nicktill/tinyevents/pkg/event"
)

// DefaultInterval is the default minimum time between samples.
const DefaultInterval = 15 * time.Second

// Provider samples runtime statistics. Reading them stops the world briefly,
// so a sample is reused until it is older than the interval.
type Provider struct {
	service  string
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	sampled time.Time
	cached  event.Properties
}

// NewProvider creates a runtime provider. An empty service omits the
// service property.
func NewProvider(service string, interval time.Duration) *Provider {
	if interval == 0 {
		interval = DefaultInterval
	}
	return &Provider{
		service:  service,
		interval: interval,
		now:      time.Now,
	}
}

// DynamicProperties returns the latest sample.
func (p *Provider) DynamicProperties() event.Properties {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.cached == nil || now.Sub(p.sampled) >= p.interval {
		p.cached = p.collect()
		p.sampled = now
	}
	return p.cached.Clone()
}

// collect gathers Go runtime statistics.
func (p *Provider) collect() event.Properties {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	props := event.Properties{
		"go_goroutines":   runtime.NumGoroutine(),
		"go_cpu_count":    runtime.NumCPU(),
		"go_heap_bytes":   m.HeapAlloc,
		"go_heap_objects": m.HeapObjects,
		"go_gc_count":     m.NumGC,
		// PauseTotalNs is cumulative
		"go_gc_pause_seconds": float64(m.PauseTotalNs) / 1e9,
	}
	if p.service != "" {
		props["service"] = p.service
	}
	return props
}
