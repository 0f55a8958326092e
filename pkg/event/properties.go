package event

import "sync"

// PublicProperties holds default properties merged into every track event.
// It always carries the library identity keys.
type PublicProperties struct {
	mu    sync.RWMutex
	props Properties
}

// NewPublicProperties creates a store seeded with the library identity.
func NewPublicProperties() *PublicProperties {
	p := &PublicProperties{}
	p.Clear()
	return p
}

// Set merges props into the store, replacing existing keys.
func (p *PublicProperties) Set(props Properties) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, v := range props {
		p.props[k] = v
	}
}

// Clear drops every property except the re-seeded library identity.
func (p *PublicProperties) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.props = Properties{
		KeyLib:        LibName,
		KeyLibVersion: LibVersion,
	}
}

// Snapshot returns a copy of the current properties.
func (p *PublicProperties) Snapshot() Properties {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.props.Clone()
}

// mergeInto adds every property missing from dst.
func (p *PublicProperties) mergeInto(dst Properties) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for k, v := range p.props {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}

// DynamicProvider computes default properties at the moment a track event
// is assembled.
type DynamicProvider interface {
	DynamicProperties() Properties
}

// DynamicFunc adapts a plain function to DynamicProvider.
type DynamicFunc func() Properties

// DynamicProperties calls f.
func (f DynamicFunc) DynamicProperties() Properties {
	return f()
}
