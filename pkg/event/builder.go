package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Input carries the loosely typed arguments of one record API call.
type Input struct {
	AccountID  string
	DistinctID string
	Type       Type
	EventName  string
	EventID    string
	Properties Properties
}

// Builder turns Inputs into Records, merging public and dynamic properties
// and validating the result when asked to.
type Builder struct {
	public *PublicProperties

	mu      sync.RWMutex
	dynamic DynamicProvider

	enableUUID bool
	now        func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithUUID makes the builder generate #uuid for records that do not carry one.
func WithUUID(enabled bool) BuilderOption {
	return func(b *Builder) {
		b.enableUUID = enabled
	}
}

// WithClock overrides the source of the default record time.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// WithPublicProperties shares an existing public property store.
func WithPublicProperties(p *PublicProperties) BuilderOption {
	return func(b *Builder) {
		b.public = p
	}
}

// NewBuilder creates a Builder with its own public property store.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	if b.public == nil {
		b.public = NewPublicProperties()
	}
	return b
}

// Public returns the public property store.
func (b *Builder) Public() *PublicProperties {
	return b.public
}

// SetDynamicProvider registers p, replacing any previous provider. A nil p
// removes the provider.
func (b *Builder) SetDynamicProvider(p DynamicProvider) {
	b.mu.Lock()
	b.dynamic = p
	b.mu.Unlock()
}

func (b *Builder) dynamicProvider() DynamicProvider {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dynamic
}

// Assemble builds a Record from in. With strict set, identifiers, the event
// name and every remaining property are validated.
//
// For track events the explicit properties win over dynamic properties,
// which win over public properties. track_first is rewritten to track with
// the check id carried in #first_check_id.
func (b *Builder) Assemble(in Input, strict bool) (*Record, error) {
	if !in.Type.Valid() {
		return nil, invalid("#type", fmt.Errorf("%w: %q", ErrUnknownType, in.Type))
	}
	if strict {
		if err := checkIdentity(in); err != nil {
			return nil, err
		}
	}

	props := in.Properties.Clone()
	typ := in.Type
	eventID := in.EventID

	if typ.IsTrack() {
		if p := b.dynamicProvider(); p != nil {
			for k, v := range p.DynamicProperties() {
				if _, ok := props[k]; !ok {
					props[k] = v
				}
			}
		}
		b.public.mergeInto(props)

		if typ == TrackFirst {
			typ = Track
			if eventID != "" {
				props[KeyFirstCheckID] = eventID
				eventID = ""
			}
		}
	}

	rec := &Record{
		AccountID:  in.AccountID,
		DistinctID: in.DistinctID,
		Type:       typ,
		EventName:  in.EventName,
		EventID:    eventID,
	}

	if v, ok := take(props, KeyUUID); ok {
		rec.UUID = v
	} else if b.enableUUID {
		rec.UUID = uuid.NewString()
	}
	rec.IP, _ = take(props, KeyIP)
	rec.AppID, _ = take(props, KeyAppID)
	rec.FirstCheckID, _ = take(props, KeyFirstCheckID)

	if raw, ok := props[KeyTime]; ok {
		delete(props, KeyTime)
		t, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		rec.Time = t
	} else {
		rec.Time = b.now()
	}

	if strict {
		if err := ValidateProperties(in.Type, props); err != nil {
			return nil, err
		}
	}

	rec.Properties = props
	return rec, nil
}

func checkIdentity(in Input) error {
	if in.AccountID == "" && in.DistinctID == "" {
		return invalid("", ErrMissingIdentity)
	}
	if !in.Type.IsTrack() {
		return nil
	}
	if in.EventName == "" {
		return invalid("#event_name", ErrMissingEventName)
	}
	if !keyPattern.MatchString(in.EventName) {
		return invalid(in.EventName, ErrInvalidKey)
	}
	if in.Type.NeedsEventID() && in.EventID == "" {
		return invalid("#event_id", ErrMissingEventID)
	}
	return nil
}

// take removes key from props and returns its value as a string.
func take(props Properties, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	delete(props, key)
	if v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

func parseTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v != nil {
			return *v, nil
		}
	case string:
		for _, layout := range []string{TimeLayout, timeLayoutSeconds, time.RFC3339Nano} {
			if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, invalid(KeyTime, fmt.Errorf("%w: %v", ErrInvalidTime, raw))
}
