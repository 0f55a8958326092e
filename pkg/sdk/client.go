package sdk

import (
	"errors"
	"log/slog"
	"time"

	"github.com/nicktill/tinyevents/pkg/event"
	"github.com/nicktill/tinyevents/pkg/sdk/consumer"
	"github.com/nicktill/tinyevents/pkg/sdk/instrument"
)

type options struct {
	enableUUID bool
	logger     *slog.Logger
	metrics    instrument.Recorder
	now        func() time.Time
}

// Option configures a Client
type Option func(*options)

// WithUUID fills #uuid with a random UUID for records that carry none.
func WithUUID(enabled bool) Option {
	return func(o *options) {
		o.enableUUID = enabled
	}
}

// WithLogger sets the logger handed to consumers built by NewFromConfig.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the recorder handed to consumers built by NewFromConfig.
func WithMetrics(r instrument.Recorder) Option {
	return func(o *options) {
		o.metrics = r
	}
}

// WithClock overrides the default record time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Client assembles records from API calls and hands them to a consumer
type Client struct {
	consumer consumer.Consumer
	builder  *event.Builder
}

// New creates a client that delivers through c. Records are validated
// before delivery when c reports IsStrict.
func New(c consumer.Consumer, opts ...Option) (*Client, error) {
	if c == nil {
		return nil, errors.New("consumer is required")
	}
	o := resolve(opts)

	builderOpts := []event.BuilderOption{event.WithUUID(o.enableUUID)}
	if o.now != nil {
		builderOpts = append(builderOpts, event.WithClock(o.now))
	}
	return &Client{
		consumer: c,
		builder:  event.NewBuilder(builderOpts...),
	}, nil
}

func resolve(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Consumer returns the consumer records are delivered to.
func (c *Client) Consumer() consumer.Consumer {
	return c.consumer
}

// Track records an event.
func (c *Client) Track(accountID, distinctID, eventName string, props event.Properties) error {
	if eventName == "" {
		return &event.ValidationError{Field: "#event_name", Err: event.ErrMissingEventName}
	}
	return c.add(event.Input{
		AccountID:  accountID,
		DistinctID: distinctID,
		Type:       event.Track,
		EventName:  eventName,
		Properties: props,
	})
}

// TrackFirst records an event the receiver keeps only once per firstCheckID.
func (c *Client) TrackFirst(accountID, distinctID, eventName, firstCheckID string, props event.Properties) error {
	return c.trackWithID(event.TrackFirst, accountID, distinctID, eventName, firstCheckID, props)
}

// TrackUpdate records an event whose properties update the stored event
// with the same eventID.
func (c *Client) TrackUpdate(accountID, distinctID, eventName, eventID string, props event.Properties) error {
	return c.trackWithID(event.TrackUpdate, accountID, distinctID, eventName, eventID, props)
}

// TrackOverwrite records an event that replaces the stored event with the
// same eventID.
func (c *Client) TrackOverwrite(accountID, distinctID, eventName, eventID string, props event.Properties) error {
	return c.trackWithID(event.TrackOverwrite, accountID, distinctID, eventName, eventID, props)
}

func (c *Client) trackWithID(t event.Type, accountID, distinctID, eventName, id string, props event.Properties) error {
	if eventName == "" {
		return &event.ValidationError{Field: "#event_name", Err: event.ErrMissingEventName}
	}
	if id == "" {
		return &event.ValidationError{Field: "#event_id", Err: event.ErrMissingEventID}
	}
	return c.add(event.Input{
		AccountID:  accountID,
		DistinctID: distinctID,
		Type:       t,
		EventName:  eventName,
		EventID:    id,
		Properties: props,
	})
}

// UserSet sets user properties, replacing existing values.
func (c *Client) UserSet(accountID, distinctID string, props event.Properties) error {
	return c.user(event.UserSet, accountID, distinctID, props)
}

// UserSetOnce sets user properties that have no value yet.
func (c *Client) UserSetOnce(accountID, distinctID string, props event.Properties) error {
	return c.user(event.UserSetOnce, accountID, distinctID, props)
}

// UserSetOnceKey is UserSetOnce for a single property.
func (c *Client) UserSetOnceKey(accountID, distinctID, key string, value any) error {
	return c.user(event.UserSetOnce, accountID, distinctID, event.Properties{key: value})
}

// UserAdd adds numbers to numeric user properties.
func (c *Client) UserAdd(accountID, distinctID string, props event.Properties) error {
	return c.user(event.UserAdd, accountID, distinctID, props)
}

// UserAddKey is UserAdd for a single property.
func (c *Client) UserAddKey(accountID, distinctID, key string, value float64) error {
	return c.user(event.UserAdd, accountID, distinctID, event.Properties{key: value})
}

// UserAppend appends elements to list user properties.
func (c *Client) UserAppend(accountID, distinctID string, props event.Properties) error {
	return c.user(event.UserAppend, accountID, distinctID, props)
}

// UserUniqAppend appends elements missing from list user properties.
func (c *Client) UserUniqAppend(accountID, distinctID string, props event.Properties) error {
	return c.user(event.UserUniqAppend, accountID, distinctID, props)
}

// UserUnset clears the named user properties.
func (c *Client) UserUnset(accountID, distinctID string, keys ...string) error {
	props := make(event.Properties, len(keys))
	for _, k := range keys {
		props[k] = 0
	}
	return c.user(event.UserUnset, accountID, distinctID, props)
}

// UserDelete deletes the user.
func (c *Client) UserDelete(accountID, distinctID string) error {
	return c.user(event.UserDel, accountID, distinctID, event.Properties{})
}

func (c *Client) user(t event.Type, accountID, distinctID string, props event.Properties) error {
	return c.add(event.Input{
		AccountID:  accountID,
		DistinctID: distinctID,
		Type:       t,
		Properties: props,
	})
}

func (c *Client) add(in event.Input) error {
	rec, err := c.builder.Assemble(in, c.consumer.IsStrict())
	if err != nil {
		return err
	}
	return c.consumer.Send(rec)
}

// SetPublicProperties merges props into the properties added to every
// track event.
func (c *Client) SetPublicProperties(props event.Properties) {
	c.builder.Public().Set(props)
}

// ClearPublicProperties drops every public property except the library
// identity.
func (c *Client) ClearPublicProperties() {
	c.builder.Public().Clear()
}

// PublicProperties returns a copy of the public properties.
func (c *Client) PublicProperties() event.Properties {
	return c.builder.Public().Snapshot()
}

// SetDynamicPublicProperties registers p, replacing any previous provider.
// A nil p removes it.
func (c *Client) SetDynamicPublicProperties(p event.DynamicProvider) {
	c.builder.SetDynamicProvider(p)
}

// Flush forces delivery of buffered records.
func (c *Client) Flush() error {
	return c.consumer.Flush()
}

// Close flushes and releases the consumer.
func (c *Client) Close() error {
	return c.consumer.Close()
}
