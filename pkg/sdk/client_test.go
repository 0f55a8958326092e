package sdk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyevents/pkg/config"
	"github.com/nicktill/tinyevents/pkg/event"
	"github.com/nicktill/tinyevents/pkg/sdk/memory"
	"github.com/nicktill/tinyevents/pkg/sdk/receivertest"
)

var fixedTime = time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local)

func newClient(t *testing.T, strict bool, opts ...Option) (*Client, *memory.Consumer) {
	t.Helper()
	mem := memory.New(strict)
	opts = append([]Option{WithClock(func() time.Time { return fixedTime })}, opts...)
	client, err := New(mem, opts...)
	require.NoError(t, err)
	return client, mem
}

func last(t *testing.T, mem *memory.Consumer) *event.Record {
	t.Helper()
	records := mem.Records()
	require.NotEmpty(t, records)
	return records[len(records)-1]
}

func TestNew_RequiresConsumer(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestTrack(t *testing.T) {
	client, mem := newClient(t, true)

	err := client.Track("acct-1", "dev-1", "purchase", event.Properties{
		"amount": 42.5,
		"items":  []string{"a", "b"},
	})
	require.NoError(t, err)

	rec := last(t, mem)
	assert.Equal(t, event.Track, rec.Type)
	assert.Equal(t, "acct-1", rec.AccountID)
	assert.Equal(t, "dev-1", rec.DistinctID)
	assert.Equal(t, "purchase", rec.EventName)
	assert.Equal(t, fixedTime, rec.Time)
	assert.Equal(t, 42.5, rec.Properties["amount"])
	assert.Equal(t, event.LibName, rec.Properties[event.KeyLib])
	assert.Equal(t, event.LibVersion, rec.Properties[event.KeyLibVersion])
	assert.Empty(t, rec.UUID)
}

func TestTrack_EmptyNameAlwaysRejected(t *testing.T) {
	for _, strict := range []bool{true, false} {
		client, mem := newClient(t, strict)

		var verr *event.ValidationError
		require.ErrorAs(t, client.Track("a", "", "", nil), &verr)
		assert.ErrorIs(t, verr, event.ErrMissingEventName)

		require.ErrorIs(t, client.TrackUpdate("a", "", "name", "", nil), event.ErrMissingEventID)
		require.ErrorIs(t, client.TrackOverwrite("a", "", "", "id", nil), event.ErrMissingEventName)
		require.ErrorIs(t, client.TrackFirst("a", "", "name", "", nil), event.ErrMissingEventID)
		assert.Empty(t, mem.Records())
	}
}

func TestStrictValidation(t *testing.T) {
	tests := []struct {
		name string
		call func(c *Client) error
		want error
	}{
		{
			name: "missing identity",
			call: func(c *Client) error { return c.Track("", "", "login", nil) },
			want: event.ErrMissingIdentity,
		},
		{
			name: "invalid event name",
			call: func(c *Client) error { return c.Track("a", "", "9lives", nil) },
			want: event.ErrInvalidKey,
		},
		{
			name: "invalid property key",
			call: func(c *Client) error { return c.UserSet("a", "", event.Properties{"bad key": 1}) },
			want: event.ErrInvalidKey,
		},
		{
			name: "non-numeric user_add",
			call: func(c *Client) error { return c.UserAdd("a", "", event.Properties{"coins": "ten"}) },
			want: event.ErrNotNumber,
		},
		{
			name: "unsupported value",
			call: func(c *Client) error { return c.Track("a", "", "x", event.Properties{"fn": func() {}}) },
			want: event.ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strictClient, strictMem := newClient(t, true)
			err := tt.call(strictClient)
			var verr *event.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, strictMem.Records())
		})
	}
}

func TestLenientSkipsValidation(t *testing.T) {
	client, mem := newClient(t, false)

	require.NoError(t, client.Track("", "", "9lives", event.Properties{"bad key": 1}))
	require.NoError(t, client.UserAdd("", "d", event.Properties{"coins": "ten"}))
	assert.Len(t, mem.Records(), 2)
}

func TestUnparseableTimeRejectedInEveryMode(t *testing.T) {
	for _, strict := range []bool{true, false} {
		client, _ := newClient(t, strict)
		err := client.Track("a", "", "x", event.Properties{event.KeyTime: "yesterday"})
		assert.ErrorIs(t, err, event.ErrInvalidTime)
	}
}

func TestPublicProperties(t *testing.T) {
	client, mem := newClient(t, true)

	client.SetPublicProperties(event.Properties{"a": 1, "env": "prod"})
	require.NoError(t, client.Track("acct", "", "click", event.Properties{"a": 2}))

	rec := last(t, mem)
	assert.Equal(t, 2, rec.Properties["a"], "explicit values win")
	assert.Equal(t, "prod", rec.Properties["env"])

	public := client.PublicProperties()
	public["env"] = "mutated"
	assert.Equal(t, "prod", client.PublicProperties()["env"])

	client.ClearPublicProperties()
	assert.Equal(t, event.Properties{
		event.KeyLib:        event.LibName,
		event.KeyLibVersion: event.LibVersion,
	}, client.PublicProperties())
}

func TestPublicProperties_NotAppliedToUserRecords(t *testing.T) {
	client, mem := newClient(t, true)
	client.SetPublicProperties(event.Properties{"env": "prod"})

	require.NoError(t, client.UserSet("acct", "", event.Properties{"name": "Ada"}))
	rec := last(t, mem)
	assert.NotContains(t, rec.Properties, "env")
	assert.NotContains(t, rec.Properties, event.KeyLib)
}

func TestDynamicPublicProperties(t *testing.T) {
	client, mem := newClient(t, true)
	client.SetPublicProperties(event.Properties{"b": "public"})

	client.SetDynamicPublicProperties(event.DynamicFunc(func() event.Properties {
		return event.Properties{"b": "x", "c": "dyn"}
	}))
	require.NoError(t, client.Track("acct", "", "view", event.Properties{"c": "explicit"}))

	rec := last(t, mem)
	assert.Equal(t, "x", rec.Properties["b"], "dynamic wins over public")
	assert.Equal(t, "explicit", rec.Properties["c"])

	client.SetDynamicPublicProperties(nil)
	require.NoError(t, client.Track("acct", "", "view", nil))
	assert.Equal(t, "public", last(t, mem).Properties["b"])
}

func TestTrackFirst(t *testing.T) {
	client, mem := newClient(t, true)

	require.NoError(t, client.TrackFirst("acct", "", "device_activated", "device-42", nil))

	rec := last(t, mem)
	assert.Equal(t, event.Track, rec.Type)
	assert.Equal(t, "device-42", rec.FirstCheckID)
	assert.Empty(t, rec.EventID)
}

func TestTrackUpdateAndOverwrite(t *testing.T) {
	client, mem := newClient(t, true)

	require.NoError(t, client.TrackUpdate("acct", "", "order", "order-1", event.Properties{"status": "paid"}))
	rec := last(t, mem)
	assert.Equal(t, event.TrackUpdate, rec.Type)
	assert.Equal(t, "order-1", rec.EventID)

	require.NoError(t, client.TrackOverwrite("acct", "", "order", "order-1", event.Properties{"status": "refunded"}))
	rec = last(t, mem)
	assert.Equal(t, event.TrackOverwrite, rec.Type)
	assert.Equal(t, "order-1", rec.EventID)
}

func TestUserOperations(t *testing.T) {
	client, mem := newClient(t, true)

	require.NoError(t, client.UserSetOnceKey("acct", "", "first_seen", "2024-03-01"))
	require.NoError(t, client.UserAddKey("acct", "", "logins", 1))
	require.NoError(t, client.UserAppend("acct", "", event.Properties{"tags": []string{"a"}}))
	require.NoError(t, client.UserUniqAppend("acct", "", event.Properties{"tags": []string{"a"}}))
	require.NoError(t, client.UserUnset("acct", "", "nickname", "avatar"))
	require.NoError(t, client.UserDelete("acct", ""))

	records := mem.Records()
	require.Len(t, records, 6)

	assert.Equal(t, event.UserSetOnce, records[0].Type)
	assert.Equal(t, "2024-03-01", records[0].Properties["first_seen"])

	assert.Equal(t, event.UserAdd, records[1].Type)
	assert.Equal(t, 1.0, records[1].Properties["logins"])

	assert.Equal(t, event.UserAppend, records[2].Type)
	assert.Equal(t, event.UserUniqAppend, records[3].Type)

	assert.Equal(t, event.UserUnset, records[4].Type)
	assert.Equal(t, event.Properties{"nickname": 0, "avatar": 0}, records[4].Properties)

	assert.Equal(t, event.UserDel, records[5].Type)
	assert.Empty(t, records[5].Properties)
}

func TestReservedKeysPromoted(t *testing.T) {
	client, mem := newClient(t, true)

	at := time.Date(2023, 12, 31, 23, 59, 59, 0, time.Local)
	require.NoError(t, client.Track("acct", "", "login", event.Properties{
		event.KeyIP:    "203.0.113.9",
		event.KeyAppID: "other-app",
		event.KeyUUID:  "fixed-uuid",
		event.KeyTime:  at,
	}))

	rec := last(t, mem)
	assert.Equal(t, "203.0.113.9", rec.IP)
	assert.Equal(t, "other-app", rec.AppID)
	assert.Equal(t, "fixed-uuid", rec.UUID)
	assert.Equal(t, at, rec.Time)
	for _, k := range []string{event.KeyIP, event.KeyAppID, event.KeyUUID, event.KeyTime} {
		assert.NotContains(t, rec.Properties, k)
	}
}

func TestWithUUID(t *testing.T) {
	client, mem := newClient(t, false, WithUUID(true))

	require.NoError(t, client.Track("", "d", "a", nil))
	require.NoError(t, client.Track("", "d", "b", nil))

	records := mem.Records()
	assert.Len(t, records[0].UUID, 36)
	assert.NotEqual(t, records[0].UUID, records[1].UUID)
}

func TestFlushAndClose(t *testing.T) {
	client, mem := newClient(t, false)
	assert.Same(t, mem, client.Consumer())

	require.NoError(t, client.Flush())
	assert.Equal(t, 1, mem.Flushes())

	require.NoError(t, client.Close())
	assert.True(t, mem.Closed())
	assert.Error(t, client.Track("", "d", "late", nil))
}

func TestNewFromConfig_Logger(t *testing.T) {
	cfg := config.Default()
	cfg.Logger.Directory = t.TempDir()
	cfg.Logger.Async = false

	client, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.False(t, client.Consumer().IsStrict())

	require.NoError(t, client.Track("", "d", "boot", nil))
	require.NoError(t, client.Close())
}

func TestNewFromConfig_Batch(t *testing.T) {
	rcv := receivertest.New()
	defer rcv.Close()

	cfg := config.Default()
	cfg.Mode = config.ModeBatch
	cfg.EnableUUID = true
	cfg.Batch.ServerURL = rcv.URL()
	cfg.Batch.AppID = "app-cfg"

	client, err := NewFromConfig(cfg)
	require.NoError(t, err)

	require.NoError(t, client.Track("acct", "", "signup", event.Properties{"plan": "pro"}))
	require.NoError(t, client.Flush())

	records := rcv.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "signup", records[0].EventName)
	assert.Equal(t, "pro", records[0].Properties["plan"])
	assert.Equal(t, event.LibName, records[0].Properties[event.KeyLib])
	assert.NotEmpty(t, records[0].UUID)
	assert.Equal(t, "app-cfg", rcv.Batches()[0].AppID)

	require.NoError(t, client.Close())
}

func TestNewFromConfig_AsyncBatch(t *testing.T) {
	rcv := receivertest.New()
	defer rcv.Close()

	cfg := config.Default()
	cfg.Mode = config.ModeAsyncBatch
	cfg.Batch.ServerURL = rcv.URL()
	cfg.Batch.AppID = "app"

	client, err := NewFromConfig(cfg)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, client.Track("", "d", "tick", event.Properties{"i": i}))
	}
	require.NoError(t, client.Close())
	assert.Len(t, rcv.Records(), 5)
}

func TestNewFromConfig_Debug(t *testing.T) {
	rcv := receivertest.New()
	defer rcv.Close()

	cfg := config.Default()
	cfg.Mode = config.ModeDebug
	cfg.Debug.ServerURL = rcv.URL()
	cfg.Debug.AppID = "app"
	cfg.Debug.DryRun = true

	client, err := NewFromConfig(cfg)
	require.NoError(t, err)
	defer client.Close()
	assert.True(t, client.Consumer().IsStrict())

	require.ErrorIs(t, client.Track("", "", "anon", nil), event.ErrMissingIdentity)
	require.NoError(t, client.Track("", "d", "checked", nil))

	reqs := rcv.DebugRequests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].DryRun)
}

func TestNewFromConfig_Invalid(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeBatch

	_, err := NewFromConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.server_url is required")
}

type countingRecorder struct {
	mu      sync.Mutex
	sent    int
	flushed int
}

func (r *countingRecorder) RecordSend(ctx context.Context, consumer string, records int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent += records
}

func (r *countingRecorder) RecordFlush(ctx context.Context, consumer string, records int, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.flushed += records
	}
}

func TestNewFromConfig_WithMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Logger.Directory = t.TempDir()
	cfg.Logger.Async = false

	rec := &countingRecorder{}
	client, err := NewFromConfig(cfg, WithMetrics(rec))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, client.Track("", "d", "metered", nil))
	}
	require.NoError(t, client.Close())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 3, rec.sent)
	assert.Equal(t, 3, rec.flushed)
}
