package debug

import (
	"bytes"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyevents/pkg/event"
	"github.com/nicktill/tinyevents/pkg/sdk/consumer"
	"github.com/nicktill/tinyevents/pkg/sdk/receivertest"
)

func testRecord() *event.Record {
	return &event.Record{
		AccountID:  "acct-1",
		Type:       event.Track,
		EventName:  "signup",
		Time:       time.Now(),
		Properties: event.Properties{"plan": "pro"},
	}
}

func TestNew_RequiresAppID(t *testing.T) {
	_, err := New(Config{ServerURL: "http://localhost:8991"})
	require.Error(t, err)

	_, err = New(Config{ServerURL: "localhost", AppID: "app"})
	require.Error(t, err)
}

func TestSend_TransmitsImmediately(t *testing.T) {
	rcv := receivertest.New()
	defer rcv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c, err := New(Config{ServerURL: rcv.URL(), AppID: "app-d", DryRun: true, Logger: logger})
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.IsStrict())

	require.NoError(t, c.Send(testRecord()))

	reqs := rcv.DebugRequests()
	require.Len(t, reqs, 1, "no buffering")
	assert.Equal(t, "app-d", reqs[0].AppID)
	assert.True(t, reqs[0].DryRun)
	assert.Equal(t, "signup", reqs[0].Record.EventName)
	assert.Equal(t, "pro", reqs[0].Record.Properties["plan"])
	assert.Contains(t, logs.String(), "sending record")
	assert.Contains(t, logs.String(), "signup")

	require.NoError(t, c.Flush())
	assert.Len(t, rcv.DebugRequests(), 1)
}

func TestSend_Failures(t *testing.T) {
	t.Run("error level", func(t *testing.T) {
		rcv := receivertest.New()
		defer rcv.Close()
		rcv.DebugErrorLevel(1)

		c, err := New(Config{ServerURL: rcv.URL(), AppID: "app"})
		require.NoError(t, err)

		var rerr *consumer.ReceiverError
		require.ErrorAs(t, c.Send(testRecord()), &rerr)
		assert.Equal(t, consumer.KindInvalidData, rerr.Kind)
	})

	t.Run("status", func(t *testing.T) {
		rcv := receivertest.New()
		defer rcv.Close()
		rcv.ReplyStatus(http.StatusBadGateway)

		c, err := New(Config{ServerURL: rcv.URL(), AppID: "app"})
		require.NoError(t, err)

		var terr *consumer.TransportError
		require.ErrorAs(t, c.Send(testRecord()), &terr)
		assert.Equal(t, http.StatusBadGateway, terr.StatusCode)
	})

	t.Run("unreachable", func(t *testing.T) {
		c, err := New(Config{ServerURL: "http://localhost:1", AppID: "app", Timeout: 200 * time.Millisecond})
		require.NoError(t, err)

		var terr *consumer.TransportError
		require.ErrorAs(t, c.Send(testRecord()), &terr)
	})

	t.Run("serialization", func(t *testing.T) {
		rcv := receivertest.New()
		defer rcv.Close()

		c, err := New(Config{ServerURL: rcv.URL(), AppID: "app"})
		require.NoError(t, err)

		rec := testRecord()
		rec.Properties["ch"] = make(chan int)
		var serr *consumer.SerializationError
		require.ErrorAs(t, c.Send(rec), &serr)
		assert.Empty(t, rcv.DebugRequests())
	})
}

func TestClose_Idempotent(t *testing.T) {
	rcv := receivertest.New()
	defer rcv.Close()

	c, err := New(Config{ServerURL: rcv.URL(), AppID: "app"})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(testRecord()), consumer.ErrClosed)
	assert.Empty(t, rcv.DebugRequests())
}
