package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var _ Publisher = (*Hub)(nil)
var _ Publisher = NopPublisher{}

func dialHub(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastsToAllSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub()
	hub.Start()

	router := chi.NewRouter()
	RegisterRoutes(router, hub)
	ts := httptest.NewServer(router)

	first := dialHub(t, ts)
	second := dialHub(t, ts)
	waitForSubscribers(t, hub, 2)

	hub.Publish(RunEvent{
		RunID:  "run-1",
		Target: "Kitchen",
		Phase:  "cloud_visible",
		State:  "CLOUD_VISIBLE",
	})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got RunEvent
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "Kitchen", got.Target)
		assert.Equal(t, "cloud_visible", got.Phase)
		assert.Equal(t, "CLOUD_VISIBLE", got.State)
		assert.False(t, got.TS.IsZero(), "hub stamps missing timestamps")
	}

	first.Close()
	second.Close()
	hub.Stop()
	ts.Close()
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub()
	hub.Start()
	defer hub.Stop()

	// A subscriber with no write pump: its buffer fills and the hub must
	// drop it instead of blocking the fan-out loop.
	stuck := &subscriber{send: make(chan RunEvent, 1), remote: "test-stuck"}
	hub.mu.Lock()
	hub.subscribers[stuck] = struct{}{}
	hub.mu.Unlock()

	hub.Publish(RunEvent{RunID: "run-1", Target: "Kitchen", Phase: "play"})
	hub.Publish(RunEvent{RunID: "run-2", Target: "Kitchen", Phase: "confirm"})

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The channel was closed by the hub when it dropped the subscriber.
	event, ok := <-stuck.send
	assert.True(t, ok, "first event was buffered")
	assert.Equal(t, "run-1", event.RunID)
	_, ok = <-stuck.send
	assert.False(t, ok, "channel closed after drop")
}

func TestHub_StopDisconnectsSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub()
	hub.Start()

	router := chi.NewRouter()
	RegisterRoutes(router, hub)
	ts := httptest.NewServer(router)

	conn := dialHub(t, ts)
	waitForSubscribers(t, hub, 1)

	hub.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "server closed the connection")
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway) || err != nil)

	conn.Close()
	ts.Close()

	// Stopping again is a no-op.
	hub.Stop()
	assert.Equal(t, 0, hub.SubscriberCount())
}

func TestHub_PublishAfterStopIsSafe(t *testing.T) {
	hub := NewHub()
	hub.Start()
	hub.Stop()

	// The loop is gone; publishes fill the buffer then fall to the
	// non-blocking default. None of these may hang.
	for i := 0; i < broadcastBuffer+10; i++ {
		hub.Publish(RunEvent{RunID: "late", Target: "Kitchen"})
	}
}

func TestHub_ConnectAfterStopIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub()
	hub.Start()

	router := chi.NewRouter()
	RegisterRoutes(router, hub)
	ts := httptest.NewServer(router)
	defer ts.Close()

	hub.Stop()

	// The upgrade succeeds but the hub closes the connection immediately.
	conn := dialHub(t, ts)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, hub.SubscriberCount())
}
