package progress

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dili-feedback-server/internal/logging"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func receive(t *testing.T, s *Subscriber) Event {
	t.Helper()
	select {
	case ev := <-s.Outbound:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_BroadcastToChannel(t *testing.T) {
	hub := NewHub(nil, logging.Discard())
	runSub := hub.Subscribe(RunChannel("r1"))
	allSub := hub.Subscribe(TrainingChannel)
	defer hub.Unsubscribe(runSub)
	defer hub.Unsubscribe(allSub)

	hub.Broadcast(Event{Channel: RunChannel("r1"), Type: "phase", Data: "Dataset Preparation"})
	hub.Broadcast(Event{Channel: TrainingChannel, Type: "idle"})

	assert.Equal(t, "phase", receive(t, runSub).Type)
	assert.Equal(t, "idle", receive(t, allSub).Type)
	assert.Empty(t, runSub.Outbound)
	assert.Empty(t, allSub.Outbound)
}

func TestHub_ReplaysLastEventOnSubscribe(t *testing.T) {
	hub := NewHub(nil, logging.Discard())
	hub.Broadcast(Event{Channel: TrainingChannel, Type: "state", Data: "ApiTraining"})

	s := hub.Subscribe(TrainingChannel)
	defer hub.Unsubscribe(s)
	assert.Equal(t, "ApiTraining", receive(t, s).Data)

	last, ok := hub.Last(TrainingChannel)
	require.True(t, ok)
	assert.Equal(t, "state", last.Type)
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil, logging.Discard(), WithBufferSize(2))
	s := hub.Subscribe(TrainingChannel)
	defer hub.Unsubscribe(s)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Broadcast(Event{Channel: TrainingChannel, Type: "phase"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
	assert.Len(t, s.Outbound, 2)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(nil, logging.Discard())
	s := hub.Subscribe(TrainingChannel, RunChannel("r1"), " ")
	assert.Equal(t, 1, hub.Subscribers(TrainingChannel))

	hub.Unsubscribe(s)
	hub.Unsubscribe(s)
	assert.Equal(t, 0, hub.Subscribers(TrainingChannel))
	assert.Equal(t, 0, hub.Subscribers(RunChannel("r1")))

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestServeSSE(t *testing.T) {
	hub := NewHub(nil, logging.Discard())
	subscribed := make(chan *Subscriber, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := hub.Subscribe(TrainingChannel)
		defer hub.Unsubscribe(s)
		subscribed <- s
		hub.ServeSSE(w, r, s)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	<-subscribed
	hub.Broadcast(Event{Channel: TrainingChannel, Type: "phase", Data: map[string]interface{}{"index": 1}})

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: phase\n", eventLine)

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataLine, "data: "))

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &ev))
	assert.Equal(t, TrainingChannel, ev.Channel)
	assert.Equal(t, map[string]interface{}{"index": 1.0}, ev.Data)
}

func TestServeWS(t *testing.T) {
	hub := NewHub(nil, logging.Discard())
	subscribed := make(chan *Subscriber, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := hub.Subscribe(RunChannel("r9"))
		defer hub.Unsubscribe(s)
		subscribed <- s
		_ = hub.ServeWS(w, r, s)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	s := <-subscribed
	hub.Broadcast(Event{Channel: RunChannel("r9"), Type: "completed", Data: "success"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "completed", ev.Type)
	assert.Equal(t, "success", ev.Data)

	hub.Unsubscribe(s)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestRedisBus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	}()

	endpoint, err := redisContainer.Endpoint(ctx, "redis")
	require.NoError(t, err)

	// Two hubs stand in for two server instances.
	hubA := NewHub(nil, logging.Discard())
	hubB := NewHub(nil, logging.Discard())
	busA, err := NewRedisBus(ctx, endpoint, "dili:test", hubA, logging.Discard())
	require.NoError(t, err)
	defer busA.Close()
	busB, err := NewRedisBus(ctx, endpoint, "dili:test", hubB, logging.Discard())
	require.NoError(t, err)
	defer busB.Close()

	fwdCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, busA.StartForwarder(fwdCtx))
	require.NoError(t, busB.StartForwarder(fwdCtx))

	subA := hubA.Subscribe(TrainingChannel)
	subB := hubB.Subscribe(TrainingChannel)

	busA.Publish(ctx, Event{Channel: TrainingChannel, Type: "state", Data: "VersionBumping"})

	assert.Equal(t, "VersionBumping", receive(t, subA).Data)
	assert.Equal(t, "VersionBumping", receive(t, subB).Data)
}

func TestNewRedisBus_BadURL(t *testing.T) {
	_, err := NewRedisBus(context.Background(), "not a url", "c", NewHub(nil, logging.Discard()), logging.Discard())
	assert.Error(t, err)
}

func TestHub_CloseEndsSubscribers(t *testing.T) {
	hub := NewHub(nil, logging.Discard())
	s := hub.Subscribe(TrainingChannel, RunChannel("r1"))

	hub.Close()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("subscriber not closed")
	}
	assert.Equal(t, 0, hub.Subscribers(TrainingChannel))
	hub.Unsubscribe(s)

	late := hub.Subscribe(TrainingChannel)
	select {
	case <-late.Done():
	default:
		t.Fatal("subscriber accepted after close")
	}
	assert.Equal(t, 0, hub.Subscribers(TrainingChannel))
}

func TestHub_ForgetsRunChannelAfterIdle(t *testing.T) {
	hub := NewHub(nil, logging.Discard())
	runSub := hub.Subscribe(RunChannel("r1"))
	defer hub.Unsubscribe(runSub)

	hub.Broadcast(Event{Channel: RunChannel("r1"), Type: "completed"})
	hub.Broadcast(Event{Channel: RunChannel("r1"), Type: EventIdle})
	hub.Broadcast(Event{Channel: TrainingChannel, Type: EventIdle})

	assert.Equal(t, "completed", receive(t, runSub).Type)
	assert.Equal(t, EventIdle, receive(t, runSub).Type)

	_, ok := hub.Last(RunChannel("r1"))
	assert.False(t, ok)
	last, ok := hub.Last(TrainingChannel)
	require.True(t, ok)
	assert.Equal(t, EventIdle, last.Type)
}
