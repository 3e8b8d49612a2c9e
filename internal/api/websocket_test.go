package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l2metrics"
	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
	"github.com/banshee-data/fatigue.report/internal/fatigue/synthetic"
)

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) pipeline.Status {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var st pipeline.Status
	require.NoError(t, conn.ReadJSON(&st))
	return st
}

func TestStatusWebsocket(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ts := httptest.NewServer(LoggingMiddleware(env.mux))
	defer ts.Close()

	conn := dial(t, ts, "/ws/status")
	first := readStatus(t, conn)
	assert.Equal(t, env.session.ID(), first.SessionID)
	assert.Equal(t, 0, first.Score)

	require.Eventually(t, func() bool { return env.srv.hub.count() == 1 }, time.Second, 5*time.Millisecond)
	env.srv.ObserveCycle(pipeline.Status{SessionID: env.session.ID(), Score: 77})
	assert.Equal(t, 77, readStatus(t, conn).Score)

	// Server shutdown closes the socket.
	env.srv.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestStatusHub_DropsForSlowClient(t *testing.T) {
	t.Parallel()
	hub := newStatusHub()
	c := &wsClient{send: make(chan []byte, 1)}
	require.True(t, hub.add(c))

	hub.broadcast(pipeline.Status{Score: 1})
	hub.broadcast(pipeline.Status{Score: 2})
	assert.Equal(t, uint64(1), hub.dropped.Load())
	assert.Len(t, c.send, 1)

	hub.remove(c)
	hub.remove(c)
	assert.Equal(t, 0, hub.count())

	hub.close()
	assert.False(t, hub.add(&wsClient{send: make(chan []byte, 1)}))
}

func TestLandmarksWebsocket(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ts := httptest.NewServer(env.mux)
	defer ts.Close()

	gen := synthetic.New(l2metrics.DefaultCameraModel(), 0, 1)
	frame := l1landmarks.Frame{Seq: 42, Timestamp: time.Now(), Face: true, Landmarks: gen.Landmarks(synthetic.DefaultFace())}
	line, err := frame.MarshalLine()
	require.NoError(t, err)

	conn := dial(t, ts, "/ws/landmarks?ack=1")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, line))

	var ack ingestAck
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, ingestAck{Seq: 42, OK: true}, ack)

	select {
	case got := <-env.ingest:
		assert.Equal(t, uint64(42), got.Seq)
		assert.Len(t, got.Landmarks, l1landmarks.NumLandmarks)
	case <-time.After(time.Second):
		t.Fatal("frame was not queued")
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ack = ingestAck{}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.False(t, ack.OK)
	assert.NotEmpty(t, ack.Error)
	assert.Empty(t, env.ingest)
}

func TestLandmarksWebsocket_RefusesShortLandmarkSet(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ts := httptest.NewServer(env.mux)
	defer ts.Close()

	gen := synthetic.New(l2metrics.DefaultCameraModel(), 0, 1)
	short := l1landmarks.Frame{Seq: 7, Face: true, Landmarks: gen.Landmarks(synthetic.DefaultFace())[:30]}
	line, err := short.MarshalLine()
	require.NoError(t, err)

	conn := dial(t, ts, "/ws/landmarks?ack=1")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, line))

	var ack ingestAck
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, uint64(7), ack.Seq)
	assert.False(t, ack.OK)
	assert.Contains(t, ack.Error, l1landmarks.ErrInvalidLandmarkCount.Error())
	assert.Empty(t, env.ingest)

	// Face-less frames carry no landmarks and are still accepted.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":8,"face":false}`)))
	ack = ingestAck{}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, ingestAck{Seq: 8, OK: true}, ack)
}

func TestLandmarksWebsocket_NoAck(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ts := httptest.NewServer(env.mux)
	defer ts.Close()

	conn := dial(t, ts, "/ws/landmarks")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":3,"face":false}`)))

	select {
	case got := <-env.ingest:
		assert.Equal(t, uint64(3), got.Seq)
		assert.False(t, got.Face)
	case <-time.After(time.Second):
		t.Fatal("frame was not queued")
	}
}
