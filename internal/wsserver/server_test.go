package wsserver

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/prasad/loghub/internal/broker"
	"github.com/prasad/loghub/internal/query"
	"github.com/prasad/loghub/internal/record"
	"github.com/prasad/loghub/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *broker.Broker, *storage.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := filepath.Join(t.TempDir(), "logs.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	store := storage.New(db, 16, 500)
	t.Cleanup(func() { store.Close() })

	brk := broker.New(16, time.Second)
	svc := query.New(store, 4)

	engine := gin.New()
	New(brk, svc).Register(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, brk, store
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscribe_ReceivesLiveRecord(t *testing.T) {
	srv, brk, _ := newTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(clientFrame{
		Action: "subscribe",
		ID:     "stream-1",
		Filter: clientFilter{Sources: []string{"api"}},
	}))

	var subscribed serverFrame
	require.NoError(t, conn.ReadJSON(&subscribed))
	require.Equal(t, "subscribed", subscribed.Type)

	require.Eventually(t, func() bool {
		return countSubscriptions(brk) == 1
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	fanout := make(chan []record.LogRecord, 1)
	go brk.Run(ctx, fanout)
	fanout <- []record.LogRecord{{Source: "api", Message: "hello"}}

	var frame serverFrame
	require.Eventually(t, func() bool {
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		return conn.ReadJSON(&frame) == nil && frame.Type == "record"
	}, 2*time.Second, 50*time.Millisecond)
	require.Equal(t, "stream-1", frame.ID)
	require.Equal(t, "hello", frame.Record.Message)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	srv, brk, _ := newTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(clientFrame{Action: "subscribe", ID: "s1", Filter: clientFilter{}}))
	var subscribed serverFrame
	require.NoError(t, conn.ReadJSON(&subscribed))

	require.NoError(t, conn.WriteJSON(clientFrame{Action: "unsubscribe", ID: "s1"}))

	require.Eventually(t, func() bool {
		return countSubscriptions(brk) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestPing_RespondsWithPong(t *testing.T) {
	srv, _, _ := newTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(clientFrame{Action: "ping", ID: "p1"}))
	var frame serverFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "pong", frame.Type)
	require.Equal(t, "p1", frame.ID)
}

func countSubscriptions(brk *broker.Broker) int {
	return brk.Count()
}
