// Package wsserver is the live-stream boundary: a gorilla/websocket
// endpoint that lets a client subscribe to a filtered slice of the log
// stream, replay recent history, and keep the connection alive with a
// ping/pong heartbeat. Grounded on the teacher's SafeWebSocketConn
// (mutex-wrapped writes, since gorilla/websocket forbids concurrent
// writers) and its 30-second ping ticker.
package wsserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = (maxMissedPings+1)*pingInterval + 5*time.Second
	writeWait      = 10 * time.Second
	maxMissedPings = 2
)

// safeConn serializes writes to a single websocket connection, since
// gorilla/websocket forbids concurrent writers on the same conn. It also
// tracks the run of pings sent without an answering pong, so the
// heartbeat loop can detect a dead peer and close with the correct
// WebSocket close code instead of waiting on a read timeout.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex

	missedPings int32
}

func newSafeConn(conn *websocket.Conn) *safeConn {
	return &safeConn{conn: conn}
}

func (s *safeConn) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *safeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(messageType, data, deadline)
}

func (s *safeConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// notePing records that a ping is about to be sent and returns the
// number of consecutive pings now unanswered, including this one.
func (s *safeConn) notePing() int32 {
	return atomic.AddInt32(&s.missedPings, 1)
}

// notePong clears the missed-ping streak; called from the pong handler.
func (s *safeConn) notePong() {
	atomic.StoreInt32(&s.missedPings, 0)
}

// closeGoingAway sends an RFC 6455 close frame with code 1001 ("going
// away") before closing the underlying connection, used when the peer
// has missed too many heartbeat pings to be considered alive.
func (s *safeConn) closeGoingAway(reason string) error {
	s.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	err := s.conn.Close()
	s.mu.Unlock()
	return err
}
