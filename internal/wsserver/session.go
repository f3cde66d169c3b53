package wsserver

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prasad/loghub/internal/broker"
	"github.com/prasad/loghub/internal/query"
	"github.com/prasad/loghub/internal/record"
)

const defaultReplayLimit = 100
const websocketPingMessage = websocket.PingMessage

// reverseChronological reverses a descending-by-timestamp result slice
// into ascending order, the order PrependReplay expects history in.
func reverseChronological(logs []record.LogRecord) []record.LogRecord {
	out := make([]record.LogRecord, len(logs))
	for i, rec := range logs {
		out[len(logs)-1-i] = rec
	}
	return out
}

// session tracks every subscription a single connection has open, keyed
// by the client-chosen stream id so one socket can multiplex several
// filtered streams.
type session struct {
	broker *broker.Broker
	query  *query.Service
	conn   *safeConn
	log    zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*broker.Subscription
	cancel map[string]context.CancelFunc
}

func newSession(brk *broker.Broker, svc *query.Service, conn *safeConn, log zerolog.Logger) *session {
	return &session{
		broker: brk,
		query:  svc,
		conn:   conn,
		log:    log,
		subs:   make(map[string]*broker.Subscription),
		cancel: make(map[string]context.CancelFunc),
	}
}

func (sess *session) handleClientFrame(ctx context.Context, frame clientFrame) {
	switch frame.Action {
	case "subscribe":
		sess.subscribe(ctx, frame)
	case "unsubscribe":
		sess.unsubscribe(frame.ID)
	case "ping":
		sess.conn.WriteJSON(serverFrame{Type: "pong", ID: frame.ID})
	default:
		sess.conn.WriteJSON(errorFrame("wsserver: unknown action %q", frame.Action))
	}
}

func (sess *session) subscribe(ctx context.Context, frame clientFrame) {
	if frame.ID == "" {
		sess.conn.WriteJSON(errorFrame("wsserver: subscribe requires id"))
		return
	}

	filter, err := toBrokerFilter(frame.Filter)
	if err != nil {
		sess.conn.WriteJSON(errorFrame("wsserver: %v", err))
		return
	}

	sub := sess.broker.Subscribe(filter, toOverflowPolicy(frame.Overflow))

	replayLimit := frame.ReplayLimit
	if replayLimit <= 0 {
		replayLimit = defaultReplayLimit
	}
	if frame.Since != "" || frame.ReplayLimit > 0 {
		sf, err := toStorageFilter(frame.Filter, frame.Since, replayLimit)
		if err == nil {
			result, err := sess.query.Query(ctx, sf)
			if err == nil {
				sub.PrependReplay(reverseChronological(result.Logs))
			} else {
				sess.log.Warn().Err(err).Msg("replay query failed")
			}
		} else {
			sess.log.Warn().Err(err).Msg("replay filter invalid")
		}
	}

	sendCtx, cancel := context.WithCancel(ctx)

	sess.mu.Lock()
	if old, ok := sess.subs[frame.ID]; ok {
		old.Close()
		sess.broker.Unsubscribe(old.ID)
	}
	if oldCancel, ok := sess.cancel[frame.ID]; ok {
		oldCancel()
	}
	sess.subs[frame.ID] = sub
	sess.cancel[frame.ID] = cancel
	sess.mu.Unlock()

	sess.conn.WriteJSON(serverFrame{Type: "subscribed", ID: frame.ID})
	go sess.pump(sendCtx, frame.ID, sub)
}

func (sess *session) unsubscribe(id string) {
	sess.mu.Lock()
	sub, ok := sess.subs[id]
	cancel := sess.cancel[id]
	delete(sess.subs, id)
	delete(sess.cancel, id)
	sess.mu.Unlock()

	if !ok {
		return
	}
	if cancel != nil {
		cancel()
	}
	sess.broker.Unsubscribe(sub.ID)
}

// pump drains sub's buffer to the connection, tagging every frame with
// the client's stream id, until ctx is cancelled or the subscription
// closes from overflow.
func (sess *session) pump(ctx context.Context, id string, sub *broker.Subscription) {
	lastDropped := 0
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Notify():
		case <-ticker.C:
		}

		frames, closed, reason := sub.Drain()
		for _, f := range frames {
			out := serverFrame{Type: f.Type, ID: id, Record: f.Record, Records: f.Records}
			if err := sess.conn.WriteJSON(out); err != nil {
				return
			}
		}

		if dropped := sub.Dropped(); dropped > lastDropped {
			sess.conn.WriteJSON(serverFrame{Type: "dropped", ID: id, DroppedCount: dropped - lastDropped})
			lastDropped = dropped
		}

		if closed {
			sess.conn.WriteJSON(serverFrame{Type: "closed", ID: id, Reason: reason})
			return
		}
	}
}

// closeAll tears down every subscription owned by this session, called
// when the underlying connection closes.
func (sess *session) closeAll() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for id, sub := range sess.subs {
		if cancel, ok := sess.cancel[id]; ok {
			cancel()
		}
		sess.broker.Unsubscribe(sub.ID)
	}
	sess.subs = nil
	sess.cancel = nil
}

func (sess *session) heartbeat(ctx context.Context, onFail context.CancelFunc) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if missed := sess.conn.notePing(); missed > maxMissedPings {
				sess.log.Warn().Int32("missed", missed).Msg("peer missed too many heartbeat pings, closing")
				sess.conn.closeGoingAway("missed heartbeat pings")
				onFail()
				return
			}
			if err := sess.conn.WriteControl(websocketPingMessage, nil, time.Now().Add(writeWait)); err != nil {
				onFail()
				return
			}
		}
	}
}
