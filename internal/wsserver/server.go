package wsserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/prasad/loghub/internal/broker"
	"github.com/prasad/loghub/internal/logging"
	"github.com/prasad/loghub/internal/query"
	"github.com/prasad/loghub/internal/record"
	"github.com/prasad/loghub/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the /ws boundary: it upgrades a connection, lets the client
// multiplex any number of subscriptions onto it by client-chosen id, and
// forwards broker frames until the connection closes.
type Server struct {
	broker *broker.Broker
	query  *query.Service
}

func New(brk *broker.Broker, svc *query.Service) *Server {
	return &Server{broker: brk, query: svc}
}

func (s *Server) Register(r gin.IRouter) {
	r.GET("/ws", s.handle)
}

func (s *Server) handle(c *gin.Context) {
	rawConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to upgrade connection"})
		return
	}
	conn := newSafeConn(rawConn)
	log := logging.For("wsserver")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer conn.Close()

	session := newSession(s.broker, s.query, conn, log)
	defer session.closeAll()

	go session.heartbeat(ctx, cancel)

	rawConn.SetPongHandler(func(string) error {
		conn.notePong()
		rawConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	rawConn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var frame clientFrame
		if err := rawConn.ReadJSON(&frame); err != nil {
			cancel()
			return
		}
		session.handleClientFrame(ctx, frame)
	}
}

func toBrokerFilter(f clientFilter) (broker.Filter, error) {
	out := broker.Filter{Sources: f.Sources}
	for _, name := range f.Levels {
		lvl, err := record.ParseLevel(name)
		if err != nil {
			return broker.Filter{}, err
		}
		out.Levels = append(out.Levels, lvl)
	}
	if f.MinLevel != "" {
		lvl, err := record.ParseLevel(f.MinLevel)
		if err != nil {
			return broker.Filter{}, err
		}
		out.MinLevel = &lvl
	}
	return out, nil
}

func toOverflowPolicy(s string) broker.OverflowPolicy {
	if s == string(broker.OverflowClose) {
		return broker.OverflowClose
	}
	return broker.OverflowDropOldest
}

func toStorageFilter(f clientFilter, since string, limit int) (storage.Filter, error) {
	sf := storage.Filter{Sources: f.Sources, Limit: limit, Order: storage.OrderTimestampDesc}
	for _, name := range f.Levels {
		lvl, err := record.ParseLevel(name)
		if err != nil {
			return storage.Filter{}, err
		}
		sf.Levels = append(sf.Levels, lvl)
	}
	if f.MinLevel != "" {
		lvl, err := record.ParseLevel(f.MinLevel)
		if err != nil {
			return storage.Filter{}, err
		}
		sf.MinLevel = &lvl
	}
	if since != "" {
		tr, err := query.ResolveTimeRange(since, "")
		if err != nil {
			return storage.Filter{}, err
		}
		sf.Since = &tr.Since
	}
	return sf, nil
}

func errorFrame(format string, args ...any) serverFrame {
	return serverFrame{Type: "error", Error: fmt.Sprintf(format, args...)}
}
