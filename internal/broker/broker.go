// Package broker is the live-stream fan-out: it drains committed batches
// from storage's fanout channel and distributes matching records to
// subscribers over bounded per-subscription buffers.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prasad/loghub/internal/logging"
	"github.com/prasad/loghub/internal/metrics"
	"github.com/prasad/loghub/internal/record"
)

// OverflowPolicy controls what happens when a subscription's buffer is
// full and a new matching record arrives.
type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowClose      OverflowPolicy = "close"
)

const (
	defaultBufferSize  = 1024
	defaultGraceWindow = 30 * time.Second
)

// Filter narrows which records a subscription receives; zero-value
// fields are unconstrained.
type Filter struct {
	Sources  []string
	Levels   []record.Level
	MinLevel *record.Level
}

func (f Filter) matches(rec record.LogRecord) bool {
	if len(f.Sources) > 0 && !containsString(f.Sources, rec.Source) {
		return false
	}
	if len(f.Levels) > 0 && !containsLevel(f.Levels, rec.Level) {
		return false
	}
	if f.MinLevel != nil && !rec.Level.AtLeast(*f.MinLevel) {
		return false
	}
	return true
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsLevel(xs []record.Level, x record.Level) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Frame is one server-to-client message: a single record, a batch, the
// live-transition marker, a drop notice, or a terminal close.
type Frame struct {
	Type         string           `json:"type"` // "record" | "batch" | "live" | "dropped" | "closed"
	Record       *record.LogRecord `json:"record,omitempty"`
	Records      []record.LogRecord `json:"records,omitempty"`
	DroppedCount int              `json:"count,omitempty"`
	CloseReason  string           `json:"reason,omitempty"`
}

// Subscription is one live consumer's mailbox: a bounded buffer drained
// by its own sender goroutine, plus the grace-window bookkeeping needed
// to survive a brief transport drop.
type Subscription struct {
	ID       string
	Filter   Filter
	Overflow OverflowPolicy

	mu      sync.Mutex
	buffer  []Frame
	closed  bool
	reason  string
	dropped int

	notify chan struct{}

	graceTimer *time.Timer
}

func newSubscription(id string, filter Filter, overflow OverflowPolicy, bufSize int) *Subscription {
	if overflow == "" {
		overflow = OverflowDropOldest
	}
	return &Subscription{
		ID:       id,
		Filter:   filter,
		Overflow: overflow,
		buffer:   make([]Frame, 0, bufSize),
		notify:   make(chan struct{}, 1),
	}
}

func (s *Subscription) push(frame Frame, bufSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.buffer) >= bufSize {
		switch s.Overflow {
		case OverflowClose:
			s.closed = true
			s.reason = "slow_consumer"
			s.signal()
			return
		default: // drop_oldest
			s.buffer = s.buffer[1:]
			s.dropped++
			metrics.BrokerDropped.WithLabelValues(string(OverflowDropOldest)).Inc()
		}
	}
	s.buffer = append(s.buffer, frame)
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close marks the subscription closed so further pushes are dropped and
// its pump loop can exit; used when a client replaces an existing
// subscription id with a new one.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Drain removes and returns every buffered frame, and whether the
// subscription is closed.
func (s *Subscription) Drain() ([]Frame, bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.buffer
	s.buffer = nil
	return frames, s.closed, s.reason
}

// Notify returns the channel a sender loop should select on to wake up
// whenever new frames are buffered.
func (s *Subscription) Notify() <-chan struct{} { return s.notify }

// Dropped reports how many frames this subscription has discarded to
// overflow so far.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Broker owns the subscription map and the single dispatch goroutine
// that fans committed batches out to matching subscriptions.
type Broker struct {
	mu            sync.Mutex
	subscriptions map[string]*Subscription
	bufferSize    int
	graceWindow   time.Duration
}

func New(bufferSize int, graceWindow time.Duration) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if graceWindow <= 0 {
		graceWindow = defaultGraceWindow
	}
	return &Broker{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    bufferSize,
		graceWindow:   graceWindow,
	}
}

// Subscribe registers a new subscription and returns it; the caller is
// responsible for draining it (e.g. from a WebSocket sender loop).
func (b *Broker) Subscribe(filter Filter, overflow OverflowPolicy) *Subscription {
	sub := newSubscription(uuid.NewString(), filter, overflow, b.bufferSize)
	b.mu.Lock()
	b.subscriptions[sub.ID] = sub
	metrics.BrokerSubscriptions.Set(float64(len(b.subscriptions)))
	b.mu.Unlock()
	return sub
}

// PrependReplay inserts historical-then-live-marker frames at the front
// of sub's buffer. The subscription must already be registered (via
// Subscribe) before the caller starts its replay query, so any live
// record committed during replay is appended normally and ends up after
// the prepended history once this call returns - no duplication, no
// loss.
func (sub *Subscription) PrependReplay(history []record.LogRecord) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	frames := make([]Frame, 0, len(history)+1)
	for i := range history {
		rec := history[i]
		frames = append(frames, Frame{Type: "record", Record: &rec})
	}
	frames = append(frames, Frame{Type: "live"})
	sub.buffer = append(frames, sub.buffer...)
	sub.signal()
}

// Get looks up an existing subscription, used when a reconnecting client
// presents a subscription id within the grace window.
func (b *Broker) Get(id string) (*Subscription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscriptions[id]
	return sub, ok
}

// Count reports the number of active subscriptions, for system.health.
func (b *Broker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}

// Unsubscribe immediately removes a subscription (explicit client
// unsubscribe or disconnect past the grace window).
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, id)
	metrics.BrokerSubscriptions.Set(float64(len(b.subscriptions)))
}

// EnterGrace keeps sub registered but schedules its removal after the
// grace window, giving a dropped transport a chance to reconnect with
// the same subscription id before the buffer is discarded.
func (b *Broker) EnterGrace(id string) {
	b.mu.Lock()
	sub, ok := b.subscriptions[id]
	b.mu.Unlock()
	if !ok {
		return
	}
	sub.graceTimer = time.AfterFunc(b.graceWindow, func() { b.Unsubscribe(id) })
}

// CancelGrace stops a pending grace-window eviction, used when the same
// subscription id reconnects in time.
func (b *Broker) CancelGrace(id string) {
	b.mu.Lock()
	sub, ok := b.subscriptions[id]
	b.mu.Unlock()
	if ok && sub.graceTimer != nil {
		sub.graceTimer.Stop()
	}
}

// Run drains fanout and dispatches each batch to every matching
// subscription until ctx is cancelled.
func (b *Broker) Run(ctx context.Context, fanout <-chan []record.LogRecord) {
	log := logging.For("broker")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("broker stopped")
			return
		case batch, ok := <-fanout:
			if !ok {
				return
			}
			b.dispatch(batch)
		}
	}
}

func (b *Broker) dispatch(batch []record.LogRecord) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		var matched []record.LogRecord
		for _, rec := range batch {
			if sub.Filter.matches(rec) {
				matched = append(matched, rec)
			}
		}
		if len(matched) == 0 {
			continue
		}
		frame := Frame{Type: "record"}
		if len(matched) == 1 {
			frame.Record = &matched[0]
		} else {
			frame.Type = "batch"
			frame.Records = matched
		}
		sub.push(frame, b.bufferSize)
	}
}
