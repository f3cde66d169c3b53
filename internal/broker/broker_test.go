package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prasad/loghub/internal/record"
)

func TestDispatch_FiltersBySource(t *testing.T) {
	b := New(16, time.Second)
	sub := b.Subscribe(Filter{Sources: []string{"api"}}, OverflowDropOldest)

	b.dispatch([]record.LogRecord{
		{Source: "api", Message: "one"},
		{Source: "worker", Message: "two"},
	})

	frames, closed, _ := sub.Drain()
	require.False(t, closed)
	require.Len(t, frames, 1)
	require.Equal(t, "api", frames[0].Record.Source)
}

func TestPush_DropOldestOverflow(t *testing.T) {
	b := New(2, time.Second)
	sub := b.Subscribe(Filter{}, OverflowDropOldest)

	for i := 0; i < 5; i++ {
		b.dispatch([]record.LogRecord{{Source: "api", Message: "msg"}})
	}

	frames, closed, _ := sub.Drain()
	require.False(t, closed)
	require.Len(t, frames, 2)
	require.Equal(t, 3, sub.Dropped())
}

func TestPush_CloseOverflow(t *testing.T) {
	b := New(1, time.Second)
	sub := b.Subscribe(Filter{}, OverflowClose)

	b.dispatch([]record.LogRecord{{Source: "api", Message: "one"}})
	b.dispatch([]record.LogRecord{{Source: "api", Message: "two"}})

	_, closed, reason := sub.Drain()
	require.True(t, closed)
	require.Equal(t, "slow_consumer", reason)
}

func TestPrependReplay_OrdersHistoryBeforeLive(t *testing.T) {
	b := New(16, time.Second)
	sub := b.Subscribe(Filter{}, OverflowDropOldest)

	b.dispatch([]record.LogRecord{{Source: "api", Message: "live-during-replay"}})
	sub.PrependReplay([]record.LogRecord{{Source: "api", Message: "historical"}})

	frames, _, _ := sub.Drain()
	require.Len(t, frames, 3)
	require.Equal(t, "historical", frames[0].Record.Message)
	require.Equal(t, "live", frames[1].Type)
	require.Equal(t, "live-during-replay", frames[2].Record.Message)
}

func TestRun_DispatchesFromFanoutChannel(t *testing.T) {
	b := New(16, time.Second)
	sub := b.Subscribe(Filter{}, OverflowDropOldest)

	fanout := make(chan []record.LogRecord, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, fanout)

	fanout <- []record.LogRecord{{Source: "api", Message: "hello"}}

	require.Eventually(t, func() bool {
		frames, _, _ := sub.Drain()
		return len(frames) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestUnsubscribe_RemovesSubscription(t *testing.T) {
	b := New(16, time.Second)
	sub := b.Subscribe(Filter{}, OverflowDropOldest)
	b.Unsubscribe(sub.ID)

	_, ok := b.Get(sub.ID)
	require.False(t, ok)
}
