package ws

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pulsecast/backend/internal/metrics"
	"github.com/pulsecast/backend/internal/session"
)

type loopFixture struct {
	loop     *Loop
	d        *Dispatcher
	b        *Broadcaster
	registry *session.Registry
	conns    *Connections
}

func newTestLoop(t *testing.T, opts LoopOptions) *loopFixture {
	t.Helper()

	logger := discardLogger()
	registry := session.NewRegistry()
	conns := NewConnections()
	m := metrics.New(nil)
	d := NewDispatcher(registry, conns, http.NotFoundHandler(), DispatcherOptions{}, logger, m)
	b := NewBroadcaster(registry, conns, BroadcastOptions{Message: "body"}, logger, m)
	l := NewLoop(d, b, opts, logger)
	t.Cleanup(l.Close)

	return &loopFixture{loop: l, d: d, b: b, registry: registry, conns: conns}
}

func TestNewLoop_Defaults(t *testing.T) {
	f := newTestLoop(t, LoopOptions{})

	if f.loop.opts.Interval != 500*time.Millisecond {
		t.Errorf("Interval = %v, want 500ms", f.loop.opts.Interval)
	}
	if f.loop.opts.PollTimeout != 500*time.Millisecond {
		t.Errorf("PollTimeout = %v, want 500ms", f.loop.opts.PollTimeout)
	}
	if cap(f.loop.events) != 1024 {
		t.Errorf("queue cap = %d, want 1024", cap(f.loop.events))
	}
}

func TestNewLoop_WiresDispatcherPost(t *testing.T) {
	f := newTestLoop(t, LoopOptions{Interval: time.Hour})

	if !f.d.post(Event{Kind: EventAccept, ID: 1, Addr: "a"}) {
		t.Fatal("dispatcher post rejected while loop open")
	}
	if len(f.loop.events) != 1 {
		t.Errorf("pending events = %d, want 1", len(f.loop.events))
	}
}

func TestPost_AfterClose(t *testing.T) {
	f := newTestLoop(t, LoopOptions{Interval: time.Hour})
	f.loop.Close()
	f.loop.Close()

	if f.loop.Post(Event{Kind: EventAccept, ID: 1}) {
		t.Error("Post after Close returned true")
	}
}

func TestPost_BlockedPosterReleasedByClose(t *testing.T) {
	f := newTestLoop(t, LoopOptions{Interval: time.Hour, Queue: 1})
	f.loop.Post(Event{Kind: EventAccept, ID: 1})

	result := make(chan bool, 1)
	go func() {
		result <- f.loop.Post(Event{Kind: EventAccept, ID: 2})
	}()

	select {
	case <-result:
		t.Fatal("Post returned while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	f.loop.Close()
	select {
	case ok := <-result:
		if ok {
			t.Error("blocked Post returned true after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not release blocked Post")
	}
}

func TestPoll_TimesOutWithNothingPending(t *testing.T) {
	f := newTestLoop(t, LoopOptions{Interval: time.Hour})

	start := time.Now()
	f.loop.Poll(context.Background(), 20*time.Millisecond)
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Poll returned after %v, want at least 20ms", elapsed)
	}
	if f.b.seq != 0 {
		t.Error("broadcast fired without a tick")
	}
}

func TestPoll_DrainsPendingEvents(t *testing.T) {
	f := newTestLoop(t, LoopOptions{Interval: time.Hour})
	for id := session.ConnID(1); id <= 3; id++ {
		f.loop.Post(Event{Kind: EventAccept, ID: id, Addr: "x"})
	}

	f.loop.Poll(context.Background(), time.Second)

	if f.conns.Len() != 3 {
		t.Errorf("conns Len() = %d, want 3 after one poll", f.conns.Len())
	}
	if len(f.loop.events) != 0 {
		t.Errorf("pending events = %d, want 0", len(f.loop.events))
	}
}

func TestPoll_AppliesEventsInOrder(t *testing.T) {
	f := newTestLoop(t, LoopOptions{Interval: time.Hour})
	f.loop.Post(Event{Kind: EventAccept, ID: 1, Addr: "x"})
	f.loop.Post(Event{Kind: EventClose, ID: 1})
	f.loop.Post(Event{Kind: EventAccept, ID: 2, Addr: "y"})

	f.loop.Poll(context.Background(), time.Second)

	if _, ok := f.conns.Get(1); ok {
		t.Error("conn 1 should be closed")
	}
	if _, ok := f.conns.Get(2); !ok {
		t.Error("conn 2 should be live")
	}
}

func TestPoll_FiresOnTick(t *testing.T) {
	f := newTestLoop(t, LoopOptions{Interval: 10 * time.Millisecond})

	deadline := time.Now().Add(2 * time.Second)
	for f.b.seq == 0 && time.Now().Before(deadline) {
		f.loop.Poll(context.Background(), 50*time.Millisecond)
	}
	if f.b.seq == 0 {
		t.Fatal("broadcast never fired")
	}
}

func TestPoll_TimerStartsOnFirstPoll(t *testing.T) {
	f := newTestLoop(t, LoopOptions{Interval: 20 * time.Millisecond})

	// Several periods pass before anyone polls.
	time.Sleep(100 * time.Millisecond)

	f.loop.Poll(context.Background(), 5*time.Millisecond)
	if f.b.seq != 0 {
		t.Fatal("broadcast fired for a period that elapsed before polling started")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.b.seq == 0 && time.Now().Before(deadline) {
		f.loop.Poll(context.Background(), 50*time.Millisecond)
	}
	if f.b.seq == 0 {
		t.Fatal("broadcast never fired after polling started")
	}
}

func TestPoll_ReturnsOnCancelledContext(t *testing.T) {
	f := newTestLoop(t, LoopOptions{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		f.loop.Poll(ctx, time.Hour)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll ignored cancelled context")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newTestLoop(t, LoopOptions{Interval: time.Hour, PollTimeout: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.loop.Run(ctx)
		close(done)
	}()

	f.loop.Post(Event{Kind: EventAccept, ID: 1, Addr: "x"})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_StopsOnClose(t *testing.T) {
	f := newTestLoop(t, LoopOptions{Interval: time.Hour, PollTimeout: time.Hour})

	done := make(chan struct{})
	go func() {
		f.loop.Run(context.Background())
		close(done)
	}()

	f.loop.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}
