package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type LoopOptions struct {
	// Interval is the broadcast period.
	Interval time.Duration
	// PollTimeout bounds each wait for I/O or the timer.
	PollTimeout time.Duration
	// Queue is the event channel capacity.
	Queue int
}

// Loop is the single goroutine that owns the session registry and the live
// connection set. Connection goroutines reach it only through Post; the
// dispatcher and the broadcaster run on it and never concurrently.
type Loop struct {
	dispatcher  *Dispatcher
	broadcaster *Broadcaster
	opts        LoopOptions
	events      chan Event
	ticker      *time.Ticker
	startOnce   sync.Once
	done        chan struct{}
	stopOnce    sync.Once
	logger      *slog.Logger
}

// NewLoop wires the dispatcher to post into the loop. The broadcast timer
// starts on the first Poll, so the first period is measured from there.
func NewLoop(d *Dispatcher, b *Broadcaster, opts LoopOptions, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 500 * time.Millisecond
	}
	if opts.Queue <= 0 {
		opts.Queue = 1024
	}

	l := &Loop{
		dispatcher:  d,
		broadcaster: b,
		opts:        opts,
		events:      make(chan Event, opts.Queue),
		ticker:      time.NewTicker(opts.Interval),
		done:        make(chan struct{}),
		logger:      logger,
	}
	l.ticker.Stop()
	d.post = l.Post
	return l
}

// Post hands ev to the loop, blocking while the queue is full. It returns
// false once the loop has been closed.
func (l *Loop) Post(ev Event) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.events <- ev:
		return true
	case <-l.done:
		return false
	}
}

// Poll waits up to timeout for an event or a timer tick, handles it, then
// handles whatever else is already pending without waiting again.
func (l *Loop) Poll(ctx context.Context, timeout time.Duration) {
	l.startOnce.Do(l.startTimer)

	wait := time.NewTimer(timeout)
	defer wait.Stop()

	select {
	case ev := <-l.events:
		l.dispatcher.Dispatch(ev)
	case <-l.ticker.C:
		l.broadcaster.Fire(ctx)
	case <-wait.C:
		return
	case <-ctx.Done():
		return
	case <-l.done:
		return
	}

	for n := len(l.events); n > 0; n-- {
		l.dispatcher.Dispatch(<-l.events)
	}
	select {
	case <-l.ticker.C:
		l.broadcaster.Fire(ctx)
	default:
	}
}

// Run polls until ctx is cancelled or the loop is closed.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Debug("event loop started", "interval", l.opts.Interval, "poll_timeout", l.opts.PollTimeout)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		default:
		}
		l.Poll(ctx, l.opts.PollTimeout)
	}
}

func (l *Loop) startTimer() {
	select {
	case <-l.done:
	default:
		l.ticker.Reset(l.opts.Interval)
	}
}

// Close stops the timer and releases goroutines blocked in Post.
func (l *Loop) Close() {
	l.stopOnce.Do(func() {
		l.ticker.Stop()
		close(l.done)
	})
}
