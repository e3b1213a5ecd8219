package ws

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pulsecast/backend/internal/codec"
	"github.com/pulsecast/backend/internal/metrics"
	"github.com/pulsecast/backend/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pulsecast/backend/internal/ws"

type BroadcastOptions struct {
	// Message is the fixed body following the counter.
	Message string
	// BufferSize caps the payload before encoding.
	BufferSize int
	// Diagnostics enables the per-connection buffer report on each firing.
	Diagnostics bool
	// TracerProvider receives the broadcast spans. Nil means the global
	// provider.
	TracerProvider trace.TracerProvider
}

// BroadcastResult describes one firing.
type BroadcastResult struct {
	Seq       uint32
	Payload   string
	Delivered int
	Failed    int
}

// Broadcaster sends a numbered, base64-encoded payload to every session each
// time it fires. Fire must only be called from the loop goroutine.
type Broadcaster struct {
	registry *session.Registry
	conns    *Connections
	opts     BroadcastOptions
	seq      uint32
	tracer   trace.Tracer
	procStat *procStats
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewBroadcaster(registry *session.Registry, conns *Connections, opts BroadcastOptions, logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = codec.DefaultCapacity
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Broadcaster{
		registry: registry,
		conns:    conns,
		opts:     opts,
		tracer:   tp.Tracer(tracerName),
		procStat: newProcStats(),
		logger:   logger,
		metrics:  m,
	}
}

// Payload formats the plain text sent for seq, truncated to the buffer size.
func (b *Broadcaster) Payload(seq uint32) string {
	msg := fmt.Sprintf("%d: %s", seq, b.opts.Message)
	if len(msg) > b.opts.BufferSize {
		msg = msg[:b.opts.BufferSize]
	}
	return msg
}

// Fire advances the counter and queues the encoded payload to every session
// in registry order. A failed send only affects its own session: that
// connection is dropped and its close arrives later through the loop.
func (b *Broadcaster) Fire(ctx context.Context) BroadcastResult {
	seq := b.seq
	b.seq++

	_, span := b.tracer.Start(ctx, "broadcast")
	defer span.End()

	res := BroadcastResult{
		Seq:     seq,
		Payload: codec.Encode([]byte(b.Payload(seq))),
	}
	frame := []byte(res.Payload)

	sessions := b.registry.All()
	for _, s := range sessions {
		c, ok := b.conns.Get(s.ID)
		if !ok {
			res.Failed++
			b.logger.Error("websocket send: connection not found", "conn", uint64(s.ID), "addr", s.Addr)
			continue
		}
		if err := c.Send(frame); err != nil {
			res.Failed++
			b.logger.Warn("websocket send failed", "addr", s.Addr, "error", err)
			c.abort()
			continue
		}
		res.Delivered++
		b.logger.Debug("websocket send", "addr", s.Addr)
	}

	b.metrics.Broadcasts.Inc()
	b.metrics.FramesSent.Add(float64(res.Delivered))
	b.metrics.SendFailures.Add(float64(res.Failed))

	span.SetAttributes(
		attribute.Int64("broadcast.seq", int64(seq)),
		attribute.Int("broadcast.sessions", len(sessions)),
		attribute.Int("broadcast.delivered", res.Delivered),
		attribute.Int("broadcast.failed", res.Failed),
	)

	if b.opts.Diagnostics {
		b.logDiagnostics()
	}

	return res
}
