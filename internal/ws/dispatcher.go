package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pulsecast/backend/internal/codec"
	"github.com/pulsecast/backend/internal/metrics"
	"github.com/pulsecast/backend/internal/session"
)

type DispatcherOptions struct {
	Path            string
	ReadBufferSize  int
	WriteBufferSize int
	ReadLimit       int64
	SendQueue       int
	DecodeCapacity  int
}

// Dispatcher routes HTTP requests and applies connection lifecycle events to
// the session registry. ServeHTTP runs on server goroutines and never touches
// the registry; Dispatch runs only on the loop goroutine.
type Dispatcher struct {
	registry *session.Registry
	conns    *Connections
	router   chi.Router
	upgrader websocket.Upgrader
	decoder  codec.Decoder
	connOpts connOptions
	post     func(Event) bool
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(registry *session.Registry, conns *Connections, static http.Handler, opts DispatcherOptions, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if opts.Path == "" {
		opts.Path = "/websocket"
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}

	d := &Dispatcher{
		registry: registry,
		conns:    conns,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		decoder: codec.NewDecoder(opts.DecodeCapacity),
		connOpts: connOptions{
			sendQueue:       opts.SendQueue,
			readLimit:       opts.ReadLimit,
			readBufferSize:  opts.ReadBufferSize,
			writeBufferSize: opts.WriteBufferSize,
		},
		post:    func(Event) bool { return false },
		logger:  logger,
		metrics: m,
	}

	r := chi.NewRouter()
	r.HandleFunc(opts.Path, d.handleUpgrade)
	r.Handle("/*", static)
	d.router = r

	return d
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.router.ServeHTTP(w, r)
}

func (d *Dispatcher) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	id, ok := connIDFromContext(r.Context())
	if !ok {
		id = nextConnID()
	}

	wsConn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Error("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		// Past the handshake check the connection was hijacked, so the
		// server will never report it closed.
		var hs websocket.HandshakeError
		if !errors.As(err, &hs) {
			d.post(Event{Kind: EventClose, ID: id})
		}
		return
	}

	c := newConn(id, r.RemoteAddr, wsConn, d.connOpts)
	if !d.post(Event{Kind: EventOpen, ID: id, Conn: c}) {
		wsConn.Close()
		return
	}
	go c.writePump()
	go c.readPump(d.post)
}

// Dispatch applies one event. It must only be called from the loop.
func (d *Dispatcher) Dispatch(ev Event) {
	switch ev.Kind {
	case EventAccept:
		d.conns.Add(&Conn{ID: ev.ID, Addr: ev.Addr})
		d.metrics.Connections.Set(float64(d.conns.Len()))
	case EventOpen:
		d.open(ev.Conn)
	case EventMessage:
		d.receive(ev.ID, ev.Data)
	case EventClose:
		d.close(ev.ID)
	default:
		d.logger.Error("unknown event", "kind", ev.Kind.String(), "conn", uint64(ev.ID))
	}
}

func (d *Dispatcher) open(c *Conn) {
	d.conns.Add(c)
	d.registry.Add(session.Session{
		ID:       c.ID,
		Addr:     c.Addr,
		OpenedAt: time.Now(),
	})
	d.logger.Info("websocket connect", "addr", c.Addr)

	d.metrics.Connections.Set(float64(d.conns.Len()))
	d.metrics.Sessions.Set(float64(d.registry.Len()))
}

func (d *Dispatcher) receive(id session.ConnID, data []byte) {
	d.metrics.MessagesReceived.Inc()

	s, ok := d.registry.Get(id)
	if !ok {
		d.metrics.LookupMisses.Inc()
		d.logger.Error("websocket not found", "conn", uint64(id))
		return
	}

	text := d.decoder.Decode(data)
	d.logger.Debug("websocket receive", "addr", s.Addr, "data", string(text))
}

func (d *Dispatcher) close(id session.ConnID) {
	c, ok := d.conns.Remove(id)
	if !ok {
		return
	}
	d.metrics.Connections.Set(float64(d.conns.Len()))
	if !c.IsWebSocket() {
		return
	}

	c.shutdown()
	if s, ok := d.registry.Remove(id); ok {
		d.logger.Info("websocket close", "addr", s.Addr, "duration", time.Since(s.OpenedAt).Round(time.Millisecond))
	}
	d.metrics.Sessions.Set(float64(d.registry.Len()))
}
