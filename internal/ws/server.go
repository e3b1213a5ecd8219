package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/pulsecast/backend/internal/config"
	"github.com/pulsecast/backend/internal/metrics"
	"github.com/pulsecast/backend/internal/session"
	"github.com/pulsecast/backend/internal/static"
)

type connIDKey struct{}

func connIDFromContext(ctx context.Context) (session.ConnID, bool) {
	id, ok := ctx.Value(connIDKey{}).(session.ConnID)
	return id, ok
}

// Server binds the HTTP listener to the event loop: every accepted
// connection gets a ConnID and its lifecycle is reported to the loop.
type Server struct {
	config      *config.Config
	registry    *session.Registry
	conns       *Connections
	dispatcher  *Dispatcher
	broadcaster *Broadcaster
	loop        *Loop
	httpServer  *http.Server
	ids         sync.Map // net.Conn -> session.ConnID
	logger      *slog.Logger
}

func NewServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}

	registry := session.NewRegistry()
	conns := NewConnections()

	responder := static.NewResponder(static.DefaultOptions(cfg.Server.RootDir), logger)

	dispatcher := NewDispatcher(registry, conns, responder, DispatcherOptions{
		Path:            cfg.WebSocket.Path,
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		ReadLimit:       cfg.WebSocket.ReadLimit,
		SendQueue:       cfg.WebSocket.SendQueue,
		DecodeCapacity:  cfg.Broadcast.BufferSize,
	}, logger, m)

	broadcaster := NewBroadcaster(registry, conns, BroadcastOptions{
		Message:     cfg.Broadcast.Message,
		BufferSize:  cfg.Broadcast.BufferSize,
		Diagnostics: true,
	}, logger, m)

	loop := NewLoop(dispatcher, broadcaster, LoopOptions{
		Interval:    cfg.Broadcast.Interval,
		PollTimeout: cfg.Loop.PollTimeout,
		Queue:       cfg.Loop.EventQueue,
	}, logger)

	s := &Server{
		config:      cfg,
		registry:    registry,
		conns:       conns,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		loop:        loop,
		logger:      logger,
	}
	s.httpServer = &http.Server{
		Handler:           dispatcher,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ConnContext:       s.connContext,
		ConnState:         s.connState,
	}
	return s
}

func (s *Server) connContext(ctx context.Context, nc net.Conn) context.Context {
	id := nextConnID()
	s.ids.Store(nc, id)
	return context.WithValue(ctx, connIDKey{}, id)
}

func (s *Server) connState(nc net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		if v, ok := s.ids.Load(nc); ok {
			s.loop.Post(Event{Kind: EventAccept, ID: v.(session.ConnID), Addr: nc.RemoteAddr().String()})
		}
	case http.StateHijacked:
		// The websocket reader reports the close from here on.
		s.ids.Delete(nc)
	case http.StateClosed:
		if v, ok := s.ids.LoadAndDelete(nc); ok {
			s.loop.Post(Event{Kind: EventClose, ID: v.(session.ConnID)})
		}
	}
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	addr := s.config.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln and runs the event loop on the calling
// goroutine until ctx is cancelled or the HTTP server fails. It returns nil
// on cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
		cancel()
	}()

	s.loop.Run(ctx)

	s.httpServer.Close()
	s.loop.Close()
	// The loop is gone, so no close event will ever reach these conns.
	s.conns.Each(func(c *Conn) {
		c.shutdown()
		c.abort()
	})

	if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
