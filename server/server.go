// Package server implements the connection-handling core: a supervisor
// that accepts connections, one worker goroutine per connection, and a
// registry that tracks live workers so shutdown can drain them.
//
// Request processing pipeline:
//
//	Accept conn → spawn worker (registered in the registry)
//	  → worker loop: read frame → codec.Decode → middleware chain →
//	    dispatch → codec.Encode → write response → read next frame
//
// Requests on one connection are processed strictly in arrival order: the
// response is written in full before the next read. Workers never touch
// each other's connections, and no error on one connection is visible on
// another.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"frame-server/dispatch"
	"frame-server/message"
	"frame-server/middleware"
)

const (
	// DefaultPollInterval is the per-read deadline of a worker. It bounds
	// how long an idle worker takes to notice shutdown, so it is the
	// worst-case per-worker latency added to Stop().
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultGracePeriod is slept after all workers have joined, giving the
	// OS time to finish socket teardown before Stop() returns.
	DefaultGracePeriod = 50 * time.Millisecond

	// DefaultWriteTimeout bounds a single response write.
	DefaultWriteTimeout = 10 * time.Second
)

// Config carries the tunables of a Server. Zero values select the defaults
// above.
type Config struct {
	PollInterval time.Duration
	GracePeriod  time.Duration
	WriteTimeout time.Duration

	// MaxBodySize caps the body length accepted from a frame header.
	// Zero selects protocol.DefaultMaxBodySize.
	MaxBodySize int
}

// Server owns the listening socket and supervises one worker per accepted
// connection.
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	running    atomic.Bool // the shared shutdown flag, read by every worker
	registry   *registry

	// mu orders startup against shutdown: Serve publishes the listener and
	// flips running under it, Stop marks the server stopped under it. A
	// Stop that lands before Serve finishes binding still wins.
	mu       sync.Mutex
	listener net.Listener
	stopped  bool

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	logger      *zap.Logger
}

// NewServer creates a server around the given dispatcher. A nil dispatcher
// gets the built-in echo/add one; a nil logger is replaced by a no-op.
func NewServer(cfg Config, d *dispatch.Dispatcher, logger *zap.Logger) *Server {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if d == nil {
		d = dispatch.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		registry:   newRegistry(),
		logger:     logger,
	}
}

// Use registers a middleware. Middlewares are applied in the order they
// are added, before Serve is called.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve binds the address and runs the blocking accept loop. It returns
// nil after Stop() closes the listener, or the accept error if the
// listener fails while the server is still running. If Stop was called
// before Serve got this far, Serve closes the fresh listener and returns
// nil without serving.
func (s *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	// Build the middleware chain once at startup (not per-request).
	s.handler = middleware.Chain(s.middlewares...)(s.dispatchHandler)
	s.running.Store(true)
	s.mu.Unlock()

	s.logger.Info("server listening", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Stop() closes the listener after flipping the running flag,
			// so a closed-listener error here means intentional shutdown.
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Transient accept failure: log and keep accepting.
			s.logger.Warn("accept error", zap.Error(err))
			acceptErrors.Inc()
			continue
		}

		// Stop may have flipped the flag between Accept returning and here;
		// a worker spawned now would outlive the drain.
		if !s.running.Load() {
			conn.Close()
			return nil
		}

		w := newWorker(uuid.NewString(), conn, s)
		s.registry.register(w)
		connectionsAccepted.Inc()
		s.logger.Info("connection accepted",
			zap.String("conn_id", w.id),
			zap.String("remote", conn.RemoteAddr().String()))
		go w.run()
	}
}

// Stop shuts the server down in order: flip the running flag (workers
// observe it within one poll interval), close the listener, drain and join
// every registered worker, then sleep the grace period for OS-level socket
// teardown. On return no worker remains registered.
//
// Stop is idempotent: only the first call does the work, later calls
// return immediately.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	listener := s.listener
	s.mu.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.logger.Info("shutdown started")
	if listener != nil {
		listener.Close()
	}

	s.registry.drainAndJoinAll()

	time.Sleep(s.cfg.GracePeriod)
	s.logger.Info("shutdown complete")
}

// Close implements io.Closer so callers can defer destruction-time
// shutdown. Equivalent to Stop.
func (s *Server) Close() error {
	s.Stop()
	return nil
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections reports how many workers are currently registered.
func (s *Server) ActiveConnections() int {
	return s.registry.size()
}

// dispatchHandler is the innermost handler of the middleware chain. It
// maps dispatcher outcomes to the wire contract: empty and unknown
// requests produce no response (nil), handler failures produce an error
// response.
func (s *Server) dispatchHandler(ctx context.Context, req *message.Request) *message.Response {
	resp, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownOp) {
			s.logger.Warn("unknown request op", zap.Stringer("op", req.Op))
			return nil
		}
		s.logger.Warn("dispatch error", zap.Stringer("op", req.Op), zap.Error(err))
		return message.ErrorResponse(req.Op, err.Error())
	}
	if resp == nil {
		// Empty message: log and continue, nothing goes on the wire.
		s.logger.Info("received empty message")
		return nil
	}
	requestsDispatched(req.Op).Inc()
	return resp
}
