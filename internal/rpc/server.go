// Package rpc serves query backends over the framed TCP protocol of
// package wire.
package rpc

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/kartikbazzad/bunquery/internal/metrics"
	"github.com/kartikbazzad/bunquery/pkg/config"
	"github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/wire"
)

// Backend executes queries for the server. RunQuery calls send once per
// reply entry, in order, and returns once the reply is complete.
type Backend interface {
	RunQuery(ctx context.Context, req *wire.RunQueryRequest, send func(*wire.RunQueryResponse) error) error
	PartitionQuery(ctx context.Context, req *wire.PartitionQueryRequest) (*wire.PartitionQueryResponse, error)
}

type Server struct {
	cfg         config.ServerConfig
	backend     Backend
	logger      *slog.Logger
	limiter     *rate.Limiter // nil = unlimited
	listener    net.Listener
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	connections map[net.Conn]bool
	connMu      sync.Mutex
	closing     bool // guarded by connMu; set once Stop starts closing connections
	connPool    *ants.Pool // bounds concurrent connection handlers (nil = unlimited)
}

func NewServer(cfg config.ServerConfig, backend Backend, log *slog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		backend:     backend,
		logger:      log,
		connections: make(map[net.Conn]bool),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return s
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	if s.cfg.MaxConnections > 0 {
		connPool, err := ants.NewPool(s.cfg.MaxConnections, ants.WithPanicHandler(func(v any) {
			s.logger.Error("RPC connection handler panic", "panic", v)
		}))
		if err != nil {
			listener.Close()
			return err
		}
		s.connPool = connPool
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.connMu.Lock()
	s.closing = false
	s.connMu.Unlock()
	s.logger.Info("RPC server listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.ErrServerClosed
	}
	s.listener.Close()
	s.cancel()
	s.running = false
	s.mu.Unlock()

	// unblock handlers waiting on reads
	s.connMu.Lock()
	s.closing = true
	for conn := range s.connections {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()

	if s.connPool != nil {
		_ = s.connPool.ReleaseTimeout(3 * time.Second)
		s.connPool = nil
	}

	s.logger.Info("RPC server stopped")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return
			}
			s.logger.Error("Accept error", "error", err)
			continue
		}

		if !s.track(conn) {
			return
		}

		s.wg.Add(1)
		if s.connPool != nil {
			if err := s.connPool.Submit(func() {
				defer s.wg.Done()
				s.handleConnection(conn)
			}); err != nil {
				s.wg.Done()
				s.dropConnection(conn)
				s.logger.Error("Failed to submit connection handler to pool", "error", err)
			}
		} else {
			go func() {
				defer s.wg.Done()
				s.handleConnection(conn)
			}()
		}
	}
}

// track registers conn so Stop can close it. Connections that arrive once
// Stop has started are closed instead and track reports false.
func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closing {
		conn.Close()
		return false
	}
	s.connections[conn] = true
	return true
}

func (s *Server) dropConnection(conn net.Conn) {
	conn.Close()
	s.connMu.Lock()
	delete(s.connections, conn)
	s.connMu.Unlock()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.dropConnection(conn)

	s.logger.Debug("New connection", "remote", conn.RemoteAddr().String())

	for {
		h, err := wire.ReadHeader(conn)
		if err != nil {
			if err != io.EOF && !stderrors.Is(err, net.ErrClosed) {
				s.logger.Debug("Connection closed", "error", err)
			}
			return
		}
		if err := s.handleRequest(conn, h); err != nil {
			s.logger.Error("Failed to write response", "op", h.OpCode.String(), "error", err)
			return
		}
	}
}

// handleRequest serves one request. A returned error means the connection
// is no longer usable.
func (s *Server) handleRequest(conn net.Conn, h wire.Header) error {
	if s.limiter != nil && !s.limiter.Allow() {
		if err := wire.ReadBody(conn, h.Length, nil); err != nil {
			return err
		}
		return s.reply(conn, h.OpCode, errors.NewDatabaseError(wire.CodeResourceExhausted, "request rate exceeded"))
	}

	switch h.OpCode {
	case wire.OpRunQuery:
		var req wire.RunQueryRequest
		if err := wire.ReadBody(conn, h.Length, &req); err != nil {
			return err
		}
		err := s.backend.RunQuery(s.ctx, &req, func(resp *wire.RunQueryResponse) error {
			return wire.WriteMessage(conn, wire.OpQueryEntry, resp)
		})
		if err != nil {
			return s.reply(conn, h.OpCode, err)
		}
		metrics.ServerRequests.WithLabelValues(h.OpCode.String(), wire.CodeOK.String()).Inc()
		return wire.WriteMessage(conn, wire.OpQueryDone, nil)

	case wire.OpPartitionQuery:
		var req wire.PartitionQueryRequest
		if err := wire.ReadBody(conn, h.Length, &req); err != nil {
			return err
		}
		resp, err := s.backend.PartitionQuery(s.ctx, &req)
		if err != nil {
			return s.reply(conn, h.OpCode, err)
		}
		metrics.ServerRequests.WithLabelValues(h.OpCode.String(), wire.CodeOK.String()).Inc()
		return wire.WriteMessage(conn, wire.OpPartitionReply, resp)

	default:
		if err := wire.ReadBody(conn, h.Length, nil); err != nil {
			return err
		}
		return s.reply(conn, h.OpCode, errors.NewDatabaseError(wire.CodeInvalidArgument, "unknown op "+h.OpCode.String()))
	}
}

// reply answers a request with an error frame.
func (s *Server) reply(conn net.Conn, op wire.OpCode, err error) error {
	st := errors.ToStatus(err)
	metrics.ServerRequests.WithLabelValues(op.String(), st.Code.String()).Inc()
	s.logger.Debug("Request failed", "op", op.String(), "code", st.Code.String(), "error", err)
	return wire.WriteMessage(conn, wire.OpError, st)
}
