// Package queryrpc is the TCP transport of the query client. It speaks the
// framed protocol of package wire to internal/rpc servers.
package queryrpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/kartikbazzad/bunquery/pkg/config"
	"github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/wire"
)

// Client implements wire.Transport over TCP. Every RPC dials its own
// connection, so concurrent streams never share a socket.
type Client struct {
	Addr    string
	Timeout time.Duration // dial timeout and per-frame I/O deadline
}

// New creates a transport for addr (e.g. "127.0.0.1:9095").
func New(addr string) *Client {
	return &Client{
		Addr:    addr,
		Timeout: 10 * time.Second,
	}
}

// NewFromConfig creates a transport from the transport section of the config.
func NewFromConfig(cfg config.TransportConfig) *Client {
	c := New(cfg.Addr)
	if cfg.DialTimeout > 0 {
		c.Timeout = cfg.DialTimeout
	}
	return c
}

var _ wire.Transport = (*Client)(nil)

// conn is one RPC's connection. It is closed when ctx is done.
type conn struct {
	net.Conn
	ctx     context.Context
	timeout time.Duration
	stop    func() bool
}

func (c *Client) dial(ctx context.Context) (*conn, error) {
	d := net.Dialer{Timeout: c.Timeout}
	nc, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, &errors.TransportError{Op: "dial", Err: err}
	}
	return &conn{
		Conn:    nc,
		ctx:     ctx,
		timeout: c.Timeout,
		stop:    context.AfterFunc(ctx, func() { nc.Close() }),
	}, nil
}

func (c *conn) close() error {
	c.stop()
	return c.Conn.Close()
}

// fail wraps an I/O error, preferring the context's error when the
// connection was torn down by cancellation.
func (c *conn) fail(op string, err error) error {
	if ctxErr := c.ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return &errors.TransportError{Op: op, Err: err}
}

func (c *conn) send(op wire.OpCode, body interface{}) error {
	if err := c.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return c.fail("write", err)
	}
	if err := wire.WriteMessage(c, op, body); err != nil {
		return c.fail("write", err)
	}
	return nil
}

func (c *conn) readHeader() (wire.Header, error) {
	if err := c.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return wire.Header{}, c.fail("read", err)
	}
	h, err := wire.ReadHeader(c)
	if err != nil {
		return wire.Header{}, c.fail("read", err)
	}
	return h, nil
}

func (c *conn) readBody(h wire.Header, v interface{}) error {
	if err := wire.ReadBody(c, h.Length, v); err != nil {
		return c.fail("decode", err)
	}
	return nil
}

// readError decodes an OpError body into a DatabaseError.
func (c *conn) readError(h wire.Header) error {
	var st wire.Status
	if err := c.readBody(h, &st); err != nil {
		return err
	}
	return errors.FromStatus(&st)
}

func (c *conn) unexpected(h wire.Header) error {
	_ = c.readBody(h, nil)
	return &errors.TransportError{
		Op:  "read",
		Err: fmt.Errorf("%w: unexpected %s frame", errors.ErrInvalidResponse, h.OpCode),
	}
}

// PartitionQuery sends one partition-query page request.
func (c *Client) PartitionQuery(ctx context.Context, req *wire.PartitionQueryRequest) (*wire.PartitionQueryResponse, error) {
	cn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer cn.close()

	if err := cn.send(wire.OpPartitionQuery, req); err != nil {
		return nil, err
	}
	h, err := cn.readHeader()
	if err != nil {
		return nil, err
	}
	switch h.OpCode {
	case wire.OpPartitionReply:
		var resp wire.PartitionQueryResponse
		if err := cn.readBody(h, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	case wire.OpError:
		return nil, cn.readError(h)
	default:
		return nil, cn.unexpected(h)
	}
}

// RunQuery sends the query and waits for the first reply frame, so that
// failures to start the query are reported here rather than by Recv.
func (c *Client) RunQuery(ctx context.Context, req *wire.RunQueryRequest) (wire.ResponseStream, error) {
	cn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := cn.send(wire.OpRunQuery, req); err != nil {
		cn.close()
		return nil, err
	}

	s := &responseStream{conn: cn}
	first, err := s.next()
	switch {
	case err == io.EOF:
		s.done = true
		s.Close()
	case err != nil:
		s.Close()
		return nil, err
	default:
		s.pending = first
	}
	return s, nil
}

type responseStream struct {
	conn    *conn
	pending *wire.RunQueryResponse
	done    bool

	closeOnce sync.Once
	closed    bool
}

func (s *responseStream) Recv() (*wire.RunQueryResponse, error) {
	if s.pending != nil {
		resp := s.pending
		s.pending = nil
		return resp, nil
	}
	if s.done {
		return nil, io.EOF
	}
	if s.closed {
		return nil, errors.ErrStreamClosed
	}

	resp, err := s.next()
	if err != nil {
		s.done = true
		s.Close()
		return nil, err
	}
	return resp, nil
}

// next reads one reply frame. OpQueryDone maps to io.EOF.
func (s *responseStream) next() (*wire.RunQueryResponse, error) {
	h, err := s.conn.readHeader()
	if err != nil {
		return nil, err
	}
	switch h.OpCode {
	case wire.OpQueryEntry:
		var resp wire.RunQueryResponse
		if err := s.conn.readBody(h, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	case wire.OpQueryDone:
		if err := s.conn.readBody(h, nil); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case wire.OpError:
		return nil, s.conn.readError(h)
	default:
		return nil, s.conn.unexpected(h)
	}
}

func (s *responseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed = true
		err = s.conn.close()
	})
	return err
}
