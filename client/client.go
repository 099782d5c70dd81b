// Package client provides the typed client surface: a pool of multiplexed
// transports to one server address, with one method per server operation.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"frame-server/codec"
	"frame-server/message"
	"frame-server/transport"
)

// DefaultCallTimeout bounds a single round trip.
const DefaultCallTimeout = 5 * time.Second

// Client issues typed requests against one server address. Transports are
// pooled in a channel: Call checks one out, sends, and puts it back, so
// concurrent callers spread across the pool while each transport
// multiplexes its own connection.
type Client struct {
	addr      string
	codecType codec.CodecType
	poolSize  int
	timeout   time.Duration

	mu     sync.Mutex
	pool   chan *transport.ClientTransport
	closed bool
}

// NewClient creates a client for the given address. Connections are opened
// lazily on the first call.
func NewClient(addr string, codecType codec.CodecType, poolSize int) *Client {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Client{
		addr:      addr,
		codecType: codecType,
		poolSize:  poolSize,
		timeout:   DefaultCallTimeout,
	}
}

// getTransport checks a transport out of the pool, dialing the initial
// connections on first use. The pool is only published once every dial
// succeeded: a half-filled pool would leave later callers blocked on
// transports that were never created. On a dial failure the error is
// returned and the next call retries the fill from scratch.
func (c *Client) getTransport() (*transport.ClientTransport, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("client is closed")
	}
	if c.pool == nil {
		pool := make(chan *transport.ClientTransport, c.poolSize)
		for i := 0; i < c.poolSize; i++ {
			conn, err := net.Dial("tcp", c.addr)
			if err != nil {
				for len(pool) > 0 {
					(<-pool).Close()
				}
				c.mu.Unlock()
				return nil, fmt.Errorf("dial %s: %w", c.addr, err)
			}
			pool <- transport.NewClientTransport(conn, c.codecType)
		}
		c.pool = pool
	}
	pool := c.pool
	c.mu.Unlock()

	return <-pool, nil
}

func (c *Client) putTransport(t *transport.ClientTransport) {
	c.pool <- t
}

// call sends one request and waits for its response or the call timeout.
func (c *Client) call(req *message.Request) (*message.Response, error) {
	t, err := c.getTransport()
	if err != nil {
		return nil, err
	}
	defer c.putTransport(t)

	_, ch, err := t.Send(req)
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Err != "" {
			return nil, fmt.Errorf("server error: %s", resp.Err)
		}
		return resp, nil
	case <-time.After(c.timeout):
		return nil, errors.New("call timed out")
	}
}

// Echo sends payload to the server and returns the echoed bytes.
func (c *Client) Echo(payload []byte) ([]byte, error) {
	resp, err := c.call(message.NewEchoRequest(payload))
	if err != nil {
		return nil, err
	}
	if resp.Echo == nil {
		return nil, errors.New("response missing echo variant")
	}
	return resp.Echo.Payload, nil
}

// Add asks the server for a + b. The result wraps on int64 overflow,
// matching the server's arithmetic.
func (c *Client) Add(a, b int64) (int64, error) {
	resp, err := c.call(message.NewAddRequest(a, b))
	if err != nil {
		return 0, err
	}
	if resp.Add == nil {
		return 0, errors.New("response missing add variant")
	}
	return resp.Add.Result, nil
}

// Close tears down every pooled transport. In-flight calls fail with a
// connection error.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.pool == nil {
		return nil
	}

	var firstErr error
	for i := 0; i < c.poolSize; i++ {
		select {
		case t := <-c.pool:
			if err := t.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			// Transport checked out by an in-flight call; its caller will
			// observe the pool as closed when it returns.
		}
	}
	return firstErr
}
