// Package transport implements the client-side transport layer with
// multiplexing and heartbeat.
//
// ClientTransport enables multiple concurrent calls over a single TCP
// connection. Each request gets a unique sequence ID, and a background
// goroutine (recvLoop) continuously reads responses and routes them to the
// correct caller via pending channels.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up
package transport

import (
	"net"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"frame-server/codec"
	"frame-server/message"
	"frame-server/protocol"
)

// DefaultHeartbeatInterval is how often an idle transport sends a
// heartbeat frame so the server's read deadline never mistakes it for a
// dead peer.
const DefaultHeartbeatInterval = 30 * time.Second

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn net.Conn
	cdc  codec.CodecType

	// seq is monotonically increasing, protected by the sending mutex.
	seq uint32

	// pending maps each in-flight seq to the channel its caller waits on.
	pending *xsync.MapOf[uint32, chan *message.Response]

	// sending serializes writes: multiple goroutines share one conn, and
	// interleaved frames (req A's header + req B's body) corrupt the stream.
	sending sync.Mutex

	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewClientTransport creates a transport for the given connection and
// starts two background goroutines:
//   - recvLoop: continuously reads responses and dispatches to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
func NewClientTransport(conn net.Conn, codecType codec.CodecType) *ClientTransport {
	t := &ClientTransport{
		conn:    conn,
		cdc:     codecType,
		pending: xsync.NewMapOf[uint32, chan *message.Response](),
		stopCh:  make(chan struct{}),
	}
	go t.recvLoop()
	go t.heartbeatLoop(DefaultHeartbeatInterval)
	return t
}

// Send serializes and sends one request over the connection. Returns the
// sequence number and a channel that will receive the response.
//
// Thread safety: the sending mutex ensures that the entire frame
// (header + body) is written atomically. Without this lock, concurrent
// writes would interleave bytes from different requests, corrupting the
// TCP stream.
func (t *ClientTransport) Send(req *message.Request) (uint32, <-chan *message.Response, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	c := codec.GetCodec(t.cdc)
	body, err := c.Encode(req)
	if err != nil {
		return 0, nil, err
	}

	header := protocol.Header{
		CodecType: byte(t.cdc),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	// Register the response channel BEFORE sending (avoid race with recvLoop).
	respChan := make(chan *message.Response, 1) // buffered so recvLoop never blocks
	t.pending.Store(seq, respChan)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq) // clean up on failure
		return 0, nil, err
	}

	return seq, respChan, nil
}

// recvLoop runs in a dedicated goroutine, continuously reading responses
// from the connection and routing each to the caller waiting on its
// sequence number. Responses can arrive in any order.
//
// A single goroutine reads because TCP is a byte stream — reads must be
// sequential to parse frame boundaries.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			// Connection broken — notify all pending callers.
			t.closeAllPending(err)
			return
		}

		resp := &message.Response{}
		cdc := codec.GetCodec(codec.CodecType(header.CodecType))
		if err := cdc.Decode(body, resp); err != nil {
			resp = message.ErrorResponse(message.OpNone, err.Error())
		}

		if ch, ok := t.pending.LoadAndDelete(header.Seq); ok {
			ch <- resp
		}
	}
}

// closeAllPending is called when the connection breaks. It sends an error
// response to every pending caller so they don't block forever.
func (t *ClientTransport) closeAllPending(err error) {
	t.pending.Range(func(seq uint32, ch chan *message.Response) bool {
		ch <- message.ErrorResponse(message.OpNone, err.Error())
		return true
	})
	t.pending.Clear()
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection
// alive. Heartbeat frames have MsgTypeHeartbeat and no body.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
		}

		header := &protocol.Header{
			MsgType: protocol.MsgTypeHeartbeat,
			BodyLen: 0,
		}
		// Heartbeat writes also need the sending lock to avoid frame interleaving.
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			return // connection broken, exit heartbeat loop
		}
	}
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// Close stops the heartbeat loop and closes the connection, which in turn
// ends the recvLoop and fails any pending calls.
func (t *ClientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopCh)
		err = t.conn.Close()
	})
	return err
}
